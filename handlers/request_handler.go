package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/upb/secretmanager/internal/observability"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/services/workflow"
	"github.com/upb/secretmanager/utils"
	"go.uber.org/zap"
)

// ApproveRequestBody carries the payload written to the secret store on approval
type ApproveRequestBody struct {
	SecretData map[string]interface{} `json:"secret_data" validate:"required"`
}

// RejectRequestBody carries an optional rejection reason
type RejectRequestBody struct {
	Reason string `json:"reason" validate:"max=4000"`
}

// RequestService defines the request workflow operations
type RequestService interface {
	CreateRequest(ctx context.Context, id *models.Identity, in workflow.CreateRequestInput) (*models.Request, error)
	ListRequests(ctx context.Context, id *models.Identity, in workflow.ListRequestsInput) (*workflow.RequestList, error)
	GetRequest(ctx context.Context, id *models.Identity, requestID int64) (*models.Request, error)
	ApproveRequest(ctx context.Context, id *models.Identity, requestID int64, payload map[string]interface{}) (*models.Request, error)
	RejectRequest(ctx context.Context, id *models.Identity, requestID int64, reason string) (*models.Request, error)
}

// RequestHandler handles /api/requests
type RequestHandler struct {
	service RequestService
	logger  *zap.Logger
}

// NewRequestHandler creates a new RequestHandler
func NewRequestHandler(service RequestService, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		service: service,
		logger:  logger,
	}
}

// HandleCreate handles POST /api/requests
func (h *RequestHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	logger := observability.WithRequest(r.Context(), h.logger)

	var in workflow.CreateRequestInput
	if !decodeAndValidate(w, r, &in, logger) {
		return
	}

	req, err := h.service.CreateRequest(r.Context(), identity, in)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteCreated(w, req)
}

// HandleList handles GET /api/requests?status=&limit=&offset=
func (h *RequestHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	logger := observability.WithRequest(r.Context(), h.logger)

	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListRequests(r.Context(), identity, workflow.ListRequestsInput{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, list)
}

// HandleGet handles GET /api/requests/{id}
func (h *RequestHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}

	req, err := h.service.GetRequest(r.Context(), identity, requestID)
	if err != nil {
		HandleServiceError(w, err, observability.WithRequest(r.Context(), h.logger))
		return
	}
	_ = utils.WriteOK(w, req)
}

// HandleApprove handles POST /api/requests/{id}/approve
func (h *RequestHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	logger := observability.WithRequest(r.Context(), h.logger)

	var body ApproveRequestBody
	if !decodeAndValidate(w, r, &body, logger) {
		return
	}

	req, err := h.service.ApproveRequest(r.Context(), identity, requestID, body.SecretData)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, req)
}

// HandleReject handles POST /api/requests/{id}/reject. The body is optional.
func (h *RequestHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	logger := observability.WithRequest(r.Context(), h.logger)

	var body RejectRequestBody
	if err := utils.DecodeJSON(w, r, &body); err != nil && !errors.Is(err, utils.ErrEmptyBody) {
		HandleValidationError(w, err, logger)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, logger)
		return
	}

	req, err := h.service.RejectRequest(r.Context(), identity, requestID, body.Reason)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteOK(w, req)
}

// decodeAndValidate decodes the JSON body into dst and runs struct validation.
// It writes a 400 and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	if err := utils.DecodeJSON(w, r, dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}

func requestIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		_ = utils.WriteBadRequest(w, "Request ID must be a positive number", nil)
		return 0, false
	}
	return id, true
}

// pageParams parses limit and offset. Missing values are returned as zero so services apply defaults.
func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			_ = utils.WriteBadRequest(w, p.name+" must be a non-negative integer", nil)
			return 0, 0, false
		}
		*p.dst = v
	}
	return limit, offset, true
}
