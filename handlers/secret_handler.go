package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/secretmanager/internal/observability"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/services/workflow"
	"github.com/upb/secretmanager/utils"
	"go.uber.org/zap"
)

// RotateSecretBody carries the replacement payload of a rotation
type RotateSecretBody struct {
	Data map[string]interface{} `json:"data" validate:"required"`
}

// SecretService defines the secret lifecycle operations
type SecretService interface {
	GetSecret(ctx context.Context, id *models.Identity, name string) (*workflow.SecretValue, error)
	ListSecrets(ctx context.Context, id *models.Identity) ([]*workflow.SecretSummary, error)
	AdminCreateSecret(ctx context.Context, id *models.Identity, in workflow.AdminCreateSecretInput) (*models.Request, error)
	UpdateSecret(ctx context.Context, id *models.Identity, name string, in workflow.UpdateSecretInput) error
	RotateSecret(ctx context.Context, id *models.Identity, name string, payload map[string]interface{}) error
	RetireSecret(ctx context.Context, id *models.Identity, name string) error
}

// SecretHandler handles /api/secrets
type SecretHandler struct {
	service SecretService
	logger  *zap.Logger
}

// NewSecretHandler creates a new SecretHandler
func NewSecretHandler(service SecretService, logger *zap.Logger) *SecretHandler {
	return &SecretHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGet handles GET /api/secrets/{name}
func (h *SecretHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	secret, err := h.service.GetSecret(r.Context(), identity, chi.URLParam(r, "name"))
	if err != nil {
		HandleServiceError(w, err, observability.WithRequest(r.Context(), h.logger))
		return
	}
	_ = utils.WriteOK(w, secret)
}

// HandleList handles GET /api/secrets
func (h *SecretHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	secrets, err := h.service.ListSecrets(r.Context(), identity)
	if err != nil {
		HandleServiceError(w, err, observability.WithRequest(r.Context(), h.logger))
		return
	}
	_ = utils.WriteOK(w, secrets)
}

// HandleCreate handles POST /api/secrets (admin)
func (h *SecretHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	logger := observability.WithRequest(r.Context(), h.logger)

	var in workflow.AdminCreateSecretInput
	if !decodeAndValidate(w, r, &in, logger) {
		return
	}

	req, err := h.service.AdminCreateSecret(r.Context(), identity, in)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteCreated(w, req)
}

// HandleUpdate handles PUT /api/secrets/{name} (admin)
func (h *SecretHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	logger := observability.WithRequest(r.Context(), h.logger)

	var in workflow.UpdateSecretInput
	if !decodeAndValidate(w, r, &in, logger) {
		return
	}

	if err := h.service.UpdateSecret(r.Context(), identity, chi.URLParam(r, "name"), in); err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteMessage(w, "Secret updated")
}

// HandleRotate handles POST /api/secrets/{name}/rotate (admin)
func (h *SecretHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	logger := observability.WithRequest(r.Context(), h.logger)

	var body RotateSecretBody
	if !decodeAndValidate(w, r, &body, logger) {
		return
	}

	if err := h.service.RotateSecret(r.Context(), identity, chi.URLParam(r, "name"), body.Data); err != nil {
		HandleServiceError(w, err, logger)
		return
	}
	_ = utils.WriteMessage(w, "Secret rotated")
}

// HandleDelete handles DELETE /api/secrets/{name} (admin).
// The secret is retired: ledger access is revoked and the stored payload is left in place.
func (h *SecretHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.service.RetireSecret(r.Context(), identity, chi.URLParam(r, "name")); err != nil {
		HandleServiceError(w, err, observability.WithRequest(r.Context(), h.logger))
		return
	}
	_ = utils.WriteMessage(w, "Secret deleted: access revoked, the stored payload is not erased")
}
