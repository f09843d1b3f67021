package handlers

import (
	"context"
	"net/http"

	"github.com/upb/secretmanager/internal/observability"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/services/analytics"
	"github.com/upb/secretmanager/utils"
	"go.uber.org/zap"
)

// AnalyticsService defines the reporting operations
type AnalyticsService interface {
	Overview(ctx context.Context, id *models.Identity) (*analytics.Overview, error)
	Requests(ctx context.Context, id *models.Identity, period string) (*analytics.RequestTrend, error)
	Users(ctx context.Context, id *models.Identity) (*analytics.UserReport, error)
	Audit(ctx context.Context, id *models.Identity, limit, offset int) (*analytics.AuditPage, error)
}

// AnalyticsHandler handles /api/analytics
type AnalyticsHandler struct {
	service AnalyticsService
	logger  *zap.Logger
}

// NewAnalyticsHandler creates a new AnalyticsHandler
func NewAnalyticsHandler(service AnalyticsService, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
		logger:  logger,
	}
}

// HandleOverview handles GET /api/analytics/overview
func (h *AnalyticsHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	overview, err := h.service.Overview(r.Context(), identity)
	h.respond(w, r, overview, err)
}

// HandleRequests handles GET /api/analytics/requests?period=7d|30d|90d
func (h *AnalyticsHandler) HandleRequests(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	trend, err := h.service.Requests(r.Context(), identity, r.URL.Query().Get("period"))
	h.respond(w, r, trend, err)
}

// HandleUsers handles GET /api/analytics/users
func (h *AnalyticsHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	report, err := h.service.Users(r.Context(), identity)
	h.respond(w, r, report, err)
}

// HandleAudit handles GET /api/analytics/audit?limit=&offset= (admin)
func (h *AnalyticsHandler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	page, err := h.service.Audit(r.Context(), identity, limit, offset)
	h.respond(w, r, page, err)
}

func (h *AnalyticsHandler) respond(w http.ResponseWriter, r *http.Request, data interface{}, err error) {
	if err != nil {
		HandleServiceError(w, err, observability.WithRequest(r.Context(), h.logger))
		return
	}
	_ = utils.WriteOK(w, data)
}
