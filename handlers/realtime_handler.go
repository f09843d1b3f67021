package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/secretmanager/internal/observability"
	"github.com/upb/secretmanager/realtime"
	"github.com/upb/secretmanager/utils"
	"go.uber.org/zap"
)

// SystemNotificationBody is an admin broadcast
type SystemNotificationBody struct {
	Message  string            `json:"message" validate:"required,max=1000"`
	Severity realtime.Severity `json:"severity"`
}

// RealtimeHub is the part of the hub exposed to admins
type RealtimeHub interface {
	Stats() realtime.Stats
	DisconnectSubject(subjectID string) int
}

// Broadcaster sends system notifications to every connected client
type Broadcaster interface {
	SystemNotification(message string, severity realtime.Severity) int
}

// RealtimeHandler handles /api/realtime and /api/notifications
type RealtimeHandler struct {
	hub         RealtimeHub
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewRealtimeHandler creates a new RealtimeHandler
func NewRealtimeHandler(hub RealtimeHub, broadcaster Broadcaster, logger *zap.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:         hub,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// HandleStats handles GET /api/realtime/stats
func (h *RealtimeHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.hub.Stats())
}

// HandleDisconnect handles POST /api/realtime/disconnect/{subjectId} (admin)
func (h *RealtimeHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	subjectID := strings.TrimSpace(chi.URLParam(r, "subjectId"))
	if subjectID == "" {
		_ = utils.WriteBadRequest(w, "subjectId is required", nil)
		return
	}

	n := h.hub.DisconnectSubject(subjectID)
	observability.WithRequest(r.Context(), h.logger).Info("disconnected realtime subject",
		zap.String("subject_id", subjectID),
		zap.Int("connections", n))

	_ = utils.WriteOK(w, map[string]int{"disconnected": n})
}

// HandleSystemNotification handles POST /api/notifications/system (admin)
func (h *RealtimeHandler) HandleSystemNotification(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequest(r.Context(), h.logger)

	var body SystemNotificationBody
	if !decodeAndValidate(w, r, &body, logger) {
		return
	}
	if body.Severity == "" {
		body.Severity = realtime.SeverityInfo
	}
	if !body.Severity.Valid() {
		_ = utils.WriteBadRequest(w, "severity must be one of: info warning error", nil)
		return
	}

	delivered := h.broadcaster.SystemNotification(body.Message, body.Severity)
	logger.Info("system notification sent",
		zap.String("severity", string(body.Severity)),
		zap.Int("delivered", delivered))

	_ = utils.WriteOK(w, map[string]int{"delivered": delivered})
}
