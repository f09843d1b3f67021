package handlers

import (
	"net/http"

	"github.com/upb/secretmanager/auth"
	"github.com/upb/secretmanager/middleware"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/utils"
	"go.uber.org/zap"
)

// UserInfo is the caller as reported by /api/auth/me
type UserInfo struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Email    string          `json:"email,omitempty"`
	Role     models.UserRole `json:"role"`
	Roles    []string        `json:"roles"`
}

// VerifyResponse is returned by /api/auth/verify
type VerifyResponse struct {
	Valid bool     `json:"valid"`
	User  UserInfo `json:"user"`
}

// AuthHandler serves the identity endpoints and fronts the OIDC flow
type AuthHandler struct {
	flow   *auth.Handler
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler. flow may be nil when no identity provider is configured.
func NewAuthHandler(flow *auth.Handler, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{flow: flow, logger: logger}
}

// HandleMe handles GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, userInfo(identity))
}

// HandleVerify handles POST /api/auth/verify
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, VerifyResponse{Valid: true, User: userInfo(identity)})
}

// HandleLogin handles GET /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}
	h.flow.HandleLogin(w, r)
}

// HandleCallback handles GET /auth/callback
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}
	h.flow.HandleCallback(w, r)
}

// HandleLogout handles GET /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}
	h.flow.HandleLogout(w, r)
}

func userInfo(id *models.Identity) UserInfo {
	return UserInfo{
		ID:       id.SubjectID,
		Username: id.Username,
		Email:    id.Email,
		Role:     id.Role,
		Roles:    id.Roles,
	}
}

// requireIdentity writes 401 and returns false when RequireAuth did not run
func requireIdentity(w http.ResponseWriter, r *http.Request) (*models.Identity, bool) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		_ = utils.WriteUnauthorized(w, "")
		return nil, false
	}
	return identity, true
}
