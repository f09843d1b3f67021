package handlers

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/upb/secretmanager/models"
	"go.uber.org/zap"
)

func authRouter(h *AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/auth/me", h.HandleMe)
	r.Post("/api/auth/verify", h.HandleVerify)
	r.Get("/auth/login", h.HandleLogin)
	return r
}

func TestAuthHandler_Me(t *testing.T) {
	h := NewAuthHandler(nil, zap.NewNop())

	w := do(t, authRouter(h), alice, http.MethodGet, "/api/auth/me", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var info UserInfo
	decodeData(t, w, &info)
	assert.Equal(t, UserInfo{
		ID:       "sub-alice",
		Username: "alice",
		Email:    "alice@example.com",
		Role:     models.RoleUser,
		Roles:    []string{},
	}, info)
}

func TestAuthHandler_Verify(t *testing.T) {
	h := NewAuthHandler(nil, zap.NewNop())

	w := do(t, authRouter(h), root, http.MethodPost, "/api/auth/verify", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp VerifyResponse
	decodeData(t, w, &resp)
	assert.True(t, resp.Valid)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)

	w = do(t, authRouter(h), nil, http.MethodPost, "/api/auth/verify", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_FlowNotConfigured(t *testing.T) {
	w := do(t, authRouter(NewAuthHandler(nil, zap.NewNop())), nil, http.MethodGet, "/auth/login", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication not configured")
}
