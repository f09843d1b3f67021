package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/upb/secretmanager/config"
	"github.com/upb/secretmanager/keycloak"
	"github.com/upb/secretmanager/middleware"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName     = "oauth_state"
	stateCookieMaxAge   = 600
	sessionCookieMaxAge = 86400 // Keycloak access tokens are short-lived; the cookie never outlives a day
)

// TokenExchanger exchanges OIDC authorization codes for access tokens
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (accessToken string, err error)
}

// TokenValidator validates access tokens and returns the caller they identify
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*models.Identity, error)
}

// Handler handles the Keycloak authorization code flow (login, callback, logout)
type Handler struct {
	cfg       config.KeycloakConfig
	exchanger TokenExchanger
	validator TokenValidator
	logger    *zap.Logger
}

// NewHandler creates a new auth handler with the given config, token exchanger, and validator.
func NewHandler(cfg config.KeycloakConfig, exchanger TokenExchanger, validator TokenValidator, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		exchanger: exchanger,
		validator: validator,
		logger:    logger,
	}
}

// HandleLogin redirects to the realm authorization endpoint
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.URL == "" || h.cfg.ClientID == "" {
		h.logger.Error("keycloak not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	h.setCookie(w, StateCookieName, state, stateCookieMaxAge)
	http.Redirect(w, r, keycloak.AuthURL(h.cfg, state), http.StatusFound)
}

// HandleCallback exchanges the authorization code, validates the token, and sets the session cookie
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	h.setCookie(w, StateCookieName, "", -1)

	if h.exchanger == nil || h.validator == nil {
		h.logger.Error("token exchanger or validator not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	token, err := h.exchanger.ExchangeCode(r.Context(), code, h.cfg.RedirectURI)
	if err != nil {
		h.logger.Warn("token exchange failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	identity, err := h.validator.ValidateToken(r.Context(), token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Invalid token")
		return
	}

	h.logger.Info("user logged in",
		zap.String("username", identity.Username),
		zap.String("role", string(identity.Role)))

	h.setCookie(w, middleware.SessionCookieName, token, sessionCookieMaxAge)

	redirectURL := h.cfg.FrontEndURL
	if redirectURL == "" {
		redirectURL = "/"
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// HandleLogout clears the session cookie and redirects to the realm end-session endpoint
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.setCookie(w, middleware.SessionCookieName, "", -1)
	http.Redirect(w, r, keycloak.LogoutURL(h.cfg), http.StatusFound)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.RedirectURI, "https"),
		SameSite: http.SameSiteLaxMode,
	})
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
