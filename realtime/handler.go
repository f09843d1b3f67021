package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/upb/secretmanager/config"
	"github.com/upb/secretmanager/models"
	"go.uber.org/zap"
)

var errMissingToken = errors.New("first frame must be authenticate with a token")

// TokenVerifier resolves a bearer token to a verified identity
type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (*models.Identity, error)
}

// UserResolver maps a verified identity to its local user row
type UserResolver interface {
	ResolveUser(ctx context.Context, id *models.Identity) (*models.User, error)
}

// Handler upgrades GET /ws and authenticates the connection.
// The token comes from the token query parameter, the Authorization header, or
// a first authenticate frame sent within the configured auth timeout.
type Handler struct {
	hub      *Hub
	verifier TokenVerifier
	users    UserResolver
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the websocket endpoint. allowedOrigins follows the CORS setting; "*" allows any.
func NewHandler(hub *Hub, verifier TokenVerifier, users UserResolver, cfg config.RealtimeConfig, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		users:    users,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles GET /ws
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if token == "" {
		token, err = h.readAuthenticateFrame(conn)
		if err != nil {
			h.reject(conn, "authentication required")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.AuthTimeout)
	defer cancel()

	identity, err := h.verifier.ValidateToken(ctx, token)
	if err != nil {
		h.logger.Info("websocket authentication failed", zap.Error(err))
		h.reject(conn, "Invalid token")
		return
	}
	user, err := h.users.ResolveUser(ctx, identity)
	if err != nil {
		h.logger.Error("failed to resolve websocket user", zap.String("username", identity.Username), zap.Error(err))
		h.reject(conn, "failed to resolve user")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	// Registered before the reply so a client that saw authenticated is already reachable.
	// Events published meanwhile wait in the send buffer until writePump starts.
	client := newClient(h.hub, conn, identity, user.ID, h.cfg.SendBuffer, h.cfg.PingInterval, h.logger)
	if err := h.hub.Register(client); err != nil {
		h.reject(conn, "server shutting down")
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(Event{Type: EventAuthenticated, Data: authenticatedData{
		Success: true,
		User: ConnectedUser{
			ID:       identity.SubjectID,
			UserID:   user.ID,
			Username: identity.Username,
			Role:     identity.Role,
		},
	}})
	if err != nil {
		h.hub.Unregister(client)
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Handler) readAuthenticateFrame(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
	var msg inbound
	if err := conn.ReadJSON(&msg); err != nil {
		return "", err
	}
	if msg.Type != messageAuthenticate || msg.Data.Token == "" {
		return "", errMissingToken
	}
	return msg.Data.Token, nil
}

func (h *Handler) reject(conn *websocket.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(Event{Type: EventAuthenticationError, Data: authenticationErrorData{Error: reason}})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	_ = conn.Close()
}

func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}
