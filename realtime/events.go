// Package realtime pushes workflow events to connected websocket clients.
//
// Every authenticated client joins its own channel, keyed by the local user
// id of the caller, and approvers and admins also join a shared group.
// Delivery is best effort: events are never queued for offline clients and a
// client that cannot keep up is disconnected.
package realtime

import (
	"time"

	"github.com/upb/secretmanager/models"
)

// Event types sent to clients
const (
	EventAuthenticated        = "authenticated"
	EventAuthenticationError  = "authentication-error"
	EventNewRequest           = "new-request"
	EventRequestStatusChanged = "request-status-changed"
	EventSecretAccess         = "secret-access"
	EventSystemNotification   = "system-notification"

	// messageAuthenticate is the only frame a client sends
	messageAuthenticate = "authenticate"
)

// Severity grades a system notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Event is one JSON frame on the wire
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewRequestData announces a pending request
type NewRequestData struct {
	Request   *models.Request `json:"request"`
	Timestamp time.Time       `json:"timestamp"`
}

// StatusChangedData tells a requester their request moved
type StatusChangedData struct {
	RequestID int64                `json:"requestId"`
	Status    models.RequestStatus `json:"status"`
	Message   string               `json:"message"`
	Timestamp time.Time            `json:"timestamp"`
}

// SecretAccessData tells a secret owner it was read
type SecretAccessData struct {
	SecretName string    `json:"secretName"`
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`
}

// SystemNotificationData is an administrative broadcast
type SystemNotificationData struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectedUser is the identity echoed back on successful authentication
type ConnectedUser struct {
	ID       string          `json:"id"`
	UserID   int64           `json:"userId"`
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
}

type authenticatedData struct {
	Success bool          `json:"success"`
	User    ConnectedUser `json:"user"`
}

type authenticationErrorData struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// inbound is a client frame; only authenticate is understood
type inbound struct {
	Type string `json:"type"`
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}
