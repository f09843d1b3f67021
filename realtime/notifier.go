package realtime

import (
	"time"

	"github.com/upb/secretmanager/models"
)

// Notifier publishes workflow events through the hub
type Notifier struct {
	hub *Hub
	now func() time.Time
}

// NewNotifier creates a notifier over hub
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub, now: func() time.Time { return time.Now().UTC() }}
}

// NewRequest sends new-request to approvers and admins
func (n *Notifier) NewRequest(req *models.Request) {
	n.hub.PublishToApprovers(Event{Type: EventNewRequest, Data: NewRequestData{Request: req, Timestamp: n.now()}})
}

// RequestStatusChanged sends request-status-changed to the requester
func (n *Notifier) RequestStatusChanged(userID, requestID int64, status models.RequestStatus, message string) {
	n.hub.PublishToUser(userID, Event{Type: EventRequestStatusChanged, Data: StatusChangedData{
		RequestID: requestID,
		Status:    status,
		Message:   message,
		Timestamp: n.now(),
	}})
}

// SecretAccess sends secret-access to the owner of the secret
func (n *Notifier) SecretAccess(userID int64, secretName string, success bool) {
	n.hub.PublishToUser(userID, Event{Type: EventSecretAccess, Data: SecretAccessData{
		SecretName: secretName,
		Success:    success,
		Timestamp:  n.now(),
	}})
}

// SystemNotification sends system-notification to every connected client
func (n *Notifier) SystemNotification(message string, severity Severity) int {
	return n.hub.Broadcast(Event{Type: EventSystemNotification, Data: SystemNotificationData{
		Message:   message,
		Severity:  severity,
		Timestamp: n.now(),
	}})
}
