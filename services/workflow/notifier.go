package workflow

import (
	"github.com/upb/secretmanager/models"
)

// Notifier fans workflow events out to connected clients.
// The engine calls it only after the ledger transaction has committed.
// Implementations must not block; delivery is best effort.
type Notifier interface {
	// NewRequest announces a pending request to approvers and admins
	NewRequest(req *models.Request)

	// RequestStatusChanged tells the requester their request moved to status
	RequestStatusChanged(userID, requestID int64, status models.RequestStatus, message string)

	// SecretAccess tells the owner of a secret that it was read
	SecretAccess(userID int64, secretName string, success bool)
}

// NopNotifier discards every event
type NopNotifier struct{}

func (NopNotifier) NewRequest(*models.Request) {}

func (NopNotifier) RequestStatusChanged(int64, int64, models.RequestStatus, string) {}

func (NopNotifier) SecretAccess(int64, string, bool) {}

// Metrics counts workflow transitions by action and outcome
type Metrics interface {
	RecordTransition(action, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordTransition(string, string) {}
