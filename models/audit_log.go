package models

import (
	"fmt"
	"time"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionRequestCreated  AuditAction = "REQUEST_CREATED"
	AuditActionRequestApproved AuditAction = "REQUEST_APPROVED"
	AuditActionRequestRejected AuditAction = "REQUEST_REJECTED"
	AuditActionSecretAccessed  AuditAction = "SECRET_ACCESSED"
	AuditActionSecretCreated   AuditAction = "SECRET_CREATED"
	AuditActionSecretUpdated   AuditAction = "SECRET_UPDATED"
	AuditActionSecretRotated   AuditAction = "SECRET_ROTATED"
	AuditActionSecretDeleted   AuditAction = "SECRET_DELETED"
)

// AuditLog represents an immutable audit trail entry.
// Actor is the username, denormalized so the entry survives changes to the user row.
type AuditLog struct {
	ID          int64       `json:"id" db:"id"`
	Action      AuditAction `json:"action" db:"action"`
	Actor       string      `json:"actor" db:"actor"`
	ActorUserID *int64      `json:"actor_user_id,omitempty" db:"actor_user_id"`
	RequestID   *int64      `json:"request_id,omitempty" db:"request_id"`
	Details     string      `json:"details" db:"details"`
	Timestamp   time.Time   `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, actor string) *AuditLog {
	return &AuditLog{
		Action:    action,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
	}
}

// WithActorUser links the entry to the local user row
func (a *AuditLog) WithActorUser(userID int64) *AuditLog {
	a.ActorUserID = &userID
	return a
}

// WithRequest links the entry to a request
func (a *AuditLog) WithRequest(requestID int64) *AuditLog {
	a.RequestID = &requestID
	return a
}

// WithDetails sets the details verbatim
func (a *AuditLog) WithDetails(details string) *AuditLog {
	a.Details = details
	return a
}

// WithDetailsf sets formatted details
func (a *AuditLog) WithDetailsf(format string, args ...interface{}) *AuditLog {
	a.Details = fmt.Sprintf(format, args...)
	return a
}
