package models

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a request status change is not allowed
var ErrInvalidTransition = errors.New("invalid status transition")

// RequestStatus represents the lifecycle state of an access request
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusExpired  RequestStatus = "expired"
)

// Valid reports whether s is a known status
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
// pending -> approved|rejected, approved -> expired; nothing else.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusExpired
	}
	return false
}

// Request is a single access request and the pointer to its secret material
type Request struct {
	ID          int64         `json:"id" db:"id"`
	Resource    string        `json:"resource" db:"resource"`
	Reason      string        `json:"reason" db:"reason"`
	Status      RequestStatus `json:"status" db:"status"`
	SecretName  *string       `json:"secret_name,omitempty" db:"secret_name"`
	RequesterID int64         `json:"requester_id" db:"requester_id"`
	ApproverID  *int64        `json:"approver_id,omitempty" db:"approver_id"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`

	// Joined from users for listings
	Requester string  `json:"requester,omitempty" db:"-"`
	Approver  *string `json:"approver,omitempty" db:"-"`
}

// TableName returns the table name for the Request model
func (Request) TableName() string {
	return "requests"
}

// NewRequest creates a pending request owned by requesterID
func NewRequest(requesterID int64, resource, reason string) *Request {
	now := time.Now().UTC()
	return &Request{
		Resource:    resource,
		Reason:      reason,
		Status:      StatusPending,
		RequesterID: requesterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HasLiveSecret reports whether the request currently grants access to secret material
func (r *Request) HasLiveSecret() bool {
	return r.Status == StatusApproved && r.SecretName != nil
}

// SecretNameValue returns the secret name or an empty string
func (r *Request) SecretNameValue() string {
	if r.SecretName == nil {
		return ""
	}
	return *r.SecretName
}

// Approve moves a pending request to approved and attaches its secret name
func (r *Request) Approve(approverID int64, secretName string) error {
	if !r.Status.CanTransitionTo(StatusApproved) {
		return ErrInvalidTransition
	}
	r.Status = StatusApproved
	r.ApproverID = &approverID
	r.SecretName = &secretName
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Reject moves a pending request to rejected
func (r *Request) Reject(approverID int64) error {
	if !r.Status.CanTransitionTo(StatusRejected) {
		return ErrInvalidTransition
	}
	r.Status = StatusRejected
	r.ApproverID = &approverID
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Retire revokes access to the secret: the name pointer is cleared and the request expires
func (r *Request) Retire() error {
	if !r.HasLiveSecret() {
		return ErrInvalidTransition
	}
	r.Status = StatusExpired
	r.SecretName = nil
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy of the request
func (r *Request) Clone() *Request {
	c := *r
	if r.SecretName != nil {
		name := *r.SecretName
		c.SecretName = &name
	}
	if r.ApproverID != nil {
		id := *r.ApproverID
		c.ApproverID = &id
	}
	if r.Approver != nil {
		approver := *r.Approver
		c.Approver = &approver
	}
	return &c
}
