package workflow

import (
	"time"

	"github.com/upb/secretmanager/models"
)

const (
	// DefaultListLimit is the page size when the caller does not ask for one
	DefaultListLimit = 50

	// MaxListLimit caps the page size of request listings
	MaxListLimit = 200

	approvedMessage    = "Your request has been approved"
	defaultRejectText  = "Request rejected"
	retiredMessage     = "Secret access has been revoked"
	adminCreatedReason = "Admin-created secret"
)

// CreateRequestInput is what a requester submits
type CreateRequestInput struct {
	Resource string `json:"resource" validate:"required,max=1000"`
	Reason   string `json:"reason" validate:"required,max=4000"`
}

// ListRequestsInput filters and pages a request listing
type ListRequestsInput struct {
	Status string
	Limit  int
	Offset int
}

// RequestList is one page of requests with the unpaged total
type RequestList struct {
	Requests []*models.Request `json:"requests"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// AdminCreateSecretInput creates a secret outside the request flow
type AdminCreateSecretInput struct {
	Name        string                 `json:"name" validate:"required,max=255"`
	Data        map[string]interface{} `json:"data" validate:"required"`
	Description string                 `json:"description" validate:"max=1000"`
}

// UpdateSecretInput replaces a secret payload and optionally its description
type UpdateSecretInput struct {
	Data        map[string]interface{} `json:"data" validate:"required"`
	Description *string                `json:"description,omitempty" validate:"omitempty,max=1000"`
}

// SecretValue is a secret payload returned to an authorized reader
type SecretValue struct {
	Name      string                 `json:"name"`
	RequestID int64                  `json:"request_id"`
	Data      map[string]interface{} `json:"data"`
}

// SecretSummary describes a live secret pointer.
// ExistsInStore is false when the ledger points at a name the store no longer lists.
type SecretSummary struct {
	Name          string    `json:"name"`
	RequestID     int64     `json:"request_id"`
	Resource      string    `json:"resource"`
	Requester     string    `json:"requester"`
	Approver      *string   `json:"approver,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ExistsInStore bool      `json:"exists_in_store"`
}
