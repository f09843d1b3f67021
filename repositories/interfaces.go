package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/secretmanager/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages ledger transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a ledger transaction.
// Repositories pick the transaction up from the context returned by Context.
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles the local identity mirror
type UserRepository interface {
	// FindOrCreate returns the user with the given username, creating it on first sight.
	// Email and role are refreshed when they differ from the stored values.
	FindOrCreate(ctx context.Context, username, email string, role models.UserRole) (*models.User, error)

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id int64) (*models.User, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// Count returns the number of known users
	Count(ctx context.Context) (int, error)

	// ListActivity returns every user with request and approval counts
	ListActivity(ctx context.Context) ([]*UserActivity, error)
}

// RequestFilter narrows request listings
type RequestFilter struct {
	Status      *models.RequestStatus
	RequesterID *int64
	Limit       int
	Offset      int
}

// RequestRepository handles access request rows
type RequestRepository interface {
	// Create inserts a request and sets its ID
	Create(ctx context.Context, req *models.Request) error

	// GetByID retrieves a request by ID
	GetByID(ctx context.Context, id int64) (*models.Request, error)

	// GetByIDForUpdate retrieves a request and locks its row until the transaction ends
	GetByIDForUpdate(ctx context.Context, id int64) (*models.Request, error)

	// GetBySecretName retrieves the request that owns a secret name
	GetBySecretName(ctx context.Context, name string) (*models.Request, error)

	// GetBySecretNameForUpdate retrieves the owner of a secret name and locks its row
	GetBySecretNameForUpdate(ctx context.Context, name string) (*models.Request, error)

	// List returns requests newest first together with the unpaged total
	List(ctx context.Context, filter RequestFilter) ([]*models.Request, int, error)

	// ListLiveSecrets returns approved requests that still hold a secret name
	ListLiveSecrets(ctx context.Context) ([]*models.Request, error)

	// ReserveSecretName records a secret name permanently.
	// Returns ErrDuplicate if the name was ever reserved, including by retired requests.
	ReserveSecretName(ctx context.Context, name string) error

	// Update persists status, secret name, approver and resource changes
	Update(ctx context.Context, req *models.Request) error

	// CountByStatus returns the number of requests per status
	CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error)

	// CountByDay returns per-day, per-status counts of requests created since the given time
	CountByDay(ctx context.Context, since time.Time) ([]*DailyCount, error)
}

// AuditRepository handles audit log entries
type AuditRepository interface {
	// Insert appends an entry and sets its ID
	Insert(ctx context.Context, log *models.AuditLog) error

	// List returns entries most recent first
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)

	// ListByRequest returns every entry for a request, most recent first
	ListByRequest(ctx context.Context, requestID int64) ([]*models.AuditLog, error)

	// Count returns the total number of entries
	Count(ctx context.Context) (int, error)
}

// DailyCount is the number of requests created on a day with a given status
type DailyCount struct {
	Date   string               `json:"date"`
	Status models.RequestStatus `json:"status"`
	Count  int                  `json:"count"`
}

// UserActivity is a user with aggregate workflow counts
type UserActivity struct {
	User          *models.User `json:"user"`
	RequestCount  int          `json:"request_count"`
	ApprovedCount int          `json:"approved_count"`
	ReviewedCount int          `json:"reviewed_count"`
	LastRequestAt *time.Time   `json:"last_request_at,omitempty"`
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users     UserRepository
	Requests  RequestRepository
	AuditLogs AuditRepository
}
