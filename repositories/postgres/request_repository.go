package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

// RequestRepository implements the repositories.RequestRepository interface
type RequestRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *DB, logger *zap.Logger) repositories.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `r.id, r.resource, r.reason, r.status, r.secret_name, r.requester_id, r.approver_id, r.created_at, r.updated_at`

// Create inserts a request and sets its ID
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	query := `
		INSERT INTO requests (resource, reason, status, secret_name, requester_id, approver_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		req.Resource,
		req.Reason,
		req.Status,
		req.SecretName,
		req.RequesterID,
		req.ApproverID,
		req.CreatedAt,
		req.UpdatedAt,
	).Scan(&req.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("secret name %q: %w", req.SecretNameValue(), repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}

	r.logger.Debug("request created", zap.Int64("id", req.ID), zap.String("status", string(req.Status)))
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*models.Request, error) {
	return r.getOne(ctx, `r.id = $1`, "", id)
}

// GetByIDForUpdate retrieves a request and locks its row until the transaction ends
func (r *RequestRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.Request, error) {
	return r.getOne(ctx, `r.id = $1`, " FOR UPDATE OF r", id)
}

// GetBySecretName retrieves the request that owns a live secret name
func (r *RequestRepository) GetBySecretName(ctx context.Context, name string) (*models.Request, error) {
	return r.getOne(ctx, `r.secret_name = $1`, "", name)
}

// GetBySecretNameForUpdate retrieves the owner of a secret name and locks its row
func (r *RequestRepository) GetBySecretNameForUpdate(ctx context.Context, name string) (*models.Request, error) {
	return r.getOne(ctx, `r.secret_name = $1`, " FOR UPDATE OF r", name)
}

func (r *RequestRepository) getOne(ctx context.Context, where, lock string, arg interface{}) (*models.Request, error) {
	query := `
		SELECT ` + requestColumns + `, requester.username, approver.username
		FROM requests r
		JOIN users requester ON requester.id = r.requester_id
		LEFT JOIN users approver ON approver.id = r.approver_id
		WHERE ` + where + lock

	executor := GetExecutor(ctx, r.db)
	req, err := scanRequest(executor.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request %v: %w", arg, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// List returns requests newest first together with the unpaged total
func (r *RequestRepository) List(ctx context.Context, filter repositories.RequestFilter) ([]*models.Request, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("r.requester_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	executor := GetExecutor(ctx, r.db)

	var total int
	if err := executor.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests r`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	query := `
		SELECT ` + requestColumns + `, requester.username, approver.username
		FROM requests r
		JOIN users requester ON requester.id = r.requester_id
		LEFT JOIN users approver ON approver.id = r.approver_id` + where +
		` ORDER BY r.created_at DESC, r.id DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	requests, err := r.queryRequests(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ListLiveSecrets returns approved requests that still hold a secret name
func (r *RequestRepository) ListLiveSecrets(ctx context.Context) ([]*models.Request, error) {
	query := `
		SELECT ` + requestColumns + `, requester.username, approver.username
		FROM requests r
		JOIN users requester ON requester.id = r.requester_id
		LEFT JOIN users approver ON approver.id = r.approver_id
		WHERE r.status = 'approved' AND r.secret_name IS NOT NULL
		ORDER BY r.created_at DESC, r.id DESC
	`
	return r.queryRequests(ctx, query)
}

// ReserveSecretName inserts the name into the permanent registry.
// A concurrent reservation of the same name blocks until the other transaction ends.
func (r *RequestRepository) ReserveSecretName(ctx context.Context, name string) error {
	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, `INSERT INTO secret_names (name, reserved_at) VALUES ($1, $2)`, name, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("secret name %q: %w", name, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to reserve secret name: %w", err)
	}
	return nil
}

// Update persists status, secret name, approver and resource changes
func (r *RequestRepository) Update(ctx context.Context, req *models.Request) error {
	query := `
		UPDATE requests
		SET resource = $2,
		    status = $3,
		    secret_name = $4,
		    approver_id = $5,
		    updated_at = $6
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		req.ID,
		req.Resource,
		req.Status,
		req.SecretName,
		req.ApproverID,
		req.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("secret name %q: %w", req.SecretNameValue(), repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to update request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("request %d: %w", req.ID, repositories.ErrNotFound)
	}

	r.logger.Debug("request updated", zap.Int64("id", req.ID), zap.String("status", string(req.Status)))
	return nil
}

// CountByStatus returns the number of requests per status
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by status: %w", err)
	}
	defer rows.Close()

	counts := map[models.RequestStatus]int{
		models.StatusPending:  0,
		models.StatusApproved: 0,
		models.StatusRejected: 0,
		models.StatusExpired:  0,
	}
	for rows.Next() {
		var status models.RequestStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// CountByDay returns per-day, per-status counts of requests created since the given time
func (r *RequestRepository) CountByDay(ctx context.Context, since time.Time) ([]*repositories.DailyCount, error) {
	query := `
		SELECT to_char(date_trunc('day', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD') AS day, status, COUNT(*)
		FROM requests
		WHERE created_at >= $1
		GROUP BY day, status
		ORDER BY day ASC, status ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by day: %w", err)
	}
	defer rows.Close()

	var result []*repositories.DailyCount
	for rows.Next() {
		dc := &repositories.DailyCount{}
		if err := rows.Scan(&dc.Date, &dc.Status, &dc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		result = append(result, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily counts: %w", err)
	}
	return result, nil
}

func (r *RequestRepository) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*models.Request, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request rows: %w", err)
	}
	return requests, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	req := &models.Request{}
	var secretName, approver sql.NullString
	var approverID sql.NullInt64
	err := row.Scan(
		&req.ID,
		&req.Resource,
		&req.Reason,
		&req.Status,
		&secretName,
		&req.RequesterID,
		&approverID,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.Requester,
		&approver,
	)
	if err != nil {
		return nil, err
	}
	if secretName.Valid {
		req.SecretName = &secretName.String
	}
	if approverID.Valid {
		req.ApproverID = &approverID.Int64
	}
	if approver.Valid {
		req.Approver = &approver.String
	}
	return req, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
