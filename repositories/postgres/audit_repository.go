package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface.
// It joins the caller's transaction only when it shares the ledger database.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends an audit log entry and sets its ID
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (action, actor, actor_user_id, request_id, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		log.Action,
		log.Actor,
		log.ActorUserID,
		log.RequestID,
		log.Details,
		log.Timestamp,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.Int64("id", log.ID), zap.String("action", string(log.Action)))
	return nil
}

// List retrieves audit logs, most recent first
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, actor, actor_user_id, request_id, details, timestamp
		FROM audit_logs
		ORDER BY timestamp DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	return r.queryAuditLogs(ctx, query, limit, offset)
}

// ListByRequest retrieves every entry for a request, most recent first
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID int64) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, actor, actor_user_id, request_id, details, timestamp
		FROM audit_logs
		WHERE request_id = $1
		ORDER BY timestamp DESC, id DESC
	`
	return r.queryAuditLogs(ctx, query, requestID)
}

// Count returns the total number of entries
func (r *AuditRepository) Count(ctx context.Context) (int, error) {
	var count int
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return count, nil
}

// queryAuditLogs is a helper function to query audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var actorUserID, requestID sql.NullInt64
		err := rows.Scan(
			&log.ID,
			&log.Action,
			&log.Actor,
			&actorUserID,
			&requestID,
			&log.Details,
			&log.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if actorUserID.Valid {
			log.ActorUserID = &actorUserID.Int64
		}
		if requestID.Valid {
			log.RequestID = &requestID.Int64
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}
