package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/repositories"
	"go.uber.org/zap"
)

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, username, email, role, created_at, updated_at`

// FindOrCreate upserts the user keyed by username.
// Email and role follow the identity provider on every call.
func (r *UserRepository) FindOrCreate(ctx context.Context, username, email string, role models.UserRole) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (username) DO UPDATE
		SET email = EXCLUDED.email,
		    role = EXCLUDED.role,
		    updated_at = CASE
		        WHEN users.email IS DISTINCT FROM EXCLUDED.email OR users.role <> EXCLUDED.role
		        THEN EXCLUDED.updated_at
		        ELSE users.updated_at
		    END
		RETURNING ` + userColumns

	u := models.NewUser(username, email, role)

	executor := GetExecutor(ctx, r.db)
	user, err := scanUser(executor.QueryRowContext(ctx, query, u.Username, u.Email, u.Role, u.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	r.logger.Debug("user resolved", zap.Int64("id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	user, err := scanUser(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	executor := GetExecutor(ctx, r.db)
	user, err := scanUser(executor.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Count returns the number of known users
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// ListActivity returns every user with request and review counts, most active first
func (r *UserRepository) ListActivity(ctx context.Context) ([]*repositories.UserActivity, error) {
	query := `
		SELECT u.id, u.username, u.email, u.role, u.created_at, u.updated_at,
		       COUNT(DISTINCT mine.id) AS request_count,
		       COUNT(DISTINCT mine.id) FILTER (WHERE mine.status IN ('approved', 'expired')) AS approved_count,
		       COUNT(DISTINCT reviewed.id) AS reviewed_count,
		       MAX(mine.created_at) AS last_request_at
		FROM users u
		LEFT JOIN requests mine ON mine.requester_id = u.id
		LEFT JOIN requests reviewed ON reviewed.approver_id = u.id
		GROUP BY u.id
		ORDER BY request_count DESC, u.username ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query user activity: %w", err)
	}
	defer rows.Close()

	var result []*repositories.UserActivity
	for rows.Next() {
		user := &models.User{}
		activity := &repositories.UserActivity{User: user}
		var email sql.NullString
		var last sql.NullTime
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&email,
			&user.Role,
			&user.CreatedAt,
			&user.UpdatedAt,
			&activity.RequestCount,
			&activity.ApprovedCount,
			&activity.ReviewedCount,
			&last,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user activity: %w", err)
		}
		if email.Valid {
			user.Email = &email.String
		}
		if last.Valid {
			t := last.Time
			activity.LastRequestAt = &t
		}
		result = append(result, activity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user activity rows: %w", err)
	}
	return result, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var email sql.NullString
	var created, updated time.Time
	if err := row.Scan(&user.ID, &user.Username, &email, &user.Role, &created, &updated); err != nil {
		return nil, err
	}
	if email.Valid {
		user.Email = &email.String
	}
	user.CreatedAt = created
	user.UpdatedAt = updated
	return user, nil
}
