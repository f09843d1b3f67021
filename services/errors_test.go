package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name:    "error with wrapped error",
			err:     ErrStoreWriteFailed.Wrap(errors.New("connection refused")),
			wantMsg: "external: secret store write failed (connection refused)",
		},
		{
			name:    "error without wrapped error",
			err:     ErrRequestNotFound,
			wantMsg: "not_found: request not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := WrapInternal("internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
	assert.ErrorIs(t, domainErr, baseErr)
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same sentinel", ErrInvalidStatus, ErrInvalidStatus, true},
		{"wrapped sentinel", fmt.Errorf("approve: %w", ErrStoreWriteFailed.Wrap(errors.New("timeout"))), ErrStoreWriteFailed, true},
		{"same type different sentinel", ErrStoreReadFailed, ErrStoreWriteFailed, false},
		{"different type", ErrRequestNotFound, ErrInvalidStatus, false},
		{"not a domain error", ErrRequestNotFound, errors.New("regular error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := ErrInvalidStatus.WithDetail("status", "approved").WithDetail("request_id", 7)

	assert.Equal(t, "approved", err.Details["status"])
	assert.Equal(t, 7, err.Details["request_id"])
	assert.Nil(t, ErrInvalidStatus.Details, "sentinel must not be mutated")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"not found", ErrSecretNotFound, IsNotFoundError, true},
		{"wrapped not found", fmt.Errorf("wrapped: %w", ErrRequestNotFound), IsNotFoundError, true},
		{"validation", Validation("resource is required"), IsValidationError, true},
		{"unauthorized", ErrUnauthenticated, IsUnauthorizedError, true},
		{"forbidden", ErrNotSecretHolder, IsForbiddenError, true},
		{"admin only is forbidden", ErrAdminOnly, IsForbiddenError, true},
		{"invalid status", ErrInvalidStatus, IsInvalidStatusError, true},
		{"conflict", ErrSecretNameTaken, IsConflictError, true},
		{"rate limit", ErrRateLimitExceeded, IsRateLimitError, true},
		{"external", WrapExternal("openbao down", errors.New("dial")), IsExternalError, true},
		{"audit", ErrAuditWriteFailed, IsAuditError, true},
		{"internal", ErrInternal, IsInternalError, true},
		{"regular error", errors.New("regular"), IsInternalError, false},
		{"nil error", nil, IsNotFoundError, false},
		{"mismatched type", ErrInvalidStatus, IsConflictError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetErrorTypeAndDetails(t *testing.T) {
	err := fmt.Errorf("ctx: %w", ErrSecretNameTaken.WithDetail("name", "db-prod"))

	assert.Equal(t, ErrorTypeConflict, GetErrorType(err))
	assert.Equal(t, "db-prod", GetErrorDetails(err)["name"])

	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}
