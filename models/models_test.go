package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// User tests
func TestNewUser(t *testing.T) {
	user := NewUser("alice", "alice@example.com", RoleApprover)

	assert.Equal(t, "alice", user.Username)
	require.NotNil(t, user.Email)
	assert.Equal(t, "alice@example.com", *user.Email)
	assert.Equal(t, RoleApprover, user.Role)
	assert.False(t, user.CreatedAt.IsZero())
	assert.Equal(t, user.CreatedAt, user.UpdatedAt)

	noEmail := NewUser("bob", "", RoleUser)
	assert.Nil(t, noEmail.Email)
	assert.Equal(t, "", noEmail.EmailValue())
}

func TestUser_IsAdmin(t *testing.T) {
	tests := []struct {
		name string
		role UserRole
		want bool
	}{
		{"admin", RoleAdmin, true},
		{"approver", RoleApprover, false},
		{"user", RoleUser, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &User{Role: tt.role}
			assert.Equal(t, tt.want, user.IsAdmin())
		})
	}
}

func TestUser_TableName(t *testing.T) {
	user := User{}
	assert.Equal(t, "users", user.TableName())
}

func TestDeriveRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  UserRole
	}{
		{"no roles", nil, RoleUser},
		{"unrelated roles", []string{"offline_access", "uma_authorization"}, RoleUser},
		{"approver", []string{"approver"}, RoleApprover},
		{"admin", []string{"admin"}, RoleAdmin},
		{"realm admin marker", []string{"realm-admin"}, RoleAdmin},
		{"admin wins over approver listed first", []string{"approver", "admin"}, RoleAdmin},
		{"admin wins over approver listed last", []string{"admin", "approver"}, RoleAdmin},
		{"case sensitive", []string{"Admin"}, RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveRole(tt.roles))
		})
	}
}

func TestUserRole_Capabilities(t *testing.T) {
	assert.True(t, RoleAdmin.CanApprove())
	assert.True(t, RoleApprover.CanApprove())
	assert.False(t, RoleUser.CanApprove())
	assert.True(t, RoleAdmin.IsAdmin())
	assert.False(t, RoleApprover.IsAdmin())
	assert.True(t, RoleUser.Valid())
	assert.False(t, UserRole("superuser").Valid())
}

func TestNewIdentity(t *testing.T) {
	id := NewIdentity("sub-1", "alice", "alice@example.com", []string{"approver"})

	assert.Equal(t, "sub-1", id.SubjectID)
	assert.Equal(t, RoleApprover, id.Role)
	assert.True(t, id.CanApprove())
	assert.False(t, id.IsAdmin())

	empty := NewIdentity("sub-2", "bob", "", nil)
	assert.NotNil(t, empty.Roles)
	assert.Equal(t, RoleUser, empty.Role)
}

// Request tests
func TestNewRequest(t *testing.T) {
	req := NewRequest(7, "db-prod", "on-call")

	assert.Equal(t, int64(7), req.RequesterID)
	assert.Equal(t, "db-prod", req.Resource)
	assert.Equal(t, "on-call", req.Reason)
	assert.Equal(t, StatusPending, req.Status)
	assert.Nil(t, req.SecretName)
	assert.Nil(t, req.ApproverID)
	assert.False(t, req.HasLiveSecret())
}

func TestRequestStatus_CanTransitionTo(t *testing.T) {
	all := []RequestStatus{StatusPending, StatusApproved, StatusRejected, StatusExpired}
	allowed := map[RequestStatus][]RequestStatus{
		StatusPending:  {StatusApproved, StatusRejected},
		StatusApproved: {StatusExpired},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestRequest_Approve(t *testing.T) {
	req := NewRequest(1, "db", "because")

	require.NoError(t, req.Approve(2, "secret-1-abc"))
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, int64(2), *req.ApproverID)
	assert.Equal(t, "secret-1-abc", req.SecretNameValue())
	assert.True(t, req.HasLiveSecret())

	assert.ErrorIs(t, req.Approve(3, "secret-1-def"), ErrInvalidTransition)
	assert.ErrorIs(t, req.Reject(3), ErrInvalidTransition)
	assert.Equal(t, int64(2), *req.ApproverID)
}

func TestRequest_Reject(t *testing.T) {
	req := NewRequest(1, "db", "because")

	require.NoError(t, req.Reject(2))
	assert.Equal(t, StatusRejected, req.Status)
	assert.Equal(t, int64(2), *req.ApproverID)
	assert.Nil(t, req.SecretName)

	assert.ErrorIs(t, req.Approve(2, "secret"), ErrInvalidTransition)
	assert.ErrorIs(t, req.Retire(), ErrInvalidTransition)
}

func TestRequest_Retire(t *testing.T) {
	req := NewRequest(1, "db", "because")
	assert.ErrorIs(t, req.Retire(), ErrInvalidTransition)

	require.NoError(t, req.Approve(2, "secret-1-abc"))
	require.NoError(t, req.Retire())
	assert.Equal(t, StatusExpired, req.Status)
	assert.Nil(t, req.SecretName)
	assert.False(t, req.HasLiveSecret())
	assert.NotNil(t, req.ApproverID)

	assert.ErrorIs(t, req.Retire(), ErrInvalidTransition)
}

func TestRequest_Clone(t *testing.T) {
	req := NewRequest(1, "db", "because")
	require.NoError(t, req.Approve(2, "secret-1-abc"))

	c := req.Clone()
	*c.SecretName = "changed"
	*c.ApproverID = 99

	assert.Equal(t, "secret-1-abc", *req.SecretName)
	assert.Equal(t, int64(2), *req.ApproverID)
}

// AuditLog tests
func TestNewAuditLog(t *testing.T) {
	log := NewAuditLog(AuditActionRequestCreated, "alice")

	assert.Equal(t, AuditActionRequestCreated, log.Action)
	assert.Equal(t, "alice", log.Actor)
	assert.Nil(t, log.RequestID)
	assert.Nil(t, log.ActorUserID)
	assert.False(t, log.Timestamp.IsZero())
}

func TestAuditLog_BuilderMethods(t *testing.T) {
	log := NewAuditLog(AuditActionSecretAccessed, "alice").
		WithActorUser(3).
		WithRequest(11).
		WithDetailsf("Secret accessed: %s", "secret-11-x")

	assert.Equal(t, int64(3), *log.ActorUserID)
	assert.Equal(t, int64(11), *log.RequestID)
	assert.Equal(t, "Secret accessed: secret-11-x", log.Details)

	plain := NewAuditLog(AuditActionRequestRejected, "bob").WithDetails("100% rejected")
	assert.Equal(t, "100% rejected", plain.Details)
}

func TestAuditLog_TableName(t *testing.T) {
	log := AuditLog{}
	assert.Equal(t, "audit_logs", log.TableName())
}
