package models

import (
	"time"
)

// UserRole is the coarse workflow role derived from identity-provider roles
type UserRole string

const (
	RoleUser     UserRole = "user"
	RoleApprover UserRole = "approver"
	RoleAdmin    UserRole = "admin"
)

// realmAdminRole is the Keycloak realm-management role treated as admin
const realmAdminRole = "realm-admin"

// DeriveRole maps a set of identity-provider roles onto a single workflow role.
// Precedence is admin > approver > user regardless of the order of roles.
// Every entry point that resolves an identity (HTTP and websocket) must use this function.
func DeriveRole(roles []string) UserRole {
	approver := false
	for _, role := range roles {
		switch role {
		case string(RoleAdmin), realmAdminRole:
			return RoleAdmin
		case string(RoleApprover):
			approver = true
		}
	}
	if approver {
		return RoleApprover
	}
	return RoleUser
}

// Valid reports whether the role is one of the known workflow roles
func (r UserRole) Valid() bool {
	switch r {
	case RoleUser, RoleApprover, RoleAdmin:
		return true
	}
	return false
}

// IsAdmin returns true for the admin role
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin
}

// CanApprove returns true for roles allowed to review requests
func (r UserRole) CanApprove() bool {
	return r == RoleAdmin || r == RoleApprover
}

// User mirrors a verified identity locally for foreign keys and audit.
// Role is the last-seen derived role and is only a display cache.
type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     *string   `json:"email,omitempty" db:"email"`
	Role      UserRole  `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User instance
func NewUser(username, email string, role UserRole) *User {
	now := time.Now().UTC()
	u := &User{
		Username:  username,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if email != "" {
		u.Email = &email
	}
	return u
}

// EmailValue returns the email or an empty string
func (u *User) EmailValue() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// IsAdmin returns true if the cached role is admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
