package models

// Identity is a verified caller as returned by the identity verifier.
// Role is always derived from Roles with DeriveRole.
type Identity struct {
	SubjectID string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles"`
	Role      UserRole `json:"role"`
}

// NewIdentity builds an Identity and derives its workflow role
func NewIdentity(subjectID, username, email string, roles []string) *Identity {
	if roles == nil {
		roles = []string{}
	}
	return &Identity{
		SubjectID: subjectID,
		Username:  username,
		Email:     email,
		Roles:     roles,
		Role:      DeriveRole(roles),
	}
}

// IsAdmin returns true when the caller holds the admin role
func (i *Identity) IsAdmin() bool {
	return i.Role.IsAdmin()
}

// CanApprove returns true when the caller may review requests
func (i *Identity) CanApprove() bool {
	return i.Role.CanApprove()
}
