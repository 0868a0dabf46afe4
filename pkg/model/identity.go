package model

import "context"

// DefaultDepartment is the public tier assigned when a department is not set
const DefaultDepartment = "general"

// RoleAdmin grants an unconditional access scope
const RoleAdmin = "admin"

// UserIdentity is the verified identity of the requester. Immutable once
// constructed; the core only derives an AccessScope from it.
type UserIdentity struct {
	UserID     string   `json:"user_id"`
	Email      string   `json:"email"`
	Department string   `json:"department"`
	Roles      []string `json:"roles"`
}

// NewUserIdentity constructs an identity, applying the public-tier default
// for a missing department.
func NewUserIdentity(userID, email, department string, roles []string) UserIdentity {
	if department == "" {
		department = DefaultDepartment
	}
	return UserIdentity{
		UserID:     userID,
		Email:      email,
		Department: department,
		Roles:      roles,
	}
}

// HasRole reports whether the identity holds the given role
func (x UserIdentity) HasRole(role string) bool {
	for _, r := range x.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity attaches the turn's identity to the context. Tools that
// require scoped access read it back via IdentityFrom.
func WithIdentity(ctx context.Context, id UserIdentity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom retrieves the identity from the context. ok is false when
// the turn runs without a security context.
func IdentityFrom(ctx context.Context) (UserIdentity, bool) {
	id, ok := ctx.Value(identityKey{}).(UserIdentity)
	return id, ok
}
