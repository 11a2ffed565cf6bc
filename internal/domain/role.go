package domain

import (
	"context"
	"strings"
	"time"
)

// Role is an ordered membership role.
type Role string

// Role constants, lowest to highest.
const (
	RoleViewer Role = "VIEWER"
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
	RoleOwner  Role = "OWNER"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// ParseRole normalizes s into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleRank[r]
	return r, ok
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above min. Unknown roles rank below
// everything.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] > 0 && roleRank[r] >= roleRank[min]
}

// ScopeKind is the kind of scope a role is granted in.
type ScopeKind string

const (
	ScopeTenant       ScopeKind = "tenant"
	ScopeOrganization ScopeKind = "organization"
)

// Valid reports whether k is a known scope kind.
func (k ScopeKind) Valid() bool {
	return k == ScopeTenant || k == ScopeOrganization
}

// RoleAssignment binds a user to a role within a scope.
type RoleAssignment struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"userId"`
	ScopeID   string    `json:"scopeId"`
	ScopeKind ScopeKind `json:"scopeKind"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RoleAssignmentCreate is the input for a direct assignment.
type RoleAssignmentCreate struct {
	UserID    string    `json:"userId" validate:"required,max=255"`
	ScopeID   string    `json:"scopeId" validate:"required,max=255"`
	ScopeKind ScopeKind `json:"scopeKind" validate:"required,oneof=tenant organization"`
	Role      Role      `json:"role" validate:"required,oneof=VIEWER MEMBER ADMIN OWNER"`
}

// RoleRepository persists role assignments.
//
// UpdateRole and Delete are conditional writes: for organization scopes they
// must fail with a KindLastOwner error when the write would leave the scope
// without an OWNER, evaluated atomically with the write itself.
type RoleRepository interface {
	Create(ctx context.Context, a *RoleAssignment) error
	GetByID(ctx context.Context, id string) (*RoleAssignment, error)
	Get(ctx context.Context, scopeID, userID string) (*RoleAssignment, error)
	ListByScope(ctx context.Context, scopeID string) ([]RoleAssignment, error)
	UpdateRole(ctx context.Context, id string, role Role) (*RoleAssignment, error)
	Delete(ctx context.Context, id string) (*RoleAssignment, error)
}

// CountOwners returns the number of OWNER assignments in as.
func CountOwners(as []RoleAssignment) int {
	n := 0
	for _, a := range as {
		if a.Role == RoleOwner {
			n++
		}
	}
	return n
}
