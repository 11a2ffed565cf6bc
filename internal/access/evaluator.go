// Package access decides whether a principal may perform an operation on a
// block.
//
// Rules run in a fixed order and the first rule that reaches a decision wins:
//
//  1. anonymous: the definition sets allowAnonymous.
//  2. tenant role: the definition names a tenantRole; the caller needs at
//     least that role in the tenant.
//  3. sharing overlay: a resource id was supplied and the tenant role check
//     denied; membership in the resource's sharing organization allows with
//     the level implied by that role.
//  4. default: the definition names neither key. Allowed unless the
//     evaluator was built with default allow disabled.
//
// Every outcome carries a reason so callers can report a precise denial.
package access

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/dyncontent/internal/domain"
)

// Level is the access granted by an allow decision.
type Level string

const (
	LevelNone      Level = "none"
	LevelReadOnly  Level = "read"
	LevelReadWrite Level = "write"
)

// Denial reasons.
const (
	ReasonAuthRequired      = "authentication required"
	ReasonInsufficientRole  = "insufficient role"
	ReasonNotShared         = "resource not shared"
	ReasonSharedReadOnly    = "resource shared read-only"
	ReasonNoPolicy          = "no access policy configured"
	ReasonNotMaintenance    = "maintenance capability required"
	reasonAnonymous         = "anonymous access"
	reasonTenantRole        = "tenant role"
	reasonShared            = "shared resource"
	reasonDefaultAllow      = "default allow"
	reasonMaintenanceAccess = "maintenance capability"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Level   Level
	Reason  string
}

// Err returns nil for an allow and a forbidden error carrying the reason
// otherwise.
func (d Decision) Err(op string) error {
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonAuthRequired {
		return domain.Unauthorized(op, d.Reason)
	}
	return domain.Forbidden(op, d.Reason)
}

func allow(level Level, reason string) Decision {
	return Decision{Allowed: true, Level: level, Reason: reason}
}

func deny(reason string) Decision {
	return Decision{Level: LevelNone, Reason: reason}
}

// RoleChecker answers role questions about scopes.
type RoleChecker interface {
	HasRole(ctx context.Context, userID, scopeID string, kind domain.ScopeKind, min domain.Role) (bool, error)
	RoleIn(ctx context.Context, userID, scopeID string) (domain.Role, bool, error)
}

// SharingLookup finds the sharing organization of a resource.
type SharingLookup interface {
	FindSharing(ctx context.Context, resourceID, contentType string) (*domain.Organization, error)
}

// Evaluator combines definition policies, tenant roles and sharing overlays.
type Evaluator struct {
	roles        RoleChecker
	sharing      SharingLookup
	defaultAllow bool
	maintenance  map[string]bool
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDefaultAllow sets the outcome for definitions without access keys.
func WithDefaultAllow(allow bool) Option {
	return func(e *Evaluator) { e.defaultAllow = allow }
}

// WithMaintenanceUsers lists the users holding the maintenance capability.
func WithMaintenanceUsers(userIDs ...string) Option {
	return func(e *Evaluator) {
		for _, id := range userIDs {
			if id != "" {
				e.maintenance[id] = true
			}
		}
	}
}

// NewEvaluator creates an Evaluator. Default allow is on unless disabled.
func NewEvaluator(roles RoleChecker, sharing SharingLookup, opts ...Option) *Evaluator {
	e := &Evaluator{
		roles:        roles,
		sharing:      sharing,
		defaultAllow: true,
		maintenance:  make(map[string]bool),
	}
	for _, o := range opts {
		o(e)
	}
	if e.defaultAllow {
		log.Warn().Msg("access: definitions without an access policy allow every authenticated tenant user")
	}
	return e
}

// Authorize evaluates the rules for one operation. resourceID may be empty.
func (e *Evaluator) Authorize(ctx context.Context, p domain.Principal, tenantID string, def *domain.ContentDefinition, op domain.Operation, resourceID string) (Decision, error) {
	d, err := e.authorize(ctx, p, tenantID, def, op, resourceID)
	if err != nil {
		return Decision{}, err
	}

	ev := log.Debug().
		Str("tenant_id", tenantID).
		Str("block", def.Block).
		Str("user_id", p.UserID).
		Str("op", string(op)).
		Bool("allowed", d.Allowed).
		Str("reason", d.Reason)
	if resourceID != "" {
		ev = ev.Str("resource_id", resourceID)
	}
	ev.Msg("access decision")

	return d, nil
}

func (e *Evaluator) authorize(ctx context.Context, p domain.Principal, tenantID string, def *domain.ContentDefinition, op domain.Operation, resourceID string) (Decision, error) {
	policy := def.Access

	if policy.Anonymous() {
		return allow(LevelReadWrite, reasonAnonymous), nil
	}
	if p.Anonymous || p.UserID == "" {
		return deny(ReasonAuthRequired), nil
	}

	if policy.TenantRole != nil {
		ok, err := e.roles.HasRole(ctx, p.UserID, tenantID, domain.ScopeTenant, *policy.TenantRole)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to check tenant role: %w", err)
		}
		if ok {
			return allow(LevelReadWrite, reasonTenantRole), nil
		}
		if resourceID == "" {
			return deny(ReasonInsufficientRole), nil
		}
		return e.sharedAccess(ctx, p, def, op, resourceID)
	}

	if e.defaultAllow {
		return allow(LevelReadWrite, reasonDefaultAllow), nil
	}
	return deny(ReasonNoPolicy), nil
}

func (e *Evaluator) sharedAccess(ctx context.Context, p domain.Principal, def *domain.ContentDefinition, op domain.Operation, resourceID string) (Decision, error) {
	if e.sharing == nil {
		return deny(ReasonInsufficientRole), nil
	}

	org, err := e.sharing.FindSharing(ctx, resourceID, def.Block)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to look up sharing: %w", err)
	}
	if org == nil {
		return deny(ReasonNotShared), nil
	}

	role, ok, err := e.roles.RoleIn(ctx, p.UserID, org.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check sharing role: %w", err)
	}
	if !ok {
		return deny(ReasonNotShared), nil
	}

	level := LevelForRole(role)
	if op.IsWrite() && level != LevelReadWrite {
		return deny(ReasonSharedReadOnly), nil
	}
	return allow(level, reasonShared), nil
}

// LevelForRole maps a sharing role to the access it grants.
func LevelForRole(role domain.Role) Level {
	switch {
	case role.AtLeast(domain.RoleMember):
		return LevelReadWrite
	case role == domain.RoleViewer:
		return LevelReadOnly
	}
	return LevelNone
}

// AuthorizeMaintenance checks the capability needed for cross-tenant
// maintenance reads. It is independent of every tenant role.
func (e *Evaluator) AuthorizeMaintenance(p domain.Principal) Decision {
	if p.Anonymous || p.UserID == "" {
		return deny(ReasonAuthRequired)
	}
	if !e.maintenance[p.UserID] {
		log.Warn().Str("user_id", p.UserID).Msg("maintenance access denied")
		return deny(ReasonNotMaintenance)
	}
	return allow(LevelReadOnly, reasonMaintenanceAccess)
}
