package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/dyncontent/internal/domain"
)

// MembershipService is the source of tenant and organization role
// assignments.
type MembershipService struct {
	roles domain.RoleRepository
	now   func() time.Time
}

// NewMembershipService creates a new membership service
func NewMembershipService(roles domain.RoleRepository) *MembershipService {
	return &MembershipService{roles: roles, now: time.Now}
}

// HasAccess reports whether the user holds any role in the scope.
func (s *MembershipService) HasAccess(ctx context.Context, userID, scopeID string, kind domain.ScopeKind) (bool, error) {
	a, err := s.roles.Get(ctx, scopeID, userID)
	if err != nil {
		return false, fail("membership.HasAccess", err)
	}
	return a != nil && a.ScopeKind == kind, nil
}

// HasRole reports whether the user's role in the scope is at least min.
func (s *MembershipService) HasRole(ctx context.Context, userID, scopeID string, kind domain.ScopeKind, min domain.Role) (bool, error) {
	a, err := s.roles.Get(ctx, scopeID, userID)
	if err != nil {
		return false, fail("membership.HasRole", err)
	}
	if a == nil || a.ScopeKind != kind {
		return false, nil
	}
	return a.Role.AtLeast(min), nil
}

// RoleIn returns the user's role in the scope, if any.
func (s *MembershipService) RoleIn(ctx context.Context, userID, scopeID string) (domain.Role, bool, error) {
	a, err := s.roles.Get(ctx, scopeID, userID)
	if err != nil {
		return "", false, fail("membership.RoleIn", err)
	}
	if a == nil {
		return "", false, nil
	}
	return a.Role, true, nil
}

// CanManage reports whether requesterID may change assignments of the scope:
// ADMIN or above, or anyone while the scope has no assignments yet. When any
// of roles is OWNER (the role being granted, or the role the target assignment
// holds) only an OWNER qualifies.
func (s *MembershipService) CanManage(ctx context.Context, requesterID, scopeID string, roles ...domain.Role) (bool, error) {
	const op = "membership.CanManage"

	a, err := s.roles.Get(ctx, scopeID, requesterID)
	if err != nil {
		return false, fail(op, err)
	}
	if a != nil {
		for _, r := range roles {
			if r == domain.RoleOwner {
				return a.Role == domain.RoleOwner, nil
			}
		}
		return a.Role.AtLeast(domain.RoleAdmin), nil
	}

	existing, err := s.roles.ListByScope(ctx, scopeID)
	if err != nil {
		return false, fail(op, err)
	}
	return len(existing) == 0, nil
}

// Assign creates a role assignment. A user holds at most one per scope.
func (s *MembershipService) Assign(ctx context.Context, input domain.RoleAssignmentCreate) (*domain.RoleAssignment, error) {
	const op = "membership.Assign"

	role, ok := domain.ParseRole(string(input.Role))
	if !ok {
		return nil, domain.Invalid(op, "invalid role", string(input.Role))
	}
	if !input.ScopeKind.Valid() {
		return nil, domain.Invalid(op, "invalid scope kind", string(input.ScopeKind))
	}
	if input.UserID == "" || input.ScopeID == "" {
		return nil, domain.Invalid(op, "user id and scope id are required")
	}

	now := s.now().UTC()
	a := &domain.RoleAssignment{
		ID:        uuid.NewString(),
		UserID:    input.UserID,
		ScopeID:   input.ScopeID,
		ScopeKind: input.ScopeKind,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.roles.Create(ctx, a); err != nil {
		return nil, fail(op, err)
	}

	log.Info().
		Str("scope_id", a.ScopeID).
		Str("user_id", a.UserID).
		Str("role", string(a.Role)).
		Msg("role assigned")
	return a, nil
}

// Update changes the role of an assignment.
//
// Demoting the last OWNER of an organization fails with a last-owner error.
// The owner count comes from a fresh read on every call and the repository
// repeats the check atomically with the write.
func (s *MembershipService) Update(ctx context.Context, assignmentID string, role domain.Role) (*domain.RoleAssignment, error) {
	const op = "membership.Update"

	role, ok := domain.ParseRole(string(role))
	if !ok {
		return nil, domain.Invalid(op, "invalid role", string(role))
	}

	target, err := s.load(ctx, op, assignmentID)
	if err != nil {
		return nil, err
	}
	if target.Role == role {
		return target, nil
	}
	if role != domain.RoleOwner {
		if err := s.guardLastOwner(ctx, op, target); err != nil {
			return nil, err
		}
	}

	updated, err := s.roles.UpdateRole(ctx, assignmentID, role)
	if err != nil {
		return nil, fail(op, err)
	}

	log.Info().
		Str("assignment_id", assignmentID).
		Str("from", string(target.Role)).
		Str("to", string(role)).
		Msg("role updated")
	return updated, nil
}

// Remove deletes an assignment, subject to the last-owner rule.
func (s *MembershipService) Remove(ctx context.Context, assignmentID string) (*domain.RoleAssignment, error) {
	const op = "membership.Remove"

	target, err := s.load(ctx, op, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.guardLastOwner(ctx, op, target); err != nil {
		return nil, err
	}

	removed, err := s.roles.Delete(ctx, assignmentID)
	if err != nil {
		return nil, fail(op, err)
	}

	log.Info().Str("assignment_id", assignmentID).Str("scope_id", removed.ScopeID).Msg("role removed")
	return removed, nil
}

// Get returns one assignment.
func (s *MembershipService) Get(ctx context.Context, assignmentID string) (*domain.RoleAssignment, error) {
	return s.load(ctx, "membership.Get", assignmentID)
}

// ListByScope returns the assignments of a scope.
func (s *MembershipService) ListByScope(ctx context.Context, scopeID string) ([]domain.RoleAssignment, error) {
	as, err := s.roles.ListByScope(ctx, scopeID)
	if err != nil {
		return nil, fail("membership.ListByScope", err)
	}
	if as == nil {
		as = []domain.RoleAssignment{}
	}
	return as, nil
}

func (s *MembershipService) load(ctx context.Context, op, id string) (*domain.RoleAssignment, error) {
	a, err := s.roles.GetByID(ctx, id)
	if err != nil {
		return nil, fail(op, err)
	}
	if a == nil {
		return nil, domain.NotFound(op, "role assignment %s not found", id)
	}
	return a, nil
}

func (s *MembershipService) guardLastOwner(ctx context.Context, op string, target *domain.RoleAssignment) error {
	if target.ScopeKind != domain.ScopeOrganization || target.Role != domain.RoleOwner {
		return nil
	}

	current, err := s.roles.ListByScope(ctx, target.ScopeID)
	if err != nil {
		return fail(op, err)
	}
	if domain.CountOwners(current) <= 1 {
		log.Warn().Str("scope_id", target.ScopeID).Str("assignment_id", target.ID).Msg("last owner mutation rejected")
		return domain.LastOwner(op, target.ScopeID)
	}
	return nil
}

// fail passes typed errors through and hides everything else behind an
// internal error.
func fail(op string, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	log.Error().Err(err).Str("op", op).Msg("operation failed")
	return domain.Internal(op, err)
}
