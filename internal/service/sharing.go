package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/dyncontent/internal/domain"
)

// SharingService manages the organizations that share single resources.
// There is at most one organization per (resourceID, contentType).
type SharingService struct {
	orgs    domain.OrganizationRepository
	members *MembershipService
	now     func() time.Time
}

// NewSharingService creates a new sharing service
func NewSharingService(orgs domain.OrganizationRepository, members *MembershipService) *SharingService {
	return &SharingService{orgs: orgs, members: members, now: time.Now}
}

// FindSharing returns the organization sharing a resource, or (nil, nil).
func (s *SharingService) FindSharing(ctx context.Context, resourceID, contentType string) (*domain.Organization, error) {
	org, err := s.orgs.FindBySharedResource(ctx, resourceID, contentType)
	if err != nil {
		return nil, fail("sharing.FindSharing", err)
	}
	return org, nil
}

// Share returns the sharing organization of a resource, creating it on the
// first request with creatorID as OWNER. When req names a user, that user is
// granted req.Role (VIEWER by default) by creatorID.
func (s *SharingService) Share(ctx context.Context, creatorID string, req domain.ShareRequest) (*domain.Organization, error) {
	const op = "sharing.Share"

	if creatorID == "" {
		return nil, domain.Unauthorized(op, "authentication required")
	}
	if req.ResourceID == "" || req.ContentType == "" {
		return nil, domain.Invalid(op, "resource id and content type are required")
	}

	org, err := s.lookupOrCreate(ctx, op, creatorID, req.ResourceID, req.ContentType)
	if err != nil {
		return nil, err
	}

	if req.UserID != "" && req.UserID != creatorID {
		role := req.Role
		if role == "" {
			role = domain.RoleViewer
		}
		if _, err := s.Grant(ctx, org.ID, creatorID, domain.GrantRequest{UserID: req.UserID, Role: role}); err != nil {
			return nil, err
		}
	}
	return org, nil
}

func (s *SharingService) lookupOrCreate(ctx context.Context, op, creatorID, resourceID, contentType string) (*domain.Organization, error) {
	org, err := s.orgs.FindBySharedResource(ctx, resourceID, contentType)
	if err != nil {
		return nil, fail(op, err)
	}
	if org != nil {
		return org, nil
	}

	org = &domain.Organization{
		ID:              uuid.NewString(),
		Name:            fmt.Sprintf("share:%s:%s", contentType, resourceID),
		SharedResources: map[string]string{resourceID: contentType},
		CreatedBy:       creatorID,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.orgs.Create(ctx, org, resourceID, contentType); err != nil {
		if !domain.IsKind(err, domain.KindConflict) {
			return nil, fail(op, err)
		}
		// Lost the race against a concurrent first share; reuse the winner.
		winner, lookupErr := s.orgs.FindBySharedResource(ctx, resourceID, contentType)
		if lookupErr != nil {
			return nil, fail(op, lookupErr)
		}
		if winner == nil {
			return nil, fail(op, err)
		}
		return winner, nil
	}

	if _, err := s.members.Assign(ctx, domain.RoleAssignmentCreate{
		UserID:    creatorID,
		ScopeID:   org.ID,
		ScopeKind: domain.ScopeOrganization,
		Role:      domain.RoleOwner,
	}); err != nil {
		// Drop the unowned organization so the next share starts over.
		if delErr := s.orgs.Delete(ctx, org.ID); delErr != nil {
			log.Error().Err(delErr).Str("org_id", org.ID).Msg("failed to drop unowned organization")
		}
		return nil, err
	}

	log.Info().
		Str("org_id", org.ID).
		Str("resource_id", resourceID).
		Str("content_type", contentType).
		Str("user_id", creatorID).
		Msg("sharing organization created")
	return org, nil
}

// Grant gives userID a role in a sharing organization. The granter needs
// ADMIN or above there, OWNER when the grantee is an OWNER. An existing
// assignment is changed to the new role.
func (s *SharingService) Grant(ctx context.Context, orgID, granterID string, req domain.GrantRequest) (*domain.RoleAssignment, error) {
	const op = "sharing.Grant"

	role, ok := domain.ParseRole(string(req.Role))
	if !ok || role == domain.RoleOwner {
		return nil, domain.Invalid(op, "invalid role", string(req.Role))
	}
	if req.UserID == "" {
		return nil, domain.Invalid(op, "user id is required")
	}

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, fail(op, err)
	}
	if org == nil {
		return nil, domain.NotFound(op, "organization %s not found", orgID)
	}

	existing, err := s.members.roles.Get(ctx, orgID, req.UserID)
	if err != nil {
		return nil, fail(op, err)
	}

	// Rewriting an OWNER's assignment takes an OWNER.
	need := domain.RoleAdmin
	if existing != nil && existing.Role == domain.RoleOwner {
		need = domain.RoleOwner
	}
	ok, err = s.members.HasRole(ctx, granterID, orgID, domain.ScopeOrganization, need)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Forbidden(op, "insufficient role")
	}

	if existing != nil {
		return s.members.Update(ctx, existing.ID, role)
	}

	return s.members.Assign(ctx, domain.RoleAssignmentCreate{
		UserID:    req.UserID,
		ScopeID:   orgID,
		ScopeKind: domain.ScopeOrganization,
		Role:      role,
	})
}
