package domain

import (
	"context"
	"time"
)

// Organization is an ad-hoc sharing group. SharedResources maps a resource id
// to the content type (block) it belongs to.
type Organization struct {
	ID              string            `json:"_id"`
	Name            string            `json:"name"`
	SharedResources map[string]string `json:"sharedResources"`
	CreatedBy       string            `json:"createdBy"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// ShareRequest asks for a resource to be shared with a user.
type ShareRequest struct {
	ResourceID  string `json:"resourceId" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required,max=255"`
	UserID      string `json:"userId,omitempty" validate:"omitempty,max=255"`
	Role        Role   `json:"role,omitempty" validate:"omitempty,oneof=VIEWER MEMBER ADMIN"`
}

// GrantRequest adds a user to an existing sharing organization.
type GrantRequest struct {
	UserID string `json:"userId" validate:"required,max=255"`
	Role   Role   `json:"role" validate:"required,oneof=VIEWER MEMBER ADMIN"`
}

// OrganizationRepository persists sharing organizations.
//
// Create must fail with a KindConflict error when an organization for the
// same (resourceID, contentType) pair already exists.
type OrganizationRepository interface {
	Create(ctx context.Context, org *Organization, resourceID, contentType string) error
	GetByID(ctx context.Context, id string) (*Organization, error)
	FindBySharedResource(ctx context.Context, resourceID, contentType string) (*Organization, error)
	Delete(ctx context.Context, id string) error
}
