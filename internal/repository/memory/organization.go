package memory

import (
	"context"
	"sync"

	"github.com/Rrens/dyncontent/internal/domain"
)

type resourceKey struct {
	resourceID  string
	contentType string
}

// OrganizationRepository stores sharing organizations with a unique index on
// (resourceID, contentType).
type OrganizationRepository struct {
	mu         sync.RWMutex
	orgs       map[string]domain.Organization
	byResource map[resourceKey]string
}

// NewOrganizationRepository creates an empty repository.
func NewOrganizationRepository() *OrganizationRepository {
	return &OrganizationRepository{
		orgs:       make(map[string]domain.Organization),
		byResource: make(map[resourceKey]string),
	}
}

// Create stores org as the sharing organization of (resourceID, contentType).
func (r *OrganizationRepository) Create(_ context.Context, org *domain.Organization, resourceID, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := resourceKey{resourceID, contentType}
	if _, ok := r.byResource[key]; ok {
		return domain.Conflict("memory.OrganizationRepository.Create", "resource %s (%s) is already shared", resourceID, contentType)
	}

	stored := *org
	stored.SharedResources = map[string]string{resourceID: contentType}
	r.orgs[org.ID] = stored
	r.byResource[key] = org.ID
	return nil
}

// GetByID returns (nil, nil) when id is unknown.
func (r *OrganizationRepository) GetByID(_ context.Context, id string) (*domain.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	org, ok := r.orgs[id]
	if !ok {
		return nil, nil
	}
	return cloneOrg(org), nil
}

// FindBySharedResource returns the organization sharing a resource, or (nil, nil).
func (r *OrganizationRepository) FindBySharedResource(_ context.Context, resourceID, contentType string) (*domain.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byResource[resourceKey{resourceID, contentType}]
	if !ok {
		return nil, nil
	}
	return cloneOrg(r.orgs[id]), nil
}

// Delete removes an organization and frees its shared resources.
func (r *OrganizationRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	org, ok := r.orgs[id]
	if !ok {
		return nil
	}
	for resourceID, contentType := range org.SharedResources {
		delete(r.byResource, resourceKey{resourceID, contentType})
	}
	delete(r.orgs, id)
	return nil
}

func cloneOrg(org domain.Organization) *domain.Organization {
	shared := make(map[string]string, len(org.SharedResources))
	for k, v := range org.SharedResources {
		shared[k] = v
	}
	org.SharedResources = shared
	return &org
}
