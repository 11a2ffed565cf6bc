package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/dyncontent/internal/domain"
)

// RoleRepository stores role assignments. The owner guard on UpdateRole and
// Delete runs under the same lock as the write.
type RoleRepository struct {
	mu          sync.Mutex
	assignments map[string]domain.RoleAssignment
	now         func() time.Time
}

// NewRoleRepository creates an empty repository.
func NewRoleRepository() *RoleRepository {
	return &RoleRepository{
		assignments: make(map[string]domain.RoleAssignment),
		now:         time.Now,
	}
}

// Create stores a, rejecting a second assignment for the same (scope, user).
func (r *RoleRepository) Create(_ context.Context, a *domain.RoleAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cur := range r.assignments {
		if cur.ScopeID == a.ScopeID && cur.UserID == a.UserID {
			return domain.Conflict("memory.RoleRepository.Create", "user %s already has a role in scope %s", a.UserID, a.ScopeID)
		}
	}
	r.assignments[a.ID] = *a
	return nil
}

// GetByID returns (nil, nil) when id is unknown.
func (r *RoleRepository) GetByID(_ context.Context, id string) (*domain.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// Get returns the assignment of userID in scopeID, or (nil, nil).
func (r *RoleRepository) Get(_ context.Context, scopeID, userID string) (*domain.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.assignments {
		if a.ScopeID == scopeID && a.UserID == userID {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

// ListByScope returns assignments of a scope ordered by creation.
func (r *RoleRepository) ListByScope(_ context.Context, scopeID string) ([]domain.RoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(scopeID), nil
}

func (r *RoleRepository) listLocked(scopeID string) []domain.RoleAssignment {
	var out []domain.RoleAssignment
	for _, a := range r.assignments {
		if a.ScopeID == scopeID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateRole changes the role of an assignment.
func (r *RoleRepository) UpdateRole(_ context.Context, id string, role domain.Role) (*domain.RoleAssignment, error) {
	const op = "memory.RoleRepository.UpdateRole"

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[id]
	if !ok {
		return nil, domain.NotFound(op, "role assignment %s not found", id)
	}
	if role != domain.RoleOwner && r.wouldOrphanLocked(a) {
		return nil, domain.LastOwner(op, a.ScopeID)
	}

	a.Role = role
	a.UpdatedAt = r.now().UTC()
	r.assignments[id] = a
	return &a, nil
}

// Delete removes an assignment and returns it.
func (r *RoleRepository) Delete(_ context.Context, id string) (*domain.RoleAssignment, error) {
	const op = "memory.RoleRepository.Delete"

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[id]
	if !ok {
		return nil, domain.NotFound(op, "role assignment %s not found", id)
	}
	if r.wouldOrphanLocked(a) {
		return nil, domain.LastOwner(op, a.ScopeID)
	}

	delete(r.assignments, id)
	return &a, nil
}

// wouldOrphanLocked reports whether losing a's owner role empties its
// organization of owners.
func (r *RoleRepository) wouldOrphanLocked(a domain.RoleAssignment) bool {
	if a.ScopeKind != domain.ScopeOrganization || a.Role != domain.RoleOwner {
		return false
	}
	return domain.CountOwners(r.listLocked(a.ScopeID)) <= 1
}
