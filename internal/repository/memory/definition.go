// Package memory holds in-process repositories with the same contracts as
// the postgres ones. They back local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Rrens/dyncontent/internal/domain"
)

// DefinitionRepository keeps every version of every definition.
type DefinitionRepository struct {
	mu   sync.RWMutex
	defs []domain.ContentDefinition
}

// NewDefinitionRepository creates an empty repository.
func NewDefinitionRepository() *DefinitionRepository {
	return &DefinitionRepository{}
}

// Create stores def, rejecting a duplicate (tenant, block, version).
func (r *DefinitionRepository) Create(_ context.Context, def *domain.ContentDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.defs {
		if d.TenantID == def.TenantID && d.Block == def.Block && d.Version == def.Version {
			return domain.Conflict("memory.DefinitionRepository.Create", "definition %s v%d already exists", def.Block, def.Version)
		}
	}
	r.defs = append(r.defs, *def)
	return nil
}

// Get returns the latest version for (tenantID, block).
func (r *DefinitionRepository) Get(_ context.Context, tenantID, block string) (*domain.ContentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.ContentDefinition
	for i := range r.defs {
		d := &r.defs[i]
		if d.TenantID == tenantID && d.Block == block && (latest == nil || d.Version > latest.Version) {
			latest = d
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// GetByName returns the latest definition registered under name.
func (r *DefinitionRepository) GetByName(_ context.Context, tenantID, name string) (*domain.ContentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.ContentDefinition
	for i := range r.defs {
		d := &r.defs[i]
		if d.TenantID == tenantID && d.Name == name && (latest == nil || d.Version > latest.Version) {
			latest = d
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// ListByTenant returns the latest version of each block, ordered by block.
func (r *DefinitionRepository) ListByTenant(_ context.Context, tenantID string) ([]domain.ContentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := map[string]domain.ContentDefinition{}
	for _, d := range r.defs {
		if d.TenantID != tenantID {
			continue
		}
		if cur, ok := latest[d.Block]; !ok || d.Version > cur.Version {
			latest[d.Block] = d
		}
	}

	out := make([]domain.ContentDefinition, 0, len(latest))
	for _, d := range latest {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Block < out[j].Block })
	return out, nil
}

// Count returns the number of stored definition versions.
func (r *DefinitionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
