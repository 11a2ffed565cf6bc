package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/schema"
)

// SchemaChangePolicy decides what registering a divergent schema for an
// existing block does.
type SchemaChangePolicy string

const (
	// ChangeReject refuses the registration with a conflict.
	ChangeReject SchemaChangePolicy = "reject"
	// ChangeVersion stores a new version that applies to future writes only.
	ChangeVersion SchemaChangePolicy = "version"
)

// ParseSchemaChangePolicy maps a config value to a policy.
func ParseSchemaChangePolicy(s string) (SchemaChangePolicy, error) {
	switch SchemaChangePolicy(strings.ToLower(s)) {
	case "", ChangeReject:
		return ChangeReject, nil
	case ChangeVersion:
		return ChangeVersion, nil
	}
	return "", fmt.Errorf("unknown schema change policy: %s", s)
}

// RemoteCache is a shared cache tier in front of the repository. Failures
// are logged and otherwise ignored.
type RemoteCache interface {
	Get(ctx context.Context, tenantID, block string) (*domain.ContentDefinition, error)
	Set(ctx context.Context, def *domain.ContentDefinition) error
	Invalidate(ctx context.Context, tenantID, block string) error
}

type entry struct {
	def       *domain.ContentDefinition
	validator *schema.Validator
}

// Registry stores, validates and resolves content definitions.
type Registry struct {
	repo   domain.DefinitionRepository
	remote RemoteCache
	policy SchemaChangePolicy

	mu    sync.RWMutex
	cache map[string]*entry

	regMu sync.Mutex
	group singleflight.Group
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithRemoteCache adds a shared cache tier.
func WithRemoteCache(c RemoteCache) Option {
	return func(r *Registry) { r.remote = c }
}

// WithSchemaChangePolicy sets how divergent re-registrations are handled.
func WithSchemaChangePolicy(p SchemaChangePolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// New creates a Registry backed by repo.
func New(repo domain.DefinitionRepository, opts ...Option) *Registry {
	r := &Registry{
		repo:   repo,
		policy: ChangeReject,
		cache:  make(map[string]*entry),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func cacheKey(tenantID, block string) string {
	return tenantID + "\x00" + block
}

// Register validates and stores a definition. Re-registering an identical
// definition returns the stored one without writing.
func (r *Registry) Register(ctx context.Context, tenantID string, input domain.DefinitionInput) (*domain.ContentDefinition, error) {
	const op = "registry.Register"

	if tenantID == "" {
		return nil, domain.Invalid(op, "tenant id is required")
	}
	if input.Block == "" || input.Name == "" {
		return nil, domain.Invalid(op, "name and block are required")
	}
	if input.Access.TenantRole != nil && !input.Access.TenantRole.Valid() {
		return nil, domain.Invalid(op, "unknown tenant role", string(*input.Access.TenantRole))
	}

	doc, err := schema.Parse(input.JSONSchema)
	if err != nil {
		return nil, domain.Invalid(op, "malformed schema", err.Error())
	}
	validator, err := schema.Compile(input.JSONSchema)
	if err != nil {
		return nil, err
	}
	if err := doc.CheckIndexerFields(input.IndexerFields); err != nil {
		return nil, err
	}

	r.regMu.Lock()
	defer r.regMu.Unlock()

	existing, err := r.repo.Get(ctx, tenantID, input.Block)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}

	version := 1
	if existing != nil {
		if sameDefinition(existing, input) {
			return existing, nil
		}
		if r.policy != ChangeVersion || existing.Name != input.Name {
			return nil, domain.Conflict(op, "block %q is already registered with a different definition", input.Block)
		}
		version = existing.Version + 1
	}

	byName, err := r.repo.GetByName(ctx, tenantID, input.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	if byName != nil && byName.Block != input.Block {
		return nil, domain.Conflict(op, "name %q is already used by block %q", input.Name, byName.Block)
	}

	def := &domain.ContentDefinition{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Name:          input.Name,
		Block:         input.Block,
		Version:       version,
		JSONSchema:    input.JSONSchema,
		IndexerFields: input.IndexerFields,
		UIConfig:      input.UIConfig,
		Access:        input.Access,
		CreatedAt:     r.now().UTC(),
	}

	if err := r.repo.Create(ctx, def); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			// Lost a race with another process; identical wins are idempotent.
			winner, getErr := r.repo.Get(ctx, tenantID, input.Block)
			if getErr == nil && winner != nil && sameDefinition(winner, input) {
				return winner, nil
			}
		}
		return nil, err
	}

	r.invalidate(ctx, tenantID, input.Block)
	r.store(&entry{def: def, validator: validator})

	if def.Access.IsEmpty() {
		log.Warn().
			Str("tenant_id", tenantID).
			Str("block", def.Block).
			Msg("definition registered without access policy; default access posture applies")
	}
	log.Info().
		Str("tenant_id", tenantID).
		Str("block", def.Block).
		Int("version", def.Version).
		Msg("definition registered")

	return def, nil
}

func sameDefinition(def *domain.ContentDefinition, input domain.DefinitionInput) bool {
	return def.Name == input.Name &&
		schema.Equal(def.JSONSchema, input.JSONSchema) &&
		cmp.Equal(def.IndexerFields, input.IndexerFields, cmpopts.EquateEmpty()) &&
		cmp.Equal(def.Access, input.Access)
}

// Resolve returns the latest definition for (tenantID, block).
func (r *Registry) Resolve(ctx context.Context, tenantID, block string) (*domain.ContentDefinition, error) {
	e, err := r.resolveEntry(ctx, tenantID, block)
	if err != nil {
		return nil, err
	}
	return e.def, nil
}

func (r *Registry) resolveEntry(ctx context.Context, tenantID, block string) (*entry, error) {
	key := cacheKey(tenantID, block)

	r.mu.RLock()
	e, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.load(ctx, tenantID, block)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func (r *Registry) load(ctx context.Context, tenantID, block string) (*entry, error) {
	const op = "registry.Resolve"

	var def *domain.ContentDefinition
	if r.remote != nil {
		cached, err := r.remote.Get(ctx, tenantID, block)
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Str("block", block).Msg("definition cache read failed")
		}
		def = cached
	}

	if def == nil {
		stored, err := r.repo.Get(ctx, tenantID, block)
		if err != nil {
			return nil, fmt.Errorf("failed to load definition: %w", err)
		}
		if stored == nil {
			return nil, domain.NotFound(op, "no definition for block %q", block)
		}
		def = stored

		if r.remote != nil {
			if err := r.remote.Set(ctx, def); err != nil {
				log.Warn().Err(err).Str("tenant_id", tenantID).Str("block", block).Msg("definition cache write failed")
			}
		}
	}

	validator, err := schema.Compile(def.JSONSchema)
	if err != nil {
		return nil, fmt.Errorf("stored definition %s/%s does not compile: %w", tenantID, block, err)
	}

	e := &entry{def: def, validator: validator}
	r.store(e)
	return e, nil
}

func (r *Registry) store(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[cacheKey(e.def.TenantID, e.def.Block)] = e
}

func (r *Registry) invalidate(ctx context.Context, tenantID, block string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(tenantID, block))
	r.mu.Unlock()

	if r.remote != nil {
		if err := r.remote.Invalidate(ctx, tenantID, block); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Str("block", block).Msg("definition cache invalidation failed")
		}
	}
}

// Validate checks payload against def's schema.
func (r *Registry) Validate(ctx context.Context, def *domain.ContentDefinition, payload map[string]any) error {
	e, err := r.resolveEntry(ctx, def.TenantID, def.Block)
	if err != nil {
		return err
	}

	validator := e.validator
	if e.def.Version != def.Version {
		validator, err = schema.Compile(def.JSONSchema)
		if err != nil {
			return err
		}
	}
	return validator.Validate(payload)
}

// List returns the latest version of every definition of a tenant.
func (r *Registry) List(ctx context.Context, tenantID string) ([]domain.ContentDefinition, error) {
	defs, err := r.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	return defs, nil
}
