package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/dyncontent/internal/access"
	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/postprocess"
	"github.com/Rrens/dyncontent/internal/schema"
)

// DefinitionRegistry resolves and validates content definitions.
type DefinitionRegistry interface {
	Register(ctx context.Context, tenantID string, input domain.DefinitionInput) (*domain.ContentDefinition, error)
	Resolve(ctx context.Context, tenantID, block string) (*domain.ContentDefinition, error)
	Validate(ctx context.Context, def *domain.ContentDefinition, payload map[string]any) error
	List(ctx context.Context, tenantID string) ([]domain.ContentDefinition, error)
}

// Authorizer decides access to blocks.
type Authorizer interface {
	Authorize(ctx context.Context, p domain.Principal, tenantID string, def *domain.ContentDefinition, op domain.Operation, resourceID string) (access.Decision, error)
	AuthorizeMaintenance(p domain.Principal) access.Decision
}

// Executor runs translated operations against the provider bridge.
type Executor interface {
	Execute(ctx context.Context, def *domain.ContentDefinition, tenantID string, q domain.Query) (*domain.Page, error)
	ExecuteAcrossTenants(ctx context.Context, block string, q domain.Query) (*domain.Page, error)
	Get(ctx context.Context, def *domain.ContentDefinition, tenantID, id string) (*domain.ContentRecord, error)
	Insert(ctx context.Context, rec *domain.ContentRecord) error
	Update(ctx context.Context, rec *domain.ContentRecord) (bool, error)
	Delete(ctx context.Context, tenantID, block, id string) (bool, error)
}

// ContentService is the entry point for content operations.
//
// Every call runs resolve, authorize, validate (writes only), execute and
// flatten in that order and stops at the first failure. Errors leave as
// *domain.Error values.
type ContentService struct {
	registry   DefinitionRegistry
	authorizer Authorizer
	executor   Executor
	sharing    *SharingService
	now        func() time.Time
	newID      func() string
}

// NewContentService creates a new content service
func NewContentService(registry DefinitionRegistry, authorizer Authorizer, executor Executor, sharing *SharingService) *ContentService {
	return &ContentService{
		registry:   registry,
		authorizer: authorizer,
		executor:   executor,
		sharing:    sharing,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// CreateDefinition registers a content definition for the tenant.
func (s *ContentService) CreateDefinition(ctx context.Context, tenantID string, input domain.DefinitionInput) (*domain.ContentDefinition, error) {
	def, err := s.registry.Register(ctx, tenantID, input)
	if err != nil {
		return nil, fail("content.CreateDefinition", err)
	}
	return def, nil
}

// ResolveDefinition returns the live definition of a block.
func (s *ContentService) ResolveDefinition(ctx context.Context, tenantID, block string) (*domain.ContentDefinition, error) {
	def, err := s.registry.Resolve(ctx, tenantID, block)
	if err != nil {
		return nil, fail("content.ResolveDefinition", err)
	}
	return def, nil
}

// ListDefinitions returns the tenant's definitions.
func (s *ContentService) ListDefinitions(ctx context.Context, tenantID string) ([]domain.ContentDefinition, error) {
	defs, err := s.registry.List(ctx, tenantID)
	if err != nil {
		return nil, fail("content.ListDefinitions", err)
	}
	if defs == nil {
		defs = []domain.ContentDefinition{}
	}
	return defs, nil
}

// Find returns one page of the tenant's records of a block.
func (s *ContentService) Find(ctx context.Context, block, tenantID string, p domain.Principal, q domain.Query) (*domain.FindResult, error) {
	const op = "content.Find"

	def, err := s.authorize(ctx, op, block, tenantID, p, domain.OpRead, "")
	if err != nil {
		return nil, err
	}

	page, err := s.executor.Execute(ctx, def, tenantID, q)
	if err != nil {
		return nil, fail(op, err)
	}

	items, err := postprocess.FlattenAll(page.Items, def)
	if err != nil {
		return nil, fail(op, err)
	}
	return &domain.FindResult{Items: items, Total: page.Total}, nil
}

// Get returns one record. The id is checked against sharing overlays.
func (s *ContentService) Get(ctx context.Context, block, id, tenantID string, p domain.Principal) (domain.FlatRecord, error) {
	const op = "content.Get"

	def, err := s.authorize(ctx, op, block, tenantID, p, domain.OpRead, id)
	if err != nil {
		return nil, err
	}

	rec, err := s.executor.Get(ctx, def, tenantID, id)
	if err != nil {
		return nil, fail(op, err)
	}
	if rec == nil {
		return nil, domain.NotFound(op, "%s record %s not found", block, id)
	}

	flat, err := postprocess.Flatten(*rec, def)
	if err != nil {
		return nil, fail(op, err)
	}
	return flat, nil
}

// Create validates payload and stores it as a new record.
func (s *ContentService) Create(ctx context.Context, block string, payload map[string]any, tenantID string, p domain.Principal) (*domain.ContentRecord, error) {
	const op = "content.Create"

	def, err := s.authorize(ctx, op, block, tenantID, p, domain.OpCreate, "")
	if err != nil {
		return nil, err
	}
	payload, err = s.prepare(ctx, op, def, payload)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &domain.ContentRecord{
		ID:        s.newID(),
		TenantID:  tenantID,
		Block:     def.Block,
		Content:   payload,
		Indexer:   schema.Project(payload, def.IndexerFields),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.executor.Insert(ctx, rec); err != nil {
		return nil, fail(op, err)
	}

	log.Info().Str("tenant_id", tenantID).Str("block", block).Str("id", rec.ID).Msg("record created")
	return rec, nil
}

// Update replaces a record's content and re-projects its indexer.
func (s *ContentService) Update(ctx context.Context, block, id string, payload map[string]any, tenantID string, p domain.Principal) (*domain.ContentRecord, error) {
	const op = "content.Update"

	def, err := s.authorize(ctx, op, block, tenantID, p, domain.OpUpdate, id)
	if err != nil {
		return nil, err
	}
	payload, err = s.prepare(ctx, op, def, payload)
	if err != nil {
		return nil, err
	}

	rec := &domain.ContentRecord{
		ID:        id,
		TenantID:  tenantID,
		Block:     def.Block,
		Content:   payload,
		Indexer:   schema.Project(payload, def.IndexerFields),
		UpdatedAt: s.now().UTC(),
	}
	ok, err := s.executor.Update(ctx, rec)
	if err != nil {
		return nil, fail(op, err)
	}
	if !ok {
		return nil, domain.NotFound(op, "%s record %s not found", block, id)
	}

	stored, err := s.executor.Get(ctx, def, tenantID, id)
	if err != nil {
		return nil, fail(op, err)
	}
	if stored == nil {
		return nil, domain.NotFound(op, "%s record %s not found", block, id)
	}

	log.Info().Str("tenant_id", tenantID).Str("block", block).Str("id", id).Msg("record updated")
	return stored, nil
}

// Delete removes a record. A missing record is a not-found error.
func (s *ContentService) Delete(ctx context.Context, block, id, tenantID string, p domain.Principal) (bool, error) {
	const op = "content.Delete"

	def, err := s.authorize(ctx, op, block, tenantID, p, domain.OpDelete, id)
	if err != nil {
		return false, err
	}

	ok, err := s.executor.Delete(ctx, tenantID, def.Block, id)
	if err != nil {
		return false, fail(op, err)
	}
	if !ok {
		return false, domain.NotFound(op, "%s record %s not found", block, id)
	}

	log.Info().Str("tenant_id", tenantID).Str("block", block).Str("id", id).Msg("record deleted")
	return true, nil
}

// Share opens one record to another user through its sharing organization.
// The caller needs write access to the record.
func (s *ContentService) Share(ctx context.Context, block, id, tenantID string, p domain.Principal, grant domain.GrantRequest) (*domain.Organization, error) {
	const op = "content.Share"

	def, err := s.authorize(ctx, op, block, tenantID, p, domain.OpUpdate, id)
	if err != nil {
		return nil, err
	}

	rec, err := s.executor.Get(ctx, def, tenantID, id)
	if err != nil {
		return nil, fail(op, err)
	}
	if rec == nil {
		return nil, domain.NotFound(op, "%s record %s not found", block, id)
	}

	return s.sharing.Share(ctx, p.UserID, domain.ShareRequest{
		ResourceID:  id,
		ContentType: def.Block,
		UserID:      grant.UserID,
		Role:        grant.Role,
	})
}

// FindAcrossTenants reads a block over every tenant. It replaces tenant
// scoping with the maintenance capability check, so it is never reached
// through tenant-scoped routes.
func (s *ContentService) FindAcrossTenants(ctx context.Context, block string, p domain.Principal, q domain.Query) (*domain.FindResult, error) {
	const op = "content.FindAcrossTenants"

	if d := s.authorizer.AuthorizeMaintenance(p); !d.Allowed {
		return nil, d.Err(op)
	}

	page, err := s.executor.ExecuteAcrossTenants(ctx, block, q)
	if err != nil {
		return nil, fail(op, err)
	}

	items, err := postprocess.FlattenAll(page.Items, nil)
	if err != nil {
		return nil, fail(op, err)
	}

	log.Info().Str("block", block).Str("user_id", p.UserID).Int("total", page.Total).Msg("maintenance read")
	return &domain.FindResult{Items: items, Total: page.Total}, nil
}

func (s *ContentService) authorize(ctx context.Context, op, block, tenantID string, p domain.Principal, operation domain.Operation, resourceID string) (*domain.ContentDefinition, error) {
	if tenantID == "" || block == "" {
		return nil, domain.Invalid(op, "tenant id and block are required")
	}

	def, err := s.registry.Resolve(ctx, tenantID, block)
	if err != nil {
		return nil, fail(op, err)
	}

	d, err := s.authorizer.Authorize(ctx, p, tenantID, def, operation, resourceID)
	if err != nil {
		return nil, fail(op, err)
	}
	if !d.Allowed {
		return nil, d.Err(op)
	}
	return def, nil
}

// prepare fills in schema defaults and validates the result. The indexer is
// projected from the returned payload, so filters on defaulted fields match
// what flatten shows.
func (s *ContentService) prepare(ctx context.Context, op string, def *domain.ContentDefinition, payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return nil, domain.Invalid(op, "payload must be a JSON object")
	}
	payload, err := schema.ApplyDefaults(def.JSONSchema, payload)
	if err != nil {
		return nil, fail(op, err)
	}
	if err := s.registry.Validate(ctx, def, payload); err != nil {
		return nil, fail(op, err)
	}
	return payload, nil
}
