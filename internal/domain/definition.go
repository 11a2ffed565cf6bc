package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AccessPolicy is the access block declared by a content definition.
type AccessPolicy struct {
	AllowAnonymous *bool `json:"allowAnonymous,omitempty" msgpack:"allow_anonymous,omitempty"`
	TenantRole     *Role `json:"tenantRole,omitempty" msgpack:"tenant_role,omitempty"`
}

// Anonymous reports whether the policy explicitly opens the block to
// unauthenticated callers.
func (p AccessPolicy) Anonymous() bool {
	return p.AllowAnonymous != nil && *p.AllowAnonymous
}

// IsEmpty reports whether neither access key is present.
func (p AccessPolicy) IsEmpty() bool {
	return p.AllowAnonymous == nil && p.TenantRole == nil
}

// ContentDefinition is a tenant-scoped schema registration for a block.
type ContentDefinition struct {
	ID            string          `json:"id" msgpack:"id"`
	TenantID      string          `json:"tenantId" msgpack:"tenant_id"`
	Name          string          `json:"name" msgpack:"name"`
	Block         string          `json:"block" msgpack:"block"`
	Version       int             `json:"version" msgpack:"version"`
	JSONSchema    json.RawMessage `json:"jsonSchema" msgpack:"json_schema"`
	IndexerFields []string        `json:"indexerFields" msgpack:"indexer_fields"`
	UIConfig      json.RawMessage `json:"uiConfig,omitempty" msgpack:"ui_config,omitempty"`
	Access        AccessPolicy    `json:"access" msgpack:"access"`
	CreatedAt     time.Time       `json:"createdAt" msgpack:"created_at"`
}

// HasIndexerField reports whether field is promoted to the indexer.
func (d *ContentDefinition) HasIndexerField(field string) bool {
	for _, f := range d.IndexerFields {
		if f == field {
			return true
		}
	}
	return false
}

// DefinitionInput is the registration payload for a definition.
type DefinitionInput struct {
	Name          string          `json:"name" validate:"required,max=255"`
	Block         string          `json:"block" validate:"required,max=255"`
	JSONSchema    json.RawMessage `json:"jsonSchema" validate:"required"`
	IndexerFields []string        `json:"indexerFields" validate:"dive,required"`
	UIConfig      json.RawMessage `json:"uiConfig,omitempty"`
	Access        AccessPolicy    `json:"access"`
}

// DefinitionRepository persists definitions. Get returns the latest version
// and (nil, nil) when nothing is registered.
type DefinitionRepository interface {
	Create(ctx context.Context, def *ContentDefinition) error
	Get(ctx context.Context, tenantID, block string) (*ContentDefinition, error)
	GetByName(ctx context.Context, tenantID, name string) (*ContentDefinition, error)
	ListByTenant(ctx context.Context, tenantID string) ([]ContentDefinition, error)
}
