package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/dyncontent/internal/domain"
)

// Plan is a translated find request. The translator builds it; providers
// execute it as given and never widen its scope.
type Plan struct {
	// TenantID scopes the query. It is ignored only when AllTenants is set.
	TenantID string
	// AllTenants drops the tenant predicate for maintenance reads.
	AllTenants bool
	Block      string
	// Filter is nil when every record of the block matches.
	Filter domain.Filter
	// Sort always ends with the _id tie-break.
	Sort   []domain.SortField
	Limit  int
	Offset int
}

// Config contains provider connection parameters
type Config struct {
	DSN        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Provider is the query-capable bridge to one backing store.
//
// Find performs one round trip and returns the requested slice together
// with the count of every matching record. Get, Update and Delete match on
// (tenant, block, id) and report a miss as (nil, nil) or false.
type Provider interface {
	// Name returns the provider identifier (postgres, mysql, sqlite, mongo, memory)
	Name() string

	// Find executes a translated plan
	Find(ctx context.Context, plan Plan) (*domain.Page, error)

	// Get returns one record or (nil, nil)
	Get(ctx context.Context, tenantID, block, id string) (*domain.ContentRecord, error)

	// Insert stores a new record; the caller assigns ID and timestamps
	Insert(ctx context.Context, rec *domain.ContentRecord) error

	// Update replaces content and indexer of an existing record
	Update(ctx context.Context, rec *domain.ContentRecord) (bool, error)

	// Delete removes a record
	Delete(ctx context.Context, tenantID, block, id string) (bool, error)

	// HealthCheck verifies the backend is reachable
	HealthCheck(ctx context.Context) error

	// Close releases the connection
	Close() error
}

// Factory opens a provider from its configuration.
type Factory func(ctx context.Context, cfg Config) (Provider, error)

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}
