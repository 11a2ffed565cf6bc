// Package query translates caller find requests into provider plans,
// executes them and checks the provider's answer.
//
// Every plan carries the tenant and block predicates taken from the call,
// never from the filter document, and every sort ends with _id so paging
// is stable.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/provider"
)

// ProviderSource returns the provider serving a block.
type ProviderSource interface {
	For(ctx context.Context, block string) (provider.Provider, error)
}

// Options tunes pagination, retries and timeouts.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	// ReadRetries is the number of extra attempts for reads failing with a
	// transient provider error. Writes are never retried.
	ReadRetries int
	// Timeout bounds one provider round trip; zero leaves the caller's
	// deadline alone.
	Timeout time.Duration
}

// DefaultOptions returns the stock settings.
func DefaultOptions() Options {
	return Options{DefaultLimit: 50, MaxLimit: 500, ReadRetries: 1}
}

// Translator executes queries against the provider bridge.
type Translator struct {
	providers ProviderSource
	opts      Options
}

// NewTranslator creates a new query translator
func NewTranslator(providers ProviderSource, opts Options) *Translator {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 500
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	if opts.ReadRetries < 0 {
		opts.ReadRetries = 0
	}
	return &Translator{providers: providers, opts: opts}
}

// Plan validates q against def and builds the tenant-scoped plan.
func (t *Translator) Plan(def *domain.ContentDefinition, tenantID string, q domain.Query) (provider.Plan, error) {
	const op = "query.Plan"

	if tenantID == "" {
		return provider.Plan{}, domain.Invalid(op, "tenant id is required")
	}
	plan, err := t.plan(op, def.Block, q, IndexedFields(def))
	if err != nil {
		return provider.Plan{}, err
	}
	plan.TenantID = tenantID
	return plan, nil
}

func (t *Translator) plan(op, block string, q domain.Query, resolve FieldResolver) (provider.Plan, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return provider.Plan{}, domain.Invalid(op, "limit and offset must not be negative")
	}

	filter, err := ParseFilter(q.Filter, resolve)
	if err != nil {
		return provider.Plan{}, domain.Invalid(op, "invalid filter", err.Error())
	}

	sortKeys, err := sortFields(q.Sort, resolve)
	if err != nil {
		return provider.Plan{}, domain.Invalid(op, "invalid sort", err.Error())
	}

	limit := q.Limit
	switch {
	case limit == 0:
		limit = t.opts.DefaultLimit
	case limit > t.opts.MaxLimit:
		limit = t.opts.MaxLimit
	}

	return provider.Plan{
		Block:  block,
		Filter: filter,
		Sort:   sortKeys,
		Limit:  limit,
		Offset: q.Offset,
	}, nil
}

func sortFields(in []domain.SortField, resolve FieldResolver) ([]domain.SortField, error) {
	out := make([]domain.SortField, 0, len(in)+1)
	seen := make(map[string]bool, len(in))
	for _, sf := range in {
		field, err := resolve(sf.Field)
		if err != nil {
			return nil, err
		}
		if seen[field] {
			continue
		}
		seen[field] = true
		out = append(out, domain.SortField{Field: field, Desc: sf.Desc})
	}
	if !seen[domain.FieldID] {
		out = append(out, domain.SortField{Field: domain.FieldID})
	}
	return out, nil
}

// Execute runs q for one tenant.
func (t *Translator) Execute(ctx context.Context, def *domain.ContentDefinition, tenantID string, q domain.Query) (*domain.Page, error) {
	plan, err := t.Plan(def, tenantID, q)
	if err != nil {
		return nil, err
	}
	return t.run(ctx, plan)
}

// ExecuteAcrossTenants runs q over every tenant's records of block. The
// filter and sort may only address metadata columns since indexer fields
// are defined per tenant. Callers must hold the maintenance capability.
func (t *Translator) ExecuteAcrossTenants(ctx context.Context, block string, q domain.Query) (*domain.Page, error) {
	const op = "query.ExecuteAcrossTenants"

	if block == "" {
		return nil, domain.Invalid(op, "block is required")
	}
	plan, err := t.plan(op, block, q, MetadataFields)
	if err != nil {
		return nil, err
	}
	plan.AllTenants = true

	log.Info().Str("block", block).Msg("cross-tenant query")
	return t.run(ctx, plan)
}

func (t *Translator) run(ctx context.Context, plan provider.Plan) (*domain.Page, error) {
	const op = "query.Execute"

	p, err := t.providers.For(ctx, plan.Block)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	var page *domain.Page
	err = t.read(ctx, plan.Block, func(ctx context.Context) error {
		var err error
		page, err = p.Find(ctx, plan)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := checkPage(op, plan, page); err != nil {
		log.Error().
			Str("provider", p.Name()).
			Str("block", plan.Block).
			Int("total", page.Total).
			Int("items", len(page.Items)).
			Msg("inconsistent provider response")
		return nil, err
	}
	return page, nil
}

// checkPage verifies the item count is the one implied by total.
func checkPage(op string, plan provider.Plan, page *domain.Page) error {
	if page == nil {
		return domain.TranslationFault(op, "provider returned no result")
	}
	if page.Total < 0 {
		return domain.TranslationFault(op, "provider returned negative total %d", page.Total)
	}
	want := min(plan.Limit, max(0, page.Total-plan.Offset))
	if len(page.Items) != want {
		return domain.TranslationFault(op, "provider returned %d items for total %d at offset %d, expected %d",
			len(page.Items), page.Total, plan.Offset, want)
	}
	return nil
}

// Get reads one record of the tenant.
func (t *Translator) Get(ctx context.Context, def *domain.ContentDefinition, tenantID, id string) (*domain.ContentRecord, error) {
	p, err := t.providers.For(ctx, def.Block)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	var rec *domain.ContentRecord
	err = t.read(ctx, def.Block, func(ctx context.Context) error {
		var err error
		rec, err = p.Get(ctx, tenantID, def.Block, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec != nil && (rec.TenantID != tenantID || rec.Block != def.Block) {
		return nil, domain.TranslationFault("query.Get", "provider returned a record outside the requested scope")
	}
	return rec, nil
}

// Insert stores a new record. One attempt.
func (t *Translator) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	p, err := t.providers.For(ctx, rec.Block)
	if err != nil {
		return fmt.Errorf("failed to get provider: %w", err)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return p.Insert(ctx, rec)
}

// Update replaces a record's envelopes. One attempt.
func (t *Translator) Update(ctx context.Context, rec *domain.ContentRecord) (bool, error) {
	p, err := t.providers.For(ctx, rec.Block)
	if err != nil {
		return false, fmt.Errorf("failed to get provider: %w", err)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return p.Update(ctx, rec)
}

// Delete removes a record. One attempt.
func (t *Translator) Delete(ctx context.Context, tenantID, block, id string) (bool, error) {
	p, err := t.providers.For(ctx, block)
	if err != nil {
		return false, fmt.Errorf("failed to get provider: %w", err)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return p.Delete(ctx, tenantID, block, id)
}

// read runs fn, repeating it without backoff while it fails transiently and
// retries remain.
func (t *Translator) read(ctx context.Context, block string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= t.opts.ReadRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Err(err).Str("block", block).Int("attempt", attempt+1).Msg("retrying provider read")
		}

		callCtx, cancel := t.withTimeout(ctx)
		err = fn(callCtx)
		cancel()

		if err == nil || !domain.IsTransient(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (t *Translator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.opts.Timeout)
}
