// Package memory is an in-process record provider for local development and
// tests. It evaluates the filter tree directly against stored records.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/provider"
)

// Name is the provider identifier.
const Name = "memory"

type storedRecord struct {
	rec     domain.ContentRecord
	content json.RawMessage
	indexer map[string]any
}

// Store implements provider.Provider in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]*storedRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]*storedRecord)}
}

// Factory opens a fresh store; the config is ignored.
func Factory(context.Context, provider.Config) (provider.Provider, error) {
	return New(), nil
}

func (s *Store) Name() string {
	return Name
}

func (s *Store) Find(ctx context.Context, plan provider.Plan) (*domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]*storedRecord, 0)
	for _, sr := range s.records {
		if sr.rec.Block != plan.Block {
			continue
		}
		if !plan.AllTenants && sr.rec.TenantID != plan.TenantID {
			continue
		}
		if plan.Filter != nil && !match(sr, plan.Filter) {
			continue
		}
		matched = append(matched, sr)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return less(matched[i], matched[j], plan.Sort)
	})

	total := len(matched)
	start := min(plan.Offset, total)
	end := total
	if plan.Limit > 0 {
		end = min(start+plan.Limit, total)
	}

	items := make([]domain.ContentRecord, 0, end-start)
	for _, sr := range matched[start:end] {
		items = append(items, sr.export())
	}
	return &domain.Page{Items: items, Total: total}, nil
}

func (s *Store) Get(ctx context.Context, tenantID, block, id string) (*domain.ContentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.records[id]
	if !ok || sr.rec.TenantID != tenantID || sr.rec.Block != block {
		return nil, nil
	}
	rec := sr.export()
	return &rec, nil
}

func (s *Store) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sr, err := newStored(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return domain.Conflict("memory.Store.Insert", "record %s already exists", rec.ID)
	}
	s.records[rec.ID] = sr
	return nil
}

func (s *Store) Update(ctx context.Context, rec *domain.ContentRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	next, err := newStored(rec)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.ID]
	if !ok || cur.rec.TenantID != rec.TenantID || cur.rec.Block != rec.Block {
		return false, nil
	}
	next.rec.CreatedAt = cur.rec.CreatedAt
	s.records[rec.ID] = next
	return true, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, block, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.records[id]
	if !ok || sr.rec.TenantID != tenantID || sr.rec.Block != block {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *Store) HealthCheck(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func newStored(rec *domain.ContentRecord) (*storedRecord, error) {
	content, err := domain.DecodeObject(rec.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content: %w", err)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}

	indexer, err := domain.DecodeObject(rec.Indexer)
	if err != nil {
		return nil, fmt.Errorf("failed to decode indexer: %w", err)
	}

	meta := *rec
	meta.Content = nil
	meta.Indexer = nil
	return &storedRecord{rec: meta, content: raw, indexer: cloneMap(indexer)}, nil
}

// export returns a copy; content stays serialized like a SQL row would.
func (sr *storedRecord) export() domain.ContentRecord {
	rec := sr.rec
	rec.Content = append(json.RawMessage(nil), sr.content...)
	rec.Indexer = cloneMap(sr.indexer)
	return rec
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
