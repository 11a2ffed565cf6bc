package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/provider"
	"github.com/Rrens/dyncontent/internal/provider/memory"
)

func seed(t *testing.T, s *memory.Store) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.ContentRecord{
		{ID: "a", TenantID: "T1", Block: "Task", Content: map[string]any{"title": "one"}, Indexer: map[string]any{"status": "open", "rank": 2.0}},
		{ID: "b", TenantID: "T1", Block: "Task", Content: `{"title":"two"}`, Indexer: map[string]any{"status": "done", "rank": 1.0}},
		{ID: "c", TenantID: "T1", Block: "Task", Content: map[string]any{"title": "three"}, Indexer: map[string]any{"status": "open", "rank": 2.0}},
		{ID: "d", TenantID: "T2", Block: "Task", Content: map[string]any{"title": "four"}, Indexer: map[string]any{"status": "open", "rank": 3.0}},
		{ID: "e", TenantID: "T1", Block: "Note", Content: map[string]any{"title": "five"}, Indexer: map[string]any{"status": "open"}},
	}
	for i := range records {
		records[i].CreatedAt = base.Add(time.Duration(i) * time.Hour)
		records[i].UpdatedAt = records[i].CreatedAt
		require.NoError(t, s.Insert(context.Background(), &records[i]))
	}
}

func ids(p *domain.Page) []string {
	out := make([]string, 0, len(p.Items))
	for _, r := range p.Items {
		out = append(out, r.ID)
	}
	return out
}

var byID = []domain.SortField{{Field: domain.FieldID}}

func TestStore_FindScopesTenantAndBlock(t *testing.T) {
	s := memory.New()
	seed(t, s)

	page, err := s.Find(context.Background(), provider.Plan{TenantID: "T1", Block: "Task", Sort: byID})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(page))
	assert.Equal(t, 3, page.Total)

	page, err = s.Find(context.Background(), provider.Plan{AllTenants: true, Block: "Task", Sort: byID})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(page))
}

func TestStore_FindFilters(t *testing.T) {
	s := memory.New()
	seed(t, s)

	tests := []struct {
		name   string
		filter domain.Filter
		want   []string
	}{
		{"eq", domain.Condition{Field: "indexer.status", Op: domain.OpEq, Value: "open"}, []string{"a", "c"}},
		{"gt", domain.Condition{Field: "indexer.rank", Op: domain.OpGt, Value: 1.0}, []string{"a", "c"}},
		{"lte", domain.Condition{Field: "indexer.rank", Op: domain.OpLte, Value: 1.0}, []string{"b"}},
		{"in", domain.Condition{Field: "indexer.status", Op: domain.OpIn, Value: []any{"done", "blocked"}}, []string{"b"}},
		{"or", domain.Or{
			domain.Condition{Field: "indexer.status", Op: domain.OpEq, Value: "done"},
			domain.Condition{Field: domain.FieldID, Op: domain.OpEq, Value: "c"},
		}, []string{"b", "c"}},
		{"and", domain.And{
			domain.Condition{Field: "indexer.status", Op: domain.OpEq, Value: "open"},
			domain.Condition{Field: domain.FieldCreatedAt, Op: domain.OpGte, Value: "2024-01-01T01:00:00Z"},
		}, []string{"c"}},
		{"type mismatch", domain.Condition{Field: "indexer.rank", Op: domain.OpEq, Value: "2"}, []string{}},
		{"missing field", domain.Condition{Field: "indexer.owner", Op: domain.OpEq, Value: "x"}, []string{}},
		{"eq null on absent field", domain.Condition{Field: "indexer.owner", Op: domain.OpEq, Value: nil}, []string{"a", "b", "c"}},
		{"eq null on present field", domain.Condition{Field: "indexer.status", Op: domain.OpEq, Value: nil}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Find(context.Background(), provider.Plan{TenantID: "T1", Block: "Task", Filter: tt.filter, Sort: byID})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page))
			assert.Equal(t, len(tt.want), page.Total)
		})
	}
}

func TestStore_FindSortAndPaginate(t *testing.T) {
	s := memory.New()
	seed(t, s)

	sortKeys := []domain.SortField{{Field: "indexer.rank", Desc: true}, {Field: domain.FieldID}}

	first, err := s.Find(context.Background(), provider.Plan{TenantID: "T1", Block: "Task", Sort: sortKeys, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(first))
	assert.Equal(t, 3, first.Total)

	second, err := s.Find(context.Background(), provider.Plan{TenantID: "T1", Block: "Task", Sort: sortKeys, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(second))
	assert.Equal(t, 3, second.Total)

	past, err := s.Find(context.Background(), provider.Plan{TenantID: "T1", Block: "Task", Sort: sortKeys, Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past.Items)
	assert.Equal(t, 3, past.Total)
}

func TestStore_WritesAreScoped(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seed(t, s)

	got, err := s.Get(ctx, "T2", "Task", "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, err := s.Update(ctx, &domain.ContentRecord{ID: "a", TenantID: "T2", Block: "Task", Content: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Delete(ctx, "T1", "Note", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Update(ctx, &domain.ContentRecord{ID: "a", TenantID: "T1", Block: "Task", Content: map[string]any{"title": "renamed"}})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.Get(ctx, "T1", "Task", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	content, err := domain.DecodeObject(got.Content)
	require.NoError(t, err)
	assert.Equal(t, "renamed", content["title"])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got.CreatedAt)

	ok, err = s.Delete(ctx, "T1", "Task", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, s.Len())

	err = s.Insert(ctx, &domain.ContentRecord{ID: "b", TenantID: "T1", Block: "Task"})
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestStore_FindHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := memory.New().Find(ctx, provider.Plan{TenantID: "T1", Block: "Task"})
	assert.ErrorIs(t, err, context.Canceled)
}
