package sqlstore_test

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/provider"
	"github.com/Rrens/dyncontent/internal/provider/sqlstore"
)

var resultColumns = []string{"total", "id", "tenant_id", "block", "content", "indexer", "created_at", "updated_at"}

func newStore(t *testing.T, dialect sqlstore.Dialect) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlstore.New(db, dialect), mock
}

func openPlan() provider.Plan {
	return provider.Plan{
		TenantID: "T1",
		Block:    "Task",
		Filter:   domain.Condition{Field: "indexer.status", Op: domain.OpEq, Value: "open"},
		Sort:     []domain.SortField{{Field: "indexer.status", Desc: true}, {Field: domain.FieldID}},
		Limit:    10,
	}
}

func TestStore_FindPostgres(t *testing.T) {
	store, mock := newStore(t, sqlstore.Postgres{})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM (SELECT COUNT(*) AS total FROM content_records WHERE (tenant_id = $1 AND block = $2 AND indexer->>'status' = $3)) c LEFT JOIN (SELECT id",
	)).
		WithArgs("T1", "Task", "open", "T1", "Task", "open").
		WillReturnRows(sqlmock.NewRows(resultColumns).
			AddRow(3, "r1", "T1", "Task", []byte(`{"title":"a"}`), []byte(`{"status":"open"}`), now, now).
			AddRow(3, "r2", "T1", "Task", []byte(`{"title":"b"}`), []byte(`{"status":"open"}`), now, now))

	page, err := store.Find(context.Background(), openPlan())
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "r1", page.Items[0].ID)
	assert.Equal(t, now, page.Items[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindOrdersBothLevels(t *testing.T) {
	store, mock := newStore(t, sqlstore.Postgres{})

	mock.ExpectQuery(regexp.QuoteMeta(
		"indexer->'status' AS s0, id AS s1 FROM content_records WHERE (tenant_id = $4 AND block = $5 AND indexer->>'status' = $6) ORDER BY s0 DESC, s1 LIMIT 10 OFFSET 0) p ON 1=1 ORDER BY p.s0 DESC, p.s1",
	)).
		WillReturnRows(sqlmock.NewRows(resultColumns).AddRow(0, nil, nil, nil, nil, nil, nil, nil))

	page, err := store.Find(context.Background(), openPlan())
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindEmptyPageKeepsTotal(t *testing.T) {
	store, mock := newStore(t, sqlstore.Postgres{})

	plan := openPlan()
	plan.Offset = 50
	mock.ExpectQuery("LIMIT 10 OFFSET 50").
		WillReturnRows(sqlmock.NewRows(resultColumns).AddRow(7, nil, nil, nil, nil, nil, nil, nil))

	page, err := store.Find(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Empty(t, page.Items)
}

func TestStore_FindDialects(t *testing.T) {
	tests := []struct {
		name    string
		dialect sqlstore.Dialect
		filter  domain.Filter
		want    string
		args    []driver.Value
	}{
		{
			name:    "mysql text",
			dialect: sqlstore.MySQL{},
			filter:  domain.Condition{Field: "indexer.status", Op: domain.OpEq, Value: "open"},
			want:    "JSON_UNQUOTE(JSON_EXTRACT(indexer, '$.status')) = ?",
			args:    []driver.Value{"T1", "Task", "open", "T1", "Task", "open"},
		},
		{
			name:    "postgres numeric in",
			dialect: sqlstore.Postgres{},
			filter:  domain.Condition{Field: "indexer.rank", Op: domain.OpIn, Value: []any{1.0, 2.0}},
			want:    "(CASE WHEN jsonb_typeof(indexer->'rank') = 'number' THEN (indexer->>'rank')::numeric END = $3 OR CASE WHEN jsonb_typeof(indexer->'rank') = 'number' THEN (indexer->>'rank')::numeric END = $4)",
			args:    []driver.Value{"T1", "Task", 1.0, 2.0, "T1", "Task", 1.0, 2.0},
		},
		{
			name:    "sqlite bool",
			dialect: sqlstore.SQLite{},
			filter:  domain.Condition{Field: "indexer.done", Op: domain.OpEq, Value: true},
			want:    "json_extract(indexer, '$.done') = ?",
			args:    []driver.Value{"T1", "Task", 1, "T1", "Task", 1},
		},
		{
			name:    "postgres null matches absent keys",
			dialect: sqlstore.Postgres{},
			filter:  domain.Condition{Field: "indexer.owner", Op: domain.OpEq, Value: nil},
			want:    "indexer->>'owner' IS NULL",
			args:    []driver.Value{"T1", "Task", "T1", "Task"},
		},
		{
			name:    "postgres or with metadata",
			dialect: sqlstore.Postgres{},
			filter: domain.Or{
				domain.Condition{Field: domain.FieldID, Op: domain.OpEq, Value: "r1"},
				domain.Condition{Field: "indexer.rank", Op: domain.OpGte, Value: 3.0},
			},
			want: "(id = $3 OR CASE WHEN jsonb_typeof(indexer->'rank') = 'number' THEN (indexer->>'rank')::numeric END >= $4)",
			args: []driver.Value{"T1", "Task", "r1", 3.0, "T1", "Task", "r1", 3.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newStore(t, tt.dialect)

			mock.ExpectQuery(regexp.QuoteMeta(tt.want)).
				WithArgs(tt.args...).
				WillReturnRows(sqlmock.NewRows(resultColumns).AddRow(0, nil, nil, nil, nil, nil, nil, nil))

			_, err := store.Find(context.Background(), provider.Plan{
				TenantID: "T1", Block: "Task", Filter: tt.filter,
				Sort: []domain.SortField{{Field: domain.FieldID}}, Limit: 5,
			})
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_FindAllTenantsDropsTenantPredicate(t *testing.T) {
	store, mock := newStore(t, sqlstore.Postgres{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS total FROM content_records WHERE (block = $1)")).
		WithArgs("Task", "Task").
		WillReturnRows(sqlmock.NewRows(resultColumns).AddRow(0, nil, nil, nil, nil, nil, nil, nil))

	_, err := store.Find(context.Background(), provider.Plan{
		AllTenants: true, Block: "Task",
		Sort: []domain.SortField{{Field: domain.FieldID}}, Limit: 5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindRejectsUnsafeKeys(t *testing.T) {
	store, _ := newStore(t, sqlstore.Postgres{})

	_, err := store.Find(context.Background(), provider.Plan{
		TenantID: "T1", Block: "Task", Limit: 5,
		Filter: domain.Condition{Field: "indexer.x'); DROP TABLE content_records; --", Op: domain.OpEq, Value: "y"},
	})
	assert.Error(t, err)
}

func TestStore_FindMarksTransientErrors(t *testing.T) {
	store, mock := newStore(t, sqlstore.MySQL{})

	mock.ExpectQuery("SELECT c.total").WillReturnError(mysql.ErrInvalidConn)

	_, err := store.Find(context.Background(), openPlan())
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestStore_Get(t *testing.T) {
	store, mock := newStore(t, sqlstore.Postgres{})
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, tenant_id, block, content, indexer, created_at, updated_at FROM content_records WHERE id = $1 AND tenant_id = $2 AND block = $3")).
		WithArgs("r1", "T1", "Task").
		WillReturnRows(sqlmock.NewRows(resultColumns[1:]).
			AddRow("r1", "T1", "Task", []byte(`{"title":"a"}`), []byte(`{}`), now, now))

	rec, err := store.Get(context.Background(), "T1", "Task", "r1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "r1", rec.ID)

	mock.ExpectQuery("FROM content_records").
		WithArgs("missing", "T1", "Task").
		WillReturnRows(sqlmock.NewRows(resultColumns[1:]))

	rec, err = store.Get(context.Background(), "T1", "Task", "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Writes(t *testing.T) {
	ctx := context.Background()
	store, mock := newStore(t, sqlstore.Postgres{})
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO content_records (id,tenant_id,block,content,indexer,created_at,updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)")).
		WithArgs("r1", "T1", "Task", `{"title":"a"}`, `{"status":"open"}`, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Insert(ctx, &domain.ContentRecord{
		ID: "r1", TenantID: "T1", Block: "Task",
		Content: map[string]any{"title": "a"}, Indexer: `{"status":"open"}`,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_records SET content = $1, indexer = $2, updated_at = $3 WHERE id = $4 AND tenant_id = $5 AND block = $6")).
		WithArgs(`{"title":"b"}`, `{}`, now, "r1", "T2", "Task").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Update(ctx, &domain.ContentRecord{
		ID: "r1", TenantID: "T2", Block: "Task",
		Content: map[string]any{"title": "b"}, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM content_records WHERE id = $1 AND tenant_id = $2 AND block = $3")).
		WithArgs("r1", "T1", "Task").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err = store.Delete(ctx, "T1", "Task", "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
