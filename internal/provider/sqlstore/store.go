// Package sqlstore is the record provider for SQL backends. Queries are built
// with squirrel; the dialect supplies JSON projections and placeholders.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/provider"
)

const table = "content_records"

var recordColumns = []string{"id", "tenant_id", "block", "content", "indexer", "created_at", "updated_at"}

// Store implements provider.Provider over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// NewFromPool shares a pgx pool with the postgres repositories.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return New(stdlib.OpenDBFromPool(pool), Postgres{})
}

// Factory returns a provider.Factory opening the named dialect. The records
// table is created when missing.
func Factory(name string) provider.Factory {
	return func(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
		dialect, err := DialectFor(name)
		if err != nil {
			return nil, err
		}

		db, err := sql.Open(dialect.DriverName(), cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		if name == "sqlite" {
			db.SetMaxOpenConns(1)
		}

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping %s: %w", name, err)
		}

		s := New(db, dialect)
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
}

// EnsureSchema creates the records table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create records table: %w", err)
		}
	}
	return nil
}

func (s *Store) Name() string {
	return s.dialect.Name()
}

// Find runs the count and the page in one statement: the count subquery is
// left joined with the page subquery so an empty page still carries the
// total.
func (s *Store) Find(ctx context.Context, plan provider.Plan) (*domain.Page, error) {
	query, args, err := s.buildFind(plan)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to execute find: %w", err))
	}
	defer rows.Close()

	page := &domain.Page{Items: make([]domain.ContentRecord, 0)}
	for rows.Next() {
		var (
			total            int64
			id, tenant, blk  sql.NullString
			content, indexer []byte
			created, updated sql.NullTime
		)
		if err := rows.Scan(&total, &id, &tenant, &blk, &content, &indexer, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		page.Total = int(total)
		if !id.Valid {
			continue
		}
		page.Items = append(page.Items, domain.ContentRecord{
			ID:        id.String,
			TenantID:  tenant.String,
			Block:     blk.String,
			Content:   json.RawMessage(content),
			Indexer:   json.RawMessage(indexer),
			CreatedAt: created.Time,
			UpdatedAt: updated.Time,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to read records: %w", err))
	}

	return page, nil
}

func (s *Store) buildFind(plan provider.Plan) (string, []any, error) {
	if plan.Limit <= 0 {
		return "", nil, fmt.Errorf("find requires a positive limit")
	}

	where, err := s.scope(plan)
	if err != nil {
		return "", nil, err
	}

	countSQL, countArgs, err := sq.Select("COUNT(*) AS total").
		From(table).
		Where(where).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build count query: %w", err)
	}

	cols := append([]string(nil), recordColumns...)
	inner := make([]string, 0, len(plan.Sort))
	outer := make([]string, 0, len(plan.Sort))
	for i, sf := range plan.Sort {
		expr, err := s.sortExpr(sf.Field)
		if err != nil {
			return "", nil, err
		}
		alias := fmt.Sprintf("s%d", i)
		cols = append(cols, expr+" AS "+alias)

		dir := ""
		if sf.Desc {
			dir = " DESC"
		}
		inner = append(inner, alias+dir)
		outer = append(outer, "p."+alias+dir)
	}

	pageQ := sq.Select(cols...).
		From(table).
		Where(where).
		Limit(uint64(plan.Limit)).
		Offset(uint64(plan.Offset))
	if len(inner) > 0 {
		pageQ = pageQ.OrderBy(inner...)
	}
	pageSQL, pageArgs, err := pageQ.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build page query: %w", err)
	}

	selected := make([]string, 0, len(recordColumns)+1)
	selected = append(selected, "c.total")
	for _, c := range recordColumns {
		selected = append(selected, "p."+c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM (%s) c LEFT JOIN (%s) p ON 1=1",
		strings.Join(selected, ", "), countSQL, pageSQL)
	if len(outer) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(outer, ", "))
	}

	query, err := s.dialect.Placeholder().ReplacePlaceholders(b.String())
	if err != nil {
		return "", nil, fmt.Errorf("failed to render placeholders: %w", err)
	}
	return query, append(countArgs, pageArgs...), nil
}

func (s *Store) scope(plan provider.Plan) (sq.Sqlizer, error) {
	where := sq.And{}
	if !plan.AllTenants {
		where = append(where, sq.Eq{"tenant_id": plan.TenantID})
	}
	where = append(where, sq.Eq{"block": plan.Block})

	if plan.Filter != nil {
		f, err := s.filter(plan.Filter)
		if err != nil {
			return nil, err
		}
		where = append(where, f)
	}
	return where, nil
}

func (s *Store) filter(f domain.Filter) (sq.Sqlizer, error) {
	switch n := f.(type) {
	case domain.And:
		out := sq.And{}
		for _, c := range n {
			part, err := s.filter(c)
			if err != nil {
				return nil, err
			}
			out = append(out, part)
		}
		return out, nil
	case domain.Or:
		out := sq.Or{}
		for _, c := range n {
			part, err := s.filter(c)
			if err != nil {
				return nil, err
			}
			out = append(out, part)
		}
		return out, nil
	case domain.Condition:
		return s.condition(n)
	}
	return nil, fmt.Errorf("unsupported filter node %T", f)
}

func (s *Store) condition(c domain.Condition) (sq.Sqlizer, error) {
	if c.Op == domain.OpIn {
		list, ok := c.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("operator in on %s needs a list", c.Field)
		}
		if len(list) == 0 {
			return sq.Expr("1=0"), nil
		}
		out := sq.Or{}
		for _, v := range list {
			part, err := s.condition(domain.Condition{Field: c.Field, Op: domain.OpEq, Value: v})
			if err != nil {
				return nil, err
			}
			out = append(out, part)
		}
		return out, nil
	}

	expr, arg, err := s.operand(c.Field, c.Value)
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case domain.OpEq:
		return sq.Eq{expr: arg}, nil
	case domain.OpGt:
		return sq.Gt{expr: arg}, nil
	case domain.OpGte:
		return sq.GtOrEq{expr: arg}, nil
	case domain.OpLt:
		return sq.Lt{expr: arg}, nil
	case domain.OpLte:
		return sq.LtOrEq{expr: arg}, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", c.Op)
}

func (s *Store) operand(field string, v any) (string, any, error) {
	switch field {
	case domain.FieldID:
		return "id", v, nil
	case domain.FieldCreatedAt:
		return "created_at", timeArg(v), nil
	case domain.FieldUpdatedAt:
		return "updated_at", timeArg(v), nil
	}

	key, ok := domain.SplitIndexerField(field)
	if !ok {
		return "", nil, fmt.Errorf("unsupported field %q", field)
	}
	if err := checkKey(key); err != nil {
		return "", nil, err
	}
	expr, arg := s.dialect.Operand(key, v)
	return expr, arg, nil
}

func (s *Store) sortExpr(field string) (string, error) {
	switch field {
	case domain.FieldID:
		return "id", nil
	case domain.FieldCreatedAt:
		return "created_at", nil
	case domain.FieldUpdatedAt:
		return "updated_at", nil
	}

	key, ok := domain.SplitIndexerField(field)
	if !ok {
		return "", fmt.Errorf("unsupported sort field %q", field)
	}
	if err := checkKey(key); err != nil {
		return "", err
	}
	return s.dialect.SortExpr(key), nil
}

func timeArg(v any) any {
	if str, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
			return t.UTC()
		}
	}
	return v
}

func (s *Store) Get(ctx context.Context, tenantID, block, id string) (*domain.ContentRecord, error) {
	query, args, err := sq.Select(recordColumns...).
		From(table).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(sq.Eq{"block": block}).
		PlaceholderFormat(s.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build get query: %w", err)
	}

	var (
		rec              domain.ContentRecord
		content, indexer []byte
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID, &rec.TenantID, &rec.Block, &content, &indexer, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(fmt.Errorf("failed to get record: %w", err))
	}
	rec.Content = json.RawMessage(content)
	rec.Indexer = json.RawMessage(indexer)
	return &rec, nil
}

func (s *Store) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	content, indexer, err := encodeEnvelopes(rec)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert(table).
		Columns(recordColumns...).
		Values(rec.ID, rec.TenantID, rec.Block, content, indexer, rec.CreatedAt, rec.UpdatedAt).
		PlaceholderFormat(s.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, rec *domain.ContentRecord) (bool, error) {
	content, indexer, err := encodeEnvelopes(rec)
	if err != nil {
		return false, err
	}

	query, args, err := sq.Update(table).
		Set("content", content).
		Set("indexer", indexer).
		Set("updated_at", rec.UpdatedAt).
		Where(sq.Eq{"id": rec.ID}).
		Where(sq.Eq{"tenant_id": rec.TenantID}).
		Where(sq.Eq{"block": rec.Block}).
		PlaceholderFormat(s.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, block, id string) (bool, error) {
	query, args, err := sq.Delete(table).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(sq.Eq{"block": block}).
		PlaceholderFormat(s.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeEnvelopes(rec *domain.ContentRecord) (string, string, error) {
	content, err := domain.DecodeObject(rec.Content)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode content: %w", err)
	}
	indexer, err := domain.DecodeObject(rec.Indexer)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode indexer: %w", err)
	}

	cb, err := json.Marshal(content)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode content: %w", err)
	}
	ib, err := json.Marshal(indexer)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode indexer: %w", err)
	}
	return string(cb), string(ib), nil
}

// classify marks connection-level failures as transient. Only reads are
// retried, so this is applied on the read paths.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrInvalidConn),
		pgconn.SafeToRetry(err),
		errors.As(err, &netErr):
		return provider.Transient(err)
	}
	return err
}
