package sqlstore

import (
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
)

// Dialect renders the provider's JSON projections for one SQL backend.
type Dialect interface {
	// Name returns the provider identifier
	Name() string

	// DriverName returns the database/sql driver name
	DriverName() string

	// Placeholder returns the bind parameter format
	Placeholder() sq.PlaceholderFormat

	// Operand returns the expression comparing indexer key against v and
	// the bind value to compare it with
	Operand(key string, v any) (string, any)

	// SortExpr returns the expression ordering by indexer key
	SortExpr(key string) string

	// Schema returns the DDL creating the records table
	Schema() []string
}

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func checkKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid indexer key %q", key)
	}
	return nil
}

type valueKind int

const (
	kindText valueKind = iota
	kindNumber
	kindBool
)

func kindOf(v any) valueKind {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return kindNumber
	case bool:
		return kindBool
	}
	return kindText
}

func boolText(v any) string {
	if b, _ := v.(bool); b {
		return "true"
	}
	return "false"
}

// Postgres stores envelopes as jsonb.
type Postgres struct{}

func (Postgres) Name() string                      { return "postgres" }
func (Postgres) DriverName() string                { return "pgx" }
func (Postgres) Placeholder() sq.PlaceholderFormat { return sq.Dollar }

func (Postgres) Operand(key string, v any) (string, any) {
	switch kindOf(v) {
	case kindNumber:
		// Rows holding a non-number under key compare as NULL instead of
		// failing the cast.
		return fmt.Sprintf("CASE WHEN jsonb_typeof(indexer->'%s') = 'number' THEN (indexer->>'%s')::numeric END", key, key), v
	case kindBool:
		return fmt.Sprintf("indexer->>'%s'", key), boolText(v)
	}
	return fmt.Sprintf("indexer->>'%s'", key), v
}

// SortExpr orders by the jsonb value so numbers sort numerically.
func (Postgres) SortExpr(key string) string {
	return fmt.Sprintf("indexer->'%s'", key)
}

func (Postgres) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS content_records (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			block TEXT NOT NULL,
			content JSONB NOT NULL DEFAULT '{}',
			indexer JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_records_scope ON content_records (tenant_id, block)`,
	}
}

// MySQL stores envelopes in JSON columns. The DSN needs parseTime=true.
type MySQL struct{}

func (MySQL) Name() string                      { return "mysql" }
func (MySQL) DriverName() string                { return "mysql" }
func (MySQL) Placeholder() sq.PlaceholderFormat { return sq.Question }

func (MySQL) Operand(key string, v any) (string, any) {
	switch kindOf(v) {
	case kindNumber:
		return fmt.Sprintf("JSON_EXTRACT(indexer, '$.%s')", key), v
	case kindBool:
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(indexer, '$.%s'))", key), boolText(v)
	}
	return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(indexer, '$.%s'))", key), v
}

func (MySQL) SortExpr(key string) string {
	return fmt.Sprintf("JSON_EXTRACT(indexer, '$.%s')", key)
}

func (MySQL) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS content_records (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			block VARCHAR(255) NOT NULL,
			content JSON NOT NULL,
			indexer JSON NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_content_records_scope (tenant_id, block)
		)`,
	}
}

// SQLite stores envelopes as JSON text; json_extract returns native values.
type SQLite struct{}

func (SQLite) Name() string                      { return "sqlite" }
func (SQLite) DriverName() string                { return "sqlite" }
func (SQLite) Placeholder() sq.PlaceholderFormat { return sq.Question }

func (SQLite) Operand(key string, v any) (string, any) {
	expr := fmt.Sprintf("json_extract(indexer, '$.%s')", key)
	if kindOf(v) == kindBool {
		if b, _ := v.(bool); b {
			return expr, 1
		}
		return expr, 0
	}
	return expr, v
}

func (SQLite) SortExpr(key string) string {
	return fmt.Sprintf("json_extract(indexer, '$.%s')", key)
}

func (SQLite) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS content_records (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			block TEXT NOT NULL,
			content TEXT NOT NULL,
			indexer TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_records_scope ON content_records (tenant_id, block)`,
	}
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "postgres":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported sql dialect: %s", name)
}
