package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Rrens/dyncontent/internal/domain"
)

const definitionColumns = `id, tenant_id, name, block, version, json_schema, indexer_fields, ui_config, access, created_at`

// DefinitionRepository handles content definition data access
type DefinitionRepository struct {
	db *DB
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

// Create stores a definition version
func (r *DefinitionRepository) Create(ctx context.Context, def *domain.ContentDefinition) error {
	fields, err := json.Marshal(def.IndexerFields)
	if err != nil {
		return fmt.Errorf("failed to marshal indexer fields: %w", err)
	}
	access, err := json.Marshal(def.Access)
	if err != nil {
		return fmt.Errorf("failed to marshal access policy: %w", err)
	}
	var uiConfig []byte
	if len(def.UIConfig) > 0 {
		uiConfig = def.UIConfig
	}

	query := `
		INSERT INTO content_definitions (` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		def.ID,
		def.TenantID,
		def.Name,
		def.Block,
		def.Version,
		[]byte(def.JSONSchema),
		fields,
		uiConfig,
		access,
		def.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict("postgres.DefinitionRepository.Create", "definition %s v%d already exists", def.Block, def.Version)
		}
		return fmt.Errorf("failed to create definition: %w", err)
	}

	return nil
}

// Get retrieves the latest version of a block's definition
func (r *DefinitionRepository) Get(ctx context.Context, tenantID, block string) (*domain.ContentDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM content_definitions
		WHERE tenant_id = $1 AND block = $2
		ORDER BY version DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, tenantID, block)
}

// GetByName retrieves the latest definition registered under name
func (r *DefinitionRepository) GetByName(ctx context.Context, tenantID, name string) (*domain.ContentDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM content_definitions
		WHERE tenant_id = $1 AND name = $2
		ORDER BY version DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, tenantID, name)
}

// ListByTenant retrieves the latest version of every block of a tenant
func (r *DefinitionRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.ContentDefinition, error) {
	query := `
		SELECT DISTINCT ON (block) ` + definitionColumns + `
		FROM content_definitions
		WHERE tenant_id = $1
		ORDER BY block, version DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.ContentDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}

	return defs, nil
}

func (r *DefinitionRepository) getOne(ctx context.Context, query string, args ...any) (*domain.ContentDefinition, error) {
	def, err := scanDefinition(r.db.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return def, nil
}

func scanDefinition(row pgx.Row) (*domain.ContentDefinition, error) {
	var (
		def      domain.ContentDefinition
		schema   []byte
		fields   []byte
		uiConfig []byte
		access   []byte
	)

	err := row.Scan(
		&def.ID,
		&def.TenantID,
		&def.Name,
		&def.Block,
		&def.Version,
		&schema,
		&fields,
		&uiConfig,
		&access,
		&def.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	def.JSONSchema = json.RawMessage(schema)
	if len(uiConfig) > 0 {
		def.UIConfig = json.RawMessage(uiConfig)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &def.IndexerFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal indexer fields: %w", err)
		}
	}
	if len(access) > 0 {
		if err := json.Unmarshal(access, &def.Access); err != nil {
			return nil, fmt.Errorf("failed to unmarshal access policy: %w", err)
		}
	}

	return &def, nil
}
