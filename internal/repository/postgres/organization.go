package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Rrens/dyncontent/internal/domain"
)

// OrganizationRepository handles sharing organization data access. The
// primary key of organization_resources enforces one organization per
// (resource_id, content_type).
type OrganizationRepository struct {
	db *DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// Create stores org and its shared resource in one transaction
func (r *OrganizationRepository) Create(ctx context.Context, org *domain.Organization, resourceID, contentType string) error {
	const op = "postgres.OrganizationRepository.Create"

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO organizations (id, name, created_by, created_at)
		VALUES ($1, $2, $3, $4)
	`, org.ID, org.Name, org.CreatedBy, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO organization_resources (organization_id, resource_id, content_type)
		VALUES ($1, $2, $3)
	`, org.ID, resourceID, contentType)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict(op, "resource %s (%s) is already shared", resourceID, contentType)
		}
		return fmt.Errorf("failed to attach shared resource: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit organization: %w", err)
	}
	return nil
}

// GetByID retrieves an organization with its shared resources
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	query := `
		SELECT id, name, created_by, created_at
		FROM organizations
		WHERE id = $1
	`

	var org domain.Organization
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&org.ID, &org.Name, &org.CreatedBy, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	if err := r.loadResources(ctx, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// FindBySharedResource retrieves the organization sharing a resource
func (r *OrganizationRepository) FindBySharedResource(ctx context.Context, resourceID, contentType string) (*domain.Organization, error) {
	query := `
		SELECT o.id, o.name, o.created_by, o.created_at
		FROM organizations o
		INNER JOIN organization_resources res ON o.id = res.organization_id
		WHERE res.resource_id = $1 AND res.content_type = $2
	`

	var org domain.Organization
	err := r.db.Pool.QueryRow(ctx, query, resourceID, contentType).Scan(&org.ID, &org.Name, &org.CreatedBy, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find organization: %w", err)
	}

	if err := r.loadResources(ctx, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// Delete removes an organization. Its shared resources go with it.
func (r *OrganizationRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return nil
}

func (r *OrganizationRepository) loadResources(ctx context.Context, org *domain.Organization) error {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT resource_id, content_type
		FROM organization_resources
		WHERE organization_id = $1
	`, org.ID)
	if err != nil {
		return fmt.Errorf("failed to list shared resources: %w", err)
	}
	defer rows.Close()

	org.SharedResources = make(map[string]string)
	for rows.Next() {
		var resourceID, contentType string
		if err := rows.Scan(&resourceID, &contentType); err != nil {
			return fmt.Errorf("failed to scan shared resource: %w", err)
		}
		org.SharedResources[resourceID] = contentType
	}
	return rows.Err()
}
