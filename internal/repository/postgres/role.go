package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Rrens/dyncontent/internal/domain"
)

const roleColumns = `id, user_id, scope_id, scope_kind, role, created_at, updated_at`

// RoleRepository handles role assignment data access.
//
// UpdateRole and Delete serialize on a transaction-scoped advisory lock per
// scope, so the owner count they check cannot change before they write.
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create stores an assignment; one per (scope, user)
func (r *RoleRepository) Create(ctx context.Context, a *domain.RoleAssignment) error {
	query := `
		INSERT INTO role_assignments (` + roleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		a.ID,
		a.UserID,
		a.ScopeID,
		a.ScopeKind,
		a.Role,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict("postgres.RoleRepository.Create", "user %s already has a role in scope %s", a.UserID, a.ScopeID)
		}
		return fmt.Errorf("failed to create role assignment: %w", err)
	}

	return nil
}

// GetByID retrieves an assignment by ID
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*domain.RoleAssignment, error) {
	query := `SELECT ` + roleColumns + ` FROM role_assignments WHERE id = $1`
	return getAssignment(r.db.Pool.QueryRow(ctx, query, id))
}

// Get retrieves the assignment of a user in a scope
func (r *RoleRepository) Get(ctx context.Context, scopeID, userID string) (*domain.RoleAssignment, error) {
	query := `SELECT ` + roleColumns + ` FROM role_assignments WHERE scope_id = $1 AND user_id = $2`
	return getAssignment(r.db.Pool.QueryRow(ctx, query, scopeID, userID))
}

// ListByScope retrieves every assignment of a scope
func (r *RoleRepository) ListByScope(ctx context.Context, scopeID string) ([]domain.RoleAssignment, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM role_assignments
		WHERE scope_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Pool.Query(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}
	defer rows.Close()

	var out []domain.RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role assignments: %w", err)
	}

	return out, nil
}

// UpdateRole changes the role of an assignment
func (r *RoleRepository) UpdateRole(ctx context.Context, id string, role domain.Role) (*domain.RoleAssignment, error) {
	const op = "postgres.RoleRepository.UpdateRole"

	var updated *domain.RoleAssignment
	err := r.guarded(ctx, op, id, role != domain.RoleOwner, func(tx pgx.Tx, a *domain.RoleAssignment) error {
		row := tx.QueryRow(ctx, `
			UPDATE role_assignments
			SET role = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING `+roleColumns,
			id, role,
		)
		var err error
		updated, err = scanAssignment(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an assignment and returns it
func (r *RoleRepository) Delete(ctx context.Context, id string) (*domain.RoleAssignment, error) {
	const op = "postgres.RoleRepository.Delete"

	var removed *domain.RoleAssignment
	err := r.guarded(ctx, op, id, true, func(tx pgx.Tx, a *domain.RoleAssignment) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_assignments WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete role assignment: %w", err)
		}
		removed = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// guarded runs write inside a transaction holding the scope lock. When
// losesOwner is set and the target is an organization OWNER, the write is
// refused if no other OWNER remains.
func (r *RoleRepository) guarded(ctx context.Context, op, id string, losesOwner bool, write func(pgx.Tx, *domain.RoleAssignment) error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var scopeID string
	err = tx.QueryRow(ctx, `SELECT scope_id FROM role_assignments WHERE id = $1`, id).Scan(&scopeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFound(op, "role assignment %s not found", id)
		}
		return fmt.Errorf("failed to load role assignment: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scopeID); err != nil {
		return fmt.Errorf("failed to lock scope: %w", err)
	}

	a, err := getAssignment(tx.QueryRow(ctx, `SELECT `+roleColumns+` FROM role_assignments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if a == nil {
		return domain.NotFound(op, "role assignment %s not found", id)
	}

	if losesOwner && a.ScopeKind == domain.ScopeOrganization && a.Role == domain.RoleOwner {
		var owners int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM role_assignments
			WHERE scope_id = $1 AND role = $2
		`, a.ScopeID, domain.RoleOwner).Scan(&owners)
		if err != nil {
			return fmt.Errorf("failed to count owners: %w", err)
		}
		if owners <= 1 {
			return domain.LastOwner(op, a.ScopeID)
		}
	}

	if err := write(tx, a); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit role change: %w", err)
	}
	return nil
}

func getAssignment(row pgx.Row) (*domain.RoleAssignment, error) {
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func scanAssignment(row pgx.Row) (*domain.RoleAssignment, error) {
	var a domain.RoleAssignment
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ScopeID,
		&a.ScopeKind,
		&a.Role,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan role assignment: %w", err)
	}
	return &a, nil
}
