package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"greenloop/internal/model"
	"greenloop/internal/pkg/db"
	"greenloop/internal/pkg/validation"
)

// Lookup errors for actions and categories.
var (
	ErrActionNotFound   = fmt.Errorf("action %w", model.ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", model.ErrNotFound)
)

// ActionRepository handles sustainability action persistence.
type ActionRepository struct {
	pool *pgxpool.Pool
}

// NewActionRepository creates a new ActionRepository instance.
func NewActionRepository(pool *pgxpool.Pool) *ActionRepository {
	return &ActionRepository{pool: pool}
}

const actionColumns = `id, user_id, category_id, title, impact_value, impact_unit, action_date,
	points_earned, verification_status, verified_by, verified_at, verification_notes, created_at`

func scanAction(row pgx.Row) (*model.Action, error) {
	var (
		a      model.Action
		impact decimal.NullDecimal
	)
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.CategoryID,
		&a.Title,
		&impact,
		&a.ImpactUnit,
		&a.ActionDate,
		&a.PointsEarned,
		&a.VerificationStatus,
		&a.VerifiedBy,
		&a.VerifiedAt,
		&a.VerificationNotes,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if impact.Valid {
		a.ImpactValue = &impact.Decimal
	}
	return &a, nil
}

// Create inserts a logged action. New actions start pending unless a status is set.
func (r *ActionRepository) Create(ctx context.Context, a *model.Action) (*model.Action, error) {
	if a.VerificationStatus == "" {
		a.VerificationStatus = model.StatusPending
	}
	if err := validation.Struct(a); err != nil {
		return nil, err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	var impact decimal.NullDecimal
	if a.ImpactValue != nil {
		impact = decimal.NewNullDecimal(*a.ImpactValue)
	}

	const query = `
		INSERT INTO sustainability_actions (id, user_id, category_id, title, impact_value, impact_unit,
			action_date, verification_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING ` + actionColumns

	created, err := scanAction(r.pool.QueryRow(ctx, query,
		a.ID, a.UserID, a.CategoryID, a.Title, impact, a.ImpactUnit, a.ActionDate, a.VerificationStatus))
	if err != nil {
		if db.HasCode(err, db.CodeForeignKeyViolation) {
			return nil, fmt.Errorf("user %s or category %s: %w", a.UserID, a.CategoryID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create action: %w", err)
	}
	return created, nil
}

// GetByID retrieves an action by id.
func (r *ActionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Action, error) {
	const query = `SELECT ` + actionColumns + ` FROM sustainability_actions WHERE id = $1`

	a, err := scanAction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return a, nil
}

// UpdateVerification records a review decision and returns the updated action.
// A verified action is never rewritten: the UPDATE itself skips it and the
// call fails with model.ErrValidation.
func (r *ActionRepository) UpdateVerification(ctx context.Context, id uuid.UUID, status model.VerificationStatus, verifiedBy uuid.UUID, notes *string, at time.Time) (*model.Action, error) {
	const query = `
		UPDATE sustainability_actions
		SET verification_status = $2, verified_by = $3, verified_at = $4, verification_notes = $5
		WHERE id = $1 AND verification_status <> 'verified'
		RETURNING ` + actionColumns

	a, err := scanAction(r.pool.QueryRow(ctx, query, id, status, verifiedBy, at, notes))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update verification: %w", err)
	}

	// No row: either the action is missing or it is already verified.
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: action %s is already verified", model.ErrValidation, id)
}

// ListPending returns pending actions, oldest first.
func (r *ActionRepository) ListPending(ctx context.Context, limit int) ([]*model.Action, error) {
	const query = `
		SELECT ` + actionColumns + `
		FROM sustainability_actions
		WHERE verification_status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*model.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

// CategoryBreakdown groups a user's verified actions by category, highest points first.
func (r *ActionRepository) CategoryBreakdown(ctx context.Context, userID uuid.UUID) ([]model.CategoryBreakdown, error) {
	const query = `
		SELECT a.category_id, c.name, COUNT(*), COALESCE(SUM(a.points_earned), 0)::BIGINT
		FROM sustainability_actions a
		JOIN action_categories c ON c.id = a.category_id
		WHERE a.user_id = $1 AND a.verification_status = 'verified'
		GROUP BY a.category_id, c.name
		ORDER BY 4 DESC, c.name ASC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get category breakdown: %w", err)
	}
	defer rows.Close()

	var out []model.CategoryBreakdown
	for rows.Next() {
		var cb model.CategoryBreakdown
		if err := rows.Scan(&cb.CategoryID, &cb.CategoryName, &cb.ActionCount, &cb.Points); err != nil {
			return nil, fmt.Errorf("failed to scan category breakdown: %w", err)
		}
		out = append(out, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category breakdown: %w", err)
	}
	return out, nil
}

// CategoryRepository handles action category persistence.
type CategoryRepository struct {
	pool *pgxpool.Pool
}

// NewCategoryRepository creates a new CategoryRepository instance.
func NewCategoryRepository(pool *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{pool: pool}
}

// Create inserts a category.
func (r *CategoryRepository) Create(ctx context.Context, c *model.Category) (*model.Category, error) {
	if err := validation.Struct(c); err != nil {
		return nil, err
	}
	if c.PointsMultiplier.IsNegative() {
		return nil, fmt.Errorf("%w: points multiplier must not be negative", model.ErrValidation)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	const query = `
		INSERT INTO action_categories (id, name, points_multiplier, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, points_multiplier, is_active
	`

	var out model.Category
	err := r.pool.QueryRow(ctx, query, c.ID, c.Name, c.PointsMultiplier, c.IsActive).Scan(
		&out.ID, &out.Name, &out.PointsMultiplier, &out.IsActive,
	)
	if err != nil {
		if db.HasCode(err, db.CodeUniqueViolation) {
			return nil, fmt.Errorf("%w: category %q already exists", model.ErrConflict, c.Name)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &out, nil
}

// GetByID retrieves a category by id.
func (r *CategoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Category, error) {
	const query = `SELECT id, name, points_multiplier, is_active FROM action_categories WHERE id = $1`

	var c model.Category
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.PointsMultiplier, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}
