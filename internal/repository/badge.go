package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"greenloop/internal/model"
	"greenloop/internal/pkg/db"
	"greenloop/internal/pkg/validation"
)

// ErrBadgeNotFound is returned when a badge id does not exist.
var ErrBadgeNotFound = fmt.Errorf("badge %w", model.ErrNotFound)

// BadgeRepository handles badge definitions and the badges users hold.
type BadgeRepository struct {
	pool *pgxpool.Pool
}

// NewBadgeRepository creates a new BadgeRepository instance.
func NewBadgeRepository(pool *pgxpool.Pool) *BadgeRepository {
	return &BadgeRepository{pool: pool}
}

const badgeColumns = `id, name, description, criteria_type, criteria_value, category_id, rarity, is_active, created_at`

func scanBadge(row pgx.Row) (*model.Badge, error) {
	var b model.Badge
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.Description,
		&b.CriteriaType,
		&b.CriteriaValue,
		&b.CategoryID,
		&b.Rarity,
		&b.IsActive,
		&b.CreatedAt,
	)
	return &b, err
}

// ========== Definitions ==========

// Create inserts a badge definition.
func (r *BadgeRepository) Create(ctx context.Context, b *model.Badge) (*model.Badge, error) {
	if err := validation.Struct(b); err != nil {
		return nil, err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	const query = `
		INSERT INTO badges (id, name, description, criteria_type, criteria_value, category_id, rarity, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING ` + badgeColumns

	created, err := scanBadge(r.pool.QueryRow(ctx, query,
		b.ID, b.Name, b.Description, b.CriteriaType, b.CriteriaValue, b.CategoryID, b.Rarity, b.IsActive))
	if err != nil {
		if db.HasCode(err, db.CodeForeignKeyViolation) {
			return nil, fmt.Errorf("%w: %v", ErrCategoryNotFound, b.CategoryID)
		}
		return nil, fmt.Errorf("failed to create badge: %w", err)
	}
	return created, nil
}

// ListActive returns active badges ordered by threshold, then name.
func (r *BadgeRepository) ListActive(ctx context.Context) ([]*model.Badge, error) {
	const query = `
		SELECT ` + badgeColumns + `
		FROM badges
		WHERE is_active
		ORDER BY criteria_value ASC, name ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	defer rows.Close()

	var badges []*model.Badge
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		badges = append(badges, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating badges: %w", err)
	}
	return badges, nil
}

// GetByID retrieves a badge definition by id.
func (r *BadgeRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Badge, error) {
	b, err := scanBadge(r.pool.QueryRow(ctx, `SELECT `+badgeColumns+` FROM badges WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBadgeNotFound, id)
		}
		return nil, fmt.Errorf("failed to get badge: %w", err)
	}
	return b, nil
}

// ========== Awards ==========

// ListUserBadges returns the badges a user holds, newest first.
func (r *BadgeRepository) ListUserBadges(ctx context.Context, userID uuid.UUID) ([]*model.UserBadge, error) {
	const query = `
		SELECT user_id, badge_id, earned_at
		FROM user_badges
		WHERE user_id = $1
		ORDER BY earned_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user badges: %w", err)
	}
	defer rows.Close()

	var out []*model.UserBadge
	for rows.Next() {
		var ub model.UserBadge
		if err := rows.Scan(&ub.UserID, &ub.BadgeID, &ub.EarnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user badge: %w", err)
		}
		out = append(out, &ub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user badges: %w", err)
	}
	return out, nil
}

// Award inserts the pair unless it exists. The primary key on
// (user_id, badge_id) makes concurrent awards resolve to one row; the loser
// gets the stored row back with inserted=false.
func (r *BadgeRepository) Award(ctx context.Context, userID, badgeID uuid.UUID, earnedAt time.Time) (*model.UserBadge, bool, error) {
	const insert = `
		INSERT INTO user_badges (user_id, badge_id, earned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_id) DO NOTHING
		RETURNING user_id, badge_id, earned_at
	`

	var ub model.UserBadge
	err := r.pool.QueryRow(ctx, insert, userID, badgeID, earnedAt).Scan(&ub.UserID, &ub.BadgeID, &ub.EarnedAt)
	switch {
	case err == nil:
		return &ub, true, nil
	case db.HasCode(err, db.CodeForeignKeyViolation):
		return nil, false, fmt.Errorf("user %s or badge %s: %w", userID, badgeID, model.ErrNotFound)
	case db.HasCode(err, db.CodeUniqueViolation):
		return nil, false, fmt.Errorf("%w: badge %s for user %s", model.ErrConflict, badgeID, userID)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("failed to award badge: %w", err)
	}

	const existing = `SELECT user_id, badge_id, earned_at FROM user_badges WHERE user_id = $1 AND badge_id = $2`
	if err := r.pool.QueryRow(ctx, existing, userID, badgeID).Scan(&ub.UserID, &ub.BadgeID, &ub.EarnedAt); err != nil {
		return nil, false, fmt.Errorf("failed to get user badge: %w", err)
	}
	return &ub, false, nil
}
