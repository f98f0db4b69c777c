// Package repository implements the store contracts on PostgreSQL.
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

// Common errors for repository operations.
var (
	ErrUserNotFound = fmt.Errorf("user %w", model.ErrNotFound)
)

// UserRepository handles user data persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, email, display_name, department, is_active, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.Department,
		&u.IsActive,
		&u.CreatedAt,
	)
	return &u, err
}

// Create inserts a user. A missing ID is generated. A duplicate email
// returns model.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	if err := validation.Struct(u); err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	const query = `
		INSERT INTO users (id, email, display_name, department, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ` + userColumns

	created, err := scanUser(r.pool.QueryRow(ctx, query, u.ID, u.Email, u.DisplayName, u.Department, u.IsActive))
	if err != nil {
		if db.HasCode(err, db.CodeUniqueViolation) {
			return nil, fmt.Errorf("%w: user %s already exists", model.ErrConflict, u.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// GetByID retrieves a user by id.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// SetActive activates or deactivates a user. Inactive users drop off leaderboards.
func (r *UserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}

// Snapshot reads everything badge rules look at in one repeatable-read
// transaction, so the counts and totals are mutually consistent.
func (r *UserRepository) Snapshot(ctx context.Context, userID uuid.UUID) (*model.StatsSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	snap := &model.StatsSnapshot{
		UserID:          userID,
		CategoryActions: make(map[uuid.UUID]int64),
		OwnedBadges:     make(map[uuid.UUID]time.Time),
	}

	err = tx.QueryRow(ctx, `
		SELECT total_points, current_streak, longest_streak
		FROM user_points
		WHERE user_id = $1
	`, userID).Scan(&snap.TotalPoints, &snap.CurrentStreak, &snap.LongestStreak)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get user points: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT category_id, COUNT(*)
		FROM sustainability_actions
		WHERE user_id = $1 AND verification_status = 'verified'
		GROUP BY category_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	for rows.Next() {
		var (
			categoryID uuid.UUID
			count      int64
		)
		if err := rows.Scan(&categoryID, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		snap.CategoryActions[categoryID] = count
		snap.VerifiedActions += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action counts: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT badge_id, earned_at FROM user_badges WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user badges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			badgeID  uuid.UUID
			earnedAt time.Time
		)
		if err := rows.Scan(&badgeID, &earnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user badge: %w", err)
		}
		snap.OwnedBadges[badgeID] = earnedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user badges: %w", err)
	}

	return snap, nil
}
