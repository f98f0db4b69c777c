// Package store declares the storage contracts the gamification engine runs on.
// internal/repository implements them on PostgreSQL and
// internal/repository/memory implements them in memory.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"greenloop/internal/model"
)

// ActionRepository supplies actions and persists verification outcomes.
type ActionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Action, error)
	// UpdateVerification fails with model.ErrValidation when the action is
	// already verified.
	UpdateVerification(ctx context.Context, id uuid.UUID, status model.VerificationStatus, verifiedBy uuid.UUID, notes *string, at time.Time) (*model.Action, error)
	CategoryBreakdown(ctx context.Context, userID uuid.UUID) ([]model.CategoryBreakdown, error)
}

// CategoryRepository supplies action categories.
type CategoryRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Category, error)
}

// UserRepository supplies users and their stats snapshots.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	Snapshot(ctx context.Context, userID uuid.UUID) (*model.StatsSnapshot, error)
}

// BadgeRepository supplies badge definitions and records awards.
type BadgeRepository interface {
	ListActive(ctx context.Context) ([]*model.Badge, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Badge, error)
	ListUserBadges(ctx context.Context, userID uuid.UUID) ([]*model.UserBadge, error)
	// Award inserts the (user, badge) pair at most once. When the pair already
	// exists it returns the stored row and inserted=false.
	Award(ctx context.Context, userID, badgeID uuid.UUID, earnedAt time.Time) (ub *model.UserBadge, inserted bool, err error)
}

// Ledger owns point transactions and the per-user aggregate.
type Ledger interface {
	// WithUserLock runs fn in one atomic unit holding userID's aggregate row
	// lock. The aggregate row is created on first use. fn's writes commit
	// only when fn returns nil. A lock wait beyond the configured timeout
	// fails with model.ErrConcurrency.
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx LedgerTx) error) error

	// GetUserPoints reads the aggregate without locking. Users without one get
	// a zero aggregate.
	GetUserPoints(ctx context.Context, userID uuid.UUID) (*model.UserPoints, error)
	RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*model.PointTransaction, error)
	// PointsSince sums points per active user for transactions at or after
	// since (all time when nil). Users without transactions are omitted.
	PointsSince(ctx context.Context, since *time.Time) ([]model.LeaderboardEntry, error)
	// DriftedUsers lists users whose aggregate total differs from their ledger sum.
	DriftedUsers(ctx context.Context) ([]uuid.UUID, error)
}

// LedgerTx is the view of the ledger inside WithUserLock.
type LedgerTx interface {
	// UserPoints returns the locked aggregate. Callers mutate the copy and
	// pass it to SaveUserPoints.
	UserPoints() *model.UserPoints
	TransactionForAction(ctx context.Context, actionID uuid.UUID) (*model.PointTransaction, error)
	// Append inserts a transaction. An action credit for an action that is
	// already credited is not inserted and returns inserted=false.
	Append(ctx context.Context, t *model.PointTransaction) (saved *model.PointTransaction, inserted bool, err error)
	SaveUserPoints(ctx context.Context, up *model.UserPoints) error
	SetActionPoints(ctx context.Context, actionID uuid.UUID, points int64) error
	SumPoints(ctx context.Context) (int64, error)
}
