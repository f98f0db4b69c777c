// Package service provides the gamification engine: scoring, streaks, badge
// awarding and leaderboards on top of the store contracts.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"greenloop/internal/badge"
	"greenloop/internal/model"
	"greenloop/internal/pkg/lock"
	"greenloop/internal/scoring"
	"greenloop/internal/store"
)

// DefaultLockTimeout bounds the wait for a user's ledger lock when none is configured.
const DefaultLockTimeout = 5 * time.Second

// LeaderboardCache is an optional read-through cache for ranked leaderboards.
type LeaderboardCache interface {
	Leaderboard(ctx context.Context, tf model.Timeframe, load func() ([]model.LeaderboardEntry, error)) ([]model.LeaderboardEntry, error)
	Invalidate(ctx context.Context) error
}

// Notifier is told about newly earned badges. Failures are logged only.
type Notifier interface {
	BadgeAwarded(ctx context.Context, b *model.Badge, ub *model.UserBadge) error
}

// Dependencies holds everything the engine needs. Repositories, Ledger,
// Calculator and Streaks are required.
type Dependencies struct {
	Actions    store.ActionRepository
	Categories store.CategoryRepository
	Users      store.UserRepository
	Badges     store.BadgeRepository
	Ledger     store.Ledger

	Calculator *scoring.Calculator
	Streaks    *scoring.StreakTracker
	Rules      *badge.Rules
	UserLock   *lock.UserLock

	Cache    LeaderboardCache
	Notifier Notifier

	LockTimeout       time.Duration
	DefaultBoardLimit int
	Now               func() time.Time
}

// Engine is the gamification engine. It is safe for concurrent use.
type Engine struct {
	actions    store.ActionRepository
	categories store.CategoryRepository
	users      store.UserRepository
	badges     store.BadgeRepository
	ledger     store.Ledger

	calculator *scoring.Calculator
	streaks    *scoring.StreakTracker
	rules      *badge.Rules
	userLock   *lock.UserLock

	cache    LeaderboardCache
	notifier Notifier

	lockTimeout  time.Duration
	defaultLimit int
	now          func() time.Time
}

// NewEngine creates an Engine from deps.
func NewEngine(deps *Dependencies) (*Engine, error) {
	if deps.Actions == nil || deps.Categories == nil || deps.Users == nil || deps.Badges == nil || deps.Ledger == nil {
		return nil, errors.New("engine: all repositories and the ledger are required")
	}
	if deps.Calculator == nil || deps.Streaks == nil {
		return nil, errors.New("engine: calculator and streak tracker are required")
	}

	e := &Engine{
		actions:      deps.Actions,
		categories:   deps.Categories,
		users:        deps.Users,
		badges:       deps.Badges,
		ledger:       deps.Ledger,
		calculator:   deps.Calculator,
		streaks:      deps.Streaks,
		rules:        deps.Rules,
		userLock:     deps.UserLock,
		cache:        deps.Cache,
		notifier:     deps.Notifier,
		lockTimeout:  deps.LockTimeout,
		defaultLimit: deps.DefaultBoardLimit,
		now:          deps.Now,
	}
	if e.rules == nil {
		e.rules = badge.NewRules(nil)
	}
	if e.userLock == nil {
		e.userLock = lock.NewUserLock()
	}
	if e.lockTimeout <= 0 {
		e.lockTimeout = DefaultLockTimeout
	}
	if e.defaultLimit <= 0 {
		e.defaultLimit = 50
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// withUserLock serializes ledger work for one user: first on the in-process
// lock, then on the ledger's row lock. Both waits are bounded by lockTimeout.
func (e *Engine) withUserLock(ctx context.Context, userID uuid.UUID, fn func(tx store.LedgerTx) error) error {
	err := e.userLock.WithLockContext(ctx, userID, e.lockTimeout, func() error {
		return e.ledger.WithUserLock(ctx, userID, fn)
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		return fmt.Errorf("%w: user %s: %v", model.ErrConcurrency, userID, err)
	}
	return err
}

func (e *Engine) invalidateLeaderboard(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate leaderboard cache")
	}
}
