// Package job runs scheduled maintenance for the points ledger.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"greenloop/internal/config"
)

// ErrSkipped is returned by Run when another instance holds the job lock.
var ErrSkipped = errors.New("reconcile skipped: lock held elsewhere")

const lockKey = "greenloop:job:reconcile"

// Reconciler repairs drifted point aggregates.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, error)
}

// locker is the part of *redsync.Mutex the job needs.
type locker interface {
	TryLockContext(ctx context.Context) error
	UnlockContext(ctx context.Context) (bool, error)
}

// ReconcileJob periodically recomputes aggregates from the ledger. With a
// redsync instance only one process runs a pass at a time.
type ReconcileJob struct {
	reconciler Reconciler
	lock       locker
	schedule   string
	timeout    time.Duration
}

// NewReconcileJob creates the job. rs may be nil for single-instance deployments.
func NewReconcileJob(r Reconciler, rs *redsync.Redsync, cfg config.ReconcileConfig) *ReconcileJob {
	j := &ReconcileJob{
		reconciler: r,
		schedule:   cfg.Schedule,
		timeout:    cfg.LockTTL,
	}
	if rs != nil {
		j.lock = rs.NewMutex(lockKey, redsync.WithExpiry(cfg.LockTTL), redsync.WithTries(1))
	}
	return j
}

// Start registers the job on c.
func (j *ReconcileJob) Start(c *cron.Cron) error {
	if _, err := c.AddFunc(j.schedule, j.tick); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", j.schedule, err)
	}
	log.Info().Str("schedule", j.schedule).Msg("Reconcile job scheduled")
	return nil
}

func (j *ReconcileJob) tick() {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	repaired, err := j.Run(ctx)
	switch {
	case errors.Is(err, ErrSkipped):
		log.Debug().Msg("Reconcile pass skipped, another instance is running it")
	case err != nil:
		log.Error().Err(err).Int("repaired", repaired).Msg("Reconcile pass failed")
	default:
		log.Info().Int("repaired", repaired).Msg("Reconcile pass finished")
	}
}

// Run executes one reconcile pass and returns how many aggregates were repaired.
func (j *ReconcileJob) Run(ctx context.Context) (int, error) {
	if j.lock != nil {
		if err := j.lock.TryLockContext(ctx); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrSkipped, err)
		}
		defer func() {
			if _, err := j.lock.UnlockContext(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to release reconcile lock")
			}
		}()
	}
	return j.reconciler.ReconcileAll(ctx)
}
