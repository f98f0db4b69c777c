package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"greenloop/internal/store"
)

// ReconcileUser recomputes a user's total from the ledger under the row lock
// and repairs the aggregate if it drifted. It returns ledger sum minus the
// previous total.
func (e *Engine) ReconcileUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var drift int64
	err := e.withUserLock(ctx, userID, func(tx store.LedgerTx) error {
		sum, err := tx.SumPoints(ctx)
		if err != nil {
			return err
		}
		agg := tx.UserPoints()
		drift = sum - agg.TotalPoints
		if drift == 0 {
			return nil
		}
		agg.TotalPoints = sum
		agg.UpdatedAt = e.now()
		return tx.SaveUserPoints(ctx, agg)
	})
	if err != nil {
		return 0, err
	}

	if drift != 0 {
		log.Warn().
			Str("user_id", userID.String()).
			Int64("drift", drift).
			Msg("Repaired points aggregate")
		e.invalidateLeaderboard(ctx)
	}
	return drift, nil
}

// ReconcileAll repairs every drifted aggregate and returns how many were fixed.
func (e *Engine) ReconcileAll(ctx context.Context) (int, error) {
	users, err := e.ledger.DriftedUsers(ctx)
	if err != nil {
		return 0, err
	}

	var (
		repaired int
		errs     error
	)
	for _, id := range users {
		drift, err := e.ReconcileUser(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %s: %w", id, err))
			continue
		}
		if drift != 0 {
			repaired++
		}
	}
	return repaired, errs
}
