package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"greenloop/internal/model"
	"greenloop/internal/pkg/validation"
	"greenloop/internal/store"
)

// ScoreResult describes the outcome of scoring one action.
type ScoreResult struct {
	Action    *model.Action
	Points    int64
	Aggregate *model.UserPoints
	// Credited is false when the action had already been credited and the
	// call was an idempotent replay.
	Credited bool
	// AwardedBadges holds badges newly earned as a consequence of this action.
	AwardedBadges []*model.UserBadge
}

// ComputeAndApplyPoints scores a verified action, credits the ledger and
// then awards any badges the user became eligible for. Replaying it for an
// action that is already credited credits nothing but still awards pending
// badges. Badge failures are logged and never fail the scoring.
func (e *Engine) ComputeAndApplyPoints(ctx context.Context, actionID uuid.UUID) (*ScoreResult, error) {
	action, err := e.actions.GetByID(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if !action.IsVerified() {
		return nil, fmt.Errorf("%w: action %s is %s, not verified", model.ErrValidation, action.ID, action.VerificationStatus)
	}

	category, err := e.categories.GetByID(ctx, action.CategoryID)
	if err != nil {
		return nil, err
	}

	// Points use the streak this action produces, read under the user lock.
	agg, credit, credited, err := e.applyAction(ctx, action, func(agg *model.UserPoints) (int64, error) {
		streak := e.streaks.Update(agg, action.ActionDate).Current
		return e.calculator.ComputePoints(action, category, streak)
	})
	if err != nil {
		return nil, err
	}

	res := &ScoreResult{
		Action:    action,
		Points:    credit.Points,
		Aggregate: agg,
		Credited:  credited,
	}
	res.Action.PointsEarned = credit.Points

	if credited {
		log.Info().
			Str("user_id", action.UserID.String()).
			Str("action_id", action.ID.String()).
			Int64("points", credit.Points).
			Int64("total_points", agg.TotalPoints).
			Int("current_streak", agg.CurrentStreak).
			Msg("Action scored")
	}

	// Replays run the badge pass too, so a scoring retry finishes awards
	// that failed after the ledger commit.
	awarded, err := e.ProcessAutomaticBadgeAwards(ctx, action.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", action.UserID.String()).Msg("Some badge awards failed")
	}
	res.AwardedBadges = awarded

	return res, nil
}

// ApplyAction credits points for a verified action in one atomic unit: the
// ledger entry, the aggregate total, the streak and the action's
// PointsEarned. It is idempotent per action.
func (e *Engine) ApplyAction(ctx context.Context, action *model.Action, points int64) (*model.UserPoints, error) {
	if points < 0 {
		return nil, fmt.Errorf("%w: points must not be negative, got %d", model.ErrValidation, points)
	}
	agg, _, _, err := e.applyAction(ctx, action, func(*model.UserPoints) (int64, error) {
		return points, nil
	})
	return agg, err
}

// applyAction runs the credit protocol. pointsFor is called with the locked
// aggregate only when the action has not been credited yet.
func (e *Engine) applyAction(ctx context.Context, action *model.Action, pointsFor func(agg *model.UserPoints) (int64, error)) (*model.UserPoints, *model.PointTransaction, bool, error) {
	if action == nil {
		return nil, nil, false, fmt.Errorf("%w: action is required", model.ErrValidation)
	}
	if !action.IsVerified() {
		return nil, nil, false, fmt.Errorf("%w: action %s is not verified", model.ErrValidation, action.ID)
	}

	var (
		agg      *model.UserPoints
		credit   *model.PointTransaction
		credited bool
	)

	err := e.withUserLock(ctx, action.UserID, func(tx store.LedgerTx) error {
		agg = tx.UserPoints()

		existing, err := tx.TransactionForAction(ctx, action.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			log.Debug().Str("action_id", action.ID.String()).Msg("Action already credited, skipping")
			credit = existing
			return nil
		}

		points, err := pointsFor(agg)
		if err != nil {
			return err
		}

		desc := fmt.Sprintf("Points for action %s", action.ID)
		saved, inserted, err := tx.Append(ctx, &model.PointTransaction{
			UserID:          action.UserID,
			Points:          points,
			Type:            model.TxTypeActionCredit,
			Description:     &desc,
			RelatedActionID: &action.ID,
		})
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := tx.TransactionForAction(ctx, action.ID)
			if err != nil {
				return err
			}
			credit = existing
			return nil
		}

		st := e.streaks.Update(agg, action.ActionDate)
		agg.TotalPoints += points
		agg.CurrentStreak = st.Current
		agg.LongestStreak = st.Longest
		agg.LastActionDate = st.LastActionDate
		agg.UpdatedAt = e.now()

		if err := tx.SaveUserPoints(ctx, agg); err != nil {
			return err
		}
		if err := tx.SetActionPoints(ctx, action.ID, points); err != nil {
			return err
		}

		credit = saved
		credited = true
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}

	if credited {
		e.invalidateLeaderboard(ctx)
	}
	return agg, credit, credited, nil
}

// AdjustmentRequest is an administrative correction to a user's total.
type AdjustmentRequest struct {
	UserID  uuid.UUID `validate:"required"`
	AdminID uuid.UUID `validate:"required"`
	Points  int64     `validate:"ne=0"`
	Reason  string    `validate:"min=3,max=500"`
}

// AdjustPoints appends an admin_adjustment entry through the same locked
// protocol as action credits. Streaks are untouched and the resulting total
// may not go negative.
func (e *Engine) AdjustPoints(ctx context.Context, req AdjustmentRequest) (*model.UserPoints, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if _, err := e.users.GetByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	var agg *model.UserPoints
	err := e.withUserLock(ctx, req.UserID, func(tx store.LedgerTx) error {
		agg = tx.UserPoints()
		if agg.TotalPoints+req.Points < 0 {
			return fmt.Errorf("%w: adjustment of %d would leave %d points", model.ErrValidation, req.Points, agg.TotalPoints+req.Points)
		}

		desc := fmt.Sprintf("%s (by %s)", req.Reason, req.AdminID)
		if _, _, err := tx.Append(ctx, &model.PointTransaction{
			UserID:      req.UserID,
			Points:      req.Points,
			Type:        model.TxTypeAdminAdjustment,
			Description: &desc,
		}); err != nil {
			return err
		}

		agg.TotalPoints += req.Points
		agg.UpdatedAt = e.now()
		return tx.SaveUserPoints(ctx, agg)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", req.UserID.String()).
		Str("admin_id", req.AdminID.String()).
		Int64("points", req.Points).
		Msg("Points adjusted")

	e.invalidateLeaderboard(ctx)
	return agg, nil
}
