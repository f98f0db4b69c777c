package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"greenloop/internal/model"
	"greenloop/internal/pkg/validation"
)

// bulkVerifyConcurrency caps concurrent verifications in BulkVerify.
const bulkVerifyConcurrency = 8

// VerifyRequest is an admin's review decision for one action.
type VerifyRequest struct {
	ActionID uuid.UUID                `validate:"required"`
	AdminID  uuid.UUID                `validate:"required"`
	Status   model.VerificationStatus `validate:"oneof=verified rejected"`
	Notes    *string                  `validate:"omitempty,max=500"`
}

// BulkVerifyRequest applies one decision to several actions.
type BulkVerifyRequest struct {
	ActionIDs []uuid.UUID              `validate:"min=1,max=50,dive,required"`
	AdminID   uuid.UUID                `validate:"required"`
	Status    model.VerificationStatus `validate:"oneof=verified rejected"`
	Notes     *string                  `validate:"omitempty,max=500"`
}

// VerifyResult holds the committed verification and, for verified actions,
// the scoring outcome. ScoreErr is set when scoring failed; the verification
// stays committed and scoring can be retried with ComputeAndApplyPoints.
type VerifyResult struct {
	Action   *model.Action
	Score    *ScoreResult
	ScoreErr error
}

// BulkOutcome is the per-action result of BulkVerify.
type BulkOutcome struct {
	ActionID uuid.UUID
	Result   *VerifyResult
	Err      error
}

// VerifyAction records an admin decision. Verified actions are final; a
// verified decision then scores the action.
func (e *Engine) VerifyAction(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	action, err := e.actions.GetByID(ctx, req.ActionID)
	if err != nil {
		return nil, err
	}
	if action.IsVerified() {
		return nil, fmt.Errorf("%w: action %s is already verified", model.ErrValidation, action.ID)
	}

	updated, err := e.actions.UpdateVerification(ctx, action.ID, req.Status, req.AdminID, req.Notes, e.now())
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("action_id", action.ID.String()).
		Str("admin_id", req.AdminID.String()).
		Str("status", string(req.Status)).
		Msg("Action reviewed")

	res := &VerifyResult{Action: updated}
	if req.Status != model.StatusVerified {
		return res, nil
	}

	score, err := e.ComputeAndApplyPoints(ctx, action.ID)
	if err != nil {
		log.Error().Err(err).Str("action_id", action.ID.String()).Msg("Failed to score verified action")
		res.ScoreErr = err
		return res, nil
	}
	res.Score = score
	res.Action = score.Action
	return res, nil
}

// BulkVerify applies one decision to every action independently. A failing
// action never stops the others; outcomes are returned in request order.
func (e *Engine) BulkVerify(ctx context.Context, req BulkVerifyRequest) ([]BulkOutcome, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	outcomes := make([]BulkOutcome, len(req.ActionIDs))

	var g errgroup.Group
	g.SetLimit(bulkVerifyConcurrency)
	for i, id := range req.ActionIDs {
		g.Go(func() error {
			res, err := e.VerifyAction(ctx, VerifyRequest{
				ActionID: id,
				AdminID:  req.AdminID,
				Status:   req.Status,
				Notes:    req.Notes,
			})
			outcomes[i] = BulkOutcome{ActionID: id, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, nil
}
