package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"greenloop/internal/badge"
	"greenloop/internal/model"
)

// AwardStatus is the outcome of an award attempt.
type AwardStatus int

// Award outcomes.
const (
	AwardNotEligible AwardStatus = iota
	AwardAwarded
	AwardAlreadyAwarded
)

func (s AwardStatus) String() string {
	switch s {
	case AwardAwarded:
		return "awarded"
	case AwardAlreadyAwarded:
		return "already_awarded"
	default:
		return "not_eligible"
	}
}

// AwardResult is returned by AwardBadge. UserBadge is set for Awarded and
// AlreadyAwarded.
type AwardResult struct {
	Status    AwardStatus
	Badge     *model.Badge
	UserBadge *model.UserBadge
}

// BadgeStatus is one row of a user's badge catalog.
type BadgeStatus struct {
	Badge    *model.Badge
	Earned   bool
	EarnedAt *time.Time
	Progress int
}

// Achievements lists recently earned and currently claimable badges.
type Achievements struct {
	Recent    []BadgeStatus
	Claimable []*model.Badge
}

// recentAchievementWindow is how far back Achievements looks for earned badges.
const recentAchievementWindow = 30 * 24 * time.Hour

// CheckBadgeEligibility returns the active badges the user qualifies for and
// does not own. It never writes.
func (e *Engine) CheckBadgeEligibility(ctx context.Context, userID uuid.UUID) ([]*model.Badge, error) {
	if _, err := e.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	snap, err := e.users.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	badges, err := e.badges.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return e.rules.Evaluate(snap, badges), nil
}

// AwardBadge awards badgeID to userID if the user is eligible right now.
// Awarding a badge the user already holds is a successful no-op.
func (e *Engine) AwardBadge(ctx context.Context, userID, badgeID uuid.UUID) (*AwardResult, error) {
	if _, err := e.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	b, err := e.badges.GetByID(ctx, badgeID)
	if err != nil {
		return nil, err
	}
	return e.award(ctx, userID, b)
}

func (e *Engine) award(ctx context.Context, userID uuid.UUID, b *model.Badge) (*AwardResult, error) {
	// The caller's snapshot may be stale, so eligibility is always re-read.
	snap, err := e.users.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	eligibility, err := e.rules.Check(snap, b)
	if err != nil {
		return nil, err
	}

	switch eligibility {
	case badge.AlreadyOwned:
		earnedAt := snap.OwnedBadges[b.ID]
		return &AwardResult{
			Status:    AwardAlreadyAwarded,
			Badge:     b,
			UserBadge: &model.UserBadge{UserID: userID, BadgeID: b.ID, EarnedAt: earnedAt},
		}, nil
	case badge.NotEligible:
		return &AwardResult{Status: AwardNotEligible, Badge: b}, nil
	}

	ub, inserted, err := e.badges.Award(ctx, userID, b.ID, e.now())
	switch {
	case errors.Is(err, model.ErrConflict):
		// Lost a race with a concurrent award of the same pair.
		stored, err := e.storedAward(ctx, userID, b.ID)
		if err != nil {
			return nil, err
		}
		return &AwardResult{Status: AwardAlreadyAwarded, Badge: b, UserBadge: stored}, nil
	case err != nil:
		return nil, err
	case !inserted:
		return &AwardResult{Status: AwardAlreadyAwarded, Badge: b, UserBadge: ub}, nil
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("badge_id", b.ID.String()).
		Str("badge", b.Name).
		Str("rarity", string(b.Rarity)).
		Msg("Badge awarded")

	if e.notifier != nil {
		if err := e.notifier.BadgeAwarded(ctx, b, ub); err != nil {
			log.Warn().Err(err).Str("badge_id", b.ID.String()).Msg("Failed to send badge notification")
		}
	}

	return &AwardResult{Status: AwardAwarded, Badge: b, UserBadge: ub}, nil
}

func (e *Engine) storedAward(ctx context.Context, userID, badgeID uuid.UUID) (*model.UserBadge, error) {
	owned, err := e.badges.ListUserBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, ub := range owned {
		if ub.BadgeID == badgeID {
			return ub, nil
		}
	}
	return nil, fmt.Errorf("%w: badge %s reported as awarded to %s but not stored", model.ErrConflict, badgeID, userID)
}

// ProcessAutomaticBadgeAwards awards every badge the user newly qualifies
// for. Each badge is awarded independently: a failure is collected into the
// returned error and the remaining badges are still processed.
func (e *Engine) ProcessAutomaticBadgeAwards(ctx context.Context, userID uuid.UUID) ([]*model.UserBadge, error) {
	eligible, err := e.CheckBadgeEligibility(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		awarded []*model.UserBadge
		errs    error
	)
	for _, b := range eligible {
		res, err := e.award(ctx, userID, b)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("badge %s: %w", b.ID, err))
			continue
		}
		if res.Status == AwardAwarded {
			awarded = append(awarded, res.UserBadge)
		}
	}
	return awarded, errs
}

// BadgeCatalog lists every active badge with the user's earned state and progress.
func (e *Engine) BadgeCatalog(ctx context.Context, userID uuid.UUID) ([]BadgeStatus, error) {
	if _, err := e.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	snap, err := e.users.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	badges, err := e.badges.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	catalog := make([]BadgeStatus, 0, len(badges))
	for _, b := range badges {
		st := BadgeStatus{Badge: b, Progress: e.rules.Progress(snap, b)}
		if at, ok := snap.OwnedBadges[b.ID]; ok {
			st.Earned = true
			st.EarnedAt = &at
		}
		catalog = append(catalog, st)
	}
	return catalog, nil
}

// Achievements returns badges earned in the last 30 days, newest first, and
// the badges the user can claim now.
func (e *Engine) Achievements(ctx context.Context, userID uuid.UUID) (*Achievements, error) {
	claimable, err := e.CheckBadgeEligibility(ctx, userID)
	if err != nil {
		return nil, err
	}

	owned, err := e.badges.ListUserBadges(ctx, userID)
	if err != nil {
		return nil, err
	}

	cutoff := e.now().Add(-recentAchievementWindow)
	res := &Achievements{Claimable: claimable}
	for _, ub := range owned {
		if ub.EarnedAt.Before(cutoff) {
			continue
		}
		b, err := e.badges.GetByID(ctx, ub.BadgeID)
		if err != nil {
			return nil, err
		}
		earnedAt := ub.EarnedAt
		res.Recent = append(res.Recent, BadgeStatus{Badge: b, Earned: true, EarnedAt: &earnedAt, Progress: 100})
	}
	return res, nil
}
