package service

import (
	"context"

	"github.com/google/uuid"

	"greenloop/internal/model"
)

// recentTransactionLimit is how many ledger entries PointsSummary returns.
const recentTransactionLimit = 10

// PointsSummary is a user's points overview.
type PointsSummary struct {
	Points     *model.UserPoints
	Recent     []*model.PointTransaction
	Categories []model.CategoryBreakdown
}

// PointsSummary returns the aggregate, the most recent ledger entries and the
// per-category breakdown of verified actions.
func (e *Engine) PointsSummary(ctx context.Context, userID uuid.UUID) (*PointsSummary, error) {
	if _, err := e.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	points, err := e.ledger.GetUserPoints(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := e.ledger.RecentTransactions(ctx, userID, recentTransactionLimit)
	if err != nil {
		return nil, err
	}
	categories, err := e.actions.CategoryBreakdown(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &PointsSummary{Points: points, Recent: recent, Categories: categories}, nil
}
