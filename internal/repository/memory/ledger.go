package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"greenloop/internal/model"
	"greenloop/internal/store"
)

type ledger struct{ s *Store }

// WithUserLock stages fn's writes and publishes them together only when fn
// succeeds and ctx is still live.
func (l ledger) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx store.LedgerTx) error) error {
	if !l.s.rowLocks.LockWithTimeout(ctx, userID, l.s.lockTimeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: row lock for user %s not acquired within %s", model.ErrConcurrency, userID, l.s.lockTimeout)
	}
	defer l.s.rowLocks.Unlock(userID)

	l.s.mu.RLock()
	agg := model.UserPoints{UserID: userID, UpdatedAt: l.s.now()}
	if up, ok := l.s.points[userID]; ok {
		agg = *up
	}
	l.s.mu.RUnlock()

	tx := &memTx{s: l.s, userID: userID, agg: agg, actionPoints: make(map[uuid.UUID]int64)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, t := range tx.pending {
		l.s.nextTxID++
		t.ID = l.s.nextTxID
		l.s.txs = append(l.s.txs, t)
	}
	if tx.saved != nil {
		up := *tx.saved
		l.s.points[userID] = &up
	} else {
		l.s.pointsLocked(userID)
	}
	for id, p := range tx.actionPoints {
		if a, ok := l.s.actions[id]; ok {
			a.PointsEarned = p
		}
	}
	return nil
}

func (l ledger) GetUserPoints(_ context.Context, userID uuid.UUID) (*model.UserPoints, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	if up, ok := l.s.points[userID]; ok {
		cp := *up
		return &cp, nil
	}
	return &model.UserPoints{UserID: userID}, nil
}

func (l ledger) RecentTransactions(_ context.Context, userID uuid.UUID, limit int) ([]*model.PointTransaction, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var out []*model.PointTransaction
	for i := len(l.s.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if t := l.s.txs[i]; t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l ledger) PointsSince(_ context.Context, since *time.Time) ([]model.LeaderboardEntry, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	sums := make(map[uuid.UUID]int64)
	for _, t := range l.s.txs {
		if since != nil && t.CreatedAt.Before(*since) {
			continue
		}
		if u, ok := l.s.users[t.UserID]; !ok || !u.IsActive {
			continue
		}
		sums[t.UserID] += t.Points
	}

	out := make([]model.LeaderboardEntry, 0, len(sums))
	for id, pts := range sums {
		e := model.LeaderboardEntry{UserID: id, DisplayName: l.s.users[id].DisplayName, Points: pts}
		if up, ok := l.s.points[id]; ok {
			e.LastActionDate = up.LastActionDate
		}
		out = append(out, e)
	}
	return out, nil
}

func (l ledger) DriftedUsers(_ context.Context) ([]uuid.UUID, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var out []uuid.UUID
	for id, up := range l.s.points {
		if up.TotalPoints != l.s.sumLocked(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// memTx buffers one unit of work. Reads see committed state plus pending writes.
type memTx struct {
	s            *Store
	userID       uuid.UUID
	agg          model.UserPoints
	saved        *model.UserPoints
	pending      []*model.PointTransaction
	actionPoints map[uuid.UUID]int64
}

func (t *memTx) UserPoints() *model.UserPoints {
	cp := t.agg
	if t.saved != nil {
		cp = *t.saved
	}
	return &cp
}

func (t *memTx) TransactionForAction(_ context.Context, actionID uuid.UUID) (*model.PointTransaction, error) {
	for _, p := range t.pending {
		if isCreditFor(p, actionID) {
			cp := *p
			return &cp, nil
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, p := range t.s.txs {
		if isCreditFor(p, actionID) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) Append(ctx context.Context, pt *model.PointTransaction) (*model.PointTransaction, bool, error) {
	if pt.UserID != t.userID {
		return nil, false, fmt.Errorf("%w: transaction for user %s inside lock for %s", model.ErrValidation, pt.UserID, t.userID)
	}
	if pt.Type == model.TxTypeActionCredit && pt.RelatedActionID != nil {
		existing, err := t.TransactionForAction(ctx, *pt.RelatedActionID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	cp := *pt
	cp.CreatedAt = t.s.now()
	t.pending = append(t.pending, &cp)
	out := cp
	return &out, true, nil
}

func (t *memTx) SaveUserPoints(_ context.Context, up *model.UserPoints) error {
	if up.UserID != t.userID {
		return fmt.Errorf("%w: aggregate for user %s inside lock for %s", model.ErrValidation, up.UserID, t.userID)
	}
	cp := *up
	t.saved = &cp
	return nil
}

func (t *memTx) SetActionPoints(_ context.Context, actionID uuid.UUID, points int64) error {
	t.s.mu.RLock()
	_, ok := t.s.actions[actionID]
	t.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("action %s: %w", actionID, model.ErrNotFound)
	}
	t.actionPoints[actionID] = points
	return nil
}

func (t *memTx) SumPoints(_ context.Context) (int64, error) {
	sum := t.s.LedgerSum(t.userID)
	for _, p := range t.pending {
		sum += p.Points
	}
	return sum, nil
}

func isCreditFor(t *model.PointTransaction, actionID uuid.UUID) bool {
	return t.Type == model.TxTypeActionCredit && t.RelatedActionID != nil && *t.RelatedActionID == actionID
}
