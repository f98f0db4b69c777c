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
	"greenloop/internal/store"
)

// LedgerRepository stores point transactions and the user_points aggregate.
// Every write goes through WithUserLock.
type LedgerRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewLedgerRepository creates a LedgerRepository. lockTimeout bounds the
// wait for a user's aggregate row lock.
func NewLedgerRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *LedgerRepository {
	return &LedgerRepository{pool: pool, lockTimeout: lockTimeout}
}

const (
	txColumns     = `id, user_id, points, transaction_type, description, related_action_id, created_at`
	pointsColumns = `user_id, total_points, current_streak, longest_streak, last_action_date, updated_at`
)

func scanTransaction(row pgx.Row) (*model.PointTransaction, error) {
	var t model.PointTransaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Points,
		&t.Type,
		&t.Description,
		&t.RelatedActionID,
		&t.CreatedAt,
	)
	return &t, err
}

func scanUserPoints(row pgx.Row) (*model.UserPoints, error) {
	var up model.UserPoints
	err := row.Scan(
		&up.UserID,
		&up.TotalPoints,
		&up.CurrentStreak,
		&up.LongestStreak,
		&up.LastActionDate,
		&up.UpdatedAt,
	)
	return &up, err
}

// lockTimeoutMillis rounds d up to whole milliseconds. PostgreSQL treats a
// zero lock_timeout as no limit, so a positive d never becomes 0.
func lockTimeoutMillis(d time.Duration) int64 {
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}

// WithUserLock opens a transaction, creates the aggregate row if needed and
// locks it FOR UPDATE before calling fn. The lock wait is bounded by
// lock_timeout; exceeding it returns model.ErrConcurrency.
func (r *LedgerRepository) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx store.LedgerTx) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if r.lockTimeout > 0 {
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeoutMillis(r.lockTimeout))); err != nil {
				return fmt.Errorf("failed to set lock timeout: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO user_points (user_id, updated_at)
			VALUES ($1, NOW())
			ON CONFLICT (user_id) DO NOTHING
		`, userID); err != nil {
			return err
		}

		agg, err := scanUserPoints(tx.QueryRow(ctx,
			`SELECT `+pointsColumns+` FROM user_points WHERE user_id = $1 FOR UPDATE`, userID))
		if err != nil {
			return err
		}

		return fn(&ledgerTx{tx: tx, userID: userID, agg: *agg})
	})

	switch {
	case err == nil:
		return nil
	case db.HasCode(err, db.CodeLockNotAvailable), db.HasCode(err, db.CodeSerializationFailure):
		return fmt.Errorf("%w: points row for user %s: %v", model.ErrConcurrency, userID, err)
	case db.HasCode(err, db.CodeForeignKeyViolation):
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	case db.HasCode(err, db.CodeCheckViolation):
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return err
}

// GetUserPoints reads the aggregate without locking.
func (r *LedgerRepository) GetUserPoints(ctx context.Context, userID uuid.UUID) (*model.UserPoints, error) {
	up, err := scanUserPoints(r.pool.QueryRow(ctx, `SELECT `+pointsColumns+` FROM user_points WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.UserPoints{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get user points: %w", err)
	}
	return up, nil
}

// RecentTransactions returns a user's latest ledger entries, newest first.
func (r *LedgerRepository) RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*model.PointTransaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.PointTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// PointsSince sums points per active user for transactions created at or
// after since, or over all time when since is nil.
func (r *LedgerRepository) PointsSince(ctx context.Context, since *time.Time) ([]model.LeaderboardEntry, error) {
	const query = `
		SELECT u.id, u.display_name, SUM(t.points)::BIGINT, up.last_action_date
		FROM point_transactions t
		JOIN users u ON u.id = t.user_id
		LEFT JOIN user_points up ON up.user_id = t.user_id
		WHERE u.is_active AND ($1::TIMESTAMPTZ IS NULL OR t.created_at >= $1)
		GROUP BY u.id, u.display_name, up.last_action_date
	`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to sum points: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.Points, &e.LastActionDate); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard rows: %w", err)
	}
	return entries, nil
}

// DriftedUsers lists users whose aggregate total differs from their ledger sum.
func (r *LedgerRepository) DriftedUsers(ctx context.Context) ([]uuid.UUID, error) {
	const query = `
		SELECT up.user_id
		FROM user_points up
		LEFT JOIN (
			SELECT user_id, SUM(points)::BIGINT AS total
			FROM point_transactions
			GROUP BY user_id
		) t ON t.user_id = up.user_id
		WHERE up.total_points <> COALESCE(t.total, 0)
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find drifted users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan drifted users: %w", err)
	}
	return ids, nil
}

// ledgerTx is the LedgerTx handed to WithUserLock callbacks.
type ledgerTx struct {
	tx     pgx.Tx
	userID uuid.UUID
	agg    model.UserPoints
}

func (t *ledgerTx) UserPoints() *model.UserPoints {
	cp := t.agg
	return &cp
}

func (t *ledgerTx) TransactionForAction(ctx context.Context, actionID uuid.UUID) (*model.PointTransaction, error) {
	const query = `
		SELECT ` + txColumns + `
		FROM point_transactions
		WHERE related_action_id = $1 AND transaction_type = 'action_credit'
	`

	pt, err := scanTransaction(t.tx.QueryRow(ctx, query, actionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get action credit: %w", err)
	}
	return pt, nil
}

// Append inserts a ledger entry. The partial unique index on action credits
// turns a duplicate credit into a no-op that reports inserted=false.
func (t *ledgerTx) Append(ctx context.Context, pt *model.PointTransaction) (*model.PointTransaction, bool, error) {
	if pt.UserID != t.userID {
		return nil, false, fmt.Errorf("%w: transaction for user %s inside lock for %s", model.ErrValidation, pt.UserID, t.userID)
	}

	const query = `
		INSERT INTO point_transactions (user_id, points, transaction_type, description, related_action_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (related_action_id) WHERE transaction_type = 'action_credit' DO NOTHING
		RETURNING ` + txColumns

	saved, err := scanTransaction(t.tx.QueryRow(ctx, query, pt.UserID, pt.Points, pt.Type, pt.Description, pt.RelatedActionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) && pt.RelatedActionID != nil {
			existing, err := t.TransactionForAction(ctx, *pt.RelatedActionID)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("failed to append transaction: %w", err)
	}
	return saved, true, nil
}

func (t *ledgerTx) SaveUserPoints(ctx context.Context, up *model.UserPoints) error {
	if up.UserID != t.userID {
		return fmt.Errorf("%w: aggregate for user %s inside lock for %s", model.ErrValidation, up.UserID, t.userID)
	}

	const query = `
		UPDATE user_points
		SET total_points = $2, current_streak = $3, longest_streak = $4, last_action_date = $5, updated_at = $6
		WHERE user_id = $1
	`
	if _, err := t.tx.Exec(ctx, query, up.UserID, up.TotalPoints, up.CurrentStreak, up.LongestStreak, up.LastActionDate, up.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save user points: %w", err)
	}
	t.agg = *up
	return nil
}

func (t *ledgerTx) SetActionPoints(ctx context.Context, actionID uuid.UUID, points int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sustainability_actions SET points_earned = $2 WHERE id = $1`, actionID, points)
	if err != nil {
		return fmt.Errorf("failed to set action points: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	return nil
}

func (t *ledgerTx) SumPoints(ctx context.Context) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0)::BIGINT FROM point_transactions WHERE user_id = $1`, t.userID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum points: %w", err)
	}
	return sum, nil
}

// Compile-time interface checks.
var (
	_ store.ActionRepository   = (*ActionRepository)(nil)
	_ store.CategoryRepository = (*CategoryRepository)(nil)
	_ store.UserRepository     = (*UserRepository)(nil)
	_ store.BadgeRepository    = (*BadgeRepository)(nil)
	_ store.Ledger             = (*LedgerRepository)(nil)
	_ store.LedgerTx           = (*ledgerTx)(nil)
)
