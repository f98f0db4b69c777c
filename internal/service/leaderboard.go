package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"greenloop/internal/model"
)

// Standings is a leaderboard page plus the requesting user's own position.
type Standings struct {
	Timeframe         model.Timeframe
	Entries           []model.LeaderboardEntry
	Me                *model.LeaderboardEntry
	TotalParticipants int
}

// RankLeaderboard ranks active users by points earned in the timeframe.
// Users without transactions in the window are absent.
func (e *Engine) RankLeaderboard(ctx context.Context, tf model.Timeframe) ([]model.LeaderboardEntry, error) {
	if _, err := model.ParseTimeframe(string(tf)); err != nil {
		return nil, err
	}

	load := func() ([]model.LeaderboardEntry, error) {
		var since *time.Time
		if w := tf.Window(); w > 0 {
			s := e.now().Add(-w)
			since = &s
		}
		rows, err := e.ledger.PointsSince(ctx, since)
		if err != nil {
			return nil, err
		}
		return Rank(rows), nil
	}

	if e.cache != nil {
		return e.cache.Leaderboard(ctx, tf, load)
	}
	return load()
}

// Standings returns the top limit entries (the configured default when limit
// is not positive), the user's own entry if ranked, and the participant count.
func (e *Engine) Standings(ctx context.Context, tf model.Timeframe, userID uuid.UUID, limit int) (*Standings, error) {
	if limit <= 0 {
		limit = e.defaultLimit
	}
	if limit > 1000 {
		return nil, fmt.Errorf("%w: limit %d exceeds 1000", model.ErrValidation, limit)
	}

	ranked, err := e.RankLeaderboard(ctx, tf)
	if err != nil {
		return nil, err
	}

	st := &Standings{
		Timeframe:         tf,
		Entries:           ranked[:min(limit, len(ranked))],
		TotalParticipants: len(ranked),
	}
	for i := range ranked {
		if ranked[i].UserID == userID {
			me := ranked[i]
			st.Me = &me
			break
		}
	}
	return st, nil
}

// Rank orders entries by points descending, then user id ascending, and
// assigns 1-based ranks. The input is not modified.
func Rank(entries []model.LeaderboardEntry) []model.LeaderboardEntry {
	ranked := make([]model.LeaderboardEntry, len(entries))
	copy(ranked, entries)

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Points != ranked[j].Points {
			return ranked[i].Points > ranked[j].Points
		}
		return bytes.Compare(ranked[i].UserID[:], ranked[j].UserID[:]) < 0
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}
