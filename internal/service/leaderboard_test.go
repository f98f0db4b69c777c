package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"greenloop/internal/model"
)

// countingCache is a map-backed LeaderboardCache that records invalidations.
type countingCache struct {
	mu            sync.Mutex
	entries       map[model.Timeframe][]model.LeaderboardEntry
	loads         int
	invalidations int
}

func newCountingCache() *countingCache {
	return &countingCache{entries: make(map[model.Timeframe][]model.LeaderboardEntry)}
}

func (c *countingCache) Leaderboard(_ context.Context, tf model.Timeframe, load func() ([]model.LeaderboardEntry, error)) ([]model.LeaderboardEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[tf]; ok {
		return e, nil
	}
	e, err := load()
	if err != nil {
		return nil, err
	}
	c.loads++
	c.entries[tf] = e
	return e, nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	c.entries = make(map[model.Timeframe][]model.LeaderboardEntry)
	return nil
}

// sortedIDs returns two fresh ids with lo < hi in byte order.
func sortedIDs() (lo, hi uuid.UUID) {
	a, b := uuid.New(), uuid.New()
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return a, b
}

func TestEngine_RankLeaderboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lo, hi := sortedIDs()
	for _, id := range []uuid.UUID{hi, lo} {
		require.NoError(t, h.store.AddUser(model.User{ID: id, Email: id.String()[:8] + "@example.com", IsActive: true}))
	}
	top := h.addUser(t, true)
	inactive := h.addUser(t, false)
	h.addUser(t, true) // no transactions, never ranked

	h.score(t, h.addAction(t, hi, "10", h.clock, model.StatusVerified))       // 20
	h.score(t, h.addAction(t, lo, "10", h.clock, model.StatusVerified))       // 20
	h.score(t, h.addAction(t, top, "30", h.clock, model.StatusVerified))      // 60
	h.score(t, h.addAction(t, inactive, "50", h.clock, model.StatusVerified)) // excluded

	board, err := h.engine.RankLeaderboard(ctx, model.TimeframeAll)
	require.NoError(t, err)
	require.Len(t, board, 3)

	assert.Equal(t, top, board[0].UserID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, lo, board[1].UserID, "ties break on ascending user id")
	assert.Equal(t, 2, board[1].Rank)
	assert.Equal(t, hi, board[2].UserID)
	assert.Equal(t, 3, board[2].Rank)
	assert.NotNil(t, board[0].LastActionDate)

	again, err := h.engine.RankLeaderboard(ctx, model.TimeframeAll)
	require.NoError(t, err)
	assert.Equal(t, board, again)

	_, err = h.engine.RankLeaderboard(ctx, model.Timeframe("yearly"))
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestEngine_RankLeaderboard_Windows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.addUser(t, true)
	recent := h.addUser(t, true)

	h.score(t, h.addAction(t, old, "50", h.clock, model.StatusVerified))
	h.clock = h.clock.Add(10 * 24 * time.Hour)
	h.score(t, h.addAction(t, recent, "5", h.clock, model.StatusVerified))

	weekly, err := h.engine.RankLeaderboard(ctx, model.TimeframeWeekly)
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, recent, weekly[0].UserID)
	assert.Equal(t, int64(10), weekly[0].Points)

	monthly, err := h.engine.RankLeaderboard(ctx, model.TimeframeMonthly)
	require.NoError(t, err)
	require.Len(t, monthly, 2)
	assert.Equal(t, old, monthly[0].UserID)
	assert.Equal(t, int64(100), monthly[0].Points)
}

func TestEngine_Standings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var users []uuid.UUID
	for i := 1; i <= 5; i++ {
		u := h.addUser(t, true)
		users = append(users, u)
		for j := 0; j < i; j++ {
			h.score(t, h.addAction(t, u, "", h.clock, model.StatusVerified))
		}
	}

	st, err := h.engine.Standings(ctx, model.TimeframeWeekly, users[0], 2)
	require.NoError(t, err)
	assert.Len(t, st.Entries, 2)
	assert.Equal(t, users[4], st.Entries[0].UserID)
	assert.Equal(t, 5, st.TotalParticipants)
	require.NotNil(t, st.Me)
	assert.Equal(t, 5, st.Me.Rank)

	st, err = h.engine.Standings(ctx, model.TimeframeWeekly, uuid.New(), 0)
	require.NoError(t, err)
	assert.Len(t, st.Entries, 5)
	assert.Nil(t, st.Me)

	_, err = h.engine.Standings(ctx, model.TimeframeWeekly, users[0], 1001)
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestEngine_LeaderboardCacheInvalidatedOnCredit(t *testing.T) {
	h := newHarness(t)
	cache := newCountingCache()
	h.engine.cache = cache
	ctx := context.Background()
	user := h.addUser(t, true)

	h.score(t, h.addAction(t, user, "5", h.clock, model.StatusVerified))
	before := cache.invalidations

	board, err := h.engine.RankLeaderboard(ctx, model.TimeframeAll)
	require.NoError(t, err)
	require.Len(t, board, 1)
	_, err = h.engine.RankLeaderboard(ctx, model.TimeframeAll)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.loads)

	action := h.addAction(t, user, "5", h.clock, model.StatusVerified)
	h.score(t, action)
	assert.Equal(t, before+1, cache.invalidations)

	// A replay credits nothing and leaves the cache alone.
	h.score(t, action)
	assert.Equal(t, before+1, cache.invalidations)

	board, err = h.engine.RankLeaderboard(ctx, model.TimeframeAll)
	require.NoError(t, err)
	assert.Equal(t, int64(20), board[0].Points)
	assert.Equal(t, 2, cache.loads)
}

func TestRank_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		entries := make([]model.LeaderboardEntry, n)
		for i := range entries {
			var id uuid.UUID
			copy(id[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "id"))
			entries[i] = model.LeaderboardEntry{
				UserID: id,
				Points: rapid.Int64Range(0, 50).Draw(t, "points"),
			}
		}

		ranked := Rank(entries)
		if len(ranked) != n {
			t.Fatalf("rank changed length: %d != %d", len(ranked), n)
		}
		for i := range ranked {
			if ranked[i].Rank != i+1 {
				t.Fatalf("rank %d at position %d", ranked[i].Rank, i)
			}
			if i == 0 {
				continue
			}
			prev, cur := ranked[i-1], ranked[i]
			if prev.Points < cur.Points {
				t.Fatalf("points not descending at %d", i)
			}
			if prev.Points == cur.Points && bytes.Compare(prev.UserID[:], cur.UserID[:]) > 0 {
				t.Fatalf("tie not broken by user id at %d", i)
			}
		}

		// Input order never matters.
		reversed := make([]model.LeaderboardEntry, n)
		for i := range entries {
			reversed[n-1-i] = entries[i]
		}
		again := Rank(reversed)
		for i := range ranked {
			if ranked[i].UserID != again[i].UserID || ranked[i].Points != again[i].Points {
				t.Fatalf("ranking depends on input order at %d", i)
			}
		}
	})
}
