package badge

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"greenloop/internal/model"
)

func newBadge(ct model.CriteriaType, value int64) *model.Badge {
	return &model.Badge{ID: uuid.New(), Name: string(ct), CriteriaType: ct, CriteriaValue: value, Rarity: model.RarityCommon, IsActive: true}
}

func TestRules_Check(t *testing.T) {
	rules := NewRules(nil)
	transport := uuid.New()

	snap := &model.StatsSnapshot{
		UserID:          uuid.New(),
		TotalPoints:     100,
		CurrentStreak:   5,
		VerifiedActions: 12,
		CategoryActions: map[uuid.UUID]int64{transport: 4},
		OwnedBadges:     map[uuid.UUID]time.Time{},
	}

	master := newBadge(model.CriteriaCategoryMaster, 4)
	master.CategoryID = &transport
	orphan := newBadge(model.CriteriaCategoryMaster, 1)

	inactive := newBadge(model.CriteriaActionCount, 1)
	inactive.IsActive = false

	owned := newBadge(model.CriteriaPointsTotal, 1_000_000)
	snap.OwnedBadges[owned.ID] = time.Now()

	tests := []struct {
		name     string
		badge    *model.Badge
		expected Eligibility
	}{
		{"points exactly at threshold", newBadge(model.CriteriaPointsTotal, 100), Eligible},
		{"points below threshold", newBadge(model.CriteriaPointsTotal, 101), NotEligible},
		{"action count", newBadge(model.CriteriaActionCount, 12), Eligible},
		{"streak too short", newBadge(model.CriteriaStreakDays, 7), NotEligible},
		{"streak reached", newBadge(model.CriteriaStreakDays, 5), Eligible},
		{"category master", master, Eligible},
		{"category master without category", orphan, NotEligible},
		{"inactive badge", inactive, NotEligible},
		{"owned regardless of criteria", owned, AlreadyOwned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.Check(snap, tt.badge)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got, "got %s", got)
		})
	}
}

func TestRules_UnknownCriteria(t *testing.T) {
	rules := NewRules(nil)
	snap := &model.StatsSnapshot{TotalPoints: 1000}
	b := newBadge("carbon_neutral", 1)

	got, err := rules.Check(snap, b)
	assert.True(t, errors.Is(err, ErrUnknownCriteria))
	assert.Equal(t, NotEligible, got)
	assert.Empty(t, rules.Evaluate(snap, []*model.Badge{b}))
}

func TestRules_Progress(t *testing.T) {
	rules := NewRules(nil)
	snap := &model.StatsSnapshot{TotalPoints: 50, OwnedBadges: map[uuid.UUID]time.Time{}}

	assert.Equal(t, 50, rules.Progress(snap, newBadge(model.CriteriaPointsTotal, 100)))
	assert.Equal(t, 100, rules.Progress(snap, newBadge(model.CriteriaPointsTotal, 10)))
	assert.Equal(t, 0, rules.Progress(snap, newBadge(model.CriteriaStreakDays, 7)))

	owned := newBadge(model.CriteriaPointsTotal, 1000)
	snap.OwnedBadges[owned.ID] = time.Now()
	assert.Equal(t, 100, rules.Progress(snap, owned))
}

func TestRegistry_Custom(t *testing.T) {
	reg := NewDefaultRegistry()
	assert.Len(t, reg.Types(), 4)
	assert.Error(t, reg.Register(nil))

	require.NoError(t, reg.Register(longestStreak{}))
	rules := NewRules(reg)

	snap := &model.StatsSnapshot{CurrentStreak: 1, LongestStreak: 40}
	got, err := rules.Check(snap, newBadge("longest_streak", 30))
	require.NoError(t, err)
	assert.Equal(t, Eligible, got)
}

type longestStreak struct{}

func (longestStreak) Type() model.CriteriaType { return "longest_streak" }

func (longestStreak) Measure(snap *model.StatsSnapshot, _ *model.Badge) int64 {
	return int64(snap.LongestStreak)
}

// TestEvaluateProperty checks that Evaluate never returns owned or inactive
// badges and agrees with Check for every badge.
func TestEvaluateProperty(t *testing.T) {
	rules := NewRules(nil)
	types := []model.CriteriaType{
		model.CriteriaActionCount, model.CriteriaPointsTotal, model.CriteriaStreakDays, model.CriteriaCategoryMaster,
	}
	cat := uuid.New()

	rapid.Check(t, func(t *rapid.T) {
		snap := &model.StatsSnapshot{
			TotalPoints:     rapid.Int64Range(0, 5000).Draw(t, "points"),
			CurrentStreak:   rapid.IntRange(0, 60).Draw(t, "streak"),
			VerifiedActions: rapid.Int64Range(0, 200).Draw(t, "actions"),
			CategoryActions: map[uuid.UUID]int64{cat: rapid.Int64Range(0, 50).Draw(t, "catActions")},
			OwnedBadges:     map[uuid.UUID]time.Time{},
		}

		n := rapid.IntRange(0, 20).Draw(t, "numBadges")
		badges := make([]*model.Badge, n)
		for i := range badges {
			b := newBadge(rapid.SampledFrom(types).Draw(t, "type"), rapid.Int64Range(1, 5000).Draw(t, "value"))
			b.CategoryID = &cat
			b.IsActive = rapid.Bool().Draw(t, "active")
			if rapid.Bool().Draw(t, "owned") {
				snap.OwnedBadges[b.ID] = time.Now()
			}
			badges[i] = b
		}

		got := rules.Evaluate(snap, badges)
		inResult := make(map[uuid.UUID]bool, len(got))
		for _, b := range got {
			if snap.Owns(b.ID) {
				t.Fatalf("owned badge %s returned", b.ID)
			}
			if !b.IsActive {
				t.Fatalf("inactive badge %s returned", b.ID)
			}
			inResult[b.ID] = true
		}
		for _, b := range badges {
			res, _ := rules.Check(snap, b)
			if (res == Eligible) != inResult[b.ID] {
				t.Fatalf("badge %s: Check=%s but inResult=%v", b.ID, res, inResult[b.ID])
			}
		}
	})
}
