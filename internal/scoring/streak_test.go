package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"greenloop/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func aggAt(current, longest int, last time.Time) *model.UserPoints {
	return &model.UserPoints{CurrentStreak: current, LongestStreak: longest, LastActionDate: &last}
}

func TestStreakTracker_Update(t *testing.T) {
	tr := NewStreakTracker(time.UTC)
	d := day(2026, 3, 10)

	tests := []struct {
		name        string
		agg         *model.UserPoints
		actionAt    time.Time
		wantCurrent int
		wantLongest int
	}{
		{"first action", &model.UserPoints{}, d.Add(9 * time.Hour), 1, 1},
		{"nil aggregate", nil, d, 1, 1},
		{"same day unchanged", aggAt(4, 6, d), d.Add(23 * time.Hour), 4, 6},
		{"next day increments", aggAt(4, 6, d), d.Add(24*time.Hour + time.Minute), 5, 6},
		{"next day raises longest", aggAt(6, 6, d), d.AddDate(0, 0, 1), 7, 7},
		{"gap of three resets", aggAt(9, 9, d), d.AddDate(0, 0, 3), 1, 9},
		{"gap of two resets", aggAt(2, 5, d), d.AddDate(0, 0, 2), 1, 5},
		{"backdated ignored", aggAt(3, 3, d), d.AddDate(0, 0, -2), 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tr.Update(tt.agg, tt.actionAt)
			assert.Equal(t, tt.wantCurrent, got.Current)
			assert.Equal(t, tt.wantLongest, got.Longest)
			require.NotNil(t, got.LastActionDate)
		})
	}
}

func TestStreakTracker_TimezoneBoundary(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 UTC on the 10th is already the 11th in Tokyo.
	late := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	agg := aggAt(1, 1, day(2026, 3, 10))

	utc := NewStreakTracker(time.UTC).Update(agg, late)
	assert.Equal(t, 1, utc.Current)
	assert.Equal(t, day(2026, 3, 10), *utc.LastActionDate)

	jst := NewStreakTracker(tokyo).Update(agg, late)
	assert.Equal(t, 2, jst.Current)
	assert.Equal(t, day(2026, 3, 11), *jst.LastActionDate)
}

// TestStreakSequenceProperty replays random day sequences and checks the
// tracker against a direct count of the final run of consecutive days.
func TestStreakSequenceProperty(t *testing.T) {
	tr := NewStreakTracker(time.UTC)

	rapid.Check(t, func(t *rapid.T) {
		gaps := rapid.SliceOfN(rapid.IntRange(0, 4), 1, 40).Draw(t, "gaps")

		agg := &model.UserPoints{}
		current := day(2026, 1, 1)
		run, longest := 0, 0
		for i, g := range gaps {
			if i > 0 {
				current = current.AddDate(0, 0, g)
			}
			switch {
			case i == 0 || g > 1:
				run = 1
			case g == 1:
				run++
			}
			if run > longest {
				longest = run
			}

			st := tr.Update(agg, current.Add(time.Duration(i%24)*time.Hour))
			agg.CurrentStreak, agg.LongestStreak, agg.LastActionDate = st.Current, st.Longest, st.LastActionDate

			if st.Current != run {
				t.Fatalf("step %d: current %d, want %d", i, st.Current, run)
			}
			if st.Longest != longest || st.Longest < st.Current {
				t.Fatalf("step %d: longest %d, want %d", i, st.Longest, longest)
			}
		}
	})
}
