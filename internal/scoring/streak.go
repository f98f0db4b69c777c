package scoring

import (
	"time"

	"greenloop/internal/model"
)

// StreakState is the streak portion of a user's aggregate after an action.
type StreakState struct {
	Current        int
	Longest        int
	LastActionDate *time.Time
}

// StreakTracker compares action dates as calendar days in one canonical zone.
type StreakTracker struct {
	loc *time.Location
}

// NewStreakTracker creates a tracker for loc. A nil loc means UTC.
func NewStreakTracker(loc *time.Location) *StreakTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &StreakTracker{loc: loc}
}

// Location returns the canonical zone.
func (s *StreakTracker) Location() *time.Location {
	return s.loc
}

// CalendarDay returns t's calendar date in the canonical zone, encoded as
// midnight UTC so it round-trips through a DATE column unchanged.
func (s *StreakTracker) CalendarDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Update returns the streak state after an action dated actionDate.
// Actions dated before the last recorded day leave the state unchanged.
func (s *StreakTracker) Update(agg *model.UserPoints, actionDate time.Time) StreakState {
	day := s.CalendarDay(actionDate)

	state := StreakState{}
	if agg != nil {
		state = StreakState{
			Current:        agg.CurrentStreak,
			Longest:        agg.LongestStreak,
			LastActionDate: agg.LastActionDate,
		}
	}

	if state.LastActionDate == nil || state.Current < 1 {
		state.Current = 1
	} else {
		switch gap := daysBetween(normalizeDay(*state.LastActionDate), day); {
		case gap < 0:
			return state
		case gap == 0:
		case gap == 1:
			state.Current++
		default:
			state.Current = 1
		}
	}

	if state.Current > state.Longest {
		state.Longest = state.Current
	}
	state.LastActionDate = &day
	return state
}

// normalizeDay reads a stored date back as midnight UTC.
func normalizeDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
