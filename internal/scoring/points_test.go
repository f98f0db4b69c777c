package scoring

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"greenloop/internal/model"
)

var defaultTiers = []Tier{{MinDays: 30, BonusPercent: 25}, {MinDays: 7, BonusPercent: 10}}

func fixture(impact *decimal.Decimal, multiplier string) (*model.Action, *model.Category) {
	cat := &model.Category{ID: uuid.New(), PointsMultiplier: decimal.RequireFromString(multiplier), IsActive: true}
	act := &model.Action{ID: uuid.New(), UserID: uuid.New(), CategoryID: cat.ID, ImpactValue: impact}
	return act, cat
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestComputePoints(t *testing.T) {
	calc := NewCalculator(10, defaultTiers)

	tests := []struct {
		name       string
		impact     *decimal.Decimal
		multiplier string
		streak     int
		expected   int64
	}{
		{"multiplier 2 impact 5 no tier", dec("5"), "2.0", 3, 10},
		{"no impact uses flat base", nil, "3.0", 0, 10},
		{"rounds half away from zero", dec("2.5"), "1", 0, 3},
		{"rounds down below half", dec("2.4"), "1", 0, 2},
		{"fractional multiplier", dec("12.5"), "1.5", 0, 19},
		{"tier 7 gives 10 percent", dec("100"), "1", 7, 110},
		{"tier 6 gives nothing", dec("100"), "1", 6, 100},
		{"tier 30 gives 25 percent", dec("100"), "1", 30, 125},
		{"bonus floors", dec("15"), "1", 7, 16},
		{"flat base with bonus", nil, "1", 45, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, cat := fixture(tt.impact, tt.multiplier)
			got, err := calc.ComputePoints(act, cat, tt.streak)
			if err != nil {
				t.Fatalf("ComputePoints returned error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ComputePoints = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestComputePoints_Invalid(t *testing.T) {
	calc := NewCalculator(10, defaultTiers)

	tests := []struct {
		name   string
		mutate func(a *model.Action, c *model.Category)
	}{
		{"zero impact", func(a *model.Action, c *model.Category) { a.ImpactValue = dec("0") }},
		{"negative impact", func(a *model.Action, c *model.Category) { a.ImpactValue = dec("-3") }},
		{"inactive category", func(a *model.Action, c *model.Category) { c.IsActive = false }},
		{"category mismatch", func(a *model.Action, c *model.Category) { a.CategoryID = uuid.New() }},
		{"negative multiplier", func(a *model.Action, c *model.Category) { c.PointsMultiplier = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, cat := fixture(dec("5"), "1")
			tt.mutate(act, cat)
			_, err := calc.ComputePoints(act, cat, 0)
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBonusPercent(t *testing.T) {
	calc := NewCalculator(10, defaultTiers)
	tests := []struct {
		streak   int
		expected int64
	}{
		{0, 0}, {1, 0}, {6, 0}, {7, 10}, {29, 10}, {30, 25}, {365, 25},
	}
	for _, tt := range tests {
		if got := calc.BonusPercent(tt.streak); got != tt.expected {
			t.Errorf("BonusPercent(%d) = %d, want %d", tt.streak, got, tt.expected)
		}
	}
}

// TestComputePointsProperties checks non-negativity, determinism and that a
// longer streak never earns fewer points.
func TestComputePointsProperties(t *testing.T) {
	calc := NewCalculator(10, defaultTiers)

	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(1, 1_000_000).Draw(t, "impactCents")
		mult := rapid.Int64Range(0, 500).Draw(t, "multiplierPercent")
		streak := rapid.IntRange(0, 400).Draw(t, "streak")
		extra := rapid.IntRange(0, 400).Draw(t, "extra")

		impact := decimal.New(cents, -2)
		cat := &model.Category{ID: uuid.New(), PointsMultiplier: decimal.New(mult, -2), IsActive: true}
		act := &model.Action{ID: uuid.New(), CategoryID: cat.ID, ImpactValue: &impact}

		p1, err := calc.ComputePoints(act, cat, streak)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p2, _ := calc.ComputePoints(act, cat, streak)
		if p1 != p2 {
			t.Fatalf("not deterministic: %d vs %d", p1, p2)
		}
		if p1 < 0 {
			t.Fatalf("negative points: %d", p1)
		}

		base, _ := calc.BasePoints(act, cat)
		if p1 < base {
			t.Fatalf("bonus reduced points: base %d, got %d", base, p1)
		}

		longer, _ := calc.ComputePoints(act, cat, streak+extra)
		if longer < p1 {
			t.Fatalf("longer streak earned less: %d < %d", longer, p1)
		}
	})
}

func TestApplyBonusProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Int64Range(0, 10_000_000).Draw(t, "base")
		pct := rapid.Int64Range(0, 300).Draw(t, "pct")

		got := ApplyBonus(base, pct)
		want := base + base*pct/100
		if got != want {
			t.Fatalf("ApplyBonus(%d, %d) = %d, want %d", base, pct, got, want)
		}
	})
}
