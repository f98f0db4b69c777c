// Package scoring holds the pure point and streak rules. Nothing here does I/O,
// so every rule is deterministic given its inputs.
package scoring

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"greenloop/internal/model"
)

// Tier grants BonusPercent extra points once a streak reaches MinDays.
type Tier struct {
	MinDays      int
	BonusPercent int64
}

// Calculator converts verified actions into points.
type Calculator struct {
	flatBase int64
	tiers    []Tier // ascending by MinDays
}

// NewCalculator creates a Calculator. flatBase is used for actions without an
// impact value; tiers may be given in any order.
func NewCalculator(flatBase int64, tiers []Tier) *Calculator {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinDays < sorted[j].MinDays
	})
	return &Calculator{flatBase: flatBase, tiers: sorted}
}

// ComputePoints returns the points an action earns given the streak it extends.
func (c *Calculator) ComputePoints(action *model.Action, category *model.Category, currentStreak int) (int64, error) {
	base, err := c.BasePoints(action, category)
	if err != nil {
		return 0, err
	}
	return ApplyBonus(base, c.BonusPercent(currentStreak)), nil
}

// BasePoints returns round(impact x multiplier), or the flat base when the
// action carries no impact value.
func (c *Calculator) BasePoints(action *model.Action, category *model.Category) (int64, error) {
	if action == nil || category == nil {
		return 0, fmt.Errorf("%w: action and category are required", model.ErrValidation)
	}
	if !category.IsActive {
		return 0, fmt.Errorf("%w: category %s is inactive", model.ErrValidation, category.ID)
	}
	if action.CategoryID != category.ID {
		return 0, fmt.Errorf("%w: action %s does not belong to category %s", model.ErrValidation, action.ID, category.ID)
	}
	if category.PointsMultiplier.IsNegative() {
		return 0, fmt.Errorf("%w: negative multiplier on category %s", model.ErrValidation, category.ID)
	}

	if action.ImpactValue == nil {
		return c.flatBase, nil
	}
	if !action.ImpactValue.IsPositive() {
		return 0, fmt.Errorf("%w: impact value must be positive, got %s", model.ErrValidation, action.ImpactValue)
	}

	return action.ImpactValue.Mul(category.PointsMultiplier).Round(0).IntPart(), nil
}

// BonusPercent returns the bonus of the highest tier the streak reaches.
func (c *Calculator) BonusPercent(streak int) int64 {
	var pct int64
	for _, t := range c.tiers {
		if streak < t.MinDays {
			break
		}
		pct = t.BonusPercent
	}
	return pct
}

// ApplyBonus adds pct percent of base, rounded down.
func ApplyBonus(base, pct int64) int64 {
	if pct <= 0 || base <= 0 {
		return base
	}
	bonus := decimal.NewFromInt(base).Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).Floor()
	return base + bonus.IntPart()
}
