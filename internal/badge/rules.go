package badge

import (
	"errors"
	"fmt"

	"greenloop/internal/model"
)

// ErrUnknownCriteria is returned for a badge whose criteria type has no evaluator.
var ErrUnknownCriteria = errors.New("unknown badge criteria")

// Eligibility is the outcome of checking one badge for one user.
type Eligibility int

// Eligibility outcomes.
const (
	NotEligible Eligibility = iota
	Eligible
	AlreadyOwned
)

func (e Eligibility) String() string {
	switch e {
	case Eligible:
		return "eligible"
	case AlreadyOwned:
		return "already_owned"
	default:
		return "not_eligible"
	}
}

// Rules evaluates badges using the evaluators in a Registry.
type Rules struct {
	registry *Registry
}

// NewRules creates a rule engine. A nil registry means the built-in criteria.
func NewRules(registry *Registry) *Rules {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	return &Rules{registry: registry}
}

// Check classifies a single badge for the snapshot's user. Ownership wins
// over criteria, and inactive badges are never eligible.
func (r *Rules) Check(snap *model.StatsSnapshot, b *model.Badge) (Eligibility, error) {
	if snap.Owns(b.ID) {
		return AlreadyOwned, nil
	}
	if !b.IsActive {
		return NotEligible, nil
	}

	e, ok := r.registry.Get(b.CriteriaType)
	if !ok {
		return NotEligible, fmt.Errorf("%w: %q on badge %s", ErrUnknownCriteria, b.CriteriaType, b.ID)
	}
	if e.Measure(snap, b) >= b.CriteriaValue {
		return Eligible, nil
	}
	return NotEligible, nil
}

// Evaluate returns the badges the user qualifies for and does not own yet,
// in input order. Badges with unknown criteria are skipped.
func (r *Rules) Evaluate(snap *model.StatsSnapshot, badges []*model.Badge) []*model.Badge {
	var eligible []*model.Badge
	for _, b := range badges {
		if res, err := r.Check(snap, b); err == nil && res == Eligible {
			eligible = append(eligible, b)
		}
	}
	return eligible
}

// Progress returns how far the user is toward b, as a percentage in [0, 100].
func (r *Rules) Progress(snap *model.StatsSnapshot, b *model.Badge) int {
	if snap.Owns(b.ID) {
		return 100
	}
	e, ok := r.registry.Get(b.CriteriaType)
	if !ok || b.CriteriaValue <= 0 {
		return 0
	}

	measured := e.Measure(snap, b)
	switch {
	case measured <= 0:
		return 0
	case measured >= b.CriteriaValue:
		return 100
	default:
		return int(measured * 100 / b.CriteriaValue)
	}
}
