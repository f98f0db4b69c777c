// Package badge evaluates badge criteria against a user's stats snapshot.
// Evaluation is pure: it reads a snapshot and never touches storage.
package badge

import (
	"fmt"
	"sort"
	"sync"

	"greenloop/internal/model"
)

// Evaluator measures the snapshot quantity a criteria type compares against
// Badge.CriteriaValue.
type Evaluator interface {
	Type() model.CriteriaType
	Measure(snap *model.StatsSnapshot, b *model.Badge) int64
}

// Registry maps criteria types to their evaluators.
type Registry struct {
	evaluators map[model.CriteriaType]Evaluator
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		evaluators: make(map[model.CriteriaType]Evaluator),
	}
}

// NewDefaultRegistry creates a registry holding the built-in criteria.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, e := range []Evaluator{actionCount{}, pointsTotal{}, streakDays{}, categoryMaster{}} {
		_ = r.Register(e)
	}
	return r
}

// Register adds an evaluator, replacing any existing one for the same type.
func (r *Registry) Register(e Evaluator) error {
	if e == nil {
		return fmt.Errorf("cannot register nil evaluator")
	}
	if e.Type() == "" {
		return fmt.Errorf("evaluator criteria type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[e.Type()] = e
	return nil
}

// Get retrieves the evaluator for a criteria type.
func (r *Registry) Get(t model.CriteriaType) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[t]
	return e, ok
}

// Types returns the registered criteria types in sorted order.
func (r *Registry) Types() []model.CriteriaType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.CriteriaType, 0, len(r.evaluators))
	for t := range r.evaluators {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

type actionCount struct{}

func (actionCount) Type() model.CriteriaType { return model.CriteriaActionCount }

func (actionCount) Measure(snap *model.StatsSnapshot, _ *model.Badge) int64 {
	return snap.VerifiedActions
}

type pointsTotal struct{}

func (pointsTotal) Type() model.CriteriaType { return model.CriteriaPointsTotal }

func (pointsTotal) Measure(snap *model.StatsSnapshot, _ *model.Badge) int64 {
	return snap.TotalPoints
}

type streakDays struct{}

func (streakDays) Type() model.CriteriaType { return model.CriteriaStreakDays }

func (streakDays) Measure(snap *model.StatsSnapshot, _ *model.Badge) int64 {
	return int64(snap.CurrentStreak)
}

type categoryMaster struct{}

func (categoryMaster) Type() model.CriteriaType { return model.CriteriaCategoryMaster }

// A category_master badge without a category can never be earned.
func (categoryMaster) Measure(snap *model.StatsSnapshot, b *model.Badge) int64 {
	if b.CategoryID == nil {
		return 0
	}
	return snap.CategoryActions[*b.CategoryID]
}
