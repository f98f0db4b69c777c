// Package memory implements the store contracts in process memory. It keeps
// the same guarantees as the PostgreSQL repositories (per-user serialization,
// all-or-nothing ledger writes, unique badge awards) and backs engine tests
// and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"greenloop/internal/model"
	"greenloop/internal/pkg/lock"
	"greenloop/internal/pkg/validation"
	"greenloop/internal/store"
)

// Store holds every table in maps guarded by one RWMutex. The per-user row
// lock is a separate UserLock so different users never wait on each other.
type Store struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]*model.User
	categories map[uuid.UUID]*model.Category
	actions    map[uuid.UUID]*model.Action
	badges     map[uuid.UUID]*model.Badge
	userBadges map[uuid.UUID]map[uuid.UUID]model.UserBadge
	points     map[uuid.UUID]*model.UserPoints
	txs        []*model.PointTransaction
	nextTxID   int64

	rowLocks    *lock.UserLock
	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLockTimeout bounds the wait for a user's row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		users:       make(map[uuid.UUID]*model.User),
		categories:  make(map[uuid.UUID]*model.Category),
		actions:     make(map[uuid.UUID]*model.Action),
		badges:      make(map[uuid.UUID]*model.Badge),
		userBadges:  make(map[uuid.UUID]map[uuid.UUID]model.UserBadge),
		points:      make(map[uuid.UUID]*model.UserPoints),
		rowLocks:    lock.NewUserLock(),
		lockTimeout: 5 * time.Second,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ========== Seeding ==========

// AddUser stores a user after validating it.
func (s *Store) AddUser(u model.User) error {
	if err := validation.Struct(u); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
	return nil
}

// AddCategory stores a category after validating it.
func (s *Store) AddCategory(c model.Category) error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = &c
	return nil
}

// AddAction stores an action after validating it.
func (s *Store) AddAction(a model.Action) error {
	if err := validation.Struct(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return fmt.Errorf("user %s: %w", a.UserID, model.ErrNotFound)
	}
	if _, ok := s.categories[a.CategoryID]; !ok {
		return fmt.Errorf("category %s: %w", a.CategoryID, model.ErrNotFound)
	}
	s.actions[a.ID] = &a
	return nil
}

// AddBadge stores a badge definition after validating it.
func (s *Store) AddBadge(b model.Badge) error {
	if err := validation.Struct(b); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badges[b.ID] = &b
	return nil
}

// ForceTotal overwrites a user's aggregate total without a ledger entry.
// It exists to exercise reconciliation.
func (s *Store) ForceTotal(userID uuid.UUID, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	up := s.pointsLocked(userID)
	up.TotalPoints = total
}

// LedgerSum returns the sum of a user's committed transactions.
func (s *Store) LedgerSum(userID uuid.UUID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumLocked(userID)
}

// UserBadgeCount returns how many award rows exist for the pair.
func (s *Store) UserBadgeCount(userID, badgeID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.userBadges[userID][badgeID]; ok {
		return 1
	}
	return 0
}

func (s *Store) pointsLocked(userID uuid.UUID) *model.UserPoints {
	up, ok := s.points[userID]
	if !ok {
		up = &model.UserPoints{UserID: userID, UpdatedAt: s.now()}
		s.points[userID] = up
	}
	return up
}

func (s *Store) sumLocked(userID uuid.UUID) int64 {
	var sum int64
	for _, t := range s.txs {
		if t.UserID == userID {
			sum += t.Points
		}
	}
	return sum
}

// ========== Repositories ==========

// Actions returns the action repository view.
func (s *Store) Actions() store.ActionRepository { return actionRepo{s} }

// Categories returns the category repository view.
func (s *Store) Categories() store.CategoryRepository { return categoryRepo{s} }

// Users returns the user repository view.
func (s *Store) Users() store.UserRepository { return userRepo{s} }

// Badges returns the badge repository view.
func (s *Store) Badges() store.BadgeRepository { return badgeRepo{s} }

// Ledger returns the ledger view.
func (s *Store) Ledger() store.Ledger { return ledger{s} }

type actionRepo struct{ s *Store }

func (r actionRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Action, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.actions[id]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", id, model.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (r actionRepo) UpdateVerification(_ context.Context, id uuid.UUID, status model.VerificationStatus, verifiedBy uuid.UUID, notes *string, at time.Time) (*model.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.actions[id]
	if !ok {
		return nil, fmt.Errorf("action %s: %w", id, model.ErrNotFound)
	}
	if a.IsVerified() {
		return nil, fmt.Errorf("%w: action %s is already verified", model.ErrValidation, id)
	}
	a.VerificationStatus = status
	a.VerifiedBy = &verifiedBy
	a.VerifiedAt = &at
	a.VerificationNotes = notes
	cp := *a
	return &cp, nil
}

func (r actionRepo) CategoryBreakdown(_ context.Context, userID uuid.UUID) ([]model.CategoryBreakdown, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	byCat := make(map[uuid.UUID]*model.CategoryBreakdown)
	for _, a := range r.s.actions {
		if a.UserID != userID || !a.IsVerified() {
			continue
		}
		cb, ok := byCat[a.CategoryID]
		if !ok {
			cb = &model.CategoryBreakdown{CategoryID: a.CategoryID}
			if c, ok := r.s.categories[a.CategoryID]; ok {
				cb.CategoryName = c.Name
			}
			byCat[a.CategoryID] = cb
		}
		cb.ActionCount++
		cb.Points += a.PointsEarned
	}

	out := make([]model.CategoryBreakdown, 0, len(byCat))
	for _, cb := range byCat {
		out = append(out, *cb)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].CategoryName < out[j].CategoryName
	})
	return out, nil
}

type categoryRepo struct{ s *Store }

func (r categoryRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", id, model.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

type userRepo struct{ s *Store }

func (r userRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (r userRepo) Snapshot(_ context.Context, userID uuid.UUID) (*model.StatsSnapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	snap := &model.StatsSnapshot{
		UserID:          userID,
		CategoryActions: make(map[uuid.UUID]int64),
		OwnedBadges:     make(map[uuid.UUID]time.Time),
	}
	if up, ok := r.s.points[userID]; ok {
		snap.TotalPoints = up.TotalPoints
		snap.CurrentStreak = up.CurrentStreak
		snap.LongestStreak = up.LongestStreak
	}
	for _, a := range r.s.actions {
		if a.UserID == userID && a.IsVerified() {
			snap.VerifiedActions++
			snap.CategoryActions[a.CategoryID]++
		}
	}
	for id, ub := range r.s.userBadges[userID] {
		snap.OwnedBadges[id] = ub.EarnedAt
	}
	return snap, nil
}

type badgeRepo struct{ s *Store }

func (r badgeRepo) ListActive(_ context.Context) ([]*model.Badge, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.Badge
	for _, b := range r.s.badges {
		if b.IsActive {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CriteriaValue != out[j].CriteriaValue {
			return out[i].CriteriaValue < out[j].CriteriaValue
		}
		return strings.Compare(out[i].Name, out[j].Name) < 0
	})
	return out, nil
}

func (r badgeRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Badge, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.badges[id]
	if !ok {
		return nil, fmt.Errorf("badge %s: %w", id, model.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (r badgeRepo) ListUserBadges(_ context.Context, userID uuid.UUID) ([]*model.UserBadge, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.UserBadge, 0, len(r.s.userBadges[userID]))
	for _, ub := range r.s.userBadges[userID] {
		cp := ub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.After(out[j].EarnedAt) })
	return out, nil
}

func (r badgeRepo) Award(_ context.Context, userID, badgeID uuid.UUID, earnedAt time.Time) (*model.UserBadge, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.badges[badgeID]; !ok {
		return nil, false, fmt.Errorf("badge %s: %w", badgeID, model.ErrNotFound)
	}
	owned, ok := r.s.userBadges[userID]
	if !ok {
		owned = make(map[uuid.UUID]model.UserBadge)
		r.s.userBadges[userID] = owned
	}
	if existing, ok := owned[badgeID]; ok {
		return &existing, false, nil
	}

	ub := model.UserBadge{UserID: userID, BadgeID: badgeID, EarnedAt: earnedAt}
	owned[badgeID] = ub
	return &ub, true, nil
}
