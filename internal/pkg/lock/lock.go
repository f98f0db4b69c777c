// Package lock provides in-process per-user locking in front of ledger writes.
// It only orders work inside one process; cross-process safety comes from the
// database row lock taken by the ledger.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UserLock hands out one binary semaphore per user. Users never block each other.
type UserLock struct {
	locks sync.Map // map[uuid.UUID]chan struct{}
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{}
}

func (ul *UserLock) sem(userID uuid.UUID) chan struct{} {
	if v, ok := ul.locks.Load(userID); ok {
		return v.(chan struct{})
	}
	actual, _ := ul.locks.LoadOrStore(userID, make(chan struct{}, 1))
	return actual.(chan struct{})
}

// Lock acquires the lock for a user, blocking until it is free.
func (ul *UserLock) Lock(userID uuid.UUID) {
	ul.sem(userID) <- struct{}{}
}

// Unlock releases the lock for a user. Unlocking a free lock is a no-op.
func (ul *UserLock) Unlock(userID uuid.UUID) {
	select {
	case <-ul.sem(userID):
	default:
	}
}

// LockWithTimeout waits up to timeout for the lock. It returns false when the
// timeout elapses or ctx is done first.
func (ul *UserLock) LockWithTimeout(ctx context.Context, userID uuid.UUID, timeout time.Duration) bool {
	sem := ul.sem(userID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// WithLockContext executes fn while holding the user's lock. It returns
// ErrLockTimeout when the lock is not acquired within timeout and ctx.Err()
// when ctx ends while waiting.
func (ul *UserLock) WithLockContext(ctx context.Context, userID uuid.UUID, timeout time.Duration, fn func() error) error {
	if !ul.LockWithTimeout(ctx, userID, timeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrLockTimeout
	}
	defer ul.Unlock(userID)

	return fn()
}
