package job

import (
	"context"
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenloop/internal/config"
)

type stubReconciler struct {
	calls    int
	repaired int
	err      error
}

func (s *stubReconciler) ReconcileAll(context.Context) (int, error) {
	s.calls++
	return s.repaired, s.err
}

type stubLock struct {
	held     bool
	unlocked int
}

func (l *stubLock) TryLockContext(context.Context) error {
	if l.held {
		return errors.New("lock already taken")
	}
	return nil
}

func (l *stubLock) UnlockContext(context.Context) (bool, error) {
	l.unlocked++
	return true, nil
}

func TestReconcileJob_Run(t *testing.T) {
	rec := &stubReconciler{repaired: 3}
	lock := &stubLock{}
	j := &ReconcileJob{reconciler: rec, lock: lock}

	n, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, lock.unlocked)
}

func TestReconcileJob_SkipsWhenLockHeld(t *testing.T) {
	rec := &stubReconciler{}
	j := &ReconcileJob{reconciler: rec, lock: &stubLock{held: true}}

	_, err := j.Run(context.Background())
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Zero(t, rec.calls)
}

func TestReconcileJob_WithoutRedis(t *testing.T) {
	rec := &stubReconciler{err: errors.New("db down")}
	j := NewReconcileJob(rec, nil, config.ReconcileConfig{Schedule: "@every 1h"})

	_, err := j.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, rec.calls)
}

func TestReconcileJob_Start(t *testing.T) {
	c := cron.New()

	good := NewReconcileJob(&stubReconciler{}, nil, config.ReconcileConfig{Schedule: "@every 1h"})
	require.NoError(t, good.Start(c))
	assert.Len(t, c.Entries(), 1)

	bad := NewReconcileJob(&stubReconciler{}, nil, config.ReconcileConfig{Schedule: "not a schedule"})
	assert.Error(t, bad.Start(c))
}
