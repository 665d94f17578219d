package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearth/points-ledger/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingReconciler struct {
	calls              atomic.Int32
	stored, recomputed int64
	err                error
}

func (c *countingReconciler) Reconcile(context.Context) (int64, int64, error) {
	c.calls.Add(1)
	return c.stored, c.recomputed, c.err
}

func TestReconcileScheduler_RunOnce_LogsDrift(t *testing.T) {
	// GIVEN: A document whose cached total is stale
	// WHEN: Running one pass
	// THEN: The drift is logged and the file is rewritten with the fold

	path := filepath.Join(t.TempDir(), "points.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "entries": [{"id": "e1", "type": "chores", "description": "dishes", "points_change": 10, "image_url": null, "created_at": "2025-03-01T09:00:00Z"}],
  "redemptions": [],
  "total_points": 4
}`), 0o644))

	core, logs := observer.New(zapcore.DebugLevel)
	sched := NewReconcileScheduler(file.New(path), zap.New(core))

	require.NoError(t, sched.RunOnce(context.Background()))

	drift := logs.FilterMessage("cached total drifted").All()
	require.Len(t, drift, 1)
	assert.Equal(t, int64(-6), drift[0].ContextMap()["drift"])

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("reconcile complete").Len(), "second pass is clean")
}

func TestReconcileScheduler_RunOnce_ReturnsError(t *testing.T) {
	boom := errors.New("disk gone")
	core, logs := observer.New(zapcore.WarnLevel)
	sched := NewReconcileScheduler(&countingReconciler{err: boom}, zap.New(core))

	assert.ErrorIs(t, sched.RunOnce(context.Background()), boom)
	assert.Equal(t, 1, logs.FilterMessage("reconcile failed").Len())
}

func TestReconcileScheduler_StartRunsImmediately(t *testing.T) {
	target := &countingReconciler{stored: 3, recomputed: 3}
	sched := NewReconcileScheduler(target, nil)
	sched.Interval = time.Hour

	sched.Start()
	sched.Start()
	require.Eventually(t, func() bool { return target.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	sched.Stop()
	sched.Stop()

	assert.Equal(t, int32(1), target.calls.Load())
}

func TestReconcileScheduler_ZeroInterval_DoesNotStart(t *testing.T) {
	target := &countingReconciler{}
	sched := NewReconcileScheduler(target, nil)
	sched.Interval = 0

	sched.Start()
	sched.Stop()

	assert.Zero(t, target.calls.Load())
}
