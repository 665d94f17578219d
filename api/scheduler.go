/*
scheduler.go - Periodic reconciliation of the ledger document

PURPOSE:
  The JSON document carries a cached total_points next to the records.
  Hand edits or an older deployment can leave it stale, and legacy
  documents keep their old layout until the next write. The scheduler
  runs Reconcile on a ticker so the file on disk is rewritten in the
  current layout with a recomputed total.

  Reads never trust the cached total, so drift is only logged.

LIFECYCLE:
  Start() runs one pass immediately, then one per Interval.
  Stop() waits for an in-flight pass to finish.

SEE ALSO:
  - store/file/file.go: Reconcile
  - cmd/server/maintenance.go: the same pass as a one-shot command
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reconciler rewrites a document and reports the stored and recomputed
// totals.
type Reconciler interface {
	Reconcile(ctx context.Context) (stored, recomputed int64, err error)
}

// ReconcileScheduler runs Reconcile periodically.
type ReconcileScheduler struct {
	Target   Reconciler
	Interval time.Duration
	Timeout  time.Duration
	Log      *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconcileScheduler creates a scheduler with an hourly interval.
func NewReconcileScheduler(target Reconciler, log *zap.Logger) *ReconcileScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconcileScheduler{
		Target:   target,
		Interval: time.Hour,
		Timeout:  30 * time.Second,
		Log:      log,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (rs *ReconcileScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil || rs.Interval <= 0 {
		return
	}
	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Log.Info("reconcile scheduler started", zap.Duration("interval", rs.Interval))
}

// Stop stops the scheduler.
func (rs *ReconcileScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Log.Info("reconcile scheduler stopped")
}

func (rs *ReconcileScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	rs.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			rs.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single reconciliation pass and returns its error.
func (rs *ReconcileScheduler) RunOnce(ctx context.Context) error {
	if rs.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.Timeout)
		defer cancel()
	}

	start := time.Now()
	stored, recomputed, err := rs.Target.Reconcile(ctx)
	if err != nil {
		rs.Log.Warn("reconcile failed", zap.Error(err))
		return err
	}

	fields := []zap.Field{
		zap.Int64("stored", stored),
		zap.Int64("recomputed", recomputed),
		zap.Duration("duration", time.Since(start)),
	}
	if stored != recomputed {
		rs.Log.Warn("cached total drifted", append(fields, zap.Int64("drift", stored-recomputed))...)
		return nil
	}
	rs.Log.Debug("reconcile complete", fields...)
	return nil
}
