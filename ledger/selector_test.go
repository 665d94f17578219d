package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hearth/points-ledger/ledger"
	"github.com/hearth/points-ledger/ledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

var errRefused = errors.New("connection refused")

// flakyStore is a memory store that can be switched off.
type flakyStore struct {
	*store.Memory
	name   string
	down   atomic.Bool
	closed atomic.Bool
}

func newFlaky(name string) *flakyStore {
	return &flakyStore{Memory: store.NewMemory(), name: name}
}

func (f *flakyStore) Name() string { return f.name }

func (f *flakyStore) check(op string) error {
	if f.down.Load() {
		return ledger.Unavailable(f.name, op, errRefused)
	}
	return nil
}

func (f *flakyStore) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	if err := f.check("append"); err != nil {
		return ledger.Entry{}, err
	}
	return f.Memory.AppendEntry(ctx, e)
}

func (f *flakyStore) AppendRedemption(ctx context.Context, r ledger.Redemption) (ledger.Redemption, error) {
	if err := f.check("append"); err != nil {
		return ledger.Redemption{}, err
	}
	return f.Memory.AppendRedemption(ctx, r)
}

func (f *flakyStore) AppendRedemptionAbove(ctx context.Context, r ledger.Redemption, opening int64) (ledger.Redemption, error) {
	if err := f.check("append"); err != nil {
		return ledger.Redemption{}, err
	}
	return f.Memory.AppendRedemptionAbove(ctx, r, opening)
}

func (f *flakyStore) ListEntries(ctx context.Context) ([]ledger.Entry, error) {
	if err := f.check("list"); err != nil {
		return nil, err
	}
	return f.Memory.ListEntries(ctx)
}

func (f *flakyStore) ListRedemptions(ctx context.Context) ([]ledger.Redemption, error) {
	if err := f.check("list"); err != nil {
		return nil, err
	}
	return f.Memory.ListRedemptions(ctx)
}

func (f *flakyStore) RemoveEntry(ctx context.Context, id ledger.RecordID) (ledger.Entry, error) {
	if err := f.check("remove"); err != nil {
		return ledger.Entry{}, err
	}
	return f.Memory.RemoveEntry(ctx, id)
}

func (f *flakyStore) RemoveRedemption(ctx context.Context, id ledger.RecordID) (ledger.Redemption, error) {
	if err := f.check("remove"); err != nil {
		return ledger.Redemption{}, err
	}
	return f.Memory.RemoveRedemption(ctx, id)
}

func (f *flakyStore) Total(ctx context.Context) (int64, error) {
	if err := f.check("total"); err != nil {
		return 0, err
	}
	return f.Memory.Total(ctx)
}

func (f *flakyStore) Close() error {
	f.closed.Store(true)
	return nil
}

// stallingStore blocks every call until its context ends.
type stallingStore struct {
	*store.Memory
}

func (stallingStore) Name() string { return "stalling" }

func (stallingStore) Total(ctx context.Context) (int64, error) {
	<-ctx.Done()
	return 0, ledger.Unavailable("stalling", "total", ctx.Err())
}

type call struct {
	backend, op, outcome string
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []call
}

func (o *recordingObserver) BackendCall(backend, op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, call{backend, op, outcome})
}

// =============================================================================
// FALLBACK
// =============================================================================

func TestSelector_HeadUnavailable_FallbackServesDegraded(t *testing.T) {
	// GIVEN: remote (down) -> memory
	// WHEN: Adding an entry
	// THEN: Memory serves it, the result is Degraded, both attempts observed

	remote := newFlaky("remote")
	remote.down.Store(true)
	local := store.NewMemory()
	obs := &recordingObserver{}

	sel := ledger.NewSelector([]ledger.Store{remote, local},
		ledger.WithLogger(zaptest.NewLogger(t)),
		ledger.WithObserver(obs),
	)
	l := ledger.New(sel, ledger.WithIDGenerator(&seqIDs{}))

	res := l.AddEntry(context.Background(), ledger.NewEntry{PointsChange: "5"})
	require.NoError(t, res.Err)
	assert.Equal(t, ledger.StatusDegraded, res.Status)
	assert.True(t, res.Degraded())
	assert.Equal(t, store.MemoryName, res.Backend)

	total, err := local.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	assert.Equal(t, []call{
		{"remote", "add_entry", ledger.OutcomeUnavailable},
		{store.MemoryName, "add_entry", ledger.OutcomeServed},
	}, obs.calls)
}

func TestSelector_HeadHealthy_StatusOK(t *testing.T) {
	remote := newFlaky("remote")
	sel := ledger.NewSelector([]ledger.Store{remote, store.NewMemory()})
	l := ledger.New(sel)

	res := l.Balance(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, ledger.StatusOK, res.Status)
	assert.Equal(t, "remote", res.Backend)
	assert.False(t, res.Degraded())
}

func TestSelector_BusinessError_NotRetriedOnFallback(t *testing.T) {
	// GIVEN: An empty head and a fallback holding 100 points
	// WHEN: Redeeming 5 points
	// THEN: The head rejects it and the fallback is never asked

	head := newFlaky("remote")
	fallback := store.NewMemory()
	_, err := fallback.AppendEntry(context.Background(), ledger.Entry{ID: "seed", PointsChange: 100})
	require.NoError(t, err)
	obs := &recordingObserver{}

	sel := ledger.NewSelector([]ledger.Store{head, fallback}, ledger.WithObserver(obs))
	l := ledger.New(sel)

	res := l.AddRedemption(context.Background(), "toy", "5")
	assert.ErrorIs(t, res.Err, ledger.ErrInsufficientBalance)
	assert.Equal(t, ledger.StatusFailed, res.Status)
	assert.Equal(t, "remote", res.Backend)

	reds, err := fallback.ListRedemptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reds)
	assert.Equal(t, []call{{"remote", "add_redemption", ledger.OutcomeRejected}}, obs.calls)
}

func TestSelector_NotFoundOnHead_NotLookedUpInFallback(t *testing.T) {
	head := newFlaky("remote")
	fallback := store.NewMemory()
	_, err := fallback.AppendEntry(context.Background(), ledger.Entry{ID: "only-here", PointsChange: 3})
	require.NoError(t, err)

	l := ledger.New(ledger.NewSelector([]ledger.Store{head, fallback}))

	res := l.DeleteByID(context.Background(), "only-here")
	assert.ErrorIs(t, res.Err, ledger.ErrNotFound)

	total, err := fallback.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "fallback record must survive")
}

func TestSelector_NoDemotion_NextCallRetriesHead(t *testing.T) {
	// GIVEN: A head that is down for one call, then recovers
	// WHEN: Reading the balance twice
	// THEN: First read is Degraded, second is served by the head again

	head := newFlaky("remote")
	l := ledger.New(ledger.NewSelector([]ledger.Store{head, store.NewMemory()}))
	ctx := context.Background()

	head.down.Store(true)
	first := l.Balance(ctx)
	require.NoError(t, first.Err)
	assert.Equal(t, ledger.StatusDegraded, first.Status)

	head.down.Store(false)
	second := l.Balance(ctx)
	require.NoError(t, second.Err)
	assert.Equal(t, ledger.StatusOK, second.Status)
	assert.Equal(t, "remote", second.Backend)
}

func TestSelector_AllDown_Failed(t *testing.T) {
	a, b := newFlaky("a"), newFlaky("b")
	a.down.Store(true)
	b.down.Store(true)
	l := ledger.New(ledger.NewSelector([]ledger.Store{a, b}))

	res := l.History(context.Background())
	assert.ErrorIs(t, res.Err, ledger.ErrStoreUnavailable)
	assert.ErrorContains(t, res.Err, "every backend failed for list")
	assert.Equal(t, ledger.StatusFailed, res.Status)
	assert.Empty(t, res.Backend)
}

func TestSelector_NoBackends_Failed(t *testing.T) {
	l := ledger.New(ledger.NewSelector(nil))

	res := l.Balance(context.Background())
	assert.ErrorIs(t, res.Err, ledger.ErrStoreUnavailable)
}

// =============================================================================
// DEADLINES AND CANCELLATION
// =============================================================================

func TestSelector_StalledHead_TimesOutAndFallsBack(t *testing.T) {
	// GIVEN: A head that never answers and a 20ms attempt deadline
	// WHEN: Reading the balance
	// THEN: The fallback answers and the result is Degraded

	sel := ledger.NewSelector(
		[]ledger.Store{stallingStore{store.NewMemory()}, store.NewMemory()},
		ledger.WithCallTimeout(20*time.Millisecond),
	)
	l := ledger.New(sel, ledger.WithOpeningBalance(4))

	res := l.Balance(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, ledger.StatusDegraded, res.Status)
	assert.Equal(t, int64(4), res.Value)
}

func TestSelector_CanceledContext_NoAttempt(t *testing.T) {
	obs := &recordingObserver{}
	l := ledger.New(ledger.NewSelector([]ledger.Store{store.NewMemory()}, ledger.WithObserver(obs)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := l.Balance(ctx)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, obs.calls)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestSelector_Close_ClosesConnectedBackends(t *testing.T) {
	remote := newFlaky("remote")
	sel := ledger.NewSelector([]ledger.Store{remote, store.NewMemory()})

	require.NoError(t, sel.Close())
	assert.True(t, remote.closed.Load())
	assert.Len(t, sel.Backends(), 2)
}

func TestLedger_Backends_PriorityOrder(t *testing.T) {
	l := ledger.New(ledger.NewSelector([]ledger.Store{newFlaky("remote"), store.NewMemory()}))

	assert.Equal(t, []string{"remote", store.MemoryName}, l.Backends())
}
