/*
ledger.go - Entries, redemptions and the derived balance

PURPOSE:
  The Ledger is the only owner of entry and redemption lifetimes. Every
  operation runs through the Selector, so callers always learn which
  backend served them and whether it was a fallback.

CRITICAL INVARIANTS:
  1. Balance == opening + ComputeTotal(current entries, current redemptions)
  2. A redemption is appended only if it does not take the balance below 0
  3. Deleting a record moves the balance by the opposite of its effect

ATOMICITY:
  Mutations take the write side of an RWMutex, so the redemption check and
  the append cannot interleave with another writer in this process. ListAll
  and History take the read side, so a snapshot never mixes the collections
  from before and after a mutation. Across processes only the SQL store
  guards the floor: its AppendRedemptionAbove holds a database lock for the
  check and the insert. The file and redis stores give no cross-process
  guarantee.

EXAMPLE FLOW (opening balance 13):
  AddEntry("chores", "10")    -> balance 23
  AddRedemption("toy", "15")  -> balance 8
  AddRedemption("book", "20") -> ErrInsufficientBalance, balance 8
  DeleteByID(chores.ID)       -> balance -2
*/
package ledger

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger performs typed CRUD over both collections.
type Ledger struct {
	sel     *Selector
	opening int64
	ids     IDGenerator
	now     func() time.Time

	mu sync.RWMutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithOpeningBalance sets the balance the household starts from.
func WithOpeningBalance(points int64) Option {
	return func(l *Ledger) { l.opening = points }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(l *Ledger) { l.ids = ids }
}

// New creates a ledger over the selector's chain. Without WithIDGenerator
// ids come from snowflake node 0.
func New(sel *Selector, opts ...Option) *Ledger {
	l := &Ledger{
		sel: sel,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ids == nil {
		// node 0 is always valid
		ids, _ := NewSnowflakeIDs(0)
		l.ids = ids
	}
	return l
}

// OpeningBalance returns the configured opening balance.
func (l *Ledger) OpeningBalance() int64 {
	return l.opening
}

// Backends names the chain in priority order.
func (l *Ledger) Backends() []string {
	stores := l.sel.Backends()
	names := make([]string, len(stores))
	for i, st := range stores {
		names[i] = st.Name()
	}
	return names
}

// =============================================================================
// WRITES
// =============================================================================

// AddEntry validates and appends an entry.
func (l *Ledger) AddEntry(ctx context.Context, in NewEntry) Result[Entry] {
	points, err := ParsePoints("points_change", in.PointsChange)
	if err != nil {
		return Result[Entry]{Status: StatusFailed, Err: err}
	}

	typ := strings.TrimSpace(in.Type)
	if typ == "" {
		typ = DefaultEntryType
	}
	entry := Entry{
		ID:           l.ids.NewID(),
		Type:         typ,
		Description:  in.Description,
		PointsChange: points,
		ImageURL:     in.ImageURL,
		CreatedAt:    l.now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return run(ctx, l.sel, "add_entry", func(ctx context.Context, st Store) (Entry, error) {
		return st.AppendEntry(ctx, entry)
	})
}

// AddRedemption validates a redemption, checks it against the balance of
// the serving backend and appends it.
func (l *Ledger) AddRedemption(ctx context.Context, giftName, pointsCost string) Result[Redemption] {
	name := strings.TrimSpace(giftName)
	if name == "" {
		return Result[Redemption]{Status: StatusFailed, Err: &MalformedInputError{
			Field: "gift_name", Value: giftName, Reason: "required",
		}}
	}
	cost, err := ParseCost("points_cost", pointsCost)
	if err != nil {
		return Result[Redemption]{Status: StatusFailed, Err: err}
	}

	red := Redemption{
		ID:         l.ids.NewID(),
		GiftName:   name,
		PointsCost: cost,
		CreatedAt:  l.now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return run(ctx, l.sel, "add_redemption", func(ctx context.Context, st Store) (Redemption, error) {
		if fa, ok := st.(FloorAppender); ok {
			return fa.AppendRedemptionAbove(ctx, red, l.opening)
		}
		total, err := st.Total(ctx)
		if err != nil {
			return Redemption{}, err
		}
		if err := CheckRedemption(l.opening+total, red.PointsCost); err != nil {
			return Redemption{}, err
		}
		return st.AppendRedemption(ctx, red)
	})
}

// DeleteByID removes the record with id from whichever collection holds
// it, entries first.
func (l *Ledger) DeleteByID(ctx context.Context, id RecordID) Result[Deletion] {
	l.mu.Lock()
	defer l.mu.Unlock()

	return run(ctx, l.sel, "delete", func(ctx context.Context, st Store) (Deletion, error) {
		e, err := st.RemoveEntry(ctx, id)
		if err == nil {
			return Deletion{ID: id, Kind: CollectionEntries, Entry: &e}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Deletion{}, err
		}

		r, err := st.RemoveRedemption(ctx, id)
		if err == nil {
			return Deletion{ID: id, Kind: CollectionRedemptions, Redemption: &r}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Deletion{}, err
		}
		return Deletion{}, &RecordNotFoundError{ID: id}
	})
}

// =============================================================================
// READS
// =============================================================================

// ListAll returns both collections, unmerged, from one backend.
func (l *Ledger) ListAll(ctx context.Context) Result[Snapshot] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return run(ctx, l.sel, "list", listBoth)
}

// Balance returns the opening balance plus the serving backend's total.
func (l *Ledger) Balance(ctx context.Context) Result[int64] {
	res := run(ctx, l.sel, "balance", func(ctx context.Context, st Store) (int64, error) {
		return st.Total(ctx)
	})
	return mapResult(res, func(total int64) int64 { return l.opening + total })
}

// History returns the unified feed, newest first.
func (l *Ledger) History(ctx context.Context) Result[[]HistoryItem] {
	return mapResult(l.ListAll(ctx), func(s Snapshot) []HistoryItem {
		return slices.Collect(Merge(s.Entries, s.Redemptions))
	})
}

func listBoth(ctx context.Context, st Store) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Entries, err = st.ListEntries(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Redemptions, err = st.ListRedemptions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
