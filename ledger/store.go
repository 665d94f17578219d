/*
store.go - Persistence contract for entries and redemptions

PURPOSE:
  Defines the interface between the ledger and its backends. Every backend
  (transient memory, JSON file, SQL tables, redis hashes) implements Store
  and is interchangeable behind the Selector.

CONTRACT:
  - Append assigns nothing: the Ledger sets id and created_at before calling.
  - List order is unspecified; callers sort.
  - Remove returns the removed record, or a *RecordNotFoundError.
  - Total returns ComputeTotal over the records currently persisted. Local
    backends answer from a Counter, remote backends fold live.
  - A backend that cannot be reached returns an error matching
    ErrStoreUnavailable, and nothing else does.

IMPLEMENTATIONS:
  - ledger/store/memory.go: transient, always available
  - store/file: single JSON document
  - store/sqldb: gorm tables (mysql, postgres, sqlite)
  - store/redis: redis hashes
*/
package ledger

import "context"

// Store persists the two record collections.
type Store interface {
	// Name identifies the backend in results, logs and metrics.
	Name() string

	AppendEntry(ctx context.Context, e Entry) (Entry, error)
	AppendRedemption(ctx context.Context, r Redemption) (Redemption, error)

	ListEntries(ctx context.Context) ([]Entry, error)
	ListRedemptions(ctx context.Context) ([]Redemption, error)

	// RemoveEntry deletes an entry and reverses its effect on any counter.
	RemoveEntry(ctx context.Context, id RecordID) (Entry, error)

	// RemoveRedemption deletes a redemption and restores its cost on any
	// counter.
	RemoveRedemption(ctx context.Context, id RecordID) (Redemption, error)

	// Total is sum(points_change) - sum(points_cost), without the opening
	// balance.
	Total(ctx context.Context) (int64, error)
}

// FloorAppender is implemented by stores that can check the balance and
// append a redemption as one step, atomic against other callers of the
// same store. Only the SQL store extends that to other processes.
// opening is added to the stored total before comparing.
type FloorAppender interface {
	AppendRedemptionAbove(ctx context.Context, r Redemption, opening int64) (Redemption, error)
}

// Closer is implemented by stores holding a connection.
type Closer interface {
	Close() error
}
