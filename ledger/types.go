/*
Package ledger provides the points ledger and balance reconciliation engine.

PURPOSE:
  A household earns and loses points through free-form entries and spends
  them through redemptions. This package owns both record streams, derives
  the single balance from them, guards spending, and runs every operation
  against an ordered chain of interchangeable stores.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: signed point change ("did the dishes" +5, "late for school" -3)
  - Redemption: points exchanged for a named reward
  - HistoryItem: presentation row merging both streams
  - RecordID: opaque identifier shared by both streams

BALANCE:
  Balance is never stored as the source of truth. It is always

    opening + sum(entry.points_change) - sum(redemption.points_cost)

  Local stores keep a running Counter for cheap reads, but the Counter is
  rebuilt from the records on load and moved by exactly the fold's delta on
  every mutation.

SEE ALSO:
  - store.go: Store contract implemented by every backend
  - ledger.go: Operations
  - selector.go: Fallback chain
  - history.go: Unified history view
*/
package ledger

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// RecordID identifies an entry or a redemption. New ids are snowflake
// decimals; legacy documents may carry millisecond timestamps or Mongo
// object ids, all of which are kept verbatim.
type RecordID string

func (id RecordID) String() string { return string(id) }

// Collection names one of the two logical record streams.
type Collection string

const (
	CollectionEntries     Collection = "entries"
	CollectionRedemptions Collection = "redemptions"
)

// DefaultEntryType is used when an entry is submitted without a type.
const DefaultEntryType = "default"

// HistoryTypeRedemption tags redemption rows in the unified history.
const HistoryTypeRedemption = "redemption"

// =============================================================================
// RECORDS
// =============================================================================

// Entry earns (positive) or deducts (negative) points.
type Entry struct {
	ID           RecordID  `json:"id"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	PointsChange int64     `json:"points_change"`
	ImageURL     *string   `json:"image_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// Redemption spends points on a reward. PointsCost is always positive.
type Redemption struct {
	ID         RecordID  `json:"id"`
	GiftName   string    `json:"gift_name"`
	PointsCost int64     `json:"points_cost"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryItem is one row of the unified feed. Redemptions appear with a
// negated cost and no image.
type HistoryItem struct {
	ID           RecordID  `json:"id"`
	Type         string    `json:"type"`
	Description  string    `json:"description"`
	PointsChange int64     `json:"points_change"`
	ImageURL     *string   `json:"image_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewEntry is the unvalidated input for AddEntry. PointsChange is kept as
// text because it arrives from form fields.
type NewEntry struct {
	Type         string
	Description  string
	PointsChange string
	ImageURL     *string
}

// Snapshot holds both collections as read from one backend.
type Snapshot struct {
	Entries     []Entry
	Redemptions []Redemption
}

// Total folds the snapshot without an opening balance.
func (s Snapshot) Total() int64 {
	return ComputeTotal(s.Entries, s.Redemptions)
}

// =============================================================================
// DELETION
// =============================================================================

// Deletion describes a removed record. Exactly one of Entry and Redemption
// is set.
type Deletion struct {
	ID         RecordID    `json:"id"`
	Kind       Collection  `json:"kind"`
	Entry      *Entry      `json:"entry,omitempty"`
	Redemption *Redemption `json:"redemption,omitempty"`
}

// BalanceDelta is how much the balance moved because of the deletion.
func (d Deletion) BalanceDelta() int64 {
	switch {
	case d.Entry != nil:
		return -d.Entry.PointsChange
	case d.Redemption != nil:
		return d.Redemption.PointsCost
	}
	return 0
}
