/*
balance.go - Balance calculation and the running counter

PURPOSE:
  ComputeTotal is the authoritative fold over both collections. Counter is
  the denormalized running total local stores keep for cheap reads; it must
  move by exactly the delta the fold would produce.

COUNTER DELTAS:
  append entry        +points_change
  append redemption   -points_cost
  remove entry        -points_change
  remove redemption   +points_cost

INVARIANT:
  After any sequence of mutations, Counter.Value() == ComputeTotal(current).
  On load, stores call Reset to rebuild the counter from the records rather
  than trusting a persisted total.
*/
package ledger

// ComputeTotal returns sum(entries.points_change) - sum(redemptions.points_cost).
func ComputeTotal(entries []Entry, redemptions []Redemption) int64 {
	var total int64
	for _, e := range entries {
		total += e.PointsChange
	}
	for _, r := range redemptions {
		total -= r.PointsCost
	}
	return total
}

// Counter is a running total kept equal to ComputeTotal. It is not safe for
// concurrent use; the owning store guards it with its own lock.
type Counter struct {
	total int64
}

// Value returns the current total.
func (c *Counter) Value() int64 { return c.total }

// AddEntry applies a newly appended entry.
func (c *Counter) AddEntry(e Entry) { c.total += e.PointsChange }

// AddRedemption applies a newly appended redemption.
func (c *Counter) AddRedemption(r Redemption) { c.total -= r.PointsCost }

// RemoveEntry reverses a deleted entry.
func (c *Counter) RemoveEntry(e Entry) { c.total -= e.PointsChange }

// RemoveRedemption reverses a deleted redemption: the spend is undone.
func (c *Counter) RemoveRedemption(r Redemption) { c.total += r.PointsCost }

// Reset rebuilds the counter by folding the given records.
func (c *Counter) Reset(entries []Entry, redemptions []Redemption) {
	c.total = ComputeTotal(entries, redemptions)
}
