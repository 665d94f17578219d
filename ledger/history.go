package ledger

import (
	"iter"
	"slices"
)

// Merge builds the unified history: entries as they are, redemptions with a
// negated cost, newest first. Ties keep input order, entries before
// redemptions. The returned sequence can be ranged more than once.
func Merge(entries []Entry, redemptions []Redemption) iter.Seq[HistoryItem] {
	items := make([]HistoryItem, 0, len(entries)+len(redemptions))
	for _, e := range entries {
		items = append(items, entryItem(e))
	}
	for _, r := range redemptions {
		items = append(items, redemptionItem(r))
	}
	slices.SortStableFunc(items, func(a, b HistoryItem) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return slices.Values(items)
}

func entryItem(e Entry) HistoryItem {
	typ := e.Type
	if typ == "" {
		typ = DefaultEntryType
	}
	return HistoryItem{
		ID:           e.ID,
		Type:         typ,
		Description:  e.Description,
		PointsChange: e.PointsChange,
		ImageURL:     e.ImageURL,
		CreatedAt:    e.CreatedAt,
	}
}

func redemptionItem(r Redemption) HistoryItem {
	return HistoryItem{
		ID:           r.ID,
		Type:         HistoryTypeRedemption,
		Description:  r.GiftName,
		PointsChange: -r.PointsCost,
		CreatedAt:    r.CreatedAt,
	}
}
