// Package storetest is a conformance suite for ledger.Store implementations.
package storetest

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/hearth/points-ledger/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

// Entry returns an entry created minutes after a fixed epoch.
func Entry(id string, points int64, minutes int) ledger.Entry {
	return ledger.Entry{
		ID:           ledger.RecordID(id),
		Type:         ledger.DefaultEntryType,
		Description:  "entry " + id,
		PointsChange: points,
		CreatedAt:    epoch.Add(time.Duration(minutes) * time.Minute),
	}
}

// Redemption returns a redemption created minutes after a fixed epoch.
func Redemption(id string, cost int64, minutes int) ledger.Redemption {
	return ledger.Redemption{
		ID:         ledger.RecordID(id),
		GiftName:   "gift " + id,
		PointsCost: cost,
		CreatedAt:  epoch.Add(time.Duration(minutes) * time.Minute),
	}
}

// Run exercises the Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("EmptyStore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entries, err := s.ListEntries(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)

		total, err := s.Total(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})

	t.Run("AppendAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		img := "/uploads/x.png"
		e := Entry("e1", 10, 0)
		e.ImageURL = &img
		_, err := s.AppendEntry(ctx, e)
		require.NoError(t, err)
		_, err = s.AppendRedemption(ctx, Redemption("r1", 4, 1))
		require.NoError(t, err)

		entries, err := s.ListEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, e.ID, entries[0].ID)
		assert.Equal(t, e.PointsChange, entries[0].PointsChange)
		assert.True(t, e.CreatedAt.Equal(entries[0].CreatedAt))
		require.NotNil(t, entries[0].ImageURL)
		assert.Equal(t, img, *entries[0].ImageURL)

		redemptions, err := s.ListRedemptions(ctx)
		require.NoError(t, err)
		require.Len(t, redemptions, 1)
		assert.Equal(t, "gift r1", redemptions[0].GiftName)
		assert.Equal(t, int64(4), redemptions[0].PointsCost)
	})

	t.Run("TotalMatchesFold", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i, p := range []int64{10, -3, 7} {
			_, err := s.AppendEntry(ctx, Entry(string(rune('a'+i)), p, i))
			require.NoError(t, err)
		}
		_, err := s.AppendRedemption(ctx, Redemption("r", 5, 10))
		require.NoError(t, err)

		requireTotalIsFold(t, s)
		total, err := s.Total(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(9), total)
	})

	t.Run("RemoveReversesEffect", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.AppendEntry(ctx, Entry("e1", 10, 0))
		require.NoError(t, err)
		_, err = s.AppendEntry(ctx, Entry("e2", 6, 1))
		require.NoError(t, err)
		_, err = s.AppendRedemption(ctx, Redemption("r1", 4, 2))
		require.NoError(t, err)

		removed, err := s.RemoveEntry(ctx, "e2")
		require.NoError(t, err)
		assert.Equal(t, int64(6), removed.PointsChange)
		requireTotalIsFold(t, s)

		red, err := s.RemoveRedemption(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), red.PointsCost)
		requireTotalIsFold(t, s)

		total, err := s.Total(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(10), total)
	})

	t.Run("RemoveMissing_NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.AppendEntry(ctx, Entry("e1", 1, 0))
		require.NoError(t, err)

		_, err = s.RemoveEntry(ctx, "nope")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.NotErrorIs(t, err, ledger.ErrStoreUnavailable)

		// an entry id is not a redemption id
		_, err = s.RemoveRedemption(ctx, "e1")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		requireTotalIsFold(t, s)
	})

	t.Run("FloorAppender", func(t *testing.T) {
		s := newStore(t)
		fa, ok := s.(ledger.FloorAppender)
		if !ok {
			t.Skip("store does not implement FloorAppender")
		}
		ctx := context.Background()

		_, err := s.AppendEntry(ctx, Entry("e1", 5, 0))
		require.NoError(t, err)

		// opening 3 + 5 = 8 available
		_, err = fa.AppendRedemptionAbove(ctx, Redemption("r1", 9, 1), 3)
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

		_, err = fa.AppendRedemptionAbove(ctx, Redemption("r2", 8, 2), 3)
		require.NoError(t, err)

		redemptions, err := s.ListRedemptions(ctx)
		require.NoError(t, err)
		ids := make([]ledger.RecordID, len(redemptions))
		for i, r := range redemptions {
			ids[i] = r.ID
		}
		assert.Equal(t, []ledger.RecordID{"r2"}, ids)
	})
}

func requireTotalIsFold(t *testing.T, s ledger.Store) {
	t.Helper()
	ctx := context.Background()

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	redemptions, err := s.ListRedemptions(ctx)
	require.NoError(t, err)
	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.ComputeTotal(entries, redemptions), total)
}

// IDs returns the ids of entries, sorted.
func IDs(entries []ledger.Entry) []ledger.RecordID {
	ids := make([]ledger.RecordID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	slices.Sort(ids)
	return ids
}
