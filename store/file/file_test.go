package file_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hearth/points-ledger/ledger"
	"github.com/hearth/points-ledger/ledger/store"
	"github.com/hearth/points-ledger/ledger/storetest"
	"github.com/hearth/points-ledger/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) (*file.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "points.json")
	return file.New(path), path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFile_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		s, _ := newTestStore(t)
		return s
	})
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestFile_RoundTrip_ReloadSeesSameRecords(t *testing.T) {
	// GIVEN: A store with entries and a redemption written to disk
	// WHEN: A fresh store opens the same file
	// THEN: It sees the same records and the same total

	s, path := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendEntry(ctx, storetest.Entry("e1", 10, 0))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, storetest.Entry("e2", -2, 1))
	require.NoError(t, err)
	_, err = s.AppendRedemption(ctx, storetest.Redemption("r1", 5, 2))
	require.NoError(t, err)

	reopened := file.New(path)
	entries, err := reopened.ListEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.RecordID{"e1", "e2"}, storetest.IDs(entries))

	redemptions, err := reopened.ListRedemptions(ctx)
	require.NoError(t, err)
	require.Len(t, redemptions, 1)
	assert.Equal(t, int64(5), redemptions[0].PointsCost)

	total, err := reopened.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestFile_WritesCurrentLayout(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendEntry(ctx, storetest.Entry("e1", 7, 0))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "entries")
	assert.Contains(t, doc, "redemptions")
	assert.JSONEq(t, "7", string(doc["total_points"]))
	assert.JSONEq(t, "[]", string(doc["redemptions"]))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are renamed or removed")
}

func TestFile_CorruptedTotal_IsIgnored(t *testing.T) {
	// GIVEN: A file whose total_points was edited by hand
	// WHEN: Loading it
	// THEN: The total is recomputed from the records

	s, path := newTestStore(t)
	writeFile(t, path, `{
  "entries": [{"id": "e1", "type": "chores", "description": "dishes", "points_change": 10, "image_url": null, "created_at": "2025-03-01T09:00:00Z"}],
  "redemptions": [{"id": "r1", "gift_name": "toy", "points_cost": 4, "created_at": "2025-03-01T09:05:00Z"}],
  "total_points": 12345
}`)

	total, err := s.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
}

func TestFile_MissingFile_IsEmptyLedger(t *testing.T) {
	s, path := newTestStore(t)

	total, err := s.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "reads do not create the file")
}

func TestFile_WhitespaceFile_IsEmptyLedger(t *testing.T) {
	s, path := newTestStore(t)
	writeFile(t, path, "  \n")

	entries, err := s.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// UNAVAILABILITY
// =============================================================================

func TestFile_CorruptFile_Unavailable(t *testing.T) {
	for name, content := range map[string]string{
		"truncated":  `{"entries": [`,
		"not object": `[1, 2, 3]`,
		"plain text": `hello`,
	} {
		t.Run(name, func(t *testing.T) {
			s, path := newTestStore(t)
			writeFile(t, path, content)

			_, err := s.Total(context.Background())
			assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

			var unavailable *ledger.UnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, file.Name, unavailable.Backend)
			assert.Equal(t, "decode", unavailable.Op)
		})
	}
}

func TestFile_CorruptFile_FallsBackToMemory(t *testing.T) {
	// GIVEN: file (corrupt) -> memory
	// WHEN: Adding an entry through the ledger
	// THEN: Memory serves it and the corrupt file is left untouched

	s, path := newTestStore(t)
	writeFile(t, path, `{"entries": [`)

	l := ledger.New(ledger.NewSelector([]ledger.Store{s, store.NewMemory()}))
	res := l.AddEntry(context.Background(), ledger.NewEntry{PointsChange: "3"})
	require.NoError(t, res.Err)
	assert.True(t, res.Degraded())
	assert.Equal(t, store.MemoryName, res.Backend)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"entries": [`, string(raw))
}

func TestFile_CanceledContext_Unavailable(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AppendEntry(ctx, storetest.Entry("e1", 1, 0))
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// LEGACY DOCUMENTS
// =============================================================================

const legacyDocument = `{
  "pointsHistory": [
    {"id": 1714000000000, "type": "chores", "description": "dishes", "points_change": 10, "image_url": "/uploads/1714000000000-dishes.jpg", "created_at": "2024-04-25T00:00:00.000Z"},
    {"_id": {"$oid": "662a1f00aa"}, "desc": "late for school", "pointsChange": "-3", "createdAt": 1714000100000}
  ],
  "redemptions": [
    {"id": 1714000200000, "gift_name": "toy", "points_cost": "5"}
  ],
  "totalPoints": 999
}`

func TestFile_LegacyDocument_Loads(t *testing.T) {
	// GIVEN: A file written by an older deployment (camelCase keys,
	//        numeric ids, string points, Mongo object ids)
	// WHEN: Loading it
	// THEN: Every record is recovered and the total is recomputed

	s, path := newTestStore(t)
	writeFile(t, path, legacyDocument)
	ctx := context.Background()

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	dishes := entries[0]
	assert.Equal(t, ledger.RecordID("1714000000000"), dishes.ID)
	assert.Equal(t, "chores", dishes.Type)
	assert.Equal(t, int64(10), dishes.PointsChange)
	require.NotNil(t, dishes.ImageURL)
	assert.Equal(t, "/uploads/1714000000000-dishes.jpg", *dishes.ImageURL)
	assert.Equal(t, time.Date(2024, time.April, 25, 0, 0, 0, 0, time.UTC), dishes.CreatedAt)

	late := entries[1]
	assert.Equal(t, ledger.RecordID("662a1f00aa"), late.ID)
	assert.Equal(t, ledger.DefaultEntryType, late.Type)
	assert.Equal(t, "late for school", late.Description)
	assert.Equal(t, int64(-3), late.PointsChange)
	assert.Nil(t, late.ImageURL)
	assert.Equal(t, time.UnixMilli(1714000100000).UTC(), late.CreatedAt)

	redemptions, err := s.ListRedemptions(ctx)
	require.NoError(t, err)
	require.Len(t, redemptions, 1)
	assert.Equal(t, "toy", redemptions[0].GiftName)
	assert.Equal(t, int64(5), redemptions[0].PointsCost)
	assert.Equal(t, time.UnixMilli(1714000200000).UTC(), redemptions[0].CreatedAt, "timestamp recovered from the id")

	total, err := s.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestFile_LegacyDocument_DeleteByNumericID(t *testing.T) {
	s, path := newTestStore(t)
	writeFile(t, path, legacyDocument)

	l := ledger.New(ledger.NewSelector([]ledger.Store{s}))
	res := l.DeleteByID(context.Background(), "1714000200000")
	require.NoError(t, res.Err)
	assert.Equal(t, ledger.CollectionRedemptions, res.Value.Kind)

	total, err := s.Total(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
}

func TestFile_Reconcile_RewritesLegacyDocument(t *testing.T) {
	s, path := newTestStore(t)
	writeFile(t, path, legacyDocument)

	stored, recomputed, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(999), stored)
	assert.Equal(t, int64(2), recomputed)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Entries     []ledger.Entry      `json:"entries"`
		Redemptions []ledger.Redemption `json:"redemptions"`
		TotalPoints int64               `json:"total_points"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc.Entries, 2)
	assert.Len(t, doc.Redemptions, 1)
	assert.Equal(t, int64(2), doc.TotalPoints)

	stored, recomputed, err = s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stored, recomputed, "second pass finds no drift")
}
