/*
Package file provides a Store backed by a single JSON document.

PURPOSE:
  Keeps the household ledger on local disk so it survives restarts when no
  remote store is reachable.

DOCUMENT LAYOUT:
  {
    "entries":      [ {id, type, description, points_change, image_url, created_at} ],
    "redemptions":  [ {id, gift_name, points_cost, created_at} ],
    "total_points": 8
  }

  total_points is written for humans and older readers. It is never
  trusted: every load rebuilds the counter from the two collections.

ACCESS PATTERN:
  Every operation reads the whole document; every mutation writes it back
  in full (temp file + rename in the same directory). Concurrent writers in
  other processes are last-writer-wins.

LEGACY DOCUMENTS:
  Older deployments wrote the same concepts under other names. See
  legacy.go for the aliases accepted on load.
*/
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/hearth/points-ledger/ledger"
)

// Name is the backend name reported by Store.
const Name = "file"

// Store is a JSON-file backed ledger.Store.
type Store struct {
	path string
	mu   sync.RWMutex
}

// New creates a store for the document at path. The file and its parent
// directories are created on the first write.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

func (s *Store) Name() string { return Name }

// =============================================================================
// DOCUMENT
// =============================================================================

type document struct {
	Entries     []ledger.Entry      `json:"entries"`
	Redemptions []ledger.Redemption `json:"redemptions"`
	TotalPoints int64               `json:"total_points"`

	counter ledger.Counter
}

// load reads and parses the document. A missing file is an empty ledger.
func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &document{Entries: []ledger.Entry{}, Redemptions: []ledger.Redemption{}}, nil
	}
	if err != nil {
		return nil, ledger.Unavailable(Name, "read", err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, ledger.Unavailable(Name, "decode", fmt.Errorf("%s: %w", s.path, err))
	}
	doc.counter.Reset(doc.Entries, doc.Redemptions)
	return doc, nil
}

// save writes the whole document with the counter as total_points.
func (s *Store) save(doc *document) error {
	doc.TotalPoints = doc.counter.Value()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ledger.Unavailable(Name, "encode", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ledger.Unavailable(Name, "mkdir", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return ledger.Unavailable(Name, "write", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ledger.Unavailable(Name, "write", err)
	}
	if err := tmp.Close(); err != nil {
		return ledger.Unavailable(Name, "write", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return ledger.Unavailable(Name, "rename", err)
	}
	return nil
}

// mutate loads the document, applies fn and saves the result when fn
// succeeds.
func (s *Store) mutate(ctx context.Context, fn func(doc *document) error) error {
	if err := ctx.Err(); err != nil {
		return ledger.Unavailable(Name, "mutate", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (s *Store) read(ctx context.Context) (*document, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.Unavailable(Name, "read", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

// =============================================================================
// ledger.Store
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	err := s.mutate(ctx, func(doc *document) error {
		doc.Entries = append(doc.Entries, e)
		doc.counter.AddEntry(e)
		return nil
	})
	return e, err
}

func (s *Store) AppendRedemption(ctx context.Context, r ledger.Redemption) (ledger.Redemption, error) {
	err := s.mutate(ctx, func(doc *document) error {
		doc.Redemptions = append(doc.Redemptions, r)
		doc.counter.AddRedemption(r)
		return nil
	})
	return r, err
}

// AppendRedemptionAbove checks the balance and appends within one
// read-modify-write of the document.
func (s *Store) AppendRedemptionAbove(ctx context.Context, r ledger.Redemption, opening int64) (ledger.Redemption, error) {
	err := s.mutate(ctx, func(doc *document) error {
		if err := ledger.CheckRedemption(opening+doc.counter.Value(), r.PointsCost); err != nil {
			return err
		}
		doc.Redemptions = append(doc.Redemptions, r)
		doc.counter.AddRedemption(r)
		return nil
	})
	if err != nil {
		return ledger.Redemption{}, err
	}
	return r, nil
}

func (s *Store) ListEntries(ctx context.Context) ([]ledger.Entry, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

func (s *Store) ListRedemptions(ctx context.Context) ([]ledger.Redemption, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Redemptions, nil
}

func (s *Store) RemoveEntry(ctx context.Context, id ledger.RecordID) (ledger.Entry, error) {
	var removed ledger.Entry
	err := s.mutate(ctx, func(doc *document) error {
		i := slices.IndexFunc(doc.Entries, func(e ledger.Entry) bool { return e.ID == id })
		if i < 0 {
			return &ledger.RecordNotFoundError{Collection: ledger.CollectionEntries, ID: id}
		}
		removed = doc.Entries[i]
		doc.Entries = slices.Delete(doc.Entries, i, i+1)
		doc.counter.RemoveEntry(removed)
		return nil
	})
	return removed, err
}

func (s *Store) RemoveRedemption(ctx context.Context, id ledger.RecordID) (ledger.Redemption, error) {
	var removed ledger.Redemption
	err := s.mutate(ctx, func(doc *document) error {
		i := slices.IndexFunc(doc.Redemptions, func(r ledger.Redemption) bool { return r.ID == id })
		if i < 0 {
			return &ledger.RecordNotFoundError{Collection: ledger.CollectionRedemptions, ID: id}
		}
		removed = doc.Redemptions[i]
		doc.Redemptions = slices.Delete(doc.Redemptions, i, i+1)
		doc.counter.RemoveRedemption(removed)
		return nil
	})
	return removed, err
}

// Total is the counter rebuilt on load.
func (s *Store) Total(ctx context.Context) (int64, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return 0, err
	}
	return doc.counter.Value(), nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reconcile rewrites the document in the current layout with a recomputed
// total_points. It returns the total that was stored before and the
// recomputed one.
func (s *Store) Reconcile(ctx context.Context) (stored, recomputed int64, err error) {
	err = s.mutate(ctx, func(doc *document) error {
		stored = doc.TotalPoints
		recomputed = doc.counter.Value()
		return nil
	})
	return stored, recomputed, err
}
