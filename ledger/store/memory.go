// Package store provides the transient Store implementation.
package store

import (
	"context"
	"slices"
	"sync"

	"github.com/hearth/points-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (fallback of last resort, tests)
// =============================================================================

// MemoryName is the backend name reported by Memory.
const MemoryName = "memory"

// Memory keeps both collections in process memory. Contents are lost on
// restart. It is never unavailable.
type Memory struct {
	mu          sync.RWMutex
	entries     []ledger.Entry
	redemptions []ledger.Redemption
	counter     ledger.Counter
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Name() string { return MemoryName }

// AppendEntry adds an entry in insertion order.
func (m *Memory) AppendEntry(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	m.counter.AddEntry(e)
	return e, nil
}

// AppendRedemption adds a redemption in insertion order.
func (m *Memory) AppendRedemption(_ context.Context, r ledger.Redemption) (ledger.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.redemptions = append(m.redemptions, r)
	m.counter.AddRedemption(r)
	return r, nil
}

// AppendRedemptionAbove checks and appends under the store lock.
func (m *Memory) AppendRedemptionAbove(_ context.Context, r ledger.Redemption, opening int64) (ledger.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ledger.CheckRedemption(opening+m.counter.Value(), r.PointsCost); err != nil {
		return ledger.Redemption{}, err
	}
	m.redemptions = append(m.redemptions, r)
	m.counter.AddRedemption(r)
	return r, nil
}

func (m *Memory) ListEntries(_ context.Context) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries), nil
}

func (m *Memory) ListRedemptions(_ context.Context) ([]ledger.Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.redemptions), nil
}

func (m *Memory) RemoveEntry(_ context.Context, id ledger.RecordID) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.entries, func(e ledger.Entry) bool { return e.ID == id })
	if i < 0 {
		return ledger.Entry{}, &ledger.RecordNotFoundError{Collection: ledger.CollectionEntries, ID: id}
	}
	e := m.entries[i]
	m.entries = slices.Delete(m.entries, i, i+1)
	m.counter.RemoveEntry(e)
	return e, nil
}

func (m *Memory) RemoveRedemption(_ context.Context, id ledger.RecordID) (ledger.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.redemptions, func(r ledger.Redemption) bool { return r.ID == id })
	if i < 0 {
		return ledger.Redemption{}, &ledger.RecordNotFoundError{Collection: ledger.CollectionRedemptions, ID: id}
	}
	r := m.redemptions[i]
	m.redemptions = slices.Delete(m.redemptions, i, i+1)
	m.counter.RemoveRedemption(r)
	return r, nil
}

// Total answers from the running counter.
func (m *Memory) Total(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counter.Value(), nil
}
