// Package store provides an in-memory RecordStore for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/timebank/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[ledger.RecordID]*ledger.OvertimeRecord
	links   []ledger.RedemptionLink
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[ledger.RecordID]*ledger.OvertimeRecord),
	}
}

func (m *Memory) CreateRecord(_ context.Context, r *ledger.OvertimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(r)
}

func (m *Memory) createLocked(r *ledger.OvertimeRecord) error {
	cp := cloneRecord(r)
	cp.Version = 1
	m.records[r.ID] = cp
	r.Version = 1
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id ledger.RecordID) (*ledger.OvertimeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id ledger.RecordID) (*ledger.OvertimeRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, ledger.ErrRecordNotFound
	}
	return cloneRecord(r), nil
}

func (m *Memory) UpdateRecord(_ context.Context, r *ledger.OvertimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(r)
}

func (m *Memory) updateLocked(r *ledger.OvertimeRecord) error {
	stored, ok := m.records[r.ID]
	if !ok {
		return ledger.ErrRecordNotFound
	}
	if stored.Version != r.Version {
		return ledger.ErrConcurrentModification
	}
	cp := cloneRecord(r)
	cp.Version = stored.Version + 1
	m.records[r.ID] = cp
	r.Version = cp.Version
	return nil
}

func (m *Memory) DeleteRecord(_ context.Context, id ledger.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id ledger.RecordID) error {
	if _, ok := m.records[id]; !ok {
		return ledger.ErrRecordNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) ListByUser(_ context.Context, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByUserLocked(userID), nil
}

func (m *Memory) listByUserLocked(userID ledger.UserID) []*ledger.OvertimeRecord {
	var result []*ledger.OvertimeRecord
	for _, r := range m.records {
		if r.UserID == userID {
			result = append(result, cloneRecord(r))
		}
	}
	sortRecords(result)
	return result
}

func (m *Memory) ListApprovedEarnings(_ context.Context, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listApprovedEarningsLocked(userID), nil
}

func (m *Memory) listApprovedEarningsLocked(userID ledger.UserID) []*ledger.OvertimeRecord {
	var result []*ledger.OvertimeRecord
	for _, r := range m.records {
		if r.UserID != userID || r.Status != ledger.StatusApproved || !r.IsEarning() {
			continue
		}
		if !r.Available().IsPositive() {
			continue
		}
		result = append(result, cloneRecord(r))
	}
	sortRecords(result)
	return result
}

// sortRecords orders oldest date first, created_at breaking ties. This is
// the FIFO default allocation order.
func sortRecords(records []*ledger.OvertimeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

func (m *Memory) CreateLinks(_ context.Context, links []ledger.RedemptionLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, links...)
	return nil
}

func (m *Memory) LinksByRedemption(_ context.Context, redemptionID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linksByRedemptionLocked(redemptionID), nil
}

func (m *Memory) linksByRedemptionLocked(redemptionID ledger.RecordID) []ledger.RedemptionLink {
	var result []ledger.RedemptionLink
	for _, l := range m.links {
		if l.RedemptionID == redemptionID {
			result = append(result, l)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result
}

func (m *Memory) LinksBySource(_ context.Context, sourceID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.RedemptionLink
	for _, l := range m.links {
		if l.SourceID == sourceID {
			result = append(result, l)
		}
	}
	return result, nil
}

func (m *Memory) DeleteLinksByRedemption(_ context.Context, redemptionID ledger.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.links[:0]
	for _, l := range m.links {
		if l.RedemptionID != redemptionID {
			kept = append(kept, l)
		}
	}
	m.links = kept
	return nil
}

func cloneRecord(r *ledger.OvertimeRecord) *ledger.OvertimeRecord {
	cp := *r
	if r.CandidateIDs != nil {
		cp.CandidateIDs = append([]ledger.RecordID(nil), r.CandidateIDs...)
	}
	return &cp
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + rollback on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.RecordStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	records map[ledger.RecordID]*ledger.OvertimeRecord
	links   []ledger.RedemptionLink
}

func (tm *TxMemory) snapshot() memorySnapshot {
	records := make(map[ledger.RecordID]*ledger.OvertimeRecord, len(tm.records))
	for id, r := range tm.records {
		records[id] = cloneRecord(r)
	}
	links := append([]ledger.RedemptionLink(nil), tm.links...)
	return memorySnapshot{records: records, links: links}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.records = s.records
	tm.links = s.links
}

// txMemoryView operates on the parent without re-locking; the parent mutex
// is held for the whole transaction.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateRecord(_ context.Context, r *ledger.OvertimeRecord) error {
	return tv.parent.createLocked(r)
}

func (tv *txMemoryView) GetRecord(_ context.Context, id ledger.RecordID) (*ledger.OvertimeRecord, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) UpdateRecord(_ context.Context, r *ledger.OvertimeRecord) error {
	return tv.parent.updateLocked(r)
}

func (tv *txMemoryView) DeleteRecord(_ context.Context, id ledger.RecordID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) ListByUser(_ context.Context, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	return tv.parent.listByUserLocked(userID), nil
}

func (tv *txMemoryView) ListApprovedEarnings(_ context.Context, userID ledger.UserID) ([]*ledger.OvertimeRecord, error) {
	return tv.parent.listApprovedEarningsLocked(userID), nil
}

func (tv *txMemoryView) CreateLinks(_ context.Context, links []ledger.RedemptionLink) error {
	tv.parent.links = append(tv.parent.links, links...)
	return nil
}

func (tv *txMemoryView) LinksByRedemption(_ context.Context, redemptionID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	return tv.parent.linksByRedemptionLocked(redemptionID), nil
}

func (tv *txMemoryView) LinksBySource(_ context.Context, sourceID ledger.RecordID) ([]ledger.RedemptionLink, error) {
	var result []ledger.RedemptionLink
	for _, l := range tv.parent.links {
		if l.SourceID == sourceID {
			result = append(result, l)
		}
	}
	return result, nil
}

func (tv *txMemoryView) DeleteLinksByRedemption(_ context.Context, redemptionID ledger.RecordID) error {
	kept := tv.parent.links[:0]
	for _, l := range tv.parent.links {
		if l.RedemptionID != redemptionID {
			kept = append(kept, l)
		}
	}
	tv.parent.links = kept
	return nil
}
