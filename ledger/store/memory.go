// Package store provides an in-memory implementation of the ledger
// persistence contracts, used by tests and local development. It mirrors
// the constraints the SQLite store enforces with indexes and triggers:
// append-only events and one event chain per sales record.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/barflow/inventory-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	events    []ledger.ConsumptionEvent
	eventByID map[ledger.EventID]int
	salesRef  map[ledger.SalesRecordID]bool

	sales map[ledger.SalesRecordID]ledger.SalesRecord

	items       map[ledger.ItemID]ledger.InventoryItem
	mappings    map[string][]ledger.ItemMapping
	assignments map[ledger.TapLineID][]ledger.TapAssignment
	prices      map[ledger.ItemID][]ledger.PricePoint
	profiles    map[ledger.ProfileID]ledger.PourProfile
	kegs        map[ledger.KegID]ledger.KegInstance
	bottleSpecs map[ledger.ItemID]ledger.BottleSpec

	sessions map[ledger.SessionID]ledger.InventorySession
	lines    map[ledger.SessionID][]ledger.SessionLine
}

func NewMemory() *Memory {
	return &Memory{
		eventByID:   make(map[ledger.EventID]int),
		salesRef:    make(map[ledger.SalesRecordID]bool),
		sales:       make(map[ledger.SalesRecordID]ledger.SalesRecord),
		items:       make(map[ledger.ItemID]ledger.InventoryItem),
		mappings:    make(map[string][]ledger.ItemMapping),
		assignments: make(map[ledger.TapLineID][]ledger.TapAssignment),
		prices:      make(map[ledger.ItemID][]ledger.PricePoint),
		profiles:    make(map[ledger.ProfileID]ledger.PourProfile),
		kegs:        make(map[ledger.KegID]ledger.KegInstance),
		bottleSpecs: make(map[ledger.ItemID]ledger.BottleSpec),
		sessions:    make(map[ledger.SessionID]ledger.InventorySession),
		lines:       make(map[ledger.SessionID][]ledger.SessionLine),
	}
}

// =============================================================================
// ledger.Store
// =============================================================================

func (m *Memory) Append(_ context.Context, ev ledger.ConsumptionEvent) (ledger.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(ev)
}

func (m *Memory) AppendBatch(_ context.Context, evs []ledger.ConsumptionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check the sales-record uniqueness backstop across the whole batch
	// before writing anything, so the batch stays all-or-nothing.
	seen := make(map[ledger.SalesRecordID]bool)
	for _, ev := range evs {
		if ev.SalesRecordID == "" {
			continue
		}
		if m.salesRef[ev.SalesRecordID] || seen[ev.SalesRecordID] {
			return ledger.ErrAlreadyDepleted
		}
		seen[ev.SalesRecordID] = true
	}
	for _, ev := range evs {
		if _, err := m.appendLocked(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(ev ledger.ConsumptionEvent) (ledger.EventID, error) {
	if ev.ID == "" {
		ev.ID = ledger.EventID(uuid.NewString())
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.SalesRecordID != "" && m.salesRef[ev.SalesRecordID] {
		return "", ledger.ErrAlreadyDepleted
	}

	m.eventByID[ev.ID] = len(m.events)
	m.events = append(m.events, ev)
	if ev.SalesRecordID != "" {
		m.salesRef[ev.SalesRecordID] = true
	}
	return ev.ID, nil
}

func (m *Memory) Event(_ context.Context, id ledger.EventID) (ledger.ConsumptionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.eventByID[id]
	if !ok {
		return ledger.ConsumptionEvent{}, ledger.ErrNotFound
	}
	return m.events[i], nil
}

func (m *Memory) EventsByItem(_ context.Context, itemID ledger.ItemID, from, to time.Time) ([]ledger.ConsumptionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.ConsumptionEvent
	for _, ev := range m.events {
		if ev.ItemID != itemID {
			continue
		}
		if !from.IsZero() && !ev.OccurredAt.After(from) {
			continue
		}
		if ev.OccurredAt.After(to) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *Memory) EventsBySalesRecord(_ context.Context, id ledger.SalesRecordID) ([]ledger.ConsumptionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.ConsumptionEvent
	for _, ev := range m.events {
		if ev.SalesRecordID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) EventsByKeg(_ context.Context, kegID ledger.KegID, upTo time.Time) ([]ledger.ConsumptionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.ConsumptionEvent
	for _, ev := range m.events {
		if ev.KegID == kegID && !ev.OccurredAt.After(upTo) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) HasEventForSalesRecord(_ context.Context, id ledger.SalesRecordID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.salesRef[id], nil
}

// =============================================================================
// ledger.TxStore
// =============================================================================

// WithTx runs fn and rolls the event log back if it fails. txMu keeps
// concurrent transactions from interleaving, so a rollback only ever
// discards its own writes. The SQLite store provides real isolation.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := len(m.events)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.rollbackLocked(snapshot)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) rollbackLocked(n int) {
	for _, ev := range m.events[n:] {
		delete(m.eventByID, ev.ID)
		if ev.SalesRecordID != "" {
			delete(m.salesRef, ev.SalesRecordID)
		}
	}
	m.events = m.events[:n]
}

// =============================================================================
// ledger.SalesStore
// =============================================================================

func (m *Memory) SalesInWindow(_ context.Context, locationID ledger.LocationID, from, to time.Time) ([]ledger.SalesRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.SalesRecord
	for _, rec := range m.sales {
		if rec.LocationID != locationID {
			continue
		}
		if rec.SoldAt.Before(from) || !rec.SoldAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SoldAt.Before(out[j].SoldAt) })
	return out, nil
}

func (m *Memory) SalesRecord(_ context.Context, id ledger.SalesRecordID) (ledger.SalesRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sales[id]
	if !ok {
		return ledger.SalesRecord{}, ledger.ErrNotFound
	}
	return rec, nil
}

func (m *Memory) IngestSalesRecords(_ context.Context, recs []ledger.SalesRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]bool, len(m.sales))
	for _, rec := range m.sales {
		existing[dedupKey(rec)] = true
	}

	inserted := 0
	for _, rec := range recs {
		key := dedupKey(rec)
		if existing[key] {
			continue
		}
		if rec.ID == "" {
			rec.ID = ledger.SalesRecordID(uuid.NewString())
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		m.sales[rec.ID] = rec
		existing[key] = true
		inserted++
	}
	return inserted, nil
}

func dedupKey(rec ledger.SalesRecord) string {
	return strings.Join([]string{
		string(rec.Source),
		rec.SourceLocation,
		rec.BusinessDate.Format("2006-01-02"),
		rec.ReceiptID,
		rec.LineID,
		rec.SizeModifierID,
	}, "|")
}

// =============================================================================
// ledger.CatalogStore
// =============================================================================

func mappingKey(locationID ledger.LocationID, source ledger.SourceSystem, posItemID string) string {
	return string(locationID) + "|" + string(source) + "|" + posItemID
}

func (m *Memory) MappingsForKey(_ context.Context, locationID ledger.LocationID, source ledger.SourceSystem, posItemID string) ([]ledger.ItemMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.mappings[mappingKey(locationID, source, posItemID)]
	out := make([]ledger.ItemMapping, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *Memory) AssignmentsForTap(_ context.Context, tapLineID ledger.TapLineID) ([]ledger.TapAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.assignments[tapLineID]
	out := make([]ledger.TapAssignment, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *Memory) Item(_ context.Context, id ledger.ItemID) (ledger.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return ledger.InventoryItem{}, ledger.ErrNotFound
	}
	return item, nil
}

func (m *Memory) ActiveItems(_ context.Context, locationID ledger.LocationID) ([]ledger.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.InventoryItem
	for _, item := range m.items {
		if item.LocationID == locationID && item.Active {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) PriceHistory(_ context.Context, itemID ledger.ItemID) ([]ledger.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.prices[itemID]
	out := make([]ledger.PricePoint, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *Memory) PourProfile(_ context.Context, id ledger.ProfileID) (ledger.PourProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return ledger.PourProfile{}, ledger.ErrNotFound
	}
	return p, nil
}

func (m *Memory) Keg(_ context.Context, id ledger.KegID) (ledger.KegInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.kegs[id]
	if !ok {
		return ledger.KegInstance{}, ledger.ErrNotFound
	}
	return k, nil
}

func (m *Memory) BottleSpecForItem(_ context.Context, itemID ledger.ItemID) (ledger.BottleSpec, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	spec, ok := m.bottleSpecs[itemID]
	return spec, ok, nil
}

// =============================================================================
// ledger.SessionStore
// =============================================================================

func (m *Memory) Session(_ context.Context, id ledger.SessionID) (ledger.InventorySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return ledger.InventorySession{}, ledger.ErrNotFound
	}
	return s, nil
}

func (m *Memory) SessionLines(_ context.Context, id ledger.SessionID) ([]ledger.SessionLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.lines[id]
	out := make([]ledger.SessionLine, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *Memory) CloseSession(_ context.Context, id ledger.SessionID, closedBy string, endedAt time.Time, adjustments []ledger.ConsumptionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if s.Closed() {
		return ledger.ErrSessionClosed
	}

	snapshot := len(m.events)
	for _, ev := range adjustments {
		if _, err := m.appendLocked(ev); err != nil {
			m.rollbackLocked(snapshot)
			return err
		}
	}

	s.EndedAt = &endedAt
	s.ClosedBy = closedBy
	m.sessions[id] = s
	return nil
}

// =============================================================================
// SEED HELPERS (tests and local development)
// =============================================================================

func (m *Memory) AddItem(item ledger.InventoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *Memory) AddMapping(mp ledger.ItemMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := mappingKey(mp.LocationID, mp.Source, mp.POSItemID)
	m.mappings[k] = append(m.mappings[k], mp)
}

func (m *Memory) AddAssignment(a ledger.TapAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.TapLineID] = append(m.assignments[a.TapLineID], a)
}

func (m *Memory) AddPrice(p ledger.PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[p.ItemID] = append(m.prices[p.ItemID], p)
}

func (m *Memory) AddPourProfile(p ledger.PourProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *Memory) AddKeg(k ledger.KegInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kegs[k.ID] = k
}

func (m *Memory) AddBottleSpec(spec ledger.BottleSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bottleSpecs[spec.ItemID] = spec
}

func (m *Memory) AddSession(s ledger.InventorySession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *Memory) AddSessionLine(l ledger.SessionLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[l.SessionID] = append(m.lines[l.SessionID], l)
}
