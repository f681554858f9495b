/*
store.go - Persistence contracts

PURPOSE:
  Defines the interfaces between the ledger components and storage.
  Different implementations exist: store/sqlite for production,
  ledger/store (memory) for tests.

APPEND-ONLY CONTRACT:
  Store has Append and AppendBatch and nothing else that writes events.
  No Update() or Delete() method exists anywhere in these interfaces.
  Implementations must additionally reject update/delete at the storage
  layer itself (SQLite triggers), so the invariant holds even for code
  that bypasses this package.

IDEMPOTENCY:
  A consumption event referencing a sales record is unique per record.
  HasEventForSalesRecord is the engine's pre-check; the store's unique
  index is the race-free backstop when two runs overlap.

OWNERSHIP:
  Only the depletion engine, the correction service, and the session
  reconciler write events. Catalog data (items, mappings, taps, kegs,
  prices) is owned by configuration management and read-only here.
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Append-only event persistence
// =============================================================================

// Store persists consumption events. APPEND-ONLY: no update, no delete.
type Store interface {
	// Append persists one event and returns its id. Fails with
	// ErrValidation-wrapped errors for missing required fields and with
	// ErrAlreadyDepleted if the event's sales record is already referenced.
	Append(ctx context.Context, ev ConsumptionEvent) (EventID, error)

	// AppendBatch persists events atomically: all or none.
	AppendBatch(ctx context.Context, evs []ConsumptionEvent) error

	// Event returns one event by id, ErrNotFound if absent.
	Event(ctx context.Context, id EventID) (ConsumptionEvent, error)

	// EventsByItem returns events for an item with from < OccurredAt <= to,
	// ordered chronologically. A zero "from" means the beginning of time.
	EventsByItem(ctx context.Context, itemID ItemID, from, to time.Time) ([]ConsumptionEvent, error)

	// EventsBySalesRecord returns events referencing a sales record.
	EventsBySalesRecord(ctx context.Context, id SalesRecordID) ([]ConsumptionEvent, error)

	// EventsByKeg returns the deltas referencing a keg up to a cutoff.
	EventsByKeg(ctx context.Context, kegID KegID, upTo time.Time) ([]ConsumptionEvent, error)

	// HasEventForSalesRecord reports whether a record is already depleted.
	HasEventForSalesRecord(ctx context.Context, id SalesRecordID) (bool, error)
}

// TxStore wraps Store with transaction support for multi-write operations
// (a depletion run, a correction pair).
type TxStore interface {
	Store

	// WithTx executes fn against a transactional view of the store.
	// fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SALES STORE - Canonical sales records
// =============================================================================

type SalesStore interface {
	// SalesInWindow returns records for a location with
	// from <= SoldAt < to, ordered by SoldAt.
	SalesInWindow(ctx context.Context, locationID LocationID, from, to time.Time) ([]SalesRecord, error)

	// SalesRecord returns one record, ErrNotFound if absent.
	SalesRecord(ctx context.Context, id SalesRecordID) (SalesRecord, error)

	// IngestSalesRecords inserts canonical records, silently skipping rows
	// whose uniqueness tuple already exists. Returns the number inserted.
	IngestSalesRecords(ctx context.Context, recs []SalesRecord) (int, error)
}

// =============================================================================
// CATALOG STORE - Read-only reference data
// =============================================================================

type CatalogStore interface {
	// MappingsForKey returns ACTIVE mappings for (location, source, POS
	// item), all versions; the resolver picks the effective one.
	MappingsForKey(ctx context.Context, locationID LocationID, source SourceSystem, posItemID string) ([]ItemMapping, error)

	// AssignmentsForTap returns all assignments for a tap line.
	AssignmentsForTap(ctx context.Context, tapLineID TapLineID) ([]TapAssignment, error)

	// Item returns one inventory item, ErrNotFound if absent.
	Item(ctx context.Context, id ItemID) (InventoryItem, error)

	// ActiveItems returns the active items at a location.
	ActiveItems(ctx context.Context, locationID LocationID) ([]InventoryItem, error)

	// PriceHistory returns an item's price points, all versions.
	PriceHistory(ctx context.Context, itemID ItemID) ([]PricePoint, error)

	// PourProfile returns one pour profile, ErrNotFound if absent.
	PourProfile(ctx context.Context, id ProfileID) (PourProfile, error)

	// Keg returns one keg instance, ErrNotFound if absent.
	Keg(ctx context.Context, id KegID) (KegInstance, error)

	// BottleSpecForItem returns the weight-conversion spec for an item;
	// ok is false when the item has none.
	BottleSpecForItem(ctx context.Context, itemID ItemID) (BottleSpec, bool, error)
}

// =============================================================================
// SESSION STORE - Counting sessions
// =============================================================================

type SessionStore interface {
	// Session returns one session, ErrNotFound if absent.
	Session(ctx context.Context, id SessionID) (InventorySession, error)

	// SessionLines returns the counted lines of a session.
	SessionLines(ctx context.Context, id SessionID) ([]SessionLine, error)

	// CloseSession atomically appends the adjustment events and marks the
	// session closed. Either both happen or neither does. Fails with
	// ErrSessionClosed if the session is already closed.
	CloseSession(ctx context.Context, id SessionID, closedBy string, endedAt time.Time, adjustments []ConsumptionEvent) error
}
