/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (ledger.Store, ledger.TxStore,
  ledger.SalesStore, ledger.CatalogStore, ledger.SessionStore) using
  SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  Two independent layers guard the consumption_events table:
  - This package contains no UPDATE or DELETE statement for it
  - BEFORE UPDATE / BEFORE DELETE triggers RAISE(ABORT), so even raw SQL
    through another connection cannot mutate a posted event

IDEMPOTENCY ENFORCEMENT:
  - idx_events_sales_record: a sales record is referenced by at most one
    non-reversal event (race-free backstop for the engine's pre-check)
  - idx_sales_dedupe: re-ingesting identical upstream sales data is a
    silent no-op

KEY TABLES:
  consumption_events: Immutable ledger of all inventory movement
  sales_records:      Canonical POS-agnostic sales input
  inventory_items, item_mappings, tap_assignments, price_points,
  pour_profiles, kegs, bottle_specs: reference data
  inventory_sessions, session_lines: physical counting sessions

CONCURRENCY:
  WAL mode for crash recovery and non-blocking readers, with a busy
  timeout for writer contention. A single mutex serializes
  multi-statement write transactions; plain statements go straight to
  the pooled handle so reads never block on an open transaction.
  Unexported query helpers take a dbtx so the same code serves both the
  pooled handle and an open transaction.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/barflow/inventory-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
//
// txMu serializes multi-statement write transactions so they never
// contend for SQLite's single writer slot. Individual statements rely on
// database/sql's pooling and SQLite's own locking; crucially, catalog
// reads take no store-level lock, so the engine and corrector can
// resolve mappings and validate events while a transaction is open.
type Store struct {
	db   *sql.DB
	txMu sync.Mutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const dsnOptions = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

var memoryDBSeq int64

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?" + dsnOptions
	if dbPath == ":memory:" {
		// A plain :memory: DSN gives every pooled connection its own empty
		// database. A named shared-cache database keeps the pool coherent
		// while staying private to this Store.
		n := atomic.AddInt64(&memoryDBSeq, 1)
		dsn = fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&%s", n, dsnOptions)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Consumption events (append-only ledger)
	CREATE TABLE IF NOT EXISTS consumption_events (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		confidence TEXT NOT NULL,
		item_id TEXT NOT NULL,
		keg_id TEXT,
		tap_line_id TEXT,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		sales_record_id TEXT,
		receipt_id TEXT,
		reason TEXT,
		notes TEXT,
		reversal_of TEXT,
		created_at TEXT NOT NULL,
		created_by TEXT
	);

	-- CRITICAL: one depletion event per sales record. Partial so manual
	-- events (no sales record) and corrections don't collide.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_sales_record
		ON consumption_events(sales_record_id)
		WHERE sales_record_id IS NOT NULL;

	-- Replay hot path: balance by item over a window
	CREATE INDEX IF NOT EXISTS idx_events_item_occurred
		ON consumption_events(item_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_keg_occurred
		ON consumption_events(keg_id, occurred_at)
		WHERE keg_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_events_location
		ON consumption_events(location_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_reversal_of
		ON consumption_events(reversal_of) WHERE reversal_of IS NOT NULL;

	-- CRITICAL: storage-level immutability. Posted events can never be
	-- modified or removed, not even by raw SQL outside this package.
	CREATE TRIGGER IF NOT EXISTS trg_events_no_update
		BEFORE UPDATE ON consumption_events
	BEGIN
		SELECT RAISE(ABORT, 'consumption events are immutable');
	END;
	CREATE TRIGGER IF NOT EXISTS trg_events_no_delete
		BEFORE DELETE ON consumption_events
	BEGIN
		SELECT RAISE(ABORT, 'consumption events are immutable');
	END;

	-- Canonical sales records
	CREATE TABLE IF NOT EXISTS sales_records (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		source_location TEXT NOT NULL,
		location_id TEXT NOT NULL,
		business_date TEXT NOT NULL,
		sold_at TEXT NOT NULL,
		receipt_id TEXT NOT NULL,
		line_id TEXT NOT NULL,
		pos_item_id TEXT NOT NULL,
		pos_item_name TEXT,
		quantity TEXT NOT NULL,
		voided BOOLEAN DEFAULT FALSE,
		refunded BOOLEAN DEFAULT FALSE,
		size_modifier_id TEXT NOT NULL DEFAULT '',
		size_modifier TEXT,
		created_at TEXT NOT NULL
	);

	-- Re-ingesting the same upstream export must not duplicate rows
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_dedupe
		ON sales_records(source, source_location, business_date,
		                 receipt_id, line_id, size_modifier_id);
	CREATE INDEX IF NOT EXISTS idx_sales_location_sold
		ON sales_records(location_id, sold_at);

	-- Inventory items
	CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		name TEXT NOT NULL,
		base_unit TEXT NOT NULL,
		active BOOLEAN DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_items_location
		ON inventory_items(location_id, active);

	-- Item mappings (time-versioned)
	CREATE TABLE IF NOT EXISTS item_mappings (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		source TEXT NOT NULL,
		pos_item_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		pour_profile_id TEXT,
		tap_line_id TEXT,
		active BOOLEAN DEFAULT TRUE,
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_mappings_key
		ON item_mappings(location_id, source, pos_item_id);

	-- Tap assignments (time-versioned)
	CREATE TABLE IF NOT EXISTS tap_assignments (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		tap_line_id TEXT NOT NULL,
		keg_id TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_tap
		ON tap_assignments(tap_line_id, effective_from);

	-- Price points (time-versioned)
	CREATE TABLE IF NOT EXISTS price_points (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		effective_from TEXT NOT NULL,
		effective_to TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_prices_item
		ON price_points(item_id, effective_from);

	-- Pour profiles
	CREATE TABLE IF NOT EXISTS pour_profiles (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		name TEXT NOT NULL,
		volume TEXT NOT NULL,
		unit TEXT NOT NULL,
		active BOOLEAN DEFAULT TRUE
	);

	-- Kegs
	CREATE TABLE IF NOT EXISTS kegs (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		status TEXT NOT NULL,
		received_at TEXT NOT NULL,
		tapped_at TEXT,
		emptied_at TEXT,
		starting_volume_value TEXT NOT NULL,
		starting_volume_unit TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kegs_location
		ON kegs(location_id, status);

	-- Bottle specs (weight -> volume conversion)
	CREATE TABLE IF NOT EXISTS bottle_specs (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL UNIQUE,
		capacity_ml TEXT NOT NULL,
		empty_weight_g TEXT NOT NULL,
		full_weight_g TEXT NOT NULL,
		density_g_per_ml TEXT NOT NULL DEFAULT '0'
	);

	-- Counting sessions
	CREATE TABLE IF NOT EXISTS inventory_sessions (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		created_by TEXT,
		closed_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_location
		ON inventory_sessions(location_id, started_at);

	CREATE TABLE IF NOT EXISTS session_lines (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		unit_count TEXT,
		tap_line_id TEXT,
		keg_id TEXT,
		percent_remaining TEXT,
		gross_weight_grams TEXT,
		notes TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_session_lines_session
		ON session_lines(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENT STORE (ledger.Store interface)
// =============================================================================

const eventColumns = `id, location_id, kind, source, occurred_at, confidence,
	item_id, keg_id, tap_line_id, delta_value, delta_unit,
	sales_record_id, receipt_id, reason, notes, reversal_of, created_at, created_by`

// Append adds one event to the ledger.
func (s *Store) Append(ctx context.Context, ev ledger.ConsumptionEvent) (ledger.EventID, error) {
	return s.appendEvent(ctx, s.db, ev)
}

func (s *Store) appendEvent(ctx context.Context, db dbtx, ev ledger.ConsumptionEvent) (ledger.EventID, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO consumption_events
		(` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		ev.ID,
		ev.LocationID,
		ev.Kind,
		ev.Source,
		ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		ev.Confidence,
		ev.ItemID,
		nullString(string(ev.KegID)),
		nullString(string(ev.TapLineID)),
		ev.Delta.Value.String(),
		ev.Delta.Unit,
		nullString(string(ev.SalesRecordID)),
		nullString(ev.ReceiptID),
		nullString(string(ev.Reason)),
		nullString(ev.Notes),
		nullString(string(ev.ReversalOf)),
		ev.CreatedAt.Format(time.RFC3339Nano),
		nullString(ev.CreatedBy),
	)
	if err != nil {
		if isSalesRecordUniqueError(err) {
			return "", ledger.ErrAlreadyDepleted
		}
		if isImmutabilityError(err) {
			return "", ledger.ErrImmutableEvent
		}
		return "", fmt.Errorf("failed to append event: %w", err)
	}

	return ev.ID, nil
}

// AppendBatch adds multiple events atomically.
func (s *Store) AppendBatch(ctx context.Context, evs []ledger.ConsumptionEvent) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, ev := range evs {
		if _, err := s.appendEvent(ctx, sqlTx, ev); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

// Event returns one event by id.
func (s *Store) Event(ctx context.Context, id ledger.EventID) (ledger.ConsumptionEvent, error) {
	return s.queryEvent(ctx, s.db, id)
}

func (s *Store) queryEvent(ctx context.Context, db dbtx, id ledger.EventID) (ledger.ConsumptionEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM consumption_events WHERE id = ?`, id)
	if err != nil {
		return ledger.ConsumptionEvent{}, fmt.Errorf("failed to query event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.ConsumptionEvent{}, err
		}
		return ledger.ConsumptionEvent{}, fmt.Errorf("event %s: %w", id, ledger.ErrNotFound)
	}
	return scanEvent(rows)
}

// EventsByItem returns events for an item with from < occurred_at <= to.
// A zero "from" means the beginning of time.
func (s *Store) EventsByItem(ctx context.Context, itemID ledger.ItemID, from, to time.Time) ([]ledger.ConsumptionEvent, error) {
	return s.queryEventsByItem(ctx, s.db, itemID, from, to)
}

func (s *Store) queryEventsByItem(ctx context.Context, db dbtx, itemID ledger.ItemID, from, to time.Time) ([]ledger.ConsumptionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM consumption_events
		WHERE item_id = ? AND occurred_at <= ?
	`
	args := []any{itemID, to.UTC().Format(time.RFC3339Nano)}
	if !from.IsZero() {
		query += ` AND occurred_at > ?`
		args = append(args, from.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY occurred_at ASC, created_at ASC`

	return s.queryEvents(ctx, db, query, args...)
}

// EventsBySalesRecord returns events referencing a sales record.
func (s *Store) EventsBySalesRecord(ctx context.Context, id ledger.SalesRecordID) ([]ledger.ConsumptionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM consumption_events
		WHERE sales_record_id = ?
		ORDER BY created_at ASC
	`
	return s.queryEvents(ctx, s.db, query, id)
}

// EventsByKeg returns the deltas referencing a keg up to a cutoff.
func (s *Store) EventsByKeg(ctx context.Context, kegID ledger.KegID, upTo time.Time) ([]ledger.ConsumptionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM consumption_events
		WHERE keg_id = ? AND occurred_at <= ?
		ORDER BY occurred_at ASC, created_at ASC
	`
	return s.queryEvents(ctx, s.db, query, kegID, upTo.UTC().Format(time.RFC3339Nano))
}

// HasEventForSalesRecord reports whether a record is already depleted.
func (s *Store) HasEventForSalesRecord(ctx context.Context, id ledger.SalesRecordID) (bool, error) {
	return s.hasEventForSalesRecord(ctx, s.db, id)
}

func (s *Store) hasEventForSalesRecord(ctx context.Context, db dbtx, id ledger.SalesRecordID) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM consumption_events WHERE sales_record_id = ?", id,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) queryEvents(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.ConsumptionEvent, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []ledger.ConsumptionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (ledger.ConsumptionEvent, error) {
	var (
		ev            ledger.ConsumptionEvent
		occurredAt    string
		deltaValue    string
		deltaUnit     string
		kegID         sql.NullString
		tapLineID     sql.NullString
		salesRecordID sql.NullString
		receiptID     sql.NullString
		reason        sql.NullString
		notes         sql.NullString
		reversalOf    sql.NullString
		createdAt     string
		createdBy     sql.NullString
	)

	err := rows.Scan(
		&ev.ID, &ev.LocationID, &ev.Kind, &ev.Source, &occurredAt, &ev.Confidence,
		&ev.ItemID, &kegID, &tapLineID, &deltaValue, &deltaUnit,
		&salesRecordID, &receiptID, &reason, &notes, &reversalOf, &createdAt, &createdBy,
	)
	if err != nil {
		return ev, fmt.Errorf("failed to scan event: %w", err)
	}

	delta, err := parseDecimal(deltaValue)
	if err != nil {
		return ev, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	ev.OccurredAt, _ = time.Parse(time.RFC3339Nano, occurredAt)
	ev.Delta = ledger.Quantity{Value: delta, Unit: ledger.Unit(deltaUnit)}
	ev.KegID = ledger.KegID(kegID.String)
	ev.TapLineID = ledger.TapLineID(tapLineID.String)
	ev.SalesRecordID = ledger.SalesRecordID(salesRecordID.String)
	ev.ReceiptID = receiptID.String
	ev.Reason = ledger.VarianceReason(reason.String)
	ev.Notes = notes.String
	ev.ReversalOf = ledger.EventID(reversalOf.String)
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	ev.CreatedBy = createdBy.String

	return ev, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Only txMu
// is held, never a store-wide lock: fn is free to call catalog reads on
// the parent store while the transaction is open.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Append(ctx context.Context, ev ledger.ConsumptionEvent) (ledger.EventID, error) {
	return ts.parent.appendEvent(ctx, ts.tx, ev)
}

func (ts *txStore) AppendBatch(ctx context.Context, evs []ledger.ConsumptionEvent) error {
	for _, ev := range evs {
		if _, err := ts.parent.appendEvent(ctx, ts.tx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) Event(ctx context.Context, id ledger.EventID) (ledger.ConsumptionEvent, error) {
	return ts.parent.queryEvent(ctx, ts.tx, id)
}

func (ts *txStore) EventsByItem(ctx context.Context, itemID ledger.ItemID, from, to time.Time) ([]ledger.ConsumptionEvent, error) {
	return ts.parent.queryEventsByItem(ctx, ts.tx, itemID, from, to)
}

func (ts *txStore) EventsBySalesRecord(ctx context.Context, id ledger.SalesRecordID) ([]ledger.ConsumptionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM consumption_events
		WHERE sales_record_id = ?
		ORDER BY created_at ASC
	`
	return ts.parent.queryEvents(ctx, ts.tx, query, id)
}

func (ts *txStore) EventsByKeg(ctx context.Context, kegID ledger.KegID, upTo time.Time) ([]ledger.ConsumptionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM consumption_events
		WHERE keg_id = ? AND occurred_at <= ?
		ORDER BY occurred_at ASC, created_at ASC
	`
	return ts.parent.queryEvents(ctx, ts.tx, query, kegID, upTo.UTC().Format(time.RFC3339Nano))
}

func (ts *txStore) HasEventForSalesRecord(ctx context.Context, id ledger.SalesRecordID) (bool, error) {
	return ts.parent.hasEventForSalesRecord(ctx, ts.tx, id)
}

// =============================================================================
// SALES STORE (ledger.SalesStore interface)
// =============================================================================

const salesColumns = `id, source, source_location, location_id, business_date, sold_at,
	receipt_id, line_id, pos_item_id, pos_item_name, quantity,
	voided, refunded, size_modifier_id, size_modifier, created_at`

// SalesInWindow returns records for a location with from <= sold_at < to.
func (s *Store) SalesInWindow(ctx context.Context, locationID ledger.LocationID, from, to time.Time) ([]ledger.SalesRecord, error) {
	query := `
		SELECT ` + salesColumns + `
		FROM sales_records
		WHERE location_id = ? AND sold_at >= ? AND sold_at < ?
		ORDER BY sold_at ASC, created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, locationID,
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query sales records: %w", err)
	}
	defer rows.Close()

	var records []ledger.SalesRecord
	for rows.Next() {
		rec, err := scanSalesRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SalesRecord returns one record by id.
func (s *Store) SalesRecord(ctx context.Context, id ledger.SalesRecordID) (ledger.SalesRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+salesColumns+` FROM sales_records WHERE id = ?`, id)
	if err != nil {
		return ledger.SalesRecord{}, fmt.Errorf("failed to query sales record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.SalesRecord{}, err
		}
		return ledger.SalesRecord{}, fmt.Errorf("sales record %s: %w", id, ledger.ErrNotFound)
	}
	return scanSalesRecord(rows)
}

// IngestSalesRecords inserts canonical records, silently skipping rows
// whose uniqueness tuple already exists. Returns the number inserted.
func (s *Store) IngestSalesRecords(ctx context.Context, recs []ledger.SalesRecord) (int, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT OR IGNORE INTO sales_records
		(` + salesColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	inserted := 0
	for _, rec := range recs {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		res, err := sqlTx.ExecContext(ctx, query,
			rec.ID,
			rec.Source,
			rec.SourceLocation,
			rec.LocationID,
			rec.BusinessDate.UTC().Format("2006-01-02"),
			rec.SoldAt.UTC().Format(time.RFC3339Nano),
			rec.ReceiptID,
			rec.LineID,
			rec.POSItemID,
			rec.POSItemName,
			rec.Quantity.String(),
			rec.Voided,
			rec.Refunded,
			rec.SizeModifierID,
			rec.SizeModifier,
			rec.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to ingest sales record: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func scanSalesRecord(rows *sql.Rows) (ledger.SalesRecord, error) {
	var (
		rec          ledger.SalesRecord
		businessDate string
		soldAt       string
		quantity     string
		posItemName  sql.NullString
		sizeModifier sql.NullString
		createdAt    string
	)

	err := rows.Scan(
		&rec.ID, &rec.Source, &rec.SourceLocation, &rec.LocationID,
		&businessDate, &soldAt, &rec.ReceiptID, &rec.LineID,
		&rec.POSItemID, &posItemName, &quantity,
		&rec.Voided, &rec.Refunded, &rec.SizeModifierID, &sizeModifier, &createdAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan sales record: %w", err)
	}

	rec.BusinessDate, _ = time.Parse("2006-01-02", businessDate)
	rec.SoldAt, _ = time.Parse(time.RFC3339Nano, soldAt)
	rec.POSItemName = posItemName.String
	if rec.Quantity, err = parseDecimal(quantity); err != nil {
		return rec, fmt.Errorf("sales record %s: %w", rec.ID, err)
	}
	rec.SizeModifier = sizeModifier.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return rec, nil
}

// =============================================================================
// CATALOG STORE (ledger.CatalogStore interface)
// =============================================================================

// MappingsForKey returns active mappings for (location, source, POS item).
func (s *Store) MappingsForKey(ctx context.Context, locationID ledger.LocationID, source ledger.SourceSystem, posItemID string) ([]ledger.ItemMapping, error) {
	query := `
		SELECT id, location_id, source, pos_item_id, item_id, mode,
		       pour_profile_id, tap_line_id, active, effective_from, effective_to
		FROM item_mappings
		WHERE location_id = ? AND source = ? AND pos_item_id = ?
		ORDER BY effective_from ASC
	`
	rows, err := s.db.QueryContext(ctx, query, locationID, source, posItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []ledger.ItemMapping
	for rows.Next() {
		var (
			m             ledger.ItemMapping
			pourProfileID sql.NullString
			tapLineID     sql.NullString
			from          string
			to            sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.LocationID, &m.Source, &m.POSItemID, &m.ItemID,
			&m.Mode, &pourProfileID, &tapLineID, &m.Active, &from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		m.PourProfileID = ledger.ProfileID(pourProfileID.String)
		m.TapLineID = ledger.TapLineID(tapLineID.String)
		m.EffectiveFrom, m.EffectiveTo = parseWindow(from, to)
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}

// AssignmentsForTap returns all assignments for a tap line.
func (s *Store) AssignmentsForTap(ctx context.Context, tapLineID ledger.TapLineID) ([]ledger.TapAssignment, error) {
	query := `
		SELECT id, location_id, tap_line_id, keg_id, effective_from, effective_to
		FROM tap_assignments
		WHERE tap_line_id = ?
		ORDER BY effective_from ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tapLineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tap assignments: %w", err)
	}
	defer rows.Close()

	var assignments []ledger.TapAssignment
	for rows.Next() {
		var (
			a    ledger.TapAssignment
			from string
			to   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.LocationID, &a.TapLineID, &a.KegID, &from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan tap assignment: %w", err)
		}
		a.EffectiveFrom, a.EffectiveTo = parseWindow(from, to)
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// Item returns one inventory item by id.
func (s *Store) Item(ctx context.Context, id ledger.ItemID) (ledger.InventoryItem, error) {
	var item ledger.InventoryItem
	err := s.db.QueryRowContext(ctx,
		"SELECT id, location_id, name, base_unit, active FROM inventory_items WHERE id = ?", id,
	).Scan(&item.ID, &item.LocationID, &item.Name, &item.BaseUnit, &item.Active)
	if err == sql.ErrNoRows {
		return ledger.InventoryItem{}, fmt.Errorf("item %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.InventoryItem{}, err
	}
	return item, nil
}

// ActiveItems returns the active items at a location.
func (s *Store) ActiveItems(ctx context.Context, locationID ledger.LocationID) ([]ledger.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, location_id, name, base_unit, active FROM inventory_items WHERE location_id = ? AND active = TRUE ORDER BY name",
		locationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []ledger.InventoryItem
	for rows.Next() {
		var item ledger.InventoryItem
		if err := rows.Scan(&item.ID, &item.LocationID, &item.Name, &item.BaseUnit, &item.Active); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// PriceHistory returns an item's price points, all versions.
func (s *Store) PriceHistory(ctx context.Context, itemID ledger.ItemID) ([]ledger.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, item_id, unit_cost, currency, effective_from, effective_to FROM price_points WHERE item_id = ? ORDER BY effective_from ASC",
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var prices []ledger.PricePoint
	for rows.Next() {
		var (
			p        ledger.PricePoint
			unitCost string
			from     string
			to       sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ItemID, &unitCost, &p.Currency, &from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		cost, err := parseDecimal(unitCost)
		if err != nil {
			return nil, err
		}
		p.UnitCost = cost
		p.EffectiveFrom, p.EffectiveTo = parseWindow(from, to)
		prices = append(prices, p)
	}

	return prices, rows.Err()
}

// PourProfile returns one pour profile by id.
func (s *Store) PourProfile(ctx context.Context, id ledger.ProfileID) (ledger.PourProfile, error) {
	var (
		p      ledger.PourProfile
		volume string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, location_id, name, volume, unit, active FROM pour_profiles WHERE id = ?", id,
	).Scan(&p.ID, &p.LocationID, &p.Name, &volume, &p.Unit, &p.Active)
	if err == sql.ErrNoRows {
		return ledger.PourProfile{}, fmt.Errorf("pour profile %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.PourProfile{}, err
	}
	if p.Volume, err = parseDecimal(volume); err != nil {
		return ledger.PourProfile{}, err
	}
	return p, nil
}

// Keg returns one keg instance by id.
func (s *Store) Keg(ctx context.Context, id ledger.KegID) (ledger.KegInstance, error) {
	var (
		k           ledger.KegInstance
		receivedAt  string
		tappedAt    sql.NullString
		emptiedAt   sql.NullString
		volumeValue string
		volumeUnit  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, location_id, item_id, status, received_at, tapped_at, emptied_at,
		        starting_volume_value, starting_volume_unit
		 FROM kegs WHERE id = ?`, id,
	).Scan(&k.ID, &k.LocationID, &k.ItemID, &k.Status, &receivedAt, &tappedAt, &emptiedAt,
		&volumeValue, &volumeUnit)
	if err == sql.ErrNoRows {
		return ledger.KegInstance{}, fmt.Errorf("keg %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.KegInstance{}, err
	}

	k.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
	if tappedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, tappedAt.String)
		k.TappedAt = &t
	}
	if emptiedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, emptiedAt.String)
		k.EmptiedAt = &t
	}
	vol, err := parseDecimal(volumeValue)
	if err != nil {
		return ledger.KegInstance{}, err
	}
	k.StartingVolume = ledger.Quantity{Value: vol, Unit: ledger.Unit(volumeUnit)}
	return k, nil
}

// BottleSpecForItem returns the weight-conversion spec for an item.
func (s *Store) BottleSpecForItem(ctx context.Context, itemID ledger.ItemID) (ledger.BottleSpec, bool, error) {
	var (
		b        ledger.BottleSpec
		capacity string
		empty    string
		full     string
		density  string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, item_id, capacity_ml, empty_weight_g, full_weight_g, density_g_per_ml FROM bottle_specs WHERE item_id = ?",
		itemID,
	).Scan(&b.ID, &b.ItemID, &capacity, &empty, &full, &density)
	if err == sql.ErrNoRows {
		return ledger.BottleSpec{}, false, nil
	}
	if err != nil {
		return ledger.BottleSpec{}, false, err
	}

	if b.CapacityML, err = parseDecimal(capacity); err != nil {
		return ledger.BottleSpec{}, false, err
	}
	if b.EmptyWeightG, err = parseDecimal(empty); err != nil {
		return ledger.BottleSpec{}, false, err
	}
	if b.FullWeightG, err = parseDecimal(full); err != nil {
		return ledger.BottleSpec{}, false, err
	}
	if b.DensityGPerML, err = parseDecimal(density); err != nil {
		return ledger.BottleSpec{}, false, err
	}
	return b, true, nil
}

// =============================================================================
// SESSION STORE (ledger.SessionStore interface)
// =============================================================================

// Session returns one session by id.
func (s *Store) Session(ctx context.Context, id ledger.SessionID) (ledger.InventorySession, error) {
	return s.querySession(ctx, s.db, id)
}

func (s *Store) querySession(ctx context.Context, db dbtx, id ledger.SessionID) (ledger.InventorySession, error) {
	var (
		sess      ledger.InventorySession
		startedAt string
		endedAt   sql.NullString
		createdBy sql.NullString
		closedBy  sql.NullString
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, location_id, started_at, ended_at, created_by, closed_by FROM inventory_sessions WHERE id = ?", id,
	).Scan(&sess.ID, &sess.LocationID, &startedAt, &endedAt, &createdBy, &closedBy)
	if err == sql.ErrNoRows {
		return ledger.InventorySession{}, fmt.Errorf("session %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.InventorySession{}, err
	}

	sess.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		sess.EndedAt = &t
	}
	sess.CreatedBy = createdBy.String
	sess.ClosedBy = closedBy.String
	return sess, nil
}

// SessionLines returns the counted lines of a session.
func (s *Store) SessionLines(ctx context.Context, id ledger.SessionID) ([]ledger.SessionLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, item_id, unit_count, tap_line_id, keg_id,
		        percent_remaining, gross_weight_grams, notes
		 FROM session_lines WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query session lines: %w", err)
	}
	defer rows.Close()

	var lines []ledger.SessionLine
	for rows.Next() {
		var (
			l         ledger.SessionLine
			unitCount sql.NullString
			tapLineID sql.NullString
			kegID     sql.NullString
			percent   sql.NullString
			weight    sql.NullString
			notes     sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.SessionID, &l.ItemID, &unitCount,
			&tapLineID, &kegID, &percent, &weight, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan session line: %w", err)
		}
		var err error
		if l.UnitCount, err = nullDecimal(unitCount); err != nil {
			return nil, err
		}
		l.TapLineID = ledger.TapLineID(tapLineID.String)
		l.KegID = ledger.KegID(kegID.String)
		if l.PercentRemaining, err = nullDecimal(percent); err != nil {
			return nil, err
		}
		if l.GrossWeightGrams, err = nullDecimal(weight); err != nil {
			return nil, err
		}
		l.Notes = notes.String
		lines = append(lines, l)
	}

	return lines, rows.Err()
}

// CloseSession atomically appends the adjustment events and marks the
// session closed. Either both happen or neither does.
func (s *Store) CloseSession(ctx context.Context, id ledger.SessionID, closedBy string, endedAt time.Time, adjustments []ledger.ConsumptionEvent) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	sess, err := s.querySession(ctx, sqlTx, id)
	if err != nil {
		return err
	}
	if sess.Closed() {
		return ledger.ErrSessionClosed
	}

	for _, ev := range adjustments {
		if _, err := s.appendEvent(ctx, sqlTx, ev); err != nil {
			return err
		}
	}

	_, err = sqlTx.ExecContext(ctx,
		"UPDATE inventory_sessions SET ended_at = ?, closed_by = ? WHERE id = ?",
		endedAt.UTC().Format(time.RFC3339Nano), closedBy, id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	return sqlTx.Commit()
}

// =============================================================================
// CATALOG WRITES - Seeding and configuration management
// =============================================================================

// SaveItem inserts or updates an inventory item.
func (s *Store) SaveItem(ctx context.Context, item ledger.InventoryItem) error {
	query := `
		INSERT INTO inventory_items (id, location_id, name, base_unit, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_unit = excluded.base_unit,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, item.ID, item.LocationID, item.Name, item.BaseUnit, item.Active)
	return err
}

// SaveMapping inserts or updates an item mapping version.
func (s *Store) SaveMapping(ctx context.Context, m ledger.ItemMapping) error {
	query := `
		INSERT INTO item_mappings
		(id, location_id, source, pos_item_id, item_id, mode, pour_profile_id, tap_line_id, active, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			item_id = excluded.item_id,
			mode = excluded.mode,
			pour_profile_id = excluded.pour_profile_id,
			tap_line_id = excluded.tap_line_id,
			active = excluded.active,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.LocationID, m.Source, m.POSItemID, m.ItemID, m.Mode,
		nullString(string(m.PourProfileID)), nullString(string(m.TapLineID)),
		m.Active, m.EffectiveFrom.UTC().Format(time.RFC3339Nano), formatWindowEnd(m.EffectiveTo))
	return err
}

// SaveAssignment inserts or updates a tap assignment version.
func (s *Store) SaveAssignment(ctx context.Context, a ledger.TapAssignment) error {
	query := `
		INSERT INTO tap_assignments (id, location_id, tap_line_id, keg_id, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			keg_id = excluded.keg_id,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.LocationID, a.TapLineID, a.KegID,
		a.EffectiveFrom.UTC().Format(time.RFC3339Nano), formatWindowEnd(a.EffectiveTo))
	return err
}

// SavePrice inserts or updates a price point.
func (s *Store) SavePrice(ctx context.Context, p ledger.PricePoint) error {
	query := `
		INSERT INTO price_points (id, item_id, unit_cost, currency, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unit_cost = excluded.unit_cost,
			currency = excluded.currency,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.ItemID, p.UnitCost.String(), p.Currency,
		p.EffectiveFrom.UTC().Format(time.RFC3339Nano), formatWindowEnd(p.EffectiveTo))
	return err
}

// SavePourProfile inserts or updates a pour profile.
func (s *Store) SavePourProfile(ctx context.Context, p ledger.PourProfile) error {
	query := `
		INSERT INTO pour_profiles (id, location_id, name, volume, unit, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			volume = excluded.volume,
			unit = excluded.unit,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.LocationID, p.Name, p.Volume.String(), p.Unit, p.Active)
	return err
}

// SaveKeg inserts or updates a keg instance.
func (s *Store) SaveKeg(ctx context.Context, k ledger.KegInstance) error {
	query := `
		INSERT INTO kegs
		(id, location_id, item_id, status, received_at, tapped_at, emptied_at, starting_volume_value, starting_volume_unit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			tapped_at = excluded.tapped_at,
			emptied_at = excluded.emptied_at
	`
	_, err := s.db.ExecContext(ctx, query,
		k.ID, k.LocationID, k.ItemID, k.Status,
		k.ReceivedAt.UTC().Format(time.RFC3339Nano),
		formatWindowEnd(k.TappedAt), formatWindowEnd(k.EmptiedAt),
		k.StartingVolume.Value.String(), k.StartingVolume.Unit)
	return err
}

// SaveBottleSpec inserts or updates an item's bottle spec.
func (s *Store) SaveBottleSpec(ctx context.Context, b ledger.BottleSpec) error {
	query := `
		INSERT INTO bottle_specs (id, item_id, capacity_ml, empty_weight_g, full_weight_g, density_g_per_ml)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			capacity_ml = excluded.capacity_ml,
			empty_weight_g = excluded.empty_weight_g,
			full_weight_g = excluded.full_weight_g,
			density_g_per_ml = excluded.density_g_per_ml
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.ItemID, b.CapacityML.String(), b.EmptyWeightG.String(),
		b.FullWeightG.String(), b.DensityGPerML.String())
	return err
}

// CreateSession opens a new counting session.
func (s *Store) CreateSession(ctx context.Context, sess ledger.InventorySession) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO inventory_sessions (id, location_id, started_at, created_by) VALUES (?, ?, ?, ?)",
		sess.ID, sess.LocationID, sess.StartedAt.UTC().Format(time.RFC3339Nano), nullString(sess.CreatedBy))
	return err
}

// AddSessionLine records one counted line in an open session.
func (s *Store) AddSessionLine(ctx context.Context, line ledger.SessionLine) error {
	sess, err := s.querySession(ctx, s.db, line.SessionID)
	if err != nil {
		return err
	}
	if sess.Closed() {
		return ledger.ErrSessionClosed
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_lines
		 (id, session_id, item_id, unit_count, tap_line_id, keg_id, percent_remaining, gross_weight_grams, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		line.ID, line.SessionID, line.ItemID,
		decimalNull(line.UnitCount),
		nullString(string(line.TapLineID)), nullString(string(line.KegID)),
		decimalNull(line.PercentRemaining), decimalNull(line.GrossWeightGrams),
		nullString(line.Notes))
	return err
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// parseDecimal guards the read path: a stored decimal that fails to
// parse surfaces as an error instead of silently becoming zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt stored decimal %q: %w", s, err)
	}
	return d, nil
}

func nullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := parseDecimal(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalNull(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseWindow(from string, to sql.NullString) (time.Time, *time.Time) {
	f, _ := time.Parse(time.RFC3339Nano, from)
	if !to.Valid {
		return f, nil
	}
	t, _ := time.Parse(time.RFC3339Nano, to.String)
	return f, &t
}

func formatWindowEnd(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func isSalesRecordUniqueError(err error) bool {
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), "sales_record_id")
}

func isImmutabilityError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "consumption events are immutable")
}
