/*
Package depletion contains the services that write to the consumption
ledger: the depletion engine, the correction service, and the session
reconciler, plus the read-side variance reporter.

depletion.go - The depletion engine

PURPOSE:
  Converts canonical sales records into consumption events. This is the
  core of the system:
  - POS-agnostic: only consumes canonical SalesRecord rows
  - Idempotent: re-running the same window never double-posts
  - Immutable: creates events, never updates them
  - Auditable: every event is traceable to its sales record

IDEMPOTENCY:
  Two layers. The engine checks HasEventForSalesRecord before posting,
  and the store's unique index on the sales-record reference rejects the
  write if a concurrent run got there first. Runs for the same location
  are additionally serialized with a per-location lock so the pre-check
  is race-free in-process.

ATOMICITY:
  All events of one Run are committed in a single store transaction.
  RunChunked splits long windows; each chunk is then the documented
  atomicity granularity.

FAILURE SEMANTICS:
  - unmapped POS item: counted, no event, batch continues
  - no keg on tap:     counted as unresolved, no event, batch continues
  - unknown mode / bad record: counted as failed, batch continues
  - ambiguous mapping or assignment windows: the run aborts and rolls
    back - bad configuration must be fixed, not paved over

SEE ALSO:
  - correction.go: reversal+replacement amendments
  - session.go: count reconciliation
*/
package depletion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/barflow/inventory-engine/ledger"
	"github.com/barflow/inventory-engine/metrics"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store    ledger.TxStore
	Sales    ledger.SalesStore
	Catalog  ledger.CatalogStore
	Mappings *ledger.MappingResolver
	Taps     *ledger.TapResolver
	Log      zerolog.Logger

	// one mutex per location: concurrent runs over overlapping windows
	// for the same location would otherwise race the idempotency check
	locks sync.Map
}

func NewEngine(store ledger.TxStore, sales ledger.SalesStore, catalog ledger.CatalogStore, log zerolog.Logger) *Engine {
	return &Engine{
		Store:    store,
		Sales:    sales,
		Catalog:  catalog,
		Mappings: &ledger.MappingResolver{Catalog: catalog},
		Taps:     &ledger.TapResolver{Catalog: catalog},
		Log:      log,
	}
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Valid() bool { return !w.From.IsZero() && w.To.After(w.From) }

// RunStats summarizes one depletion run for the operator.
type RunStats struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Unmapped   int `json:"unmapped"`
	Unresolved int `json:"unresolved"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (s *RunStats) add(o RunStats) {
	s.Processed += o.Processed
	s.Created += o.Created
	s.Unmapped += o.Unmapped
	s.Unresolved += o.Unresolved
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// Run processes all sales records for a location within the window and
// commits the resulting events in one transaction.
func (e *Engine) Run(ctx context.Context, locationID ledger.LocationID, window Window) (RunStats, error) {
	if locationID == "" {
		return RunStats{}, &ledger.ValidationError{Field: "location_id", Reason: "required"}
	}
	if !window.Valid() {
		return RunStats{}, &ledger.ValidationError{Field: "window", Reason: "from must precede to"}
	}

	unlock := e.lockLocation(locationID)
	defer unlock()

	records, err := e.Sales.SalesInWindow(ctx, locationID, window.From, window.To)
	if err != nil {
		return RunStats{}, err
	}

	e.Log.Info().
		Str("location_id", string(locationID)).
		Time("from", window.From).
		Time("to", window.To).
		Int("records", len(records)).
		Msg("depletion run started")

	var stats RunStats
	err = e.Store.WithTx(ctx, func(tx ledger.Store) error {
		stats = RunStats{}
		lg := ledger.NewLedger(tx, e.Catalog)
		for _, rec := range records {
			already, err := tx.HasEventForSalesRecord(ctx, rec.ID)
			if err != nil {
				return err
			}
			if already {
				stats.Skipped++
				continue
			}
			stats.Processed++

			if err := e.processRecord(ctx, lg, rec, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.Log.Error().Err(err).Str("location_id", string(locationID)).Msg("depletion run aborted")
		return RunStats{}, err
	}

	metrics.DepletionRuns.Inc()
	e.Log.Info().
		Str("location_id", string(locationID)).
		Int("processed", stats.Processed).
		Int("created", stats.Created).
		Int("unmapped", stats.Unmapped).
		Int("unresolved", stats.Unresolved).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("depletion run complete")
	return stats, nil
}

// RunChunked splits a long window into chunks and runs each as its own
// transaction, keeping a single transaction's scope bounded.
func (e *Engine) RunChunked(ctx context.Context, locationID ledger.LocationID, window Window, chunk time.Duration) (RunStats, error) {
	if chunk <= 0 {
		return e.Run(ctx, locationID, window)
	}
	var total RunStats
	for from := window.From; from.Before(window.To); from = from.Add(chunk) {
		to := from.Add(chunk)
		if to.After(window.To) {
			to = window.To
		}
		stats, err := e.Run(ctx, locationID, Window{From: from, To: to})
		if err != nil {
			return total, err
		}
		total.add(stats)
	}
	return total, nil
}

// processRecord posts at most one event for a record. Record-level
// problems are counted, not returned; only store failures and ambiguous
// configuration abort the run.
func (e *Engine) processRecord(ctx context.Context, lg *ledger.Ledger, rec ledger.SalesRecord, stats *RunStats) error {
	mapping, ok, err := e.Mappings.Resolve(ctx, rec.LocationID, rec.Source, rec.POSItemID, rec.SoldAt)
	if err != nil {
		return err
	}
	if !ok {
		e.Log.Debug().
			Str("pos_item_id", rec.POSItemID).
			Str("sales_record_id", string(rec.ID)).
			Msg("no mapping for POS item")
		stats.Unmapped++
		metrics.UnmappedRecords.Inc()
		return nil
	}

	ev, outcome, err := e.buildEvent(ctx, rec, mapping)
	if err != nil {
		var ambiguous *ledger.AmbiguousAssignmentError
		if errors.As(err, &ambiguous) {
			return err
		}
		e.Log.Warn().Err(err).
			Str("sales_record_id", string(rec.ID)).
			Str("mode", string(mapping.Mode)).
			Msg("sales record failed")
		stats.Failed++
		return nil
	}

	switch outcome {
	case outcomeUnresolved:
		stats.Unresolved++
		metrics.UnresolvedTaps.Inc()
		return nil
	case outcomePosted:
		if _, err := lg.Append(ctx, ev); err != nil {
			if errors.Is(err, ledger.ErrAlreadyDepleted) {
				// concurrent writer won the unique-index race
				stats.Skipped++
				return nil
			}
			if ledger.IsClientError(err) {
				e.Log.Warn().Err(err).Str("sales_record_id", string(rec.ID)).Msg("sales record rejected")
				stats.Failed++
				return nil
			}
			return err
		}
		stats.Created++
		metrics.EventsCreated.WithLabelValues(string(ev.Kind)).Inc()
	}
	return nil
}

type outcome int

const (
	outcomePosted outcome = iota
	outcomeUnresolved
)

// buildEvent dispatches on the mapping mode and the record's void/refund
// flags to construct the event to post.
func (e *Engine) buildEvent(ctx context.Context, rec ledger.SalesRecord, mapping ledger.ItemMapping) (ledger.ConsumptionEvent, outcome, error) {
	if rec.IsReversalCandidate() {
		return e.buildVoidReversal(ctx, rec, mapping)
	}

	switch mapping.Mode {
	case ledger.ModeDirectUnit:
		ev := e.newSaleEvent(rec, mapping)
		ev.Delta = ledger.Quantity{Value: rec.Quantity.Neg(), Unit: ledger.UnitCount}
		ev.Notes = "POS sale: " + rec.POSItemName
		return ev, outcomePosted, nil

	case ledger.ModeDraftByTap:
		profile, err := e.pourProfile(ctx, mapping)
		if err != nil {
			return ledger.ConsumptionEvent{}, 0, err
		}
		assignment, ok, err := e.Taps.Resolve(ctx, mapping.TapLineID, rec.SoldAt)
		if err != nil {
			return ledger.ConsumptionEvent{}, 0, err
		}
		if !ok {
			// A theoretical depletion cannot be attributed to a keg it
			// cannot identify.
			e.Log.Warn().
				Str("tap_line_id", string(mapping.TapLineID)).
				Time("sold_at", rec.SoldAt).
				Str("sales_record_id", string(rec.ID)).
				Msg("no keg on tap at sale time")
			return ledger.ConsumptionEvent{}, outcomeUnresolved, nil
		}
		ev := e.newSaleEvent(rec, mapping)
		ev.KegID = assignment.KegID
		ev.TapLineID = mapping.TapLineID
		ev.Delta = ledger.Quantity{Value: rec.Quantity.Mul(profile.Volume).Neg(), Unit: profile.Unit}
		ev.Notes = fmt.Sprintf("Draft sale: %s, %s", rec.POSItemName, profile.Name)
		return ev, outcomePosted, nil

	case ledger.ModeDraftByProduct:
		// Degraded fallback: without a tap reference there is no honest
		// way to pick a keg, so no event is fabricated.
		e.Log.Warn().
			Str("sales_record_id", string(rec.ID)).
			Msg("draft_by_product mapping skipped; use draft_by_tap for keg attribution")
		return ledger.ConsumptionEvent{}, outcomeUnresolved, nil

	default:
		return ledger.ConsumptionEvent{}, 0, fmt.Errorf("%w: %q", ledger.ErrUnknownMappingMode, mapping.Mode)
	}
}

// buildVoidReversal posts the positive counterpart of what the sale would
// have depleted. It carries the sales-record provenance but no ReversalOf
// back-reference: there may never have been an original event to point at.
// Draft volume is recomputed from the mapping's current pour profile.
func (e *Engine) buildVoidReversal(ctx context.Context, rec ledger.SalesRecord, mapping ledger.ItemMapping) (ledger.ConsumptionEvent, outcome, error) {
	ev := e.newSaleEvent(rec, mapping)
	ev.Notes = "Void/refund reversal: " + rec.POSItemName

	switch mapping.Mode {
	case ledger.ModeDirectUnit:
		ev.Delta = ledger.Quantity{Value: rec.Quantity, Unit: ledger.UnitCount}
	case ledger.ModeDraftByTap, ledger.ModeDraftByProduct:
		profile, err := e.pourProfile(ctx, mapping)
		if err != nil {
			return ledger.ConsumptionEvent{}, 0, err
		}
		ev.Delta = ledger.Quantity{Value: rec.Quantity.Mul(profile.Volume), Unit: profile.Unit}
	default:
		return ledger.ConsumptionEvent{}, 0, fmt.Errorf("%w: %q", ledger.ErrUnknownMappingMode, mapping.Mode)
	}
	return ev, outcomePosted, nil
}

func (e *Engine) pourProfile(ctx context.Context, mapping ledger.ItemMapping) (ledger.PourProfile, error) {
	if mapping.PourProfileID == "" {
		return ledger.PourProfile{}, &ledger.ValidationError{
			Field:  "pour_profile_id",
			Reason: "draft mapping " + string(mapping.ID) + " has no pour profile",
		}
	}
	return e.Catalog.PourProfile(ctx, mapping.PourProfileID)
}

func (e *Engine) newSaleEvent(rec ledger.SalesRecord, mapping ledger.ItemMapping) ledger.ConsumptionEvent {
	return ledger.ConsumptionEvent{
		ID:            ledger.EventID(uuid.NewString()),
		LocationID:    rec.LocationID,
		Kind:          ledger.KindPOSSale,
		Source:        rec.Source,
		OccurredAt:    rec.SoldAt,
		Confidence:    ledger.ConfidenceTheoretical,
		ItemID:        mapping.ItemID,
		SalesRecordID: rec.ID,
		ReceiptID:     rec.ReceiptID,
	}
}

func (e *Engine) lockLocation(id ledger.LocationID) func() {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
