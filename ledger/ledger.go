/*
ledger.go - Validated append path and replay queries

PURPOSE:
  The Ledger is the immutable source of truth for all inventory movement.
  Every POS depletion, manual adjustment, count reconciliation, and
  reversal is recorded here. On-hand is always computed by replaying
  events - there is no stored balance to drift out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete. Ever.
  2. IMMUTABLE: once written, events cannot be modified.
  3. AUDITABLE: every quantity change carries its provenance.
  4. IDEMPOTENT: one sales record produces at most one event.

CORRECTIONS:
  A mistake is never edited. A reversal event (opposite sign, ReversalOf
  set) plus a replacement event amend it; all three rows stay queryable.

VALIDATION ON APPEND:
  - required fields: item, kind, source, occurrence timestamp, unit
  - the delta's unit family must match the item's tracked unit family
  - ReversalOf may point at any event except another reversal

SEE ALSO:
  - store.go: persistence contracts
  - depletion/: the services that call Append
*/
package ledger

import (
	"context"
	"time"
)

// Ledger wraps a Store with append validation and replay queries.
type Ledger struct {
	store   Store
	catalog CatalogStore
}

func NewLedger(store Store, catalog CatalogStore) *Ledger {
	return &Ledger{store: store, catalog: catalog}
}

// Append validates and persists one event, returning its id.
func (l *Ledger) Append(ctx context.Context, ev ConsumptionEvent) (EventID, error) {
	if err := l.Validate(ctx, ev); err != nil {
		return "", err
	}
	return l.store.Append(ctx, ev)
}

// AppendBatch validates every event, then persists them atomically.
func (l *Ledger) AppendBatch(ctx context.Context, evs []ConsumptionEvent) error {
	for _, ev := range evs {
		if err := l.Validate(ctx, ev); err != nil {
			return err
		}
	}
	return l.store.AppendBatch(ctx, evs)
}

// Validate checks an event against the ledger invariants without
// persisting it.
func (l *Ledger) Validate(ctx context.Context, ev ConsumptionEvent) error {
	switch {
	case ev.ItemID == "":
		return &ValidationError{Field: "item_id", Reason: "required"}
	case ev.LocationID == "":
		return &ValidationError{Field: "location_id", Reason: "required"}
	case ev.Kind == "":
		return &ValidationError{Field: "kind", Reason: "required"}
	case ev.Source == "":
		return &ValidationError{Field: "source", Reason: "required"}
	case ev.OccurredAt.IsZero():
		return &ValidationError{Field: "occurred_at", Reason: "required"}
	case ev.Confidence == "":
		return &ValidationError{Field: "confidence", Reason: "required"}
	}

	family := FamilyOf(ev.Delta.Unit)
	if family == "" {
		return &ValidationError{Field: "unit", Reason: "unknown unit " + string(ev.Delta.Unit)}
	}

	item, err := l.catalog.Item(ctx, ev.ItemID)
	if err != nil {
		return err
	}
	if want := FamilyOf(item.BaseUnit); family != want {
		return &ValidationError{
			Field:  "unit",
			Reason: string(ev.Delta.Unit) + " is not in the item's " + string(want) + " family",
		}
	}

	if ev.ReversalOf != "" {
		original, err := l.store.Event(ctx, ev.ReversalOf)
		if err != nil {
			return err
		}
		// Bounded, acyclic back-reference: a reversal never gets reversed.
		if original.IsReversal() {
			return ErrReverseReversal
		}
	}
	return nil
}

// Event returns one event by id.
func (l *Ledger) Event(ctx context.Context, id EventID) (ConsumptionEvent, error) {
	return l.store.Event(ctx, id)
}

// EventsByItem returns an item's events with from < OccurredAt <= to.
func (l *Ledger) EventsByItem(ctx context.Context, itemID ItemID, from, to time.Time) ([]ConsumptionEvent, error) {
	return l.store.EventsByItem(ctx, itemID, from, to)
}

// EventsBySalesRecord returns the events a sales record produced.
func (l *Ledger) EventsBySalesRecord(ctx context.Context, id SalesRecordID) ([]ConsumptionEvent, error) {
	return l.store.EventsBySalesRecord(ctx, id)
}

// OnHandAt computes an item's on-hand quantity as of a cutoff: the sum of
// all deltas with OccurredAt <= asOf, in the item's base unit.
func (l *Ledger) OnHandAt(ctx context.Context, itemID ItemID, asOf time.Time) (Quantity, error) {
	item, err := l.catalog.Item(ctx, itemID)
	if err != nil {
		return Quantity{}, err
	}
	evs, err := l.store.EventsByItem(ctx, itemID, time.Time{}, asOf)
	if err != nil {
		return Quantity{}, err
	}
	onHand := Quantity{Unit: item.BaseUnit}
	for _, ev := range evs {
		// Events may use any unit of the item's family (e.g. ml against a
		// fl_oz item), so normalize before summing.
		d, err := Convert(ev.Delta, item.BaseUnit)
		if err != nil {
			return Quantity{}, err
		}
		onHand = onHand.Add(d)
	}
	return onHand, nil
}

// KegRemaining computes a keg's remaining volume as of a cutoff.
func (l *Ledger) KegRemaining(ctx context.Context, kegID KegID, asOf time.Time) (Quantity, error) {
	keg, err := l.catalog.Keg(ctx, kegID)
	if err != nil {
		return Quantity{}, err
	}
	evs, err := l.store.EventsByKeg(ctx, kegID, asOf)
	if err != nil {
		return Quantity{}, err
	}
	deltas := make([]Quantity, len(evs))
	for i, ev := range evs {
		d, err := Convert(ev.Delta, keg.StartingVolume.Unit)
		if err != nil {
			return Quantity{}, err
		}
		deltas[i] = d
	}
	return keg.Remaining(deltas), nil
}
