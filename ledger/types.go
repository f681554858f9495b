/*
Package ledger provides the core consumption-ledger engine.

PURPOSE:
  This package contains the types and contracts for tracking beverage
  inventory movement as an append-only event log. Every depletion,
  adjustment, correction, and count reconciliation is recorded as a
  ConsumptionEvent; on-hand quantity is always computed by replaying
  events - there is no stored balance that can drift.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: a signed magnitude with a unit (e.g. -48 fl_oz, +3 units)
  - ConsumptionEvent: an immutable ledger entry recording a quantity delta
  - SalesRecord: the canonical, POS-agnostic sales input
  - Identifiers: type-safe IDs so item/keg/tap references can't be mixed

DESIGN PRINCIPLES:
  1. Immutability: events are never modified, only reversed
  2. Precision: decimal.Decimal for all quantity math, never floats
  3. Unit discipline: an event's unit must match its item's unit family
  4. Provenance: every event is traceable to its sales record or actor

SEE ALSO:
  - catalog.go: reference data (mappings, taps, kegs, items, sessions)
  - ledger.go: validation and append path
  - store.go: persistence contracts
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY - Signed magnitude with unit
// =============================================================================

type Quantity struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitCount Unit = "units"
	UnitFlOz  Unit = "fl_oz"
	UnitML    Unit = "ml"
	UnitGram  Unit = "grams"
)

// UnitFamily groups units that are mutually convertible. An item tracks
// one family; ledger events for that item must use a unit in it.
type UnitFamily string

const (
	FamilyCount  UnitFamily = "count"
	FamilyVolume UnitFamily = "volume"
	FamilyMass   UnitFamily = "mass"
)

// FamilyOf returns the unit family for a unit, or "" for an unknown unit.
func FamilyOf(u Unit) UnitFamily {
	switch u {
	case UnitCount:
		return FamilyCount
	case UnitFlOz, UnitML:
		return FamilyVolume
	case UnitGram:
		return FamilyMass
	default:
		return ""
	}
}

func NewQuantity(value float64, unit Unit) Quantity {
	return Quantity{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewQuantityFromInt(value int, unit Unit) Quantity {
	return Quantity{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func (q Quantity) Zero() Quantity                 { return Quantity{Value: decimal.Zero, Unit: q.Unit} }
func (q Quantity) Add(o Quantity) Quantity        { return Quantity{Value: q.Value.Add(o.Value), Unit: q.Unit} }
func (q Quantity) Sub(o Quantity) Quantity        { return Quantity{Value: q.Value.Sub(o.Value), Unit: q.Unit} }
func (q Quantity) Mul(s decimal.Decimal) Quantity { return Quantity{Value: q.Value.Mul(s), Unit: q.Unit} }
func (q Quantity) Neg() Quantity                  { return Quantity{Value: q.Value.Neg(), Unit: q.Unit} }
func (q Quantity) Abs() Quantity                  { return Quantity{Value: q.Value.Abs(), Unit: q.Unit} }
func (q Quantity) IsZero() bool                   { return q.Value.IsZero() }
func (q Quantity) IsNegative() bool               { return q.Value.IsNegative() }
func (q Quantity) IsPositive() bool               { return q.Value.IsPositive() }
func (q Quantity) Equal(o Quantity) bool          { return q.Unit == o.Unit && q.Value.Equal(o.Value) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	EventID       string
	LocationID    string
	ItemID        string
	KegID         string
	TapLineID     string
	SalesRecordID string
	SessionID     string
	MappingID     string
	ProfileID     string
)

// =============================================================================
// EVENT TAXONOMY - Fixed and closed
// =============================================================================

type EventKind string

const (
	KindPOSSale         EventKind = "pos_sale"
	KindTapFlow         EventKind = "tap_flow"
	KindManualAdjust    EventKind = "manual_adjustment"
	KindCountAdjustment EventKind = "inventory_count_adjustment"
	KindTransfer        EventKind = "transfer"
)

type SourceSystem string

const (
	SourceToast      SourceSystem = "toast"
	SourceSquare     SourceSystem = "square"
	SourceLightspeed SourceSystem = "lightspeed"
	SourceClover     SourceSystem = "clover"
	SourceOther      SourceSystem = "other"
	SourceManual     SourceSystem = "manual"
)

type Confidence string

const (
	ConfidenceTheoretical Confidence = "theoretical"
	ConfidenceMeasured    Confidence = "measured"
	ConfidenceEstimated   Confidence = "estimated"
)

type VarianceReason string

const (
	ReasonWasteFoam    VarianceReason = "waste_foam"
	ReasonComp         VarianceReason = "comp"
	ReasonStaffDrink   VarianceReason = "staff_drink"
	ReasonTheft        VarianceReason = "theft"
	ReasonBreakage     VarianceReason = "breakage"
	ReasonLineCleaning VarianceReason = "line_cleaning"
	ReasonTransfer     VarianceReason = "transfer"
	ReasonUnknown      VarianceReason = "unknown"
)

// =============================================================================
// CONSUMPTION EVENT - The ledger entry
// =============================================================================

// ConsumptionEvent is one immutable row of the consumption ledger.
//
// INVARIANT: once persisted, no field ever changes and the row is never
// removed. Corrections are new rows (see depletion.Corrector).
//
// Delta sign convention: negative = consumption, positive = replenishment
// or reversal.
type ConsumptionEvent struct {
	ID         EventID
	LocationID LocationID
	Kind       EventKind
	Source     SourceSystem
	OccurredAt time.Time
	Confidence Confidence

	// Subject
	ItemID    ItemID    // required
	KegID     KegID     // optional
	TapLineID TapLineID // optional

	// Magnitude
	Delta Quantity

	// Provenance
	SalesRecordID SalesRecordID // optional; unique per record when set
	ReceiptID     string
	Reason        VarianceReason // optional
	Notes         string

	// Correction linkage. An event reverses at most one prior event and a
	// reversal can never itself be reversed.
	ReversalOf EventID

	CreatedAt time.Time
	CreatedBy string // actor identity from the external access layer
}

// IsReversal reports whether this event reverses another event.
func (e ConsumptionEvent) IsReversal() bool { return e.ReversalOf != "" }

// =============================================================================
// SALES RECORD - Canonical POS-agnostic input
// =============================================================================

// SalesRecord is the canonical representation of one POS sale line.
// The depletion engine only ever consumes this shape; POS adapters
// (external to this module) transform their exports into it.
//
// INVARIANT: (Source, SourceLocation, BusinessDate, ReceiptID, LineID,
// SizeModifierID) is unique. Re-ingesting identical upstream data must
// not create duplicate rows.
type SalesRecord struct {
	ID             SalesRecordID
	Source         SourceSystem
	SourceLocation string
	LocationID     LocationID
	BusinessDate   time.Time // date component only
	SoldAt         time.Time
	ReceiptID      string
	LineID         string
	POSItemID      string
	POSItemName    string
	Quantity       decimal.Decimal
	Voided         bool
	Refunded       bool
	SizeModifierID string
	SizeModifier   string
	CreatedAt      time.Time
}

// IsReversalCandidate reports whether the record must post a reversal
// instead of a depletion.
func (r SalesRecord) IsReversalCandidate() bool { return r.Voided || r.Refunded }
