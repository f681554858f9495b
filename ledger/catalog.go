/*
catalog.go - Reference data read by the ledger components

PURPOSE:
  Mappings, tap assignments, items, prices, pour profiles, kegs, and
  counting sessions. These rows are owned by catalog/configuration
  management (an external collaborator); the ledger engine only reads
  them. The time-versioned ones (ItemMapping, TapAssignment, PricePoint)
  share one half-open effective-window shape so a single resolver can
  serve all three - see interval.go.

SEE ALSO:
  - interval.go: window resolution
  - resolve.go: the three concrete resolvers
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ITEM MAPPING - POS item -> inventory item, time-versioned
// =============================================================================

type MappingMode string

const (
	// ModeDirectUnit depletes whole tracked units (bottles, cans).
	ModeDirectUnit MappingMode = "direct_unit"
	// ModeDraftByTap depletes poured volume attributed to the keg on a
	// specific tap line.
	ModeDraftByTap MappingMode = "draft_by_tap"
	// ModeDraftByProduct is a degraded fallback with weaker attribution;
	// the engine treats it as a documented no-op rather than guessing a keg.
	ModeDraftByProduct MappingMode = "draft_by_product"
)

// ItemMapping binds a (source system, POS item) pair at a location to one
// inventory item over an effective window.
//
// INVARIANT: at most one active mapping is effective for a given
// (location, source, POS item) at any instant. Overlaps are a
// configuration defect the resolver refuses to pick through.
type ItemMapping struct {
	ID            MappingID
	LocationID    LocationID
	Source        SourceSystem
	POSItemID     string
	ItemID        ItemID
	Mode          MappingMode
	PourProfileID ProfileID // draft modes
	TapLineID     TapLineID // draft_by_tap
	Active        bool
	EffectiveFrom time.Time
	EffectiveTo   *time.Time // nil = open-ended
}

func (m ItemMapping) ActiveWindow() (time.Time, *time.Time) {
	return m.EffectiveFrom, m.EffectiveTo
}

// =============================================================================
// TAP ASSIGNMENT - Tap line -> keg, time-versioned
// =============================================================================

// TapAssignment binds a tap line to the keg physically connected over an
// effective window. Windows for one tap line must not overlap.
type TapAssignment struct {
	ID            string
	LocationID    LocationID
	TapLineID     TapLineID
	KegID         KegID
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

func (a TapAssignment) ActiveWindow() (time.Time, *time.Time) {
	return a.EffectiveFrom, a.EffectiveTo
}

// =============================================================================
// INVENTORY ITEM + PRICE HISTORY
// =============================================================================

type InventoryItem struct {
	ID         ItemID
	LocationID LocationID
	Name       string
	BaseUnit   Unit // defines the unit family ledger events must match
	Active     bool
}

// PricePoint is one entry of an item's time-versioned unit cost history.
type PricePoint struct {
	ID            string
	ItemID        ItemID
	UnitCost      decimal.Decimal
	Currency      string
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

func (p PricePoint) ActiveWindow() (time.Time, *time.Time) {
	return p.EffectiveFrom, p.EffectiveTo
}

// =============================================================================
// DRAFT: POUR PROFILES, TAP LINES, KEGS
// =============================================================================

// PourProfile converts a sold pour count into depleted volume.
type PourProfile struct {
	ID         ProfileID
	LocationID LocationID
	Name       string
	Volume     decimal.Decimal
	Unit       Unit // UnitFlOz or UnitML
	Active     bool
}

type TapLine struct {
	ID         TapLineID
	LocationID LocationID
	Name       string
}

type KegStatus string

const (
	KegInStorage KegStatus = "in_storage"
	KegInService KegStatus = "in_service"
	KegEmpty     KegStatus = "empty"
	KegReturned  KegStatus = "returned"
)

// KegInstance is a physical keg. Remaining volume is never stored; it is
// the starting volume plus the sum of ledger deltas referencing the keg.
type KegInstance struct {
	ID             KegID
	LocationID     LocationID
	ItemID         ItemID
	Status         KegStatus
	ReceivedAt     time.Time
	TappedAt       *time.Time
	EmptiedAt      *time.Time
	StartingVolume Quantity // volume family
}

// Remaining computes the keg's remaining volume given the ledger deltas
// that reference it up to a cutoff, floored at zero for display.
func (k KegInstance) Remaining(deltas []Quantity) Quantity {
	rem := k.StartingVolume
	for _, d := range deltas {
		rem = rem.Add(d)
	}
	if rem.IsNegative() {
		return rem.Zero()
	}
	return rem
}

// =============================================================================
// COUNTING SESSIONS
// =============================================================================

// InventorySession is a bounded physical counting exercise. It transitions
// Open -> Closed exactly once; closing posts the adjustment events.
type InventorySession struct {
	ID         SessionID
	LocationID LocationID
	StartedAt  time.Time
	EndedAt    *time.Time // nil = open
	CreatedBy  string
	ClosedBy   string
}

func (s InventorySession) Closed() bool { return s.EndedAt != nil }

// CountMethod identifies which of the three mutually exclusive ways a
// session line was counted.
type CountMethod string

const (
	CountByUnits      CountMethod = "units"
	CountByKegPercent CountMethod = "keg_percent"
	CountByWeight     CountMethod = "weight"
)

// SessionLine records one counted quantity. Exactly one of UnitCount,
// PercentRemaining, or GrossWeightGrams is populated.
type SessionLine struct {
	ID        string
	SessionID SessionID
	ItemID    ItemID

	UnitCount *decimal.Decimal

	TapLineID        TapLineID
	KegID            KegID
	PercentRemaining *decimal.Decimal // 0..100, of the keg's starting volume

	GrossWeightGrams *decimal.Decimal

	Notes string
}

// Method returns the populated count method, or "" when the line is
// malformed (none or several populated).
func (l SessionLine) Method() CountMethod {
	n := 0
	var m CountMethod
	if l.UnitCount != nil {
		n, m = n+1, CountByUnits
	}
	if l.PercentRemaining != nil {
		n, m = n+1, CountByKegPercent
	}
	if l.GrossWeightGrams != nil {
		n, m = n+1, CountByWeight
	}
	if n != 1 {
		return ""
	}
	return m
}

// BottleSpec converts a gross bottle weight into liquid volume. Recovered
// weight clamps to [0, capacity] so a heavy-handed tare never produces a
// negative count.
type BottleSpec struct {
	ID             string
	ItemID         ItemID
	CapacityML     decimal.Decimal
	EmptyWeightG   decimal.Decimal
	FullWeightG    decimal.Decimal
	DensityGPerML  decimal.Decimal // zero = use spirit default
}

// defaultDensity approximates 80-proof spirits.
var defaultDensity = decimal.NewFromFloat(0.95)

// LiquidML derives the liquid volume in ml from a gross weight.
func (b BottleSpec) LiquidML(grossWeightG decimal.Decimal) decimal.Decimal {
	net := grossWeightG.Sub(b.EmptyWeightG)
	if net.IsNegative() {
		net = decimal.Zero
	}
	maxNet := b.FullWeightG.Sub(b.EmptyWeightG)
	if maxNet.IsPositive() && net.GreaterThan(maxNet) {
		net = maxNet
	}
	density := b.DensityGPerML
	if density.IsZero() {
		density = defaultDensity
	}
	return net.Div(density)
}
