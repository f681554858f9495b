/*
resolve.go - Time-versioned lookups: mappings, tap assignments, prices

PURPOSE:
  Three questions recur throughout the engine, all with the same
  half-open-window semantics:
  - which inventory item does this POS item map to right now?
  - which keg is physically on this tap right now?
  - what did this item cost at that moment?

  Each resolver is a thin wrapper over ResolveAt (interval.go) that
  fetches candidate rows and upgrades ErrAmbiguousWindow into a
  structured error naming the offending key.

ABSENCE VS AMBIGUITY:
  Absence is expected and returns (zero, false, nil): an unmapped POS
  item or an empty tap is an operational state, not a failure.
  Ambiguity - overlapping windows for one key - is a configuration
  defect and always fails loudly.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MAPPING RESOLVER
// =============================================================================

type MappingResolver struct {
	Catalog CatalogStore
}

// Resolve returns the single mapping effective for (location, source,
// posItemID) at the given instant. ok=false means "unmapped".
func (r *MappingResolver) Resolve(ctx context.Context, locationID LocationID, source SourceSystem, posItemID string, at time.Time) (ItemMapping, bool, error) {
	rows, err := r.Catalog.MappingsForKey(ctx, locationID, source, posItemID)
	if err != nil {
		return ItemMapping{}, false, err
	}
	active := rows[:0]
	for _, m := range rows {
		if m.Active {
			active = append(active, m)
		}
	}
	m, ok, err := ResolveAt(active, at)
	if errors.Is(err, ErrAmbiguousWindow) {
		return ItemMapping{}, false, &AmbiguousMappingError{
			LocationID: locationID,
			Source:     source,
			POSItemID:  posItemID,
			At:         at,
			Matches:    countCovering(active, at),
		}
	}
	return m, ok, err
}

// =============================================================================
// TAP ASSIGNMENT RESOLVER
// =============================================================================

type TapResolver struct {
	Catalog CatalogStore
}

// Resolve returns the keg assignment effective on a tap line at the given
// instant. ok=false means "no keg currently on tap" - never an error.
func (r *TapResolver) Resolve(ctx context.Context, tapLineID TapLineID, at time.Time) (TapAssignment, bool, error) {
	rows, err := r.Catalog.AssignmentsForTap(ctx, tapLineID)
	if err != nil {
		return TapAssignment{}, false, err
	}
	a, ok, err := ResolveAt(rows, at)
	if errors.Is(err, ErrAmbiguousWindow) {
		return TapAssignment{}, false, &AmbiguousAssignmentError{
			TapLineID: tapLineID,
			At:        at,
			Matches:   countCovering(rows, at),
		}
	}
	return a, ok, err
}

// =============================================================================
// PRICE RESOLVER
// =============================================================================

type PriceResolver struct {
	Catalog CatalogStore
}

// UnitCostAt returns the item's effective unit cost at the given instant.
// ok=false means the item has no price in effect then.
func (r *PriceResolver) UnitCostAt(ctx context.Context, itemID ItemID, at time.Time) (decimal.Decimal, bool, error) {
	rows, err := r.Catalog.PriceHistory(ctx, itemID)
	if err != nil {
		return decimal.Zero, false, err
	}
	p, ok, err := ResolveAt(rows, at)
	if err != nil {
		// Overlapping price windows get the generic sentinel; prices never
		// gate depletion, only valuation.
		return decimal.Zero, false, err
	}
	if !ok {
		return decimal.Zero, false, nil
	}
	return p.UnitCost, true, nil
}

func countCovering[T Effective](rows []T, at time.Time) int {
	n := 0
	for _, row := range rows {
		if Covers(row, at) {
			n++
		}
	}
	return n
}
