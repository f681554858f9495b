/*
variance.go - Read-side reporting: on-hand and variance

PURPOSE:
  Pure replay queries over the ledger, no writes:
  - OnHand: every active item's balance as of a cutoff, valued at the
    unit cost effective at that cutoff
  - VarianceReport: theoretical consumption (pos_sale events) vs actual
    consumption (theoretical plus count adjustments) over a window, the
    gap valued at effective unit cost

  Because on-hand is replayed rather than stored, these reports are
  consistent with the ledger by construction - including the effect of
  any corrections posted since.
*/
package depletion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barflow/inventory-engine/ledger"
)

// =============================================================================
// REPORTER
// =============================================================================

type Reporter struct {
	Store   ledger.Store
	Catalog ledger.CatalogStore
	Prices  *ledger.PriceResolver
}

func NewReporter(store ledger.Store, catalog ledger.CatalogStore) *Reporter {
	return &Reporter{Store: store, Catalog: catalog, Prices: &ledger.PriceResolver{Catalog: catalog}}
}

// OnHandLine is one item's balance in an on-hand report.
type OnHandLine struct {
	ItemID   ledger.ItemID   `json:"item_id"`
	ItemName string          `json:"item_name"`
	OnHand   ledger.Quantity `json:"on_hand"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Value    decimal.Decimal `json:"value"`
	Priced   bool            `json:"priced"` // false when no price was in effect
}

// OnHand replays every active item's balance as of the cutoff.
func (r *Reporter) OnHand(ctx context.Context, locationID ledger.LocationID, asOf time.Time) ([]OnHandLine, error) {
	items, err := r.Catalog.ActiveItems(ctx, locationID)
	if err != nil {
		return nil, err
	}

	lg := ledger.NewLedger(r.Store, r.Catalog)
	lines := make([]OnHandLine, 0, len(items))
	for _, item := range items {
		onHand, err := lg.OnHandAt(ctx, item.ID, asOf)
		if err != nil {
			return nil, err
		}
		line := OnHandLine{ItemID: item.ID, ItemName: item.Name, OnHand: onHand}
		cost, ok, err := r.Prices.UnitCostAt(ctx, item.ID, asOf)
		if err != nil {
			return nil, err
		}
		if ok {
			line.UnitCost = cost
			line.Value = onHand.Value.Mul(cost)
			line.Priced = true
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// VarianceLine is one item's row in a variance report.
//
// Theoretical consumption is what the POS says should have left the
// shelf; actual consumption additionally includes the count adjustments
// posted by session closes. Variance = actual - theoretical: negative
// means unexplained shrinkage.
type VarianceLine struct {
	ItemID      ledger.ItemID   `json:"item_id"`
	ItemName    string          `json:"item_name"`
	Theoretical ledger.Quantity `json:"theoretical"`
	Actual      ledger.Quantity `json:"actual"`
	Variance    ledger.Quantity `json:"variance"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	CostImpact  decimal.Decimal `json:"cost_impact"`
}

// VarianceReport compares theoretical and actual consumption for every
// active item at a location over (from, to].
func (r *Reporter) VarianceReport(ctx context.Context, locationID ledger.LocationID, from, to time.Time) ([]VarianceLine, error) {
	items, err := r.Catalog.ActiveItems(ctx, locationID)
	if err != nil {
		return nil, err
	}

	lines := make([]VarianceLine, 0, len(items))
	for _, item := range items {
		evs, err := r.Store.EventsByItem(ctx, item.ID, from, to)
		if err != nil {
			return nil, err
		}

		theoretical := ledger.Quantity{Unit: item.BaseUnit}
		adjustments := ledger.Quantity{Unit: item.BaseUnit}
		for _, ev := range evs {
			d, err := ledger.Convert(ev.Delta, item.BaseUnit)
			if err != nil {
				return nil, err
			}
			switch ev.Kind {
			case ledger.KindPOSSale, ledger.KindTapFlow:
				theoretical = theoretical.Add(d)
			case ledger.KindCountAdjustment:
				adjustments = adjustments.Add(d)
			}
		}
		actual := theoretical.Add(adjustments)
		variance := actual.Sub(theoretical)
		if theoretical.IsZero() && variance.IsZero() {
			continue
		}

		line := VarianceLine{
			ItemID:      item.ID,
			ItemName:    item.Name,
			Theoretical: theoretical,
			Actual:      actual,
			Variance:    variance,
		}
		cost, ok, err := r.Prices.UnitCostAt(ctx, item.ID, to)
		if err != nil {
			return nil, err
		}
		if ok {
			line.UnitCost = cost
			line.CostImpact = variance.Value.Mul(cost)
		}
		lines = append(lines, line)
	}
	return lines, nil
}
