package depletion_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barflow/inventory-engine/depletion"
	"github.com/barflow/inventory-engine/ledger"
	"github.com/barflow/inventory-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newReportRig(t *testing.T) (*depletion.Reporter, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()

	mem.AddItem(ledger.InventoryItem{
		ID: "item-ipa", LocationID: loc, Name: "House IPA", BaseUnit: ledger.UnitFlOz, Active: true,
	})
	mem.AddItem(ledger.InventoryItem{
		ID: "item-lager", LocationID: loc, Name: "Lager Can", BaseUnit: ledger.UnitCount, Active: true,
	})
	mem.AddItem(ledger.InventoryItem{
		ID: "item-dusty", LocationID: loc, Name: "Dusty Amaro", BaseUnit: ledger.UnitML, Active: true,
	})

	return depletion.NewReporter(mem, mem), mem
}

func post(t *testing.T, mem *store.Memory, id ledger.EventID, item ledger.ItemID, kind ledger.EventKind, delta float64, unit ledger.Unit, day, hour int) {
	t.Helper()
	_, err := mem.Append(context.Background(), ledger.ConsumptionEvent{
		ID:         id,
		LocationID: loc,
		Kind:       kind,
		Source:     ledger.SourceToast,
		OccurredAt: at(day, hour),
		Confidence: ledger.ConfidenceTheoretical,
		ItemID:     item,
		Delta:      ledger.NewQuantity(delta, unit),
	})
	require.NoError(t, err)
}

func priceFrom(item ledger.ItemID, cost float64, day int, until *int) ledger.PricePoint {
	p := ledger.PricePoint{
		ID:            string(item) + "-price",
		ItemID:        item,
		UnitCost:      decimal.NewFromFloat(cost),
		Currency:      "USD",
		EffectiveFrom: at(day, 0),
	}
	if until != nil {
		end := at(*until, 0)
		p.EffectiveTo = &end
		p.ID += "-old"
	}
	return p
}

// =============================================================================
// ON-HAND REPORT
// =============================================================================

func TestReporter_OnHand_ReplaysAndValues(t *testing.T) {
	// GIVEN: 24 cans received, 3 sold, costing $1.20 each
	// WHEN: reporting on-hand after the sales
	// THEN: 21 on hand valued at $25.20

	rep, mem := newReportRig(t)
	ctx := context.Background()

	post(t, mem, "ev-recv", "item-lager", ledger.KindManualAdjust, 24, ledger.UnitCount, 1, 8)
	post(t, mem, "ev-sale", "item-lager", ledger.KindPOSSale, -3, ledger.UnitCount, 2, 20)
	mem.AddPrice(priceFrom("item-lager", 1.20, 1, nil))

	lines, err := rep.OnHand(ctx, loc, at(3, 0))
	require.NoError(t, err)

	lager := findOnHand(t, lines, "item-lager")
	assert.True(t, lager.OnHand.Value.Equal(decimal.NewFromInt(21)))
	assert.True(t, lager.Priced)
	assert.True(t, lager.Value.Equal(decimal.NewFromFloat(25.2)), "got %s", lager.Value)
}

func TestReporter_OnHand_CutoffExcludesLaterEvents(t *testing.T) {
	rep, mem := newReportRig(t)

	post(t, mem, "ev-recv", "item-lager", ledger.KindManualAdjust, 24, ledger.UnitCount, 1, 8)
	post(t, mem, "ev-sale", "item-lager", ledger.KindPOSSale, -3, ledger.UnitCount, 5, 20)

	lines, err := rep.OnHand(context.Background(), loc, at(3, 0))
	require.NoError(t, err)

	lager := findOnHand(t, lines, "item-lager")
	assert.True(t, lager.OnHand.Value.Equal(decimal.NewFromInt(24)), "day-5 sale is after the cutoff")
}

func TestReporter_OnHand_UnpricedItemReportedWithoutValue(t *testing.T) {
	// An item with no effective price still reports quantity; the money
	// columns stay zero and Priced flags why.
	rep, mem := newReportRig(t)

	post(t, mem, "ev-recv", "item-dusty", ledger.KindManualAdjust, 750, ledger.UnitML, 1, 8)

	lines, err := rep.OnHand(context.Background(), loc, at(3, 0))
	require.NoError(t, err)

	dusty := findOnHand(t, lines, "item-dusty")
	assert.True(t, dusty.OnHand.Value.Equal(decimal.NewFromInt(750)))
	assert.False(t, dusty.Priced)
	assert.True(t, dusty.Value.IsZero())
}

// =============================================================================
// VARIANCE REPORT
// =============================================================================

func TestReporter_Variance_AdjustmentsExplainShrinkage(t *testing.T) {
	// GIVEN: POS says 48 fl oz poured, a count adjustment found 6 more gone
	// WHEN: reporting over the window
	// THEN: theoretical -48, actual -54, variance -6 costed at $0.55/fl oz

	rep, mem := newReportRig(t)
	ctx := context.Background()

	post(t, mem, "ev-1", "item-ipa", ledger.KindPOSSale, -16, ledger.UnitFlOz, 2, 19)
	post(t, mem, "ev-2", "item-ipa", ledger.KindPOSSale, -32, ledger.UnitFlOz, 2, 21)
	post(t, mem, "ev-adj", "item-ipa", ledger.KindCountAdjustment, -6, ledger.UnitFlOz, 3, 2)
	mem.AddPrice(priceFrom("item-ipa", 0.55, 1, nil))

	lines, err := rep.VarianceReport(ctx, loc, at(2, 0), at(4, 0))
	require.NoError(t, err)
	require.Len(t, lines, 1)

	ipa := lines[0]
	assert.Equal(t, ledger.ItemID("item-ipa"), ipa.ItemID)
	assert.True(t, ipa.Theoretical.Value.Equal(decimal.NewFromInt(-48)))
	assert.True(t, ipa.Actual.Value.Equal(decimal.NewFromInt(-54)))
	assert.True(t, ipa.Variance.Value.Equal(decimal.NewFromInt(-6)))
	assert.True(t, ipa.CostImpact.Equal(decimal.NewFromFloat(-3.3)), "got %s", ipa.CostImpact)
}

func TestReporter_Variance_TapFlowCountsAsTheoretical(t *testing.T) {
	rep, mem := newReportRig(t)

	post(t, mem, "ev-1", "item-ipa", ledger.KindPOSSale, -16, ledger.UnitFlOz, 2, 19)
	post(t, mem, "ev-2", "item-ipa", ledger.KindTapFlow, -17, ledger.UnitFlOz, 2, 19)

	lines, err := rep.VarianceReport(context.Background(), loc, at(2, 0), at(3, 0))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Theoretical.Value.Equal(decimal.NewFromInt(-33)))
	assert.True(t, lines[0].Variance.IsZero())
}

func TestReporter_Variance_CostUsesPriceEffectiveAtWindowEnd(t *testing.T) {
	// GIVEN: the cost rose from $0.50 to $0.62 mid-window
	// WHEN: valuing the variance
	// THEN: the window-end cost applies

	rep, mem := newReportRig(t)

	post(t, mem, "ev-1", "item-ipa", ledger.KindPOSSale, -16, ledger.UnitFlOz, 2, 19)
	post(t, mem, "ev-adj", "item-ipa", ledger.KindCountAdjustment, -10, ledger.UnitFlOz, 6, 2)

	cut := 5
	mem.AddPrice(priceFrom("item-ipa", 0.50, 1, &cut))
	mem.AddPrice(priceFrom("item-ipa", 0.62, 5, nil))

	lines, err := rep.VarianceReport(context.Background(), loc, at(2, 0), at(7, 0))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].CostImpact.Equal(decimal.NewFromFloat(-6.2)), "got %s", lines[0].CostImpact)
}

func TestReporter_Variance_QuietItemsOmitted(t *testing.T) {
	// Items with no consumption and no adjustment in the window stay out
	// of the report.
	rep, mem := newReportRig(t)

	post(t, mem, "ev-1", "item-ipa", ledger.KindPOSSale, -16, ledger.UnitFlOz, 2, 19)
	post(t, mem, "ev-old", "item-lager", ledger.KindPOSSale, -3, ledger.UnitCount, 1, 19)

	lines, err := rep.VarianceReport(context.Background(), loc, at(2, 0), at(3, 0))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, ledger.ItemID("item-ipa"), lines[0].ItemID)
}

func TestReporter_Variance_ManualAdjustNotConsumption(t *testing.T) {
	// Receiving stock (manual_adjustment) is neither theoretical nor
	// actual consumption.
	rep, mem := newReportRig(t)

	post(t, mem, "ev-recv", "item-lager", ledger.KindManualAdjust, 24, ledger.UnitCount, 2, 8)
	post(t, mem, "ev-sale", "item-lager", ledger.KindPOSSale, -3, ledger.UnitCount, 2, 20)

	lines, err := rep.VarianceReport(context.Background(), loc, at(2, 0), at(3, 0))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Theoretical.Value.Equal(decimal.NewFromInt(-3)))
	assert.True(t, lines[0].Actual.Value.Equal(decimal.NewFromInt(-3)))
}

func findOnHand(t *testing.T, lines []depletion.OnHandLine, item ledger.ItemID) depletion.OnHandLine {
	t.Helper()
	for _, l := range lines {
		if l.ItemID == item {
			return l
		}
	}
	t.Fatalf("no on-hand line for %s", item)
	return depletion.OnHandLine{}
}
