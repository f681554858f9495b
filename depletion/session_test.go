package depletion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
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

// newSessionRig seeds a venue with theoretical on-hand established before
// the session starts: 24 lager cans and 1984 fl oz of draft IPA.
func newSessionRig(t *testing.T, thresholds depletion.Thresholds) (*depletion.Reconciler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()

	mem.AddItem(ledger.InventoryItem{
		ID: "item-ipa", LocationID: loc, Name: "House IPA", BaseUnit: ledger.UnitFlOz, Active: true,
	})
	mem.AddItem(ledger.InventoryItem{
		ID: "item-lager", LocationID: loc, Name: "Lager Can", BaseUnit: ledger.UnitCount, Active: true,
	})
	mem.AddItem(ledger.InventoryItem{
		ID: "item-gin", LocationID: loc, Name: "Gin 750", BaseUnit: ledger.UnitML, Active: true,
	})

	ctx := context.Background()
	seed := func(item ledger.ItemID, value float64, unit ledger.Unit) {
		_, err := mem.Append(ctx, ledger.ConsumptionEvent{
			LocationID: loc,
			Kind:       ledger.KindManualAdjust,
			Source:     ledger.SourceManual,
			OccurredAt: at(1, 8),
			Confidence: ledger.ConfidenceMeasured,
			ItemID:     item,
			Delta:      ledger.NewQuantity(value, unit),
		})
		require.NoError(t, err)
	}
	seed("item-lager", 24, ledger.UnitCount)
	seed("item-ipa", 1984, ledger.UnitFlOz)
	seed("item-gin", 750, ledger.UnitML)

	mem.AddSession(ledger.InventorySession{
		ID: "sess-1", LocationID: loc, StartedAt: at(2, 8), CreatedBy: "manager-7",
	})

	return depletion.NewReconciler(mem, mem, mem, thresholds, zerolog.Nop()), mem
}

func unitLine(id string, item ledger.ItemID, count int64) ledger.SessionLine {
	v := decimal.NewFromInt(count)
	return ledger.SessionLine{ID: id, SessionID: "sess-1", ItemID: item, UnitCount: &v}
}

// =============================================================================
// CLOSE AND RECONCILE
// =============================================================================

func TestReconciler_Close_PostsAdjustmentsForDrift(t *testing.T) {
	// GIVEN: 24 cans theoretical, 22 counted
	// WHEN: closing with a breakage reason
	// THEN: a -2 measured adjustment re-anchors the ledger

	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(1)})
	ctx := context.Background()

	mem.AddSessionLine(unitLine("l1", "item-lager", 22))

	results, err := rec.CloseSession(ctx, "sess-1",
		map[ledger.ItemID]ledger.VarianceReason{"item-lager": ledger.ReasonBreakage}, "manager-7")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Variance.Value.Equal(decimal.NewFromInt(-2)))
	assert.True(t, results[0].Adjusted)

	sess, _ := mem.Session(ctx, "sess-1")
	assert.True(t, sess.Closed())
	assert.Equal(t, "manager-7", sess.ClosedBy)

	// Adjustments are stamped at close time, so replay past now.
	horizon := time.Now().UTC().Add(time.Hour)
	lg := ledger.NewLedger(mem, mem)
	onHand, err := lg.OnHandAt(ctx, "item-lager", horizon)
	require.NoError(t, err)
	assert.True(t, onHand.Value.Equal(decimal.NewFromInt(22)), "ledger re-anchored to the count")

	evs, _ := mem.EventsByItem(ctx, "item-lager", at(2, 0), horizon)
	require.Len(t, evs, 1)
	assert.Equal(t, ledger.KindCountAdjustment, evs[0].Kind)
	assert.Equal(t, ledger.ConfidenceMeasured, evs[0].Confidence)
	assert.Equal(t, ledger.ReasonBreakage, evs[0].Reason)
}

func TestReconciler_Close_NoDriftNoAdjustment(t *testing.T) {
	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(1)})
	ctx := context.Background()

	mem.AddSessionLine(unitLine("l1", "item-lager", 24))

	results, err := rec.CloseSession(ctx, "sess-1", nil, "manager-7")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Adjusted)

	evs, _ := mem.EventsByItem(ctx, "item-lager", at(2, 0), time.Now().UTC().Add(time.Hour))
	assert.Empty(t, evs, "zero variance posts nothing")
}

// =============================================================================
// VARIANCE REASON GATE
// =============================================================================

func TestReconciler_Close_MissingReason_AbortsWhole(t *testing.T) {
	// GIVEN: two drifted items, only one with a reason
	// WHEN: closing
	// THEN: the whole close aborts - no partial adjustments, session open,
	//       and the error names the item still needing a reason

	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(1)})
	ctx := context.Background()

	mem.AddSessionLine(unitLine("l1", "item-lager", 20))
	mem.AddKeg(ledger.KegInstance{
		ID: "keg-1", LocationID: loc, ItemID: "item-ipa", Status: ledger.KegInService,
		ReceivedAt: at(1, 0), StartingVolume: ledger.NewQuantity(1984, ledger.UnitFlOz),
	})
	pct := decimal.NewFromInt(40)
	mem.AddSessionLine(ledger.SessionLine{
		ID: "l2", SessionID: "sess-1", ItemID: "item-ipa",
		KegID: "keg-1", PercentRemaining: &pct,
	})

	_, err := rec.CloseSession(ctx, "sess-1",
		map[ledger.ItemID]ledger.VarianceReason{"item-lager": ledger.ReasonComp}, "manager-7")

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrMissingVarianceReason)

	var missing *ledger.MissingVarianceReasonError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []ledger.ItemID{"item-ipa"}, missing.Items)

	sess, _ := mem.Session(ctx, "sess-1")
	assert.False(t, sess.Closed(), "gated close leaves the session open")

	evs, _ := mem.EventsByItem(ctx, "item-lager", at(2, 0), time.Now().UTC().Add(time.Hour))
	assert.Empty(t, evs, "no partial adjustments")
}

func TestReconciler_Close_SmallDriftPassesWithoutReason(t *testing.T) {
	// Variance within the threshold closes cleanly with no reason.
	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(3)})
	ctx := context.Background()

	mem.AddSessionLine(unitLine("l1", "item-lager", 22))

	results, err := rec.CloseSession(ctx, "sess-1", nil, "manager-7")
	require.NoError(t, err)
	assert.True(t, results[0].Adjusted, "the adjustment still posts; only the reason is waived")
}

func TestReconciler_Close_PercentThreshold(t *testing.T) {
	// GIVEN: absolute threshold high, percent threshold 5%
	// WHEN: drift is 4 of 24 cans (~17%)
	// THEN: the percent gate demands a reason

	rec, mem := newSessionRig(t, depletion.Thresholds{
		Absolute: decimal.NewFromInt(100),
		Percent:  decimal.NewFromInt(5),
	})
	mem.AddSessionLine(unitLine("l1", "item-lager", 20))

	_, err := rec.CloseSession(context.Background(), "sess-1", nil, "manager-7")
	assert.ErrorIs(t, err, ledger.ErrMissingVarianceReason)
}

// =============================================================================
// COUNT METHODS
// =============================================================================

func TestReconciler_Close_KegPercentCount(t *testing.T) {
	// GIVEN: a 1984 fl oz keg counted at 40% remaining
	// WHEN: closing
	// THEN: the count converts to 793.6 fl oz against the item

	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(10000)})
	ctx := context.Background()

	mem.AddKeg(ledger.KegInstance{
		ID: "keg-1", LocationID: loc, ItemID: "item-ipa", Status: ledger.KegInService,
		ReceivedAt: at(1, 0), StartingVolume: ledger.NewQuantity(1984, ledger.UnitFlOz),
	})
	pct := decimal.NewFromInt(40)
	mem.AddSessionLine(ledger.SessionLine{
		ID: "l1", SessionID: "sess-1", ItemID: "item-ipa",
		KegID: "keg-1", PercentRemaining: &pct,
	})

	results, err := rec.CloseSession(ctx, "sess-1", nil, "manager-7")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Counted.Value.Equal(decimal.NewFromFloat(793.6)),
		"got %s", results[0].Counted.Value)
}

func TestReconciler_Close_WeightCount(t *testing.T) {
	// GIVEN: a gin bottle with a spec, weighed half full
	// WHEN: closing
	// THEN: weight converts through the spec to ml

	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(10000)})
	ctx := context.Background()

	mem.AddBottleSpec(ledger.BottleSpec{
		ID: "spec-gin", ItemID: "item-gin",
		CapacityML:   decimal.NewFromInt(750),
		EmptyWeightG: decimal.NewFromInt(500),
		FullWeightG:  decimal.NewFromFloat(1212.5),
	})
	weight := decimal.NewFromFloat(856.25)
	mem.AddSessionLine(ledger.SessionLine{
		ID: "l1", SessionID: "sess-1", ItemID: "item-gin", GrossWeightGrams: &weight,
	})

	results, err := rec.CloseSession(ctx, "sess-1", nil, "manager-7")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Counted.Value.Equal(decimal.NewFromInt(375)),
		"got %s", results[0].Counted.Value)
}

func TestReconciler_Close_WeightCountWithoutSpec_Fails(t *testing.T) {
	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(10000)})

	weight := decimal.NewFromInt(900)
	mem.AddSessionLine(ledger.SessionLine{
		ID: "l1", SessionID: "sess-1", ItemID: "item-ipa", GrossWeightGrams: &weight,
	})

	_, err := rec.CloseSession(context.Background(), "sess-1", nil, "manager-7")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestReconciler_Close_MultipleLinesSameItemSum(t *testing.T) {
	// Bar front and storeroom counted separately sum into one comparison.
	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(10000)})

	mem.AddSessionLine(unitLine("l1", "item-lager", 8))
	mem.AddSessionLine(unitLine("l2", "item-lager", 14))

	results, err := rec.CloseSession(context.Background(), "sess-1", nil, "manager-7")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Counted.Value.Equal(decimal.NewFromInt(22)))
	assert.True(t, results[0].Variance.Value.Equal(decimal.NewFromInt(-2)))
}

// =============================================================================
// STATE GUARDS
// =============================================================================

func TestReconciler_Close_AlreadyClosed(t *testing.T) {
	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(10000)})
	ctx := context.Background()

	mem.AddSessionLine(unitLine("l1", "item-lager", 24))
	_, err := rec.CloseSession(ctx, "sess-1", nil, "manager-7")
	require.NoError(t, err)

	_, err = rec.CloseSession(ctx, "sess-1", nil, "manager-7")
	assert.ErrorIs(t, err, ledger.ErrSessionClosed)
}

func TestReconciler_Close_UnknownSession(t *testing.T) {
	rec, _ := newSessionRig(t, depletion.Thresholds{})

	_, err := rec.CloseSession(context.Background(), "sess-ghost", nil, "manager-7")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestReconciler_Close_TheoreticalAnchoredAtSessionStart(t *testing.T) {
	// GIVEN: a pour rung up after the session started
	// WHEN: closing against a count taken at session start
	// THEN: the post-start pour does not pollute the variance

	rec, mem := newSessionRig(t, depletion.Thresholds{Absolute: decimal.NewFromInt(10000)})
	ctx := context.Background()

	// Sale after session start: theoretical at start is still 24.
	_, err := mem.Append(ctx, ledger.ConsumptionEvent{
		LocationID: loc, Kind: ledger.KindPOSSale, Source: ledger.SourceToast,
		OccurredAt: at(2, 12), Confidence: ledger.ConfidenceTheoretical,
		ItemID: "item-lager", Delta: ledger.NewQuantity(-3, ledger.UnitCount),
	})
	require.NoError(t, err)

	mem.AddSessionLine(unitLine("l1", "item-lager", 24))

	results, err := rec.CloseSession(ctx, "sess-1", nil, "manager-7")
	require.NoError(t, err)
	assert.True(t, results[0].Variance.IsZero(),
		"variance must compare against theoretical at session start, got %s", results[0].Variance.Value)
}
