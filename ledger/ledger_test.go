package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barflow/inventory-engine/ledger"
	"github.com/barflow/inventory-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddItem(ledger.InventoryItem{
		ID: "item-ipa", LocationID: "loc-1", Name: "House IPA", BaseUnit: ledger.UnitFlOz, Active: true,
	})
	mem.AddItem(ledger.InventoryItem{
		ID: "item-lager-can", LocationID: "loc-1", Name: "Lager Can", BaseUnit: ledger.UnitCount, Active: true,
	})
	return ledger.NewLedger(mem, mem), mem
}

func saleEvent(id ledger.EventID, item ledger.ItemID, at time.Time, delta ledger.Quantity) ledger.ConsumptionEvent {
	return ledger.ConsumptionEvent{
		ID:         id,
		LocationID: "loc-1",
		Kind:       ledger.KindPOSSale,
		Source:     ledger.SourceToast,
		OccurredAt: at,
		Confidence: ledger.ConfidenceTheoretical,
		ItemID:     item,
		Delta:      delta,
	}
}

// =============================================================================
// APPEND VALIDATION
// =============================================================================

func TestLedger_Append_RequiredFields(t *testing.T) {
	lg, _ := newTestLedger(t)
	ctx := context.Background()

	ev := saleEvent("ev-1", "item-ipa", ts(1, 20), ledger.NewQuantity(-16, ledger.UnitFlOz))
	ev.ItemID = ""

	_, err := lg.Append(ctx, ev)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	ev = saleEvent("ev-2", "item-ipa", time.Time{}, ledger.NewQuantity(-16, ledger.UnitFlOz))
	_, err = lg.Append(ctx, ev)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestLedger_Append_UnitFamilyMustMatchItem(t *testing.T) {
	// GIVEN: an item tracked by count (cans)
	// WHEN: appending a volume delta for it
	// THEN: validation rejects the cross-family unit

	lg, _ := newTestLedger(t)
	ctx := context.Background()

	ev := saleEvent("ev-1", "item-lager-can", ts(1, 20), ledger.NewQuantity(-16, ledger.UnitFlOz))
	_, err := lg.Append(ctx, ev)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	// ml for a fl_oz item is fine: same volume family.
	ev = saleEvent("ev-2", "item-ipa", ts(1, 20), ledger.NewQuantity(-473, ledger.UnitML))
	_, err = lg.Append(ctx, ev)
	assert.NoError(t, err)
}

func TestLedger_Append_UnknownItem(t *testing.T) {
	lg, _ := newTestLedger(t)

	ev := saleEvent("ev-1", "item-ghost", ts(1, 20), ledger.NewQuantity(-1, ledger.UnitCount))
	_, err := lg.Append(context.Background(), ev)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLedger_Append_ReversalOfReversal_Rejected(t *testing.T) {
	// GIVEN: an original event and its reversal
	// WHEN: appending an event that reverses the reversal
	// THEN: rejected - correction chains are forbidden

	lg, _ := newTestLedger(t)
	ctx := context.Background()

	original := saleEvent("ev-orig", "item-ipa", ts(1, 20), ledger.NewQuantity(-16, ledger.UnitFlOz))
	_, err := lg.Append(ctx, original)
	require.NoError(t, err)

	reversal := saleEvent("ev-rev", "item-ipa", ts(1, 20), ledger.NewQuantity(16, ledger.UnitFlOz))
	reversal.ReversalOf = "ev-orig"
	_, err = lg.Append(ctx, reversal)
	require.NoError(t, err)

	again := saleEvent("ev-rev-rev", "item-ipa", ts(1, 20), ledger.NewQuantity(-16, ledger.UnitFlOz))
	again.ReversalOf = "ev-rev"
	_, err = lg.Append(ctx, again)
	assert.ErrorIs(t, err, ledger.ErrReverseReversal)
}

// =============================================================================
// REPLAY QUERIES
// =============================================================================

func TestLedger_OnHandAt_ReplaysDeltas(t *testing.T) {
	// GIVEN: a delivery of 1984 fl oz and two pours of 16
	// WHEN: computing on-hand after all three
	// THEN: balance is the exact sum, in the item's base unit

	lg, _ := newTestLedger(t)
	ctx := context.Background()

	delivery := saleEvent("ev-d", "item-ipa", ts(1, 9), ledger.NewQuantity(1984, ledger.UnitFlOz))
	delivery.Kind = ledger.KindManualAdjust
	delivery.Source = ledger.SourceManual
	_, err := lg.Append(ctx, delivery)
	require.NoError(t, err)

	for i, hour := range []int{18, 19} {
		ev := saleEvent(ledger.EventID("ev-"+string(rune('a'+i))), "item-ipa", ts(1, hour),
			ledger.NewQuantity(-16, ledger.UnitFlOz))
		_, err := lg.Append(ctx, ev)
		require.NoError(t, err)
	}

	onHand, err := lg.OnHandAt(ctx, "item-ipa", ts(1, 23))
	require.NoError(t, err)
	assert.True(t, onHand.Value.Equal(decimal.NewFromInt(1952)), "got %s", onHand.Value)
	assert.Equal(t, ledger.UnitFlOz, onHand.Unit)

	// As-of before the pours only sees the delivery.
	onHand, err = lg.OnHandAt(ctx, "item-ipa", ts(1, 12))
	require.NoError(t, err)
	assert.True(t, onHand.Value.Equal(decimal.NewFromInt(1984)), "got %s", onHand.Value)
}

func TestLedger_KegRemaining_FlooredAtZero(t *testing.T) {
	// GIVEN: a half-barrel keg with more poured against it than it held
	// WHEN: computing remaining volume
	// THEN: display floors at zero instead of going negative

	lg, mem := newTestLedger(t)
	ctx := context.Background()

	mem.AddKeg(ledger.KegInstance{
		ID: "keg-1", LocationID: "loc-1", ItemID: "item-ipa", Status: ledger.KegInService,
		ReceivedAt:     ts(1, 0),
		StartingVolume: ledger.NewQuantity(30, ledger.UnitFlOz),
	})

	ev := saleEvent("ev-1", "item-ipa", ts(1, 20), ledger.NewQuantity(-48, ledger.UnitFlOz))
	ev.KegID = "keg-1"
	_, err := lg.Append(ctx, ev)
	require.NoError(t, err)

	remaining, err := lg.KegRemaining(ctx, "keg-1", ts(2, 0))
	require.NoError(t, err)
	assert.True(t, remaining.IsZero(), "got %s", remaining.Value)
}

// =============================================================================
// UNIT CONVERSION
// =============================================================================

func TestConvert_VolumeRoundTrip(t *testing.T) {
	oz := ledger.NewQuantity(16, ledger.UnitFlOz)

	ml, err := ledger.Convert(oz, ledger.UnitML)
	require.NoError(t, err)
	assert.Equal(t, ledger.UnitML, ml.Unit)

	back, err := ledger.Convert(ml, ledger.UnitFlOz)
	require.NoError(t, err)
	assert.True(t, back.Value.Equal(oz.Value), "round trip drifted: %s", back.Value)
}

func TestConvert_SameUnitIsIdentity(t *testing.T) {
	q := ledger.NewQuantity(3, ledger.UnitCount)
	got, err := ledger.Convert(q, ledger.UnitCount)
	require.NoError(t, err)
	assert.True(t, got.Equal(q))
}

func TestConvert_CrossFamilyRejected(t *testing.T) {
	_, err := ledger.Convert(ledger.NewQuantity(16, ledger.UnitFlOz), ledger.UnitCount)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = ledger.Convert(ledger.NewQuantity(100, ledger.UnitGram), ledger.UnitML)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
