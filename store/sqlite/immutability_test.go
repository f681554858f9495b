package sqlite

// White-box tests that reach past the public API: the immutability
// triggers only matter against raw SQL, and a corrupt stored decimal can
// only be planted through the bare handle.

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barflow/inventory-engine/ledger"
)

func newRawStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTriggers_RejectRawUpdateAndDelete(t *testing.T) {
	// GIVEN: a posted event
	// WHEN: raw SQL tries to modify or remove it
	// THEN: the triggers abort and the row is untouched

	s := newRawStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, ledger.ConsumptionEvent{
		ID:         "ev-1",
		LocationID: "loc-1",
		Kind:       ledger.KindPOSSale,
		Source:     ledger.SourceToast,
		OccurredAt: time.Date(2025, time.June, 2, 20, 0, 0, 0, time.UTC),
		Confidence: ledger.ConfidenceTheoretical,
		ItemID:     "item-1",
		Delta:      ledger.NewQuantity(-16, ledger.UnitFlOz),
		Notes:      "original",
	})
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx,
		"UPDATE consumption_events SET notes = 'tampered' WHERE id = 'ev-1'")
	require.Error(t, err)
	assert.True(t, isImmutabilityError(err), "got %v", err)

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM consumption_events WHERE id = 'ev-1'")
	require.Error(t, err)
	assert.True(t, isImmutabilityError(err), "got %v", err)

	got, err := s.Event(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Notes)
	assert.True(t, got.Delta.Value.Equal(decimal.NewFromInt(-16)))
}

func TestScanEvent_CorruptDeltaSurfacesError(t *testing.T) {
	// A stored decimal that no longer parses must fail the read, not
	// silently replay as a zero delta.

	s := newRawStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consumption_events
		(id, location_id, kind, source, occurred_at, confidence, item_id, delta_value, delta_unit, created_at)
		VALUES ('ev-bad', 'loc-1', 'pos_sale', 'toast', '2025-06-02T20:00:00Z', 'theoretical', 'item-1', 'garbage', 'fl_oz', '2025-06-02T20:00:00Z')`)
	require.NoError(t, err)

	_, err = s.Event(ctx, "ev-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt stored decimal")
}
