package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barflow/inventory-engine/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func ts(day, hour int) time.Time {
	return time.Date(2025, time.June, day, hour, 0, 0, 0, time.UTC)
}

func assignment(id string, keg ledger.KegID, from time.Time, to *time.Time) ledger.TapAssignment {
	return ledger.TapAssignment{
		ID:            id,
		LocationID:    "loc-1",
		TapLineID:     "tap-1",
		KegID:         keg,
		EffectiveFrom: from,
		EffectiveTo:   to,
	}
}

func ptr(t time.Time) *time.Time { return &t }

// =============================================================================
// HALF-OPEN WINDOW SEMANTICS
// =============================================================================

func TestResolveAt_HalfOpenBoundaries(t *testing.T) {
	// GIVEN: keg A on tap for [day 1, day 10), keg B for [day 10, open)
	// WHEN: resolving at the boundary instant
	// THEN: day 10 belongs to B, not A - no instant is covered twice

	rows := []ledger.TapAssignment{
		assignment("a1", "keg-a", ts(1, 0), ptr(ts(10, 0))),
		assignment("a2", "keg-b", ts(10, 0), nil),
	}

	got, ok, err := ledger.ResolveAt(rows, ts(10, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.KegID("keg-b"), got.KegID, "window end is exclusive, start inclusive")

	got, ok, err = ledger.ResolveAt(rows, ts(9, 23))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.KegID("keg-a"), got.KegID)

	got, ok, err = ledger.ResolveAt(rows, ts(1, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.KegID("keg-a"), got.KegID, "window start is inclusive")
}

func TestResolveAt_BeforeAnyWindow(t *testing.T) {
	// GIVEN: a single assignment starting day 5
	// WHEN: resolving before it
	// THEN: no match, no error - absence is an operational state

	rows := []ledger.TapAssignment{
		assignment("a1", "keg-a", ts(5, 0), nil),
	}

	_, ok, err := ledger.ResolveAt(rows, ts(4, 12))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveAt_GapBetweenWindows(t *testing.T) {
	// GIVEN: keg A through day 8, keg B starting day 12 (tap empty between)
	// WHEN: resolving in the gap
	// THEN: no match - the tap had nothing on it

	rows := []ledger.TapAssignment{
		assignment("a1", "keg-a", ts(1, 0), ptr(ts(8, 0))),
		assignment("a2", "keg-b", ts(12, 0), nil),
	}

	_, ok, err := ledger.ResolveAt(rows, ts(10, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveAt_OverlappingWindows_FailsLoudly(t *testing.T) {
	// GIVEN: two assignments whose windows overlap (bad configuration)
	// WHEN: resolving inside the overlap
	// THEN: ErrAmbiguousWindow - never silently pick one

	rows := []ledger.TapAssignment{
		assignment("a1", "keg-a", ts(1, 0), ptr(ts(15, 0))),
		assignment("a2", "keg-b", ts(10, 0), nil),
	}

	_, _, err := ledger.ResolveAt(rows, ts(12, 0))
	assert.ErrorIs(t, err, ledger.ErrAmbiguousWindow)

	// Outside the overlap the same rows resolve fine.
	got, ok, err := ledger.ResolveAt(rows, ts(5, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.KegID("keg-a"), got.KegID)
}

func TestResolveAt_EmptyRows(t *testing.T) {
	_, ok, err := ledger.ResolveAt([]ledger.TapAssignment{}, ts(1, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCovers_OpenEndedWindow(t *testing.T) {
	a := assignment("a1", "keg-a", ts(1, 0), nil)
	assert.True(t, ledger.Covers(a, ts(1, 0)))
	assert.True(t, ledger.Covers(a, ts(28, 23)))
	assert.False(t, ledger.Covers(a, ts(1, 0).Add(-time.Second)))
}
