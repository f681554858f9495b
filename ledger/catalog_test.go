package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/barflow/inventory-engine/ledger"
)

// =============================================================================
// BOTTLE SPEC - weight to volume
// =============================================================================

func TestBottleSpec_LiquidML(t *testing.T) {
	// A 750ml bottle: 500g empty, 1212.5g full (750ml * 0.95 g/ml liquid).
	spec := ledger.BottleSpec{
		ID:           "spec-1",
		ItemID:       "item-gin",
		CapacityML:   decimal.NewFromInt(750),
		EmptyWeightG: decimal.NewFromInt(500),
		FullWeightG:  decimal.NewFromFloat(1212.5),
	}

	// Half full by weight.
	got := spec.LiquidML(decimal.NewFromFloat(856.25))
	assert.True(t, got.Equal(decimal.NewFromInt(375)), "got %s", got)
}

func TestBottleSpec_LiquidML_ClampsToRange(t *testing.T) {
	spec := ledger.BottleSpec{
		CapacityML:   decimal.NewFromInt(750),
		EmptyWeightG: decimal.NewFromInt(500),
		FullWeightG:  decimal.NewFromFloat(1212.5),
	}

	// Scale reads below the empty bottle weight: zero, never negative.
	got := spec.LiquidML(decimal.NewFromInt(480))
	assert.True(t, got.IsZero(), "got %s", got)

	// Scale reads above full weight: clamp to a full bottle.
	got = spec.LiquidML(decimal.NewFromInt(1400))
	assert.True(t, got.Equal(decimal.NewFromInt(750)), "got %s", got)
}

func TestBottleSpec_LiquidML_ExplicitDensity(t *testing.T) {
	// A liqueur heavier than the spirit default.
	spec := ledger.BottleSpec{
		CapacityML:    decimal.NewFromInt(1000),
		EmptyWeightG:  decimal.NewFromInt(600),
		FullWeightG:   decimal.NewFromInt(1700),
		DensityGPerML: decimal.NewFromFloat(1.1),
	}

	got := spec.LiquidML(decimal.NewFromInt(1150))
	assert.True(t, got.Equal(decimal.NewFromInt(500)), "got %s", got)
}

// =============================================================================
// SESSION LINES - exactly one count method
// =============================================================================

func TestSessionLine_Method(t *testing.T) {
	units := decimal.NewFromInt(12)
	pct := decimal.NewFromInt(40)

	line := ledger.SessionLine{UnitCount: &units}
	assert.Equal(t, ledger.CountByUnits, line.Method())

	line = ledger.SessionLine{PercentRemaining: &pct, KegID: "keg-1"}
	assert.Equal(t, ledger.CountByKegPercent, line.Method())

	line = ledger.SessionLine{GrossWeightGrams: &units}
	assert.Equal(t, ledger.CountByWeight, line.Method())

	// None populated: malformed.
	assert.Equal(t, ledger.CountMethod(""), ledger.SessionLine{}.Method())

	// Two populated: also malformed.
	line = ledger.SessionLine{UnitCount: &units, PercentRemaining: &pct}
	assert.Equal(t, ledger.CountMethod(""), line.Method())
}

// =============================================================================
// KEG REPLAY
// =============================================================================

func TestKegInstance_Remaining(t *testing.T) {
	keg := ledger.KegInstance{
		StartingVolume: ledger.NewQuantity(1984, ledger.UnitFlOz),
	}

	deltas := []ledger.Quantity{
		ledger.NewQuantity(-16, ledger.UnitFlOz),
		ledger.NewQuantity(-16, ledger.UnitFlOz),
		ledger.NewQuantity(16, ledger.UnitFlOz), // a void reversal
	}
	got := keg.Remaining(deltas)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(1968)), "got %s", got.Value)
}
