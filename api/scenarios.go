/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	venue data for demos. Each scenario creates inventory items, POS
	mappings, kegs, tap assignments, prices, and a slice of sales ready
	for a depletion run.

AVAILABLE SCENARIOS:

	taproom:       Two-tap draft program with a mid-day keg swap
	bottle-bar:    Spirits program with bottle specs and an open count session
	busy-weekend:  Draft + packaged sales including voids and refunds

HOW SCENARIOS WORK:
 1. Seed catalog rows (items, mappings, profiles, kegs, assignments, prices)
 2. Ingest a batch of canonical sales records for yesterday
 3. The caller (or the scheduler) runs depletion over the seeded window

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "taproom"}

NOTE:

	Seeding is upsert-based and repeatable, but it writes real catalog and
	sales rows. Only enable the scenario routes (-demo) in development.

SEE ALSO:
  - server.go: routes registered only when a SeedStore is wired
  - cmd/server/main.go: the -demo flag
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/barflow/inventory-engine/ledger"
)

// =============================================================================
// SEED SURFACE
// =============================================================================

// SeedStore is the catalog write surface scenarios load through. The
// SQLite store implements it; production handlers run without one.
type SeedStore interface {
	SaveItem(ctx context.Context, item ledger.InventoryItem) error
	SaveMapping(ctx context.Context, m ledger.ItemMapping) error
	SaveAssignment(ctx context.Context, a ledger.TapAssignment) error
	SavePrice(ctx context.Context, p ledger.PricePoint) error
	SavePourProfile(ctx context.Context, p ledger.PourProfile) error
	SaveKeg(ctx context.Context, k ledger.KegInstance) error
	SaveBottleSpec(ctx context.Context, b ledger.BottleSpec) error
	CreateSession(ctx context.Context, sess ledger.InventorySession) error
	AddSessionLine(ctx context.Context, line ledger.SessionLine) error
	IngestSalesRecords(ctx context.Context, recs []ledger.SalesRecord) (int, error)
}

// ScenarioDTO describes one loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	LocationID  string `json:"location_id"`
}

const demoLoc = ledger.LocationID("loc-demo")

var scenarios = []ScenarioDTO{
	{
		ID:          "taproom",
		Name:        "Taproom",
		Description: "Two-tap draft program with a mid-day keg swap",
		LocationID:  string(demoLoc),
	},
	{
		ID:          "bottle-bar",
		Name:        "Bottle Bar",
		Description: "Spirits program with bottle specs and an open count session",
		LocationID:  string(demoLoc),
	},
	{
		ID:          "busy-weekend",
		Name:        "Busy Weekend",
		Description: "Draft and packaged sales including voids and refunds",
		LocationID:  string(demoLoc),
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, _ *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario seeds a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "taproom":
		err = h.loadTaproomScenario(ctx)
	case "bottle-bar":
		err = h.loadBottleBarScenario(ctx)
	case "busy-weekend":
		err = h.loadBusyWeekendScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{
		"scenario_id": req.ScenarioID,
		"location_id": string(demoLoc),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// demoDay anchors scenario data to yesterday so the scheduler's backfill
// window picks it up.
func demoDay() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

type seeder struct {
	ctx context.Context
	s   SeedStore
	err error
}

func (sd *seeder) item(it ledger.InventoryItem) {
	if sd.err == nil {
		sd.err = sd.s.SaveItem(sd.ctx, it)
	}
}
func (sd *seeder) mapping(m ledger.ItemMapping) {
	if sd.err == nil {
		sd.err = sd.s.SaveMapping(sd.ctx, m)
	}
}
func (sd *seeder) assignment(a ledger.TapAssignment) {
	if sd.err == nil {
		sd.err = sd.s.SaveAssignment(sd.ctx, a)
	}
}
func (sd *seeder) price(p ledger.PricePoint) {
	if sd.err == nil {
		sd.err = sd.s.SavePrice(sd.ctx, p)
	}
}
func (sd *seeder) profile(p ledger.PourProfile) {
	if sd.err == nil {
		sd.err = sd.s.SavePourProfile(sd.ctx, p)
	}
}
func (sd *seeder) keg(k ledger.KegInstance) {
	if sd.err == nil {
		sd.err = sd.s.SaveKeg(sd.ctx, k)
	}
}
func (sd *seeder) bottleSpec(b ledger.BottleSpec) {
	if sd.err == nil {
		sd.err = sd.s.SaveBottleSpec(sd.ctx, b)
	}
}
func (sd *seeder) session(s ledger.InventorySession) {
	if sd.err == nil {
		sd.err = sd.s.CreateSession(sd.ctx, s)
	}
}
func (sd *seeder) line(l ledger.SessionLine) {
	if sd.err == nil {
		sd.err = sd.s.AddSessionLine(sd.ctx, l)
	}
}
func (sd *seeder) sales(recs []ledger.SalesRecord) {
	if sd.err == nil {
		_, sd.err = sd.s.IngestSalesRecords(sd.ctx, recs)
	}
}

func demoSale(id, receipt, line, posItem string, qty int64, soldAt time.Time) ledger.SalesRecord {
	return ledger.SalesRecord{
		ID:             ledger.SalesRecordID(id),
		Source:         ledger.SourceToast,
		SourceLocation: "toast-demo-1",
		LocationID:     demoLoc,
		BusinessDate:   demoDay(),
		SoldAt:         soldAt,
		ReceiptID:      receipt,
		LineID:         line,
		POSItemID:      posItem,
		Quantity:       decimal.NewFromInt(qty),
	}
}

// loadTaproomScenario seeds two taps. Tap 1 blows its IPA keg at 18:00
// and gets a fresh one, so a depletion run attributes pours to the keg
// actually connected when each pint was rung up.
func (h *Handler) loadTaproomScenario(ctx context.Context) error {
	day := demoDay()
	swap := day.Add(18 * time.Hour)
	sd := &seeder{ctx: ctx, s: h.Seed}

	sd.item(ledger.InventoryItem{
		ID: "demo-ipa", LocationID: demoLoc, Name: "Demo IPA", BaseUnit: ledger.UnitFlOz, Active: true,
	})
	sd.item(ledger.InventoryItem{
		ID: "demo-stout", LocationID: demoLoc, Name: "Demo Stout", BaseUnit: ledger.UnitFlOz, Active: true,
	})
	sd.profile(ledger.PourProfile{
		ID: "demo-pint", LocationID: demoLoc, Name: "Pint",
		Volume: decimal.NewFromInt(16), Unit: ledger.UnitFlOz, Active: true,
	})
	sd.profile(ledger.PourProfile{
		ID: "demo-half", LocationID: demoLoc, Name: "Half Pint",
		Volume: decimal.NewFromInt(8), Unit: ledger.UnitFlOz, Active: true,
	})

	sd.keg(ledger.KegInstance{
		ID: "demo-keg-ipa-1", LocationID: demoLoc, ItemID: "demo-ipa",
		Status: ledger.KegEmpty, ReceivedAt: day.AddDate(0, 0, -7),
		StartingVolume: ledger.NewQuantity(1984, ledger.UnitFlOz),
	})
	sd.keg(ledger.KegInstance{
		ID: "demo-keg-ipa-2", LocationID: demoLoc, ItemID: "demo-ipa",
		Status: ledger.KegInService, ReceivedAt: day,
		StartingVolume: ledger.NewQuantity(1984, ledger.UnitFlOz),
	})
	sd.keg(ledger.KegInstance{
		ID: "demo-keg-stout", LocationID: demoLoc, ItemID: "demo-stout",
		Status: ledger.KegInService, ReceivedAt: day.AddDate(0, 0, -3),
		StartingVolume: ledger.NewQuantity(1984, ledger.UnitFlOz),
	})

	sd.assignment(ledger.TapAssignment{
		ID: "demo-assign-1a", LocationID: demoLoc, TapLineID: "demo-tap-1",
		KegID: "demo-keg-ipa-1", EffectiveFrom: day.AddDate(0, 0, -7), EffectiveTo: &swap,
	})
	sd.assignment(ledger.TapAssignment{
		ID: "demo-assign-1b", LocationID: demoLoc, TapLineID: "demo-tap-1",
		KegID: "demo-keg-ipa-2", EffectiveFrom: swap,
	})
	sd.assignment(ledger.TapAssignment{
		ID: "demo-assign-2", LocationID: demoLoc, TapLineID: "demo-tap-2",
		KegID: "demo-keg-stout", EffectiveFrom: day.AddDate(0, 0, -3),
	})

	sd.mapping(ledger.ItemMapping{
		ID: "demo-map-ipa", LocationID: demoLoc, Source: ledger.SourceToast,
		POSItemID: "pos-demo-ipa", ItemID: "demo-ipa", Mode: ledger.ModeDraftByTap,
		PourProfileID: "demo-pint", TapLineID: "demo-tap-1",
		Active: true, EffectiveFrom: day.AddDate(0, 0, -30),
	})
	sd.mapping(ledger.ItemMapping{
		ID: "demo-map-stout", LocationID: demoLoc, Source: ledger.SourceToast,
		POSItemID: "pos-demo-stout", ItemID: "demo-stout", Mode: ledger.ModeDraftByTap,
		PourProfileID: "demo-half", TapLineID: "demo-tap-2",
		Active: true, EffectiveFrom: day.AddDate(0, 0, -30),
	})

	sd.price(ledger.PricePoint{
		ID: "demo-price-ipa", ItemID: "demo-ipa", UnitCost: decimal.NewFromFloat(0.55),
		Currency: "USD", EffectiveFrom: day.AddDate(0, 0, -30),
	})
	sd.price(ledger.PricePoint{
		ID: "demo-price-stout", ItemID: "demo-stout", UnitCost: decimal.NewFromFloat(0.62),
		Currency: "USD", EffectiveFrom: day.AddDate(0, 0, -30),
	})

	sd.sales([]ledger.SalesRecord{
		demoSale("demo-sr-1", "demo-r-100", "1", "pos-demo-ipa", 1, day.Add(17*time.Hour)),
		demoSale("demo-sr-2", "demo-r-100", "2", "pos-demo-ipa", 2, day.Add(17*time.Hour+30*time.Minute)),
		demoSale("demo-sr-3", "demo-r-101", "1", "pos-demo-ipa", 1, day.Add(19*time.Hour)),
		demoSale("demo-sr-4", "demo-r-102", "1", "pos-demo-stout", 3, day.Add(20*time.Hour)),
	})
	return sd.err
}

// loadBottleBarScenario seeds a spirits program: direct-unit cans plus
// weighed bottles, with an open counting session ready to close.
func (h *Handler) loadBottleBarScenario(ctx context.Context) error {
	day := demoDay()
	sd := &seeder{ctx: ctx, s: h.Seed}

	sd.item(ledger.InventoryItem{
		ID: "demo-gin", LocationID: demoLoc, Name: "Demo Gin 750", BaseUnit: ledger.UnitML, Active: true,
	})
	sd.item(ledger.InventoryItem{
		ID: "demo-lager", LocationID: demoLoc, Name: "Demo Lager Can", BaseUnit: ledger.UnitCount, Active: true,
	})
	sd.bottleSpec(ledger.BottleSpec{
		ID: "demo-spec-gin", ItemID: "demo-gin",
		CapacityML:   decimal.NewFromInt(750),
		EmptyWeightG: decimal.NewFromInt(500),
		FullWeightG:  decimal.NewFromFloat(1212.5),
	})

	sd.mapping(ledger.ItemMapping{
		ID: "demo-map-lager", LocationID: demoLoc, Source: ledger.SourceToast,
		POSItemID: "pos-demo-lager", ItemID: "demo-lager", Mode: ledger.ModeDirectUnit,
		Active: true, EffectiveFrom: day.AddDate(0, 0, -30),
	})
	sd.price(ledger.PricePoint{
		ID: "demo-price-lager", ItemID: "demo-lager", UnitCost: decimal.NewFromFloat(1.20),
		Currency: "USD", EffectiveFrom: day.AddDate(0, 0, -30),
	})
	sd.price(ledger.PricePoint{
		ID: "demo-price-gin", ItemID: "demo-gin", UnitCost: decimal.NewFromFloat(0.03),
		Currency: "USD", EffectiveFrom: day.AddDate(0, 0, -30),
	})

	sd.sales([]ledger.SalesRecord{
		demoSale("demo-sr-10", "demo-r-200", "1", "pos-demo-lager", 2, day.Add(18*time.Hour)),
		demoSale("demo-sr-11", "demo-r-201", "1", "pos-demo-lager", 1, day.Add(21*time.Hour)),
	})

	sd.session(ledger.InventorySession{
		ID: "demo-sess-1", LocationID: demoLoc, StartedAt: day.Add(26 * time.Hour),
		CreatedBy: "demo-manager",
	})
	ginWeight := decimal.NewFromFloat(856.25)
	sd.line(ledger.SessionLine{
		ID: "demo-line-1", SessionID: "demo-sess-1", ItemID: "demo-gin",
		GrossWeightGrams: &ginWeight,
	})
	lagerCount := decimal.NewFromInt(21)
	sd.line(ledger.SessionLine{
		ID: "demo-line-2", SessionID: "demo-sess-1", ItemID: "demo-lager",
		UnitCount: &lagerCount,
	})
	return sd.err
}

// loadBusyWeekendScenario layers voids and refunds over the taproom and
// bottle-bar data so corrections and reversals have material to work on.
func (h *Handler) loadBusyWeekendScenario(ctx context.Context) error {
	if err := h.loadTaproomScenario(ctx); err != nil {
		return err
	}
	if err := h.loadBottleBarScenario(ctx); err != nil {
		return err
	}

	day := demoDay()
	sd := &seeder{ctx: ctx, s: h.Seed}

	voided := demoSale("demo-sr-20", "demo-r-300", "1", "pos-demo-ipa", 1, day.Add(21*time.Hour))
	voided.Voided = true
	refunded := demoSale("demo-sr-21", "demo-r-301", "1", "pos-demo-lager", 2, day.Add(22*time.Hour))
	refunded.Refunded = true

	sd.sales([]ledger.SalesRecord{
		voided,
		refunded,
		demoSale("demo-sr-22", "demo-r-302", "1", "pos-demo-stout", 2, day.Add(22*time.Hour+30*time.Minute)),
	})
	return sd.err
}
