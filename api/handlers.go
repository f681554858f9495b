/*
handlers.go - HTTP API handlers for the inventory consumption ledger

PURPOSE:
  Exposes the ledger services via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Depletion:
    POST   /api/depletion/run          Run the depletion engine over a window
    POST   /api/sales/ingest           Ingest canonical sales records

  Ledger:
    GET    /api/events/{id}            Get one event
    POST   /api/events/{id}/correct    Reversal+replacement correction
    GET    /api/items/{id}/events      Event history for an item
    GET    /api/kegs/{id}/remaining    Replayed keg volume

  Sessions:
    POST   /api/sessions/{id}/close    Reconcile and close a counting session

  Reports:
    GET    /api/reports/on-hand        On-hand balances, valued
    GET    /api/reports/variance       Theoretical vs actual over a window

ERROR HANDLING:
  Domain errors map to HTTP status via writeDomainError:
  - 400: validation errors, malformed input
  - 404: entity not found
  - 409: conflicts (already depleted, session closed, immutability,
         correcting a reversal)
  - 422: variance reasons missing on session close
  - 500: everything else, including ambiguous-window configuration
         defects (the client can't fix those; an operator must)

SECURITY NOTE:
  No authentication middleware. Identity arrives as an "actor" field and
  is trusted; an external access layer is expected in front.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/barflow/inventory-engine/depletion"
	"github.com/barflow/inventory-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *depletion.Engine
	Corrector  *depletion.Corrector
	Reconciler *depletion.Reconciler
	Reporter   *depletion.Reporter

	Ledger *ledger.Ledger
	Sales  ledger.SalesStore
	Log    zerolog.Logger

	// Seed enables the demo scenario routes when non-nil. See scenarios.go.
	Seed            SeedStore
	currentScenario string
}

// NewHandler wires the handler from a store implementing every persistence
// interface (the SQLite store and the in-memory store both do).
func NewHandler(store interface {
	ledger.TxStore
	ledger.SalesStore
	ledger.CatalogStore
	ledger.SessionStore
}, thresholds depletion.Thresholds, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:     depletion.NewEngine(store, store, store, log),
		Corrector:  depletion.NewCorrector(store, store, log),
		Reconciler: depletion.NewReconciler(store, store, store, thresholds, log),
		Reporter:   depletion.NewReporter(store, store),
		Ledger:     ledger.NewLedger(store, store),
		Sales:      store,
		Log:        log,
	}
}

// =============================================================================
// DEPLETION HANDLERS
// =============================================================================

// RunDepletion runs the depletion engine over a sales window.
// POST /api/depletion/run
func (h *Handler) RunDepletion(w http.ResponseWriter, r *http.Request) {
	var req RunDepletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp (use RFC 3339)", err)
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp (use RFC 3339)", err)
		return
	}

	window := depletion.Window{From: from, To: to}
	var stats depletion.RunStats
	if req.ChunkHours > 0 {
		stats, err = h.Engine.RunChunked(r.Context(), ledger.LocationID(req.LocationID), window,
			time.Duration(req.ChunkHours)*time.Hour)
	} else {
		stats, err = h.Engine.Run(r.Context(), ledger.LocationID(req.LocationID), window)
	}
	if err != nil {
		writeDomainError(w, "Depletion run failed", err)
		return
	}

	writeJSON(w, http.StatusOK, RunDepletionResponse{Stats: stats})
}

// IngestSales ingests canonical sales records from a POS adapter.
// POST /api/sales/ingest
func (h *Handler) IngestSales(w http.ResponseWriter, r *http.Request) {
	var req IngestSalesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	records := make([]ledger.SalesRecord, 0, len(req.Records))
	for _, dto := range req.Records {
		rec, err := parseSalesRecord(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid sales record", err)
			return
		}
		records = append(records, rec)
	}

	inserted, err := h.Sales.IngestSalesRecords(r.Context(), records)
	if err != nil {
		writeDomainError(w, "Failed to ingest sales records", err)
		return
	}

	writeJSON(w, http.StatusOK, IngestSalesResponse{
		Received: len(records),
		Inserted: inserted,
		Skipped:  len(records) - inserted,
	})
}

func parseSalesRecord(dto SalesRecordDTO) (ledger.SalesRecord, error) {
	soldAt, err := time.Parse(time.RFC3339, dto.SoldAt)
	if err != nil {
		return ledger.SalesRecord{}, &ledger.ValidationError{Field: "sold_at", Reason: "use RFC 3339"}
	}
	businessDate, err := time.Parse("2006-01-02", dto.BusinessDate)
	if err != nil {
		return ledger.SalesRecord{}, &ledger.ValidationError{Field: "business_date", Reason: "use YYYY-MM-DD"}
	}
	qty, err := decimal.NewFromString(dto.Quantity)
	if err != nil {
		return ledger.SalesRecord{}, &ledger.ValidationError{Field: "quantity", Reason: "not a decimal"}
	}
	id := dto.ID
	if id == "" {
		id = uuid.NewString()
	}
	return ledger.SalesRecord{
		ID:             ledger.SalesRecordID(id),
		Source:         ledger.SourceSystem(dto.Source),
		SourceLocation: dto.SourceLocation,
		LocationID:     ledger.LocationID(dto.LocationID),
		BusinessDate:   businessDate,
		SoldAt:         soldAt,
		ReceiptID:      dto.ReceiptID,
		LineID:         dto.LineID,
		POSItemID:      dto.POSItemID,
		POSItemName:    dto.POSItemName,
		Quantity:       qty,
		Voided:         dto.Voided,
		Refunded:       dto.Refunded,
		SizeModifierID: dto.SizeModifierID,
		SizeModifier:   dto.SizeModifier,
	}, nil
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetEvent returns one ledger event.
// GET /api/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := ledger.EventID(chi.URLParam(r, "id"))

	ev, err := h.Ledger.Event(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get event", err)
		return
	}

	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

// CorrectEvent posts a reversal+replacement pair amending an event.
// POST /api/events/{id}/correct
func (h *Handler) CorrectEvent(w http.ResponseWriter, r *http.Request) {
	id := ledger.EventID(chi.URLParam(r, "id"))

	var req CorrectEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	value, err := decimal.NewFromString(req.Delta.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delta value (not a decimal)", err)
		return
	}
	newDelta := ledger.Quantity{Value: value, Unit: ledger.Unit(req.Delta.Unit)}

	reversalID, replacementID, err := h.Corrector.Correct(r.Context(), id, newDelta, req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, "Correction failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, CorrectEventResponse{
		ReversalID:    string(reversalID),
		ReplacementID: string(replacementID),
	})
}

// GetItemEvents returns an item's event history over a window.
// GET /api/items/{id}/events?from=...&to=...
func (h *Handler) GetItemEvents(w http.ResponseWriter, r *http.Request) {
	itemID := ledger.ItemID(chi.URLParam(r, "id"))

	var from time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp (use RFC 3339)", err)
			return
		}
		from = t
	}
	to := time.Now().UTC()
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp (use RFC 3339)", err)
			return
		}
		to = t
	}

	evs, err := h.Ledger.EventsByItem(r.Context(), itemID, from, to)
	if err != nil {
		writeDomainError(w, "Failed to get events", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": toEventDTOs(evs)})
}

// GetKegRemaining returns a keg's replayed remaining volume.
// GET /api/kegs/{id}/remaining?as_of=...
func (h *Handler) GetKegRemaining(w http.ResponseWriter, r *http.Request) {
	kegID := ledger.KegID(chi.URLParam(r, "id"))

	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'as_of' timestamp (use RFC 3339)", err)
			return
		}
		asOf = t
	}

	remaining, err := h.Ledger.KegRemaining(r.Context(), kegID, asOf)
	if err != nil {
		writeDomainError(w, "Failed to compute keg remaining", err)
		return
	}

	writeJSON(w, http.StatusOK, KegRemainingDTO{
		KegID:     string(kegID),
		Remaining: toQuantityDTO(remaining),
		AsOf:      asOf.Format(time.RFC3339),
	})
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// CloseSession reconciles and closes a counting session.
// POST /api/sessions/{id}/close
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := ledger.SessionID(chi.URLParam(r, "id"))

	var req CloseSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reasons := make(map[ledger.ItemID]ledger.VarianceReason, len(req.Reasons))
	for item, reason := range req.Reasons {
		reasons[ledger.ItemID(item)] = ledger.VarianceReason(reason)
	}

	results, err := h.Reconciler.CloseSession(r.Context(), sessionID, reasons, req.Actor)
	if err != nil {
		var missing *ledger.MissingVarianceReasonError
		if errors.As(err, &missing) {
			items := make([]string, len(missing.Items))
			for i, id := range missing.Items {
				items[i] = string(id)
			}
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:   missing.Error(),
				Code:    "variance_reason_required",
				Details: map[string]any{"items": items},
			})
			return
		}
		writeDomainError(w, "Session close failed", err)
		return
	}

	dtos := make([]ItemVarianceDTO, len(results))
	for i, v := range results {
		dtos[i] = toItemVarianceDTO(v)
	}
	writeJSON(w, http.StatusOK, CloseSessionResponse{SessionID: string(sessionID), Items: dtos})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetOnHandReport returns on-hand balances for a location.
// GET /api/reports/on-hand?location_id=...&as_of=...
func (h *Handler) GetOnHandReport(w http.ResponseWriter, r *http.Request) {
	locationID := ledger.LocationID(r.URL.Query().Get("location_id"))
	if locationID == "" {
		writeError(w, http.StatusBadRequest, "location_id is required", nil)
		return
	}

	asOf := time.Now().UTC()
	if v := r.URL.Query().Get("as_of"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'as_of' timestamp (use RFC 3339)", err)
			return
		}
		asOf = t
	}

	lines, err := h.Reporter.OnHand(r.Context(), locationID, asOf)
	if err != nil {
		writeDomainError(w, "Failed to build on-hand report", err)
		return
	}

	dtos := make([]OnHandLineDTO, len(lines))
	for i, line := range lines {
		dto := OnHandLineDTO{
			ItemID:   string(line.ItemID),
			ItemName: line.ItemName,
			OnHand:   toQuantityDTO(line.OnHand),
		}
		if line.Priced {
			dto.UnitCost = line.UnitCost.String()
			dto.Value = line.Value.String()
		}
		dtos[i] = dto
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"location_id": string(locationID),
		"as_of":       asOf.Format(time.RFC3339),
		"items":       dtos,
	})
}

// GetVarianceReport compares theoretical and actual consumption.
// GET /api/reports/variance?location_id=...&from=...&to=...
func (h *Handler) GetVarianceReport(w http.ResponseWriter, r *http.Request) {
	locationID := ledger.LocationID(r.URL.Query().Get("location_id"))
	if locationID == "" {
		writeError(w, http.StatusBadRequest, "location_id is required", nil)
		return
	}
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp (use RFC 3339)", err)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp (use RFC 3339)", err)
		return
	}

	lines, err := h.Reporter.VarianceReport(r.Context(), locationID, from, to)
	if err != nil {
		writeDomainError(w, "Failed to build variance report", err)
		return
	}

	dtos := make([]VarianceLineDTO, len(lines))
	for i, line := range lines {
		dto := VarianceLineDTO{
			ItemID:      string(line.ItemID),
			ItemName:    line.ItemName,
			Theoretical: toQuantityDTO(line.Theoretical),
			Actual:      toQuantityDTO(line.Actual),
			Variance:    toQuantityDTO(line.Variance),
		}
		if !line.UnitCost.IsZero() {
			dto.UnitCost = line.UnitCost.String()
			dto.CostImpact = line.CostImpact.String()
		}
		dtos[i] = dto
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"location_id": string(locationID),
		"from":        from.Format(time.RFC3339),
		"to":          to.Format(time.RFC3339),
		"items":       dtos,
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, msg, err)
	case ledger.IsConflict(err),
		errors.Is(err, ledger.ErrImmutableEvent),
		errors.Is(err, ledger.ErrReverseReversal):
		writeError(w, http.StatusConflict, msg, err)
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, msg, err)
	default:
		// Includes ErrAmbiguousWindow: overlapping configuration is an
		// operator problem, not something the caller can repair.
		writeError(w, http.StatusInternalServerError, msg, err)
	}
}
