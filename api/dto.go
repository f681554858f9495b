/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  All quantities cross the wire as decimal strings ("-48", "16.5") with a
  separate unit field. Parsing happens in handlers; DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/barflow/inventory-engine/depletion"
	"github.com/barflow/inventory-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// QuantityDTO is a decimal magnitude with its unit.
type QuantityDTO struct {
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

// EventDTO represents a ledger event in API responses.
type EventDTO struct {
	ID            string      `json:"id"`
	LocationID    string      `json:"location_id"`
	Kind          string      `json:"kind"`
	Source        string      `json:"source"`
	OccurredAt    string      `json:"occurred_at"`
	Confidence    string      `json:"confidence"`
	ItemID        string      `json:"item_id"`
	KegID         string      `json:"keg_id,omitempty"`
	TapLineID     string      `json:"tap_line_id,omitempty"`
	Delta         QuantityDTO `json:"delta"`
	SalesRecordID string      `json:"sales_record_id,omitempty"`
	ReceiptID     string      `json:"receipt_id,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	ReversalOf    string      `json:"reversal_of,omitempty"`
	CreatedAt     string      `json:"created_at"`
	CreatedBy     string      `json:"created_by,omitempty"`
}

// RunDepletionRequest triggers a depletion run over a sales window.
type RunDepletionRequest struct {
	LocationID string `json:"location_id"`
	From       string `json:"from"` // RFC 3339
	To         string `json:"to"`   // RFC 3339, exclusive
	ChunkHours int    `json:"chunk_hours,omitempty"`
}

// RunDepletionResponse reports the run outcome.
type RunDepletionResponse struct {
	Stats depletion.RunStats `json:"stats"`
}

// IngestSalesRequest carries canonical sales records from a POS adapter.
type IngestSalesRequest struct {
	Records []SalesRecordDTO `json:"records"`
}

// SalesRecordDTO is the wire form of a canonical sales record.
type SalesRecordDTO struct {
	ID             string `json:"id"`
	Source         string `json:"source"`
	SourceLocation string `json:"source_location"`
	LocationID     string `json:"location_id"`
	BusinessDate   string `json:"business_date"` // YYYY-MM-DD
	SoldAt         string `json:"sold_at"`       // RFC 3339
	ReceiptID      string `json:"receipt_id"`
	LineID         string `json:"line_id"`
	POSItemID      string `json:"pos_item_id"`
	POSItemName    string `json:"pos_item_name,omitempty"`
	Quantity       string `json:"quantity"`
	Voided         bool   `json:"voided,omitempty"`
	Refunded       bool   `json:"refunded,omitempty"`
	SizeModifierID string `json:"size_modifier_id,omitempty"`
	SizeModifier   string `json:"size_modifier,omitempty"`
}

// IngestSalesResponse reports how many new rows were ingested.
type IngestSalesResponse struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// CorrectEventRequest amends a posted event.
type CorrectEventRequest struct {
	Delta  QuantityDTO `json:"delta"`
	Reason string      `json:"reason"`
	Actor  string      `json:"actor"`
}

// CorrectEventResponse returns the correction pair.
type CorrectEventResponse struct {
	ReversalID    string `json:"reversal_id"`
	ReplacementID string `json:"replacement_id"`
}

// CloseSessionRequest closes a counting session.
type CloseSessionRequest struct {
	Reasons map[string]string `json:"reasons,omitempty"` // item_id -> variance reason
	Actor   string            `json:"actor"`
}

// CloseSessionResponse reports the per-item reconciliation outcome.
type CloseSessionResponse struct {
	SessionID string             `json:"session_id"`
	Items     []ItemVarianceDTO  `json:"items"`
}

// ItemVarianceDTO is one item's reconciliation result.
type ItemVarianceDTO struct {
	ItemID      string      `json:"item_id"`
	Theoretical QuantityDTO `json:"theoretical"`
	Counted     QuantityDTO `json:"counted"`
	Variance    QuantityDTO `json:"variance"`
	Reason      string      `json:"reason,omitempty"`
	Adjusted    bool        `json:"adjusted"`
}

// OnHandLineDTO is one row of an on-hand report.
type OnHandLineDTO struct {
	ItemID   string      `json:"item_id"`
	ItemName string      `json:"item_name"`
	OnHand   QuantityDTO `json:"on_hand"`
	UnitCost string      `json:"unit_cost,omitempty"`
	Value    string      `json:"value,omitempty"`
}

// VarianceLineDTO is one row of a variance report.
type VarianceLineDTO struct {
	ItemID      string      `json:"item_id"`
	ItemName    string      `json:"item_name"`
	Theoretical QuantityDTO `json:"theoretical"`
	Actual      QuantityDTO `json:"actual"`
	Variance    QuantityDTO `json:"variance"`
	UnitCost    string      `json:"unit_cost,omitempty"`
	CostImpact  string      `json:"cost_impact,omitempty"`
}

// KegRemainingDTO reports a keg's replayed remaining volume.
type KegRemainingDTO struct {
	KegID     string      `json:"keg_id"`
	Remaining QuantityDTO `json:"remaining"`
	AsOf      string      `json:"as_of"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toQuantityDTO(q ledger.Quantity) QuantityDTO {
	return QuantityDTO{Value: q.Value.String(), Unit: string(q.Unit)}
}

func toEventDTO(ev ledger.ConsumptionEvent) EventDTO {
	return EventDTO{
		ID:            string(ev.ID),
		LocationID:    string(ev.LocationID),
		Kind:          string(ev.Kind),
		Source:        string(ev.Source),
		OccurredAt:    ev.OccurredAt.Format(time.RFC3339),
		Confidence:    string(ev.Confidence),
		ItemID:        string(ev.ItemID),
		KegID:         string(ev.KegID),
		TapLineID:     string(ev.TapLineID),
		Delta:         toQuantityDTO(ev.Delta),
		SalesRecordID: string(ev.SalesRecordID),
		ReceiptID:     ev.ReceiptID,
		Reason:        string(ev.Reason),
		Notes:         ev.Notes,
		ReversalOf:    string(ev.ReversalOf),
		CreatedAt:     ev.CreatedAt.Format(time.RFC3339),
		CreatedBy:     ev.CreatedBy,
	}
}

func toEventDTOs(evs []ledger.ConsumptionEvent) []EventDTO {
	dtos := make([]EventDTO, len(evs))
	for i, ev := range evs {
		dtos[i] = toEventDTO(ev)
	}
	return dtos
}

func toItemVarianceDTO(v depletion.ItemVariance) ItemVarianceDTO {
	return ItemVarianceDTO{
		ItemID:      string(v.ItemID),
		Theoretical: toQuantityDTO(v.Theoretical),
		Counted:     toQuantityDTO(v.Counted),
		Variance:    toQuantityDTO(v.Variance),
		Reason:      string(v.Reason),
		Adjusted:    v.Adjusted,
	}
}
