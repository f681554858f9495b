/*
correction.go - Reversal + replacement amendments

PURPOSE:
  A posted ledger event is never edited. When a depletion turns out to be
  wrong (bad pour profile, mis-mapped item, fat-fingered adjustment), the
  Corrector posts two new events in one transaction:
  - a REVERSAL: the exact opposite delta, ReversalOf pointing back
  - a REPLACEMENT: the corrected delta, carrying the original provenance

  Balance replayed over original + reversal + replacement equals the
  balance had the correct event been posted in the first place. All three
  rows stay queryable forever.

RULES:
  - a reversal can never itself be the target of a correction
  - both events or neither: the pair shares one transaction
*/
package depletion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/barflow/inventory-engine/ledger"
	"github.com/barflow/inventory-engine/metrics"
)

// =============================================================================
// CORRECTOR
// =============================================================================

type Corrector struct {
	Store   ledger.TxStore
	Catalog ledger.CatalogStore
	Log     zerolog.Logger
}

func NewCorrector(store ledger.TxStore, catalog ledger.CatalogStore, log zerolog.Logger) *Corrector {
	return &Corrector{Store: store, Catalog: catalog, Log: log}
}

// Correct amends a posted event with a reversal+replacement pair and
// returns both new event ids. The replacement keeps the original's
// subject, provenance, and occurrence timestamp; only the delta changes.
// Both new events carry estimated confidence: a correction is a human
// judgement about what happened, whatever the original's confidence was.
func (c *Corrector) Correct(ctx context.Context, eventID ledger.EventID, newDelta ledger.Quantity, reason, actor string) (reversalID, replacementID ledger.EventID, err error) {
	if reason == "" {
		return "", "", &ledger.ValidationError{Field: "reason", Reason: "required"}
	}

	original, err := c.Store.Event(ctx, eventID)
	if err != nil {
		return "", "", err
	}
	if original.IsReversal() {
		return "", "", fmt.Errorf("%w: event %s", ledger.ErrReverseReversal, eventID)
	}
	if ledger.FamilyOf(newDelta.Unit) != ledger.FamilyOf(original.Delta.Unit) {
		return "", "", &ledger.ValidationError{
			Field:  "delta",
			Reason: "replacement unit " + string(newDelta.Unit) + " is not in the original's unit family",
		}
	}

	now := time.Now().UTC()
	reversal := ledger.ConsumptionEvent{
		ID:         ledger.EventID(uuid.NewString()),
		LocationID: original.LocationID,
		Kind:       original.Kind,
		Source:     ledger.SourceManual,
		OccurredAt: original.OccurredAt,
		Confidence: ledger.ConfidenceEstimated,
		ItemID:     original.ItemID,
		KegID:      original.KegID,
		TapLineID:  original.TapLineID,
		Delta:      original.Delta.Neg(),
		ReceiptID:  original.ReceiptID,
		Notes:      "Correction reversal: " + reason,
		ReversalOf: original.ID,
		CreatedAt:  now,
		CreatedBy:  actor,
	}
	replacement := ledger.ConsumptionEvent{
		ID:            ledger.EventID(uuid.NewString()),
		LocationID:    original.LocationID,
		Kind:          original.Kind,
		Source:        original.Source,
		OccurredAt:    original.OccurredAt,
		Confidence:    ledger.ConfidenceEstimated,
		ItemID:        original.ItemID,
		KegID:         original.KegID,
		TapLineID:     original.TapLineID,
		Delta:         newDelta,
		ReceiptID:     original.ReceiptID,
		Notes:         "Correction replacement: " + reason,
		CreatedAt:     now,
		CreatedBy:     actor,
	}

	err = c.Store.WithTx(ctx, func(tx ledger.Store) error {
		lg := ledger.NewLedger(tx, c.Catalog)
		if err := lg.Validate(ctx, reversal); err != nil {
			return err
		}
		if err := lg.Validate(ctx, replacement); err != nil {
			return err
		}
		return tx.AppendBatch(ctx, []ledger.ConsumptionEvent{reversal, replacement})
	})
	if err != nil {
		return "", "", err
	}

	metrics.Corrections.Inc()
	c.Log.Info().
		Str("original_id", string(original.ID)).
		Str("reversal_id", string(reversal.ID)).
		Str("replacement_id", string(replacement.ID)).
		Str("actor", actor).
		Msg("correction posted")
	return reversal.ID, replacement.ID, nil
}
