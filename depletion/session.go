/*
session.go - Counting-session reconciliation

PURPOSE:
  Closing an inventory session is the moment theory meets the shelf.
  For every counted line the reconciler:
  1. converts the raw count (units, keg %, or bottle weight) into the
     item's base unit
  2. computes the theoretical on-hand at the session start
  3. derives the variance = counted - theoretical
  4. posts one inventory_count_adjustment event per drifted item

  The adjustment re-anchors the ledger so future on-hand replays match
  physical reality.

VARIANCE REASON GATE:
  Any variance beyond the configured thresholds requires an operator
  reason (waste, comp, theft, ...). Missing reasons abort the whole
  close: no partial adjustments, the session stays open, and the error
  lists every item still needing a reason.

ATOMICITY:
  SessionStore.CloseSession posts all adjustments and marks the session
  closed in one transaction.
*/
package depletion

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/barflow/inventory-engine/ledger"
	"github.com/barflow/inventory-engine/metrics"
)

// =============================================================================
// THRESHOLDS
// =============================================================================

// Thresholds configure when a variance is large enough to demand a
// reason. A variance triggers the gate when its absolute magnitude
// exceeds Absolute (in the item's base unit) OR, when Percent is
// positive, it exceeds Percent% of theoretical on-hand.
type Thresholds struct {
	Absolute decimal.Decimal
	Percent  decimal.Decimal
}

func (t Thresholds) exceeded(variance, theoretical decimal.Decimal) bool {
	if variance.Abs().GreaterThan(t.Absolute) {
		return true
	}
	if t.Percent.IsPositive() && !theoretical.IsZero() {
		pct := variance.Abs().Div(theoretical.Abs()).Mul(decimal.NewFromInt(100))
		return pct.GreaterThan(t.Percent)
	}
	return false
}

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	Store      ledger.Store
	Sessions   ledger.SessionStore
	Catalog    ledger.CatalogStore
	Thresholds Thresholds
	Log        zerolog.Logger
}

func NewReconciler(store ledger.Store, sessions ledger.SessionStore, catalog ledger.CatalogStore, thresholds Thresholds, log zerolog.Logger) *Reconciler {
	return &Reconciler{Store: store, Sessions: sessions, Catalog: catalog, Thresholds: thresholds, Log: log}
}

// ItemVariance is the per-item result of a close, returned for reporting.
type ItemVariance struct {
	ItemID      ledger.ItemID   `json:"item_id"`
	Theoretical ledger.Quantity `json:"theoretical"`
	Counted     ledger.Quantity `json:"counted"`
	Variance    ledger.Quantity `json:"variance"`
	Reason      ledger.VarianceReason `json:"reason,omitempty"`
	Adjusted    bool            `json:"adjusted"`
}

// CloseSession reconciles and closes a session. reasons supplies the
// operator explanation per item; items whose variance exceeds the
// thresholds and have no reason abort the close with
// MissingVarianceReasonError.
func (r *Reconciler) CloseSession(ctx context.Context, sessionID ledger.SessionID, reasons map[ledger.ItemID]ledger.VarianceReason, actor string) ([]ItemVariance, error) {
	session, err := r.Sessions.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Closed() {
		return nil, ledger.ErrSessionClosed
	}
	lines, err := r.Sessions.SessionLines(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	counted, err := r.countsByItem(ctx, lines)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var (
		results     []ItemVariance
		adjustments []ledger.ConsumptionEvent
		missing     []ledger.ItemID
	)
	for _, itemID := range sortedItemIDs(counted) {
		count := counted[itemID]

		// Theoretical on-hand is anchored at the session start so pours
		// rung up while staff were counting don't pollute the comparison.
		theoretical, err := r.onHandAt(ctx, itemID, session.StartedAt)
		if err != nil {
			return nil, err
		}
		variance := count.Sub(theoretical)
		reason := reasons[itemID]

		v := ItemVariance{
			ItemID:      itemID,
			Theoretical: theoretical,
			Counted:     count,
			Variance:    variance,
			Reason:      reason,
		}
		if variance.IsZero() {
			results = append(results, v)
			continue
		}
		if reason == "" && r.Thresholds.exceeded(variance.Value, theoretical.Value) {
			missing = append(missing, itemID)
			results = append(results, v)
			continue
		}

		v.Adjusted = true
		results = append(results, v)
		adjustments = append(adjustments, ledger.ConsumptionEvent{
			ID:         ledger.EventID(uuid.NewString()),
			LocationID: session.LocationID,
			Kind:       ledger.KindCountAdjustment,
			Source:     ledger.SourceManual,
			OccurredAt: now,
			Confidence: ledger.ConfidenceMeasured,
			ItemID:     itemID,
			Delta:      variance,
			Reason:     reason,
			Notes:      "Inventory count reconciliation, session " + string(sessionID),
			CreatedAt:  now,
			CreatedBy:  actor,
		})
	}

	if len(missing) > 0 {
		return results, &ledger.MissingVarianceReasonError{SessionID: sessionID, Items: missing}
	}

	if err := r.Sessions.CloseSession(ctx, sessionID, actor, now, adjustments); err != nil {
		return nil, err
	}

	metrics.SessionCloses.Inc()
	for range adjustments {
		metrics.EventsCreated.WithLabelValues(string(ledger.KindCountAdjustment)).Inc()
	}
	r.Log.Info().
		Str("session_id", string(sessionID)).
		Int("items", len(results)).
		Int("adjustments", len(adjustments)).
		Str("actor", actor).
		Msg("session closed")
	return results, nil
}

// countsByItem converts every line into the item's base unit and sums
// multiple lines for the same item (e.g. bar front + storeroom).
func (r *Reconciler) countsByItem(ctx context.Context, lines []ledger.SessionLine) (map[ledger.ItemID]ledger.Quantity, error) {
	counted := make(map[ledger.ItemID]ledger.Quantity)
	for _, line := range lines {
		item, err := r.Catalog.Item(ctx, line.ItemID)
		if err != nil {
			return nil, err
		}
		q, err := r.lineQuantity(ctx, line, item)
		if err != nil {
			return nil, err
		}
		if prev, ok := counted[line.ItemID]; ok {
			counted[line.ItemID] = prev.Add(q)
		} else {
			counted[line.ItemID] = q
		}
	}
	return counted, nil
}

// lineQuantity converts one counted line into the item's base unit.
func (r *Reconciler) lineQuantity(ctx context.Context, line ledger.SessionLine, item ledger.InventoryItem) (ledger.Quantity, error) {
	switch line.Method() {
	case ledger.CountByUnits:
		return ledger.Convert(ledger.Quantity{Value: *line.UnitCount, Unit: ledger.UnitCount}, item.BaseUnit)

	case ledger.CountByKegPercent:
		keg, err := r.Catalog.Keg(ctx, line.KegID)
		if err != nil {
			return ledger.Quantity{}, err
		}
		pct := *line.PercentRemaining
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return ledger.Quantity{}, &ledger.ValidationError{
				Field:  "percent_remaining",
				Reason: "must be between 0 and 100",
			}
		}
		vol := keg.StartingVolume.Mul(pct.Div(decimal.NewFromInt(100)))
		return ledger.Convert(vol, item.BaseUnit)

	case ledger.CountByWeight:
		spec, ok, err := r.Catalog.BottleSpecForItem(ctx, line.ItemID)
		if err != nil {
			return ledger.Quantity{}, err
		}
		if !ok {
			return ledger.Quantity{}, &ledger.ValidationError{
				Field:  "gross_weight_grams",
				Reason: "item " + string(line.ItemID) + " has no bottle spec for weight counting",
			}
		}
		ml := ledger.Quantity{Value: spec.LiquidML(*line.GrossWeightGrams), Unit: ledger.UnitML}
		return ledger.Convert(ml, item.BaseUnit)

	default:
		return ledger.Quantity{}, &ledger.ValidationError{
			Field:  "session_line",
			Reason: "line " + line.ID + " must populate exactly one count method",
		}
	}
}

func (r *Reconciler) onHandAt(ctx context.Context, itemID ledger.ItemID, asOf time.Time) (ledger.Quantity, error) {
	item, err := r.Catalog.Item(ctx, itemID)
	if err != nil {
		return ledger.Quantity{}, err
	}
	evs, err := r.Store.EventsByItem(ctx, itemID, time.Time{}, asOf)
	if err != nil {
		return ledger.Quantity{}, err
	}
	onHand := ledger.Quantity{Unit: item.BaseUnit}
	for _, ev := range evs {
		d, err := ledger.Convert(ev.Delta, item.BaseUnit)
		if err != nil {
			return ledger.Quantity{}, err
		}
		onHand = onHand.Add(d)
	}
	return onHand, nil
}

// sortedItemIDs gives the close a deterministic item order so adjustment
// events and error listings are stable across runs.
func sortedItemIDs(m map[ledger.ItemID]ledger.Quantity) []ledger.ItemID {
	ids := make([]ledger.ItemID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
