/*
interval.go - Half-open effective-window resolution

PURPOSE:
  Item mappings, tap assignments, and price points are all resolved the
  same way: find the single row whose [from, to) window covers an
  instant. The logic lives once, here, instead of three near-copies.

SEMANTICS:
  A window covers t when from <= t and (to is nil or to > t).
  - Zero matches is a first-class outcome ("unmapped", "no keg on tap").
  - More than one match is a configuration defect; ResolveAt fails loudly
    with ErrAmbiguousWindow rather than picking a row.
*/
package ledger

import "time"

// Effective is implemented by any time-versioned reference row.
type Effective interface {
	// ActiveWindow returns the half-open effective window [from, to).
	// A nil "to" means open-ended.
	ActiveWindow() (from time.Time, to *time.Time)
}

// Covers reports whether the window of e contains the instant at.
func Covers(e Effective, at time.Time) bool {
	from, to := e.ActiveWindow()
	if from.After(at) {
		return false
	}
	return to == nil || to.After(at)
}

// ResolveAt returns the single row whose window covers at.
// ok is false when no window matches; ErrAmbiguousWindow is returned when
// more than one does.
func ResolveAt[T Effective](rows []T, at time.Time) (match T, ok bool, err error) {
	var zero T
	found := 0
	for _, row := range rows {
		if !Covers(row, at) {
			continue
		}
		found++
		if found > 1 {
			return zero, false, ErrAmbiguousWindow
		}
		match = row
	}
	if found == 0 {
		return zero, false, nil
	}
	return match, true, nil
}
