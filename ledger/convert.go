package ledger

import "github.com/shopspring/decimal"

// mlPerFlOz is the US fluid ounce.
var mlPerFlOz = decimal.NewFromFloat(29.5735295625)

// Convert re-expresses a quantity in another unit of the same family.
// Count and mass have a single unit each, so only volume actually
// converts; a cross-family target is a validation error.
func Convert(q Quantity, to Unit) (Quantity, error) {
	if q.Unit == to {
		return q, nil
	}
	if FamilyOf(q.Unit) != FamilyOf(to) || FamilyOf(to) == "" {
		return Quantity{}, &ValidationError{
			Field:  "unit",
			Reason: "cannot convert " + string(q.Unit) + " to " + string(to),
		}
	}
	switch {
	case q.Unit == UnitML && to == UnitFlOz:
		return Quantity{Value: q.Value.Div(mlPerFlOz), Unit: to}, nil
	case q.Unit == UnitFlOz && to == UnitML:
		return Quantity{Value: q.Value.Mul(mlPerFlOz), Unit: to}, nil
	}
	return Quantity{}, &ValidationError{
		Field:  "unit",
		Reason: "cannot convert " + string(q.Unit) + " to " + string(to),
	}
}
