package reconciler

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// WithinTolerance reports whether received is within percent of expected,
// in either direction. The boundary is inclusive.
func WithinTolerance(expected, received int64, percent decimal.Decimal) bool {
	if expected <= 0 {
		return received == expected
	}
	diff := decimal.NewFromInt(received - expected).Abs()
	allowed := decimal.NewFromInt(expected).Mul(percent).Div(hundred)
	return diff.LessThanOrEqual(allowed)
}
