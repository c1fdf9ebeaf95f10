package enums

import (
	"slices"
	"strings"
)

// Currency represents the settlement currencies an order can be priced in.
type Currency string

const (
	CurrencyIDR Currency = "IDR"
	CurrencyUSD Currency = "USD"
)

var validCurrencies = []Currency{
	CurrencyIDR,
	CurrencyUSD,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	return slices.Contains(validCurrencies, c)
}

// MinorUnitExponent returns how many decimal places separate the major unit from
// the minor unit stored on orders. IDR has no minor unit in practice.
func (c Currency) MinorUnitExponent() int32 {
	switch c {
	case CurrencyUSD:
		return 2
	default:
		return 0
	}
}

// ParseCurrency converts a raw string into a Currency. Matching is case-insensitive.
func ParseCurrency(value string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	return parse(normalized, validCurrencies, "currency")
}
