package enums

import (
	"slices"
	"strings"
)

// PaymentProvider names an external payment processor.
type PaymentProvider string

const (
	ProviderTripay   PaymentProvider = "tripay"
	ProviderMidtrans PaymentProvider = "midtrans"
	ProviderStripe   PaymentProvider = "stripe"
	ProviderSquare   PaymentProvider = "square"
)

var validPaymentProviders = []PaymentProvider{
	ProviderTripay,
	ProviderMidtrans,
	ProviderStripe,
	ProviderSquare,
}

// String implements fmt.Stringer.
func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the provider is supported.
func (p PaymentProvider) IsValid() bool {
	return slices.Contains(validPaymentProviders, p)
}

// ParsePaymentProvider converts raw input into a PaymentProvider. Matching is case-insensitive.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	return parse(normalized, validPaymentProviders, "payment provider")
}

// CallbackStatus is the provider-neutral status carried by a parsed callback.
type CallbackStatus string

const (
	CallbackStatusPending     CallbackStatus = "PENDING"
	CallbackStatusSuccess     CallbackStatus = "SUCCESS"
	CallbackStatusFailed      CallbackStatus = "FAILED"
	CallbackStatusExpired     CallbackStatus = "EXPIRED"
	CallbackStatusCancelled   CallbackStatus = "CANCELLED"
	CallbackStatusDiscrepancy CallbackStatus = "DISCREPANCY"
)

// IsFailure reports whether the callback closes the payment without funds.
func (s CallbackStatus) IsFailure() bool {
	switch s {
	case CallbackStatusFailed, CallbackStatusExpired, CallbackStatusCancelled:
		return true
	default:
		return false
	}
}
