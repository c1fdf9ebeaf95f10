package enums

import "slices"

// PaymentStatus tracks the payment sub-record of an order.
type PaymentStatus string

const (
	PaymentStatusAwaitingProof PaymentStatus = "AWAITING_PROOF"
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusProcessing    PaymentStatus = "PROCESSING"
	PaymentStatusSuccess       PaymentStatus = "SUCCESS"
	PaymentStatusPaid          PaymentStatus = "PAID"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusDiscrepancy   PaymentStatus = "DISCREPANCY"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusAwaitingProof,
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusSuccess,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusDiscrepancy,
}

// SettledPaymentStatuses lists the values the reconciler treats as already processed.
var SettledPaymentStatuses = []PaymentStatus{
	PaymentStatusSuccess,
	PaymentStatusPaid,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	return slices.Contains(validPaymentStatuses, p)
}

// IsSettled reports whether funds were confirmed for the order.
func (p PaymentStatus) IsSettled() bool {
	return p == PaymentStatusSuccess || p == PaymentStatusPaid
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parse(value, validPaymentStatuses, "payment status")
}
