package enums

import "slices"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusProcess         OrderStatus = "PROCESS"
	OrderStatusSuccess         OrderStatus = "SUCCESS"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusDiscrepancy     OrderStatus = "DISCREPANCY"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusPending,
	OrderStatusProcess,
	OrderStatusSuccess,
	OrderStatusCompleted,
	OrderStatusFailed,
	OrderStatusDiscrepancy,
	OrderStatusRejected,
}

// UnpaidOrderStatuses are the states in which a payment session may still be opened or paid.
var UnpaidOrderStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusPending,
}

// TerminalOrderStatuses never transition further without a manual override.
var TerminalOrderStatuses = []OrderStatus{
	OrderStatusSuccess,
	OrderStatusCompleted,
	OrderStatusFailed,
	OrderStatusDiscrepancy,
	OrderStatusRejected,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	return slices.Contains(validOrderStatuses, s)
}

// IsTerminal reports whether the status ends the order lifecycle.
func (s OrderStatus) IsTerminal() bool {
	return slices.Contains(TerminalOrderStatuses, s)
}

// IsUnpaid reports whether the order still awaits funds.
func (s OrderStatus) IsUnpaid() bool {
	return s == OrderStatusAwaitingPayment || s == OrderStatusPending
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse(value, validOrderStatuses, "order status")
}
