package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(value, validAggregateTypes, "aggregate type")
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventPaymentCreated      OutboxEventType = "payment_created"
	EventDeliveryCompleted   OutboxEventType = "delivery_completed"
	EventDeliveryFailed      OutboxEventType = "delivery_failed"
	EventDiscrepancyDetected OutboxEventType = "discrepancy_detected"
	EventOrderRejected       OutboxEventType = "order_rejected"
	EventOrderExpired        OutboxEventType = "order_expired"
)

var validEventTypes = []OutboxEventType{
	EventPaymentCreated,
	EventDeliveryCompleted,
	EventDeliveryFailed,
	EventDiscrepancyDetected,
	EventOrderRejected,
	EventOrderExpired,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(value, validEventTypes, "event type")
}
