package enums

import "slices"

// DeliveryType selects the strategy used to fulfil a paid order.
type DeliveryType string

const (
	DeliveryTypePreloaded DeliveryType = "preloaded"
	DeliveryTypeAPI       DeliveryType = "api"
	DeliveryTypeManual    DeliveryType = "manual"
)

var validDeliveryTypes = []DeliveryType{
	DeliveryTypePreloaded,
	DeliveryTypeAPI,
	DeliveryTypeManual,
}

// IsValid reports whether the value is a known DeliveryType.
func (t DeliveryType) IsValid() bool {
	return slices.Contains(validDeliveryTypes, t)
}

// ParseDeliveryType converts raw input into a DeliveryType.
func ParseDeliveryType(value string) (DeliveryType, error) {
	return parse(value, validDeliveryTypes, "delivery type")
}

// DeliveryStatus tracks the delivery sub-record of an order.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "PENDING"
	DeliveryStatusProcessing DeliveryStatus = "PROCESSING"
	DeliveryStatusDelivered  DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed     DeliveryStatus = "FAILED"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusProcessing,
	DeliveryStatusDelivered,
	DeliveryStatusFailed,
}

// ClaimableDeliveryStatuses may be moved into PROCESSING by a new delivery attempt.
var ClaimableDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusFailed,
}

// IsValid reports whether the value is a known DeliveryStatus.
func (s DeliveryStatus) IsValid() bool {
	return slices.Contains(validDeliveryStatuses, s)
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	return parse(value, validDeliveryStatuses, "delivery status")
}

// DeliveryTrigger records what asked for a delivery attempt.
type DeliveryTrigger string

const (
	DeliveryTriggerWebhook    DeliveryTrigger = "webhook"
	DeliveryTriggerManual     DeliveryTrigger = "admin_manual"
	DeliveryTriggerRedelivery DeliveryTrigger = "admin_redelivery"
)

// IsAdmin reports whether an operator initiated the attempt.
func (t DeliveryTrigger) IsAdmin() bool {
	return t == DeliveryTriggerManual || t == DeliveryTriggerRedelivery
}
