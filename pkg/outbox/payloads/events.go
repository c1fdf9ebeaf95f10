package payloads

import (
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// PaymentCreatedEvent is emitted once a provider session is attached to an order.
type PaymentCreatedEvent struct {
	OrderID     string                `json:"order_id"`
	Provider    enums.PaymentProvider `json:"provider"`
	ProviderRef string                `json:"provider_ref"`
	Amount      int64                 `json:"amount"`
	Currency    enums.Currency        `json:"currency"`
	CheckoutURL *string               `json:"checkout_url,omitempty"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
	FailedOver  bool                  `json:"failed_over"`
}

// DeliveryCompletedEvent reports that a paid order reached DELIVERED.
// ContentRef is a pointer to the credentials, never the credentials.
type DeliveryCompletedEvent struct {
	OrderID      string             `json:"order_id"`
	ProductSlug  string             `json:"product_slug"`
	DeliveryType enums.DeliveryType `json:"delivery_type"`
	Status       enums.OrderStatus  `json:"status"`
	DeliveredBy  string             `json:"delivered_by"`
	ContentRef   *string            `json:"content_ref,omitempty"`
	DeliveredAt  time.Time          `json:"delivered_at"`
}

// DeliveryFailedEvent asks an operator to take over a delivery.
type DeliveryFailedEvent struct {
	OrderID      string             `json:"order_id"`
	ProductSlug  string             `json:"product_slug"`
	DeliveryType enums.DeliveryType `json:"delivery_type"`
	Reason       string             `json:"reason"`
	Manual       bool               `json:"manual"`
}

// DiscrepancyDetectedEvent reports a callback amount outside tolerance, or
// money that arrived for an order that no longer accepts payment. Reason and
// OrderStatus are set for the latter.
type DiscrepancyDetectedEvent struct {
	OrderID        string                `json:"order_id"`
	Provider       enums.PaymentProvider `json:"provider"`
	Currency       enums.Currency        `json:"currency"`
	ExpectedAmount int64                 `json:"expected_amount"`
	ReceivedAmount *int64                `json:"received_amount,omitempty"`
	Reason         string                `json:"reason,omitempty"`
	OrderStatus    enums.OrderStatus     `json:"order_status,omitempty"`
}

// OrderRejectedEvent is emitted when an operator rejects an unpaid order.
type OrderRejectedEvent struct {
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	RejectedBy string    `json:"rejected_by"`
	RejectedAt time.Time `json:"rejected_at"`
}

// OrderExpiredEvent is emitted when a payment session lapses unpaid.
type OrderExpiredEvent struct {
	OrderID   string                 `json:"order_id"`
	Provider  *enums.PaymentProvider `json:"provider,omitempty"`
	ExpiredAt time.Time              `json:"expired_at"`
}
