package orders

import (
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// SessionUpdate carries the fields written when a payment session is opened.
type SessionUpdate struct {
	Provider     enums.PaymentProvider
	ProviderRef  string
	Currency     enums.Currency
	Amount       int64
	Fee          *int64
	CheckoutURL  *string
	QRPayload    *string
	ExpiresAt    *time.Time
	SellingPrice int64
	CapitalCost  *int64
	DeliveryType enums.DeliveryType
	InitiatedAt  time.Time
}

// PaidUpdate carries the fields written when a callback confirms funds.
type PaidUpdate struct {
	ProviderRef *string
	Amount      int64
	FinalProfit *int64
	Margin      *decimal.Decimal
	PaidAt      time.Time
}

// DiscrepancyUpdate carries the evidence of an amount mismatch.
type DiscrepancyUpdate struct {
	ExpectedAmount int64
	ReceivedAmount *int64
	RawPayload     []byte
	At             time.Time
}

// DeliveryClaim moves an order's delivery into PROCESSING for one worker.
// StaleBefore lets a new worker take over a PROCESSING claim abandoned
// before that instant.
type DeliveryClaim struct {
	Token       string
	Now         time.Time
	StaleBefore time.Time
}

// DeliveryCompletion records a successful delivery.
type DeliveryCompletion struct {
	ClaimToken  string
	OrderStatus enums.OrderStatus
	DeliveredBy string
	ContentRef  *string
	At          time.Time
}

// AttentionItem is an order an operator should look at.
type AttentionItem struct {
	OrderID        string               `json:"order_id"`
	ProductSlug    string               `json:"product_slug"`
	Currency       enums.Currency       `json:"currency"`
	Status         enums.OrderStatus    `json:"status"`
	PaymentStatus  enums.PaymentStatus  `json:"payment_status"`
	DeliveryType   enums.DeliveryType   `json:"delivery_type,omitempty"`
	DeliveryStatus enums.DeliveryStatus `json:"delivery_status"`
	ExpectedAmount *int64               `json:"expected_amount,omitempty"`
	ReceivedAmount *int64               `json:"received_amount,omitempty"`
	ErrorMessage   *string              `json:"error_message,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// AttentionList wraps a page of attention items plus the next page cursor.
type AttentionList struct {
	Orders     []AttentionItem `json:"orders"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func attentionItemFrom(o models.Order) AttentionItem {
	return AttentionItem{
		OrderID:        o.OrderID,
		ProductSlug:    o.ProductSlug,
		Currency:       o.Currency,
		Status:         o.Status,
		PaymentStatus:  o.Payment.Status,
		DeliveryType:   o.Delivery.Type,
		DeliveryStatus: o.Delivery.Status,
		ExpectedAmount: o.Discrepancy.ExpectedAmount,
		ReceivedAmount: o.Discrepancy.ReceivedAmount,
		ErrorMessage:   o.Delivery.ErrorMessage,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}
