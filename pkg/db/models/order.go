package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// Order is the aggregate root for a single purchase attempt.
type Order struct {
	OrderID        string            `gorm:"column:order_id;primaryKey"`
	IdempotencyKey *string           `gorm:"column:idempotency_key;uniqueIndex"`
	ProductID      uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	ProductSlug    string            `gorm:"column:product_slug;not null"`
	PlanID         string            `gorm:"column:plan_id;not null;default:''"`
	Currency       enums.Currency    `gorm:"column:currency;type:text;not null"`
	SellingPrice   int64             `gorm:"column:selling_price;not null"`
	CapitalCost    *int64            `gorm:"column:capital_cost"`
	Quantity       int               `gorm:"column:quantity;not null;default:1"`
	CustomerName   string            `gorm:"column:customer_name;not null;default:''"`
	CustomerEmail  string            `gorm:"column:customer_email;not null;default:''"`
	Status         enums.OrderStatus `gorm:"column:status;type:text;not null"`
	Locked         bool              `gorm:"column:locked;not null;default:false"`
	Payment        OrderPayment      `gorm:"embedded;embeddedPrefix:payment_"`
	Delivery       OrderDelivery     `gorm:"embedded;embeddedPrefix:delivery_"`
	FinalProfit    *int64            `gorm:"column:final_profit"`
	Margin         *decimal.Decimal  `gorm:"column:margin;type:numeric(9,4)"`
	Discrepancy    OrderDiscrepancy  `gorm:"embedded;embeddedPrefix:discrepancy_"`
	RejectReason   *string           `gorm:"column:reject_reason"`
	Version        int64             `gorm:"column:version;not null;default:0"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// OrderPayment is the payment sub-record persisted with payment_ prefixed columns.
type OrderPayment struct {
	Status      enums.PaymentStatus    `gorm:"column:status;type:text;not null"`
	Provider    *enums.PaymentProvider `gorm:"column:provider;type:text"`
	ProviderRef *string                `gorm:"column:provider_ref"`
	Amount      *int64                 `gorm:"column:amount"`
	Fee         *int64                 `gorm:"column:fee"`
	CheckoutURL *string                `gorm:"column:checkout_url"`
	QRPayload   *string                `gorm:"column:qr_payload"`
	ExpiresAt   *time.Time             `gorm:"column:expires_at"`
	InitiatedAt *time.Time             `gorm:"column:initiated_at"`
	PaidAt      *time.Time             `gorm:"column:paid_at"`
}

// OrderDelivery is the delivery sub-record persisted with delivery_ prefixed columns.
type OrderDelivery struct {
	Type         enums.DeliveryType   `gorm:"column:type;type:text"`
	Status       enums.DeliveryStatus `gorm:"column:status;type:text;not null"`
	ClaimToken   *string              `gorm:"column:claim_token"`
	ClaimedAt    *time.Time           `gorm:"column:claimed_at"`
	DeliveredAt  *time.Time           `gorm:"column:delivered_at"`
	DeliveredBy  *string              `gorm:"column:delivered_by"`
	ContentRef   *string              `gorm:"column:content_ref"`
	ErrorMessage *string              `gorm:"column:error_message"`
	Attempts     int                  `gorm:"column:attempts;not null;default:0"`
}

// OrderDiscrepancy keeps the evidence for an amount mismatch.
type OrderDiscrepancy struct {
	ExpectedAmount *int64         `gorm:"column:expected_amount"`
	ReceivedAmount *int64         `gorm:"column:received_amount"`
	RawPayload     datatypes.JSON `gorm:"column:raw_payload"`
}

// ExpectedAmount is what a callback must report for the order to reconcile.
func (o *Order) ExpectedAmount() int64 {
	if o.Payment.Amount != nil && *o.Payment.Amount > 0 {
		return *o.Payment.Amount
	}
	return o.SellingPrice
}
