package admin

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// OrderDTO is the operator view of an order. Claim tokens stay internal.
type OrderDTO struct {
	OrderID       string            `json:"order_id"`
	ProductSlug   string            `json:"product_slug"`
	PlanID        string            `json:"plan_id,omitempty"`
	Currency      enums.Currency    `json:"currency"`
	SellingPrice  int64             `json:"selling_price"`
	CapitalCost   *int64            `json:"capital_cost,omitempty"`
	Quantity      int               `json:"quantity"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	Status        enums.OrderStatus `json:"status"`
	Locked        bool              `json:"locked"`
	FinalProfit   *int64            `json:"final_profit,omitempty"`
	Margin        *decimal.Decimal  `json:"margin,omitempty"`
	RejectReason  *string           `json:"reject_reason,omitempty"`
	Payment       PaymentDTO        `json:"payment"`
	Delivery      DeliveryDTO       `json:"delivery"`
	Discrepancy   *DiscrepancyDTO   `json:"discrepancy,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type PaymentDTO struct {
	Status      enums.PaymentStatus    `json:"status"`
	Provider    *enums.PaymentProvider `json:"provider,omitempty"`
	ProviderRef *string                `json:"provider_ref,omitempty"`
	Amount      *int64                 `json:"amount,omitempty"`
	Fee         *int64                 `json:"fee,omitempty"`
	CheckoutURL *string                `json:"checkout_url,omitempty"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
	PaidAt      *time.Time             `json:"paid_at,omitempty"`
}

type DeliveryDTO struct {
	Type         enums.DeliveryType   `json:"type,omitempty"`
	Status       enums.DeliveryStatus `json:"status"`
	DeliveredAt  *time.Time           `json:"delivered_at,omitempty"`
	DeliveredBy  *string              `json:"delivered_by,omitempty"`
	ContentRef   *string              `json:"content_ref,omitempty"`
	ErrorMessage *string              `json:"error_message,omitempty"`
	Attempts     int                  `json:"attempts"`
}

type DiscrepancyDTO struct {
	ExpectedAmount *int64          `json:"expected_amount,omitempty"`
	ReceivedAmount *int64          `json:"received_amount,omitempty"`
	RawPayload     json.RawMessage `json:"raw_payload,omitempty"`
}

// AuditEntryDTO is one row of an order's history.
type AuditEntryDTO struct {
	Event     enums.AuditEvent `json:"event"`
	Actor     enums.AuditActor `json:"actor"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// OrderDetail pairs an order with its audit trail, oldest entry first.
type OrderDetail struct {
	Order               OrderDTO                `json:"order"`
	History             []AuditEntryDTO         `json:"history"`
	FailedNotifications []FailedNotificationDTO `json:"failed_notifications,omitempty"`
}

// FailedNotificationDTO is an order event the publisher dead-lettered.
type FailedNotificationDTO struct {
	EventType    enums.OutboxEventType      `json:"event_type"`
	Reason       enums.OutboxDLQErrorReason `json:"reason"`
	ErrorMessage *string                    `json:"error_message,omitempty"`
	Attempts     int                        `json:"attempts"`
	FailedAt     time.Time                  `json:"failed_at"`
}

// ManualDeliveryInput carries what an operator handed to the customer.
type ManualDeliveryInput struct {
	Payload string
}

// RejectInput carries the operator's reason for rejecting an order.
type RejectInput struct {
	Reason string
}

func orderDTOFrom(o *models.Order) OrderDTO {
	dto := OrderDTO{
		OrderID:       o.OrderID,
		ProductSlug:   o.ProductSlug,
		PlanID:        o.PlanID,
		Currency:      o.Currency,
		SellingPrice:  o.SellingPrice,
		CapitalCost:   o.CapitalCost,
		Quantity:      o.Quantity,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Status:        o.Status,
		Locked:        o.Locked,
		FinalProfit:   o.FinalProfit,
		Margin:        o.Margin,
		RejectReason:  o.RejectReason,
		Payment: PaymentDTO{
			Status:      o.Payment.Status,
			Provider:    o.Payment.Provider,
			ProviderRef: o.Payment.ProviderRef,
			Amount:      o.Payment.Amount,
			Fee:         o.Payment.Fee,
			CheckoutURL: o.Payment.CheckoutURL,
			ExpiresAt:   o.Payment.ExpiresAt,
			PaidAt:      o.Payment.PaidAt,
		},
		Delivery: DeliveryDTO{
			Type:         o.Delivery.Type,
			Status:       o.Delivery.Status,
			DeliveredAt:  o.Delivery.DeliveredAt,
			DeliveredBy:  o.Delivery.DeliveredBy,
			ContentRef:   o.Delivery.ContentRef,
			ErrorMessage: o.Delivery.ErrorMessage,
			Attempts:     o.Delivery.Attempts,
		},
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	if o.Discrepancy.ExpectedAmount != nil || o.Discrepancy.ReceivedAmount != nil {
		dto.Discrepancy = &DiscrepancyDTO{
			ExpectedAmount: o.Discrepancy.ExpectedAmount,
			ReceivedAmount: o.Discrepancy.ReceivedAmount,
			RawPayload:     json.RawMessage(o.Discrepancy.RawPayload),
		}
	}
	return dto
}

func auditEntriesFrom(rows []models.AuditLogEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, AuditEntryDTO{
			Event:     row.Event,
			Actor:     row.Actor,
			Payload:   json.RawMessage(row.Payload),
			Timestamp: row.CreatedAt,
		})
	}
	return out
}

func failedNotificationsFrom(rows []models.OutboxDLQ) []FailedNotificationDTO {
	out := make([]FailedNotificationDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, FailedNotificationDTO{
			EventType:    row.EventType,
			Reason:       row.ErrorReason,
			ErrorMessage: row.ErrorMessage,
			Attempts:     row.AttemptCount,
			FailedAt:     row.FailedAt,
		})
	}
	return out
}
