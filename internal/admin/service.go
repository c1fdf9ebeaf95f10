package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/digistore-backend/internal/audit"
	"github.com/angelmondragon/digistore-backend/internal/delivery"
	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/internal/orders"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/digistore-backend/pkg/pagination"
)

const (
	maxRejectReason        = 500
	maxFailedNotifications = 20
)

type deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) (*delivery.Result, error)
}

type auditSink interface {
	Flush(ctx context.Context, effects *audit.Effects)
	History(ctx context.Context, orderID string) ([]models.AuditLogEntry, error)
}

type deadLetterReader interface {
	ListForOrder(ctx context.Context, orderID string, limit int) ([]models.OutboxDLQ, error)
}

// Service exposes the operator actions on orders.
type Service interface {
	TriggerManualDelivery(ctx context.Context, operator, orderID string, input ManualDeliveryInput) (*delivery.Result, error)
	TriggerRedelivery(ctx context.Context, operator, orderID string) (*delivery.Result, error)
	RejectOrder(ctx context.Context, operator, orderID string, input RejectInput) (*OrderDTO, error)
	ListAttention(ctx context.Context, params pagination.Params) (*orders.AttentionList, error)
	GetOrder(ctx context.Context, orderID string) (*OrderDetail, error)
}

// ServiceParams wires the admin service.
type ServiceParams struct {
	Orders   orders.Repository
	Delivery deliverer
	Sink     auditSink
	Logger   *logger.Logger
	Now      func() time.Time

	// DeadLetters is optional; without it order detail omits failed notifications.
	DeadLetters deadLetterReader
}

type service struct {
	orders   orders.Repository
	delivery deliverer
	sink     auditSink
	dlq      deadLetterReader
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Delivery == nil {
		return nil, fmt.Errorf("delivery dispatcher required")
	}
	if p.Sink == nil {
		return nil, fmt.Errorf("audit sink required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		orders:   p.Orders,
		delivery: p.Delivery,
		sink:     p.Sink,
		dlq:      p.DeadLetters,
		logg:     p.Logger,
		now:      now,
	}, nil
}

// TriggerManualDelivery completes a delivery with content the operator
// supplies. A delivered order is reported as ALREADY_DELIVERED with who
// delivered it and when, so a second operator does not hand out twice.
func (s *service) TriggerManualDelivery(ctx context.Context, operator, orderID string, input ManualDeliveryInput) (*delivery.Result, error) {
	payload := strings.TrimSpace(input.Payload)
	if payload == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery payload is required")
	}
	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": orderID, "operator": operator})

	result, err := s.delivery.Deliver(ctx, delivery.Request{
		OrderID:       orderID,
		Trigger:       enums.DeliveryTriggerManual,
		Actor:         enums.AdminActor(operator),
		ManualPayload: payload,
	})
	if err != nil {
		return nil, err
	}
	if result.AlreadyDelivered {
		return nil, alreadyDelivered(result.DeliveredBy, result.DeliveredAt)
	}
	s.logg.Info(ctx, "manual delivery triggered")
	return result, nil
}

// TriggerRedelivery reruns the product's delivery strategy. It is a no-op
// for an order that is already delivered; the result says so and carries
// who delivered it and when.
func (s *service) TriggerRedelivery(ctx context.Context, operator, orderID string) (*delivery.Result, error) {
	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": orderID, "operator": operator})

	result, err := s.delivery.Deliver(ctx, delivery.Request{
		OrderID: orderID,
		Trigger: enums.DeliveryTriggerRedelivery,
		Actor:   enums.AdminActor(operator),
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, fmt.Sprintf("redelivery finished with status %s", result.Status))
	return result, nil
}

// RejectOrder moves an unpaid order to REJECTED. Rejecting an order that is
// already rejected returns it unchanged.
func (s *service) RejectOrder(ctx context.Context, operator, orderID string, input RejectInput) (*OrderDTO, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reject reason is required")
	}
	if len(reason) > maxRejectReason {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("reject reason exceeds %d characters", maxRejectReason))
	}
	if err := requireOperator(operator); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": orderID, "operator": operator})

	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := rejectable(order); err != nil {
		if order.Status == enums.OrderStatusRejected {
			dto := orderDTOFrom(order)
			return &dto, nil
		}
		return nil, err
	}

	now := s.now()
	if err := s.orders.Reject(ctx, order.OrderID, reason, now); err != nil {
		if !errors.Is(err, orders.ErrPreconditionFailed) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reject order")
		}
		// a callback or another operator moved the order first
		current, loadErr := s.load(ctx, orderID)
		if loadErr != nil {
			return nil, loadErr
		}
		if current.Status == enums.OrderStatusRejected {
			dto := orderDTOFrom(current)
			return &dto, nil
		}
		if err := rejectable(current); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order changed while rejecting, retry")
	}

	actor := enums.AdminActor(operator)
	effects := &audit.Effects{}
	effects.Audit(order.OrderID, enums.AuditOrderRejected, actor, map[string]any{
		"reason":          reason,
		"previous_status": order.Status,
	})
	effects.Notify(notifications.Event{
		Type:    enums.EventOrderRejected,
		OrderID: order.OrderID,
		Actor:   actor,
		Data: payloads.OrderRejectedEvent{
			OrderID:    order.OrderID,
			Reason:     reason,
			RejectedBy: string(actor),
			RejectedAt: now,
		},
		OccurredAt: now,
	})
	s.sink.Flush(ctx, effects)
	s.logg.Info(ctx, "order rejected")

	updated, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	dto := orderDTOFrom(updated)
	return &dto, nil
}

func (s *service) ListAttention(ctx context.Context, params pagination.Params) (*orders.AttentionList, error) {
	list, err := s.orders.ListAttention(ctx, params)
	if err != nil {
		if errors.Is(err, orders.ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list attention orders")
	}
	return list, nil
}

func (s *service) GetOrder(ctx context.Context, orderID string) (*OrderDetail, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	history, err := s.sink.History(ctx, order.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order history")
	}
	detail := &OrderDetail{
		Order:   orderDTOFrom(order),
		History: auditEntriesFrom(history),
	}
	if s.dlq != nil {
		failed, err := s.dlq.ListForOrder(ctx, order.OrderID, maxFailedNotifications)
		if err != nil {
			// detail stays useful without the notification view
			s.logg.Warn(s.logg.WithOrderID(ctx, order.OrderID), "load failed notifications: "+err.Error())
		} else {
			detail.FailedNotifications = failedNotificationsFrom(failed)
		}
	}
	return detail, nil
}

func (s *service) load(ctx context.Context, orderID string) (*models.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

func rejectable(order *models.Order) error {
	if order.Delivery.Status == enums.DeliveryStatusDelivered {
		return alreadyDelivered(order.Delivery.DeliveredBy, order.Delivery.DeliveredAt)
	}
	if !orders.CanTransition(order.Status, enums.OrderStatusRejected) || !orders.AcceptsPayment(order) || order.Locked {
		return pkgerrors.New(pkgerrors.CodeNotEligible, "order can no longer be rejected").
			WithDetails(map[string]any{"status": order.Status, "payment_status": order.Payment.Status})
	}
	return nil
}

func alreadyDelivered(by *string, at *time.Time) error {
	details := map[string]any{}
	if by != nil {
		details["delivered_by"] = *by
	}
	if at != nil {
		details["delivered_at"] = at.UTC().Format(time.RFC3339)
	}
	return pkgerrors.New(pkgerrors.CodeAlreadyDelivered, "order already delivered").WithDetails(details)
}

func requireOperator(operator string) error {
	if strings.TrimSpace(operator) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity required")
	}
	return nil
}
