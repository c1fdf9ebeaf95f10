package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/digistore-backend/internal/audit"
	"github.com/angelmondragon/digistore-backend/internal/delivery"
	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/internal/orders"
	"github.com/angelmondragon/digistore-backend/internal/payments/providers"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/metrics"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/payloads"
)

// Outcome summarises what a callback did to the order.
type Outcome string

const (
	OutcomePaid        Outcome = "paid"
	OutcomePending     Outcome = "pending"
	OutcomeFailed      Outcome = "failed"
	OutcomeDiscrepancy Outcome = "discrepancy"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeIgnored     Outcome = "ignored"
)

// Ack is returned for every callback the provider should not retry.
type Ack struct {
	Provider       enums.PaymentProvider `json:"provider"`
	OrderID        string                `json:"order_id,omitempty"`
	Outcome        Outcome               `json:"outcome"`
	OrderStatus    enums.OrderStatus     `json:"order_status,omitempty"`
	DeliveryStatus enums.DeliveryStatus  `json:"delivery_status,omitempty"`
}

type adapterResolver interface {
	Resolve(name enums.PaymentProvider) (providers.Adapter, bool)
}

type deliveryQueue interface {
	Enqueue(ctx context.Context, req delivery.Request) bool
}

type effectsSink interface {
	Flush(ctx context.Context, effects *audit.Effects)
}

// ServiceParams wires the reconciler.
type ServiceParams struct {
	Orders           orders.Repository
	Adapters         adapterResolver
	Delivery         deliveryQueue
	Sink             effectsSink
	TolerancePercent decimal.Decimal
	Logger           *logger.Logger
	Metrics          *metrics.EngineMetrics
	Now              func() time.Time
}

// Service turns provider callbacks into order transitions.
type Service struct {
	orders    orders.Repository
	adapters  adapterResolver
	delivery  deliveryQueue
	sink      effectsSink
	tolerance decimal.Decimal
	logg      *logger.Logger
	metrics   *metrics.EngineMetrics
	now       func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Adapters == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if p.Delivery == nil {
		return nil, fmt.Errorf("delivery queue required")
	}
	if p.Sink == nil {
		return nil, fmt.Errorf("audit sink required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.TolerancePercent.IsNegative() {
		return nil, fmt.Errorf("tolerance must not be negative")
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:    p.Orders,
		adapters:  p.Adapters,
		delivery:  p.Delivery,
		sink:      p.Sink,
		tolerance: p.TolerancePercent,
		logg:      p.Logger,
		metrics:   p.Metrics,
		now:       now,
	}, nil
}

// HandleCallback verifies, parses and applies one provider callback.
//
// Only trust and input failures are returned as errors: an invalid signature,
// an unparseable body, an unknown provider or an order that cannot be found.
// Every business outcome, including a discrepancy, is recorded on the order
// and acknowledged so the provider stops retrying. Delivery runs in the
// background once the payment is stored, so a paid ack reports the order
// as PROCESS.
func (s *Service) HandleCallback(ctx context.Context, providerName string, payload []byte, headers http.Header) (*Ack, error) {
	provider, err := enums.ParsePaymentProvider(providerName)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotFound, "unknown payment provider")
	}
	adapter, ok := s.adapters.Resolve(provider)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotFound, fmt.Sprintf("provider %s is not configured", provider))
	}
	ctx = s.logg.WithField(ctx, "provider", provider)

	verified := adapter.VerifyCallback(payload, headers)
	if !verified && adapter.RequiresSignature() {
		s.metrics.IncCallback(string(provider), "signature_invalid")
		s.logg.Warn(ctx, "callback signature rejected")
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "callback signature invalid")
	}

	parsed, err := adapter.ParseCallback(payload)
	if err != nil {
		if errors.Is(err, providers.ErrIgnoredEvent) {
			s.metrics.IncCallback(string(provider), string(OutcomeIgnored))
			return &Ack{Provider: provider, Outcome: OutcomeIgnored}, nil
		}
		s.metrics.IncCallback(string(provider), "malformed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "callback payload could not be parsed")
	}
	if parsed.OrderID == "" && parsed.ProviderRef == "" {
		s.metrics.IncCallback(string(provider), "malformed")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback carries no order reference")
	}

	order, err := s.lookup(ctx, provider, parsed)
	if err != nil {
		s.metrics.IncCallback(string(provider), "order_not_found")
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": order.OrderID, "callback_status": parsed.Status})

	effects := &audit.Effects{}
	defer s.sink.Flush(ctx, effects)

	actor := enums.ProviderActor(provider)
	if !verified {
		s.logg.Warn(ctx, "callback signature unverified, continuing")
		effects.Audit(order.OrderID, enums.AuditSignatureUnverified, actor, map[string]any{"raw_status": parsed.RawStatus})
	}

	ack := &Ack{Provider: provider, OrderID: order.OrderID}

	if order.Payment.Status.IsSettled() {
		s.duplicate(ctx, order, payload, actor, effects, ack)
		return ack, nil
	}

	effects.Audit(order.OrderID, enums.AuditCallbackReceived, actor, payload)

	if !orders.AcceptsPayment(order) {
		effects.Audit(order.OrderID, enums.AuditCallbackIgnored, actor, map[string]any{
			"reason":       "order no longer accepts payment",
			"order_status": order.Status,
			"raw_status":   parsed.RawStatus,
		})
		if parsed.Status == enums.CallbackStatusSuccess || parsed.Status == enums.CallbackStatusDiscrepancy {
			s.alertLatePayment(ctx, provider, order, parsed, effects)
		}
		s.finish(ack, order, OutcomeIgnored)
		return ack, nil
	}

	switch {
	case parsed.Status == enums.CallbackStatusSuccess:
		s.applySuccess(ctx, provider, order, parsed, payload, effects, ack)
	case parsed.Status == enums.CallbackStatusDiscrepancy:
		s.applyDiscrepancy(ctx, provider, order, parsed.Amount, payload, effects, ack)
	case parsed.Status.IsFailure():
		s.applyFailure(ctx, order, parsed, effects, ack)
	default:
		s.applyPending(ctx, order, effects, ack)
	}
	return ack, nil
}

// lookup resolves the order by id first and by the provider's own reference
// second; some providers only echo their reference.
func (s *Service) lookup(ctx context.Context, provider enums.PaymentProvider, parsed *providers.CallbackResult) (*models.Order, error) {
	if parsed.OrderID != "" {
		order, err := s.orders.FindByID(ctx, parsed.OrderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
	}
	if parsed.ProviderRef != "" {
		order, err := s.orders.FindByProviderRef(ctx, provider, parsed.ProviderRef)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order by reference")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found")
}

func (s *Service) applySuccess(ctx context.Context, provider enums.PaymentProvider, order *models.Order, parsed *providers.CallbackResult, payload []byte, effects *audit.Effects, ack *Ack) {
	expected := order.ExpectedAmount()
	if parsed.Amount == nil || !WithinTolerance(expected, *parsed.Amount, s.tolerance) {
		s.applyDiscrepancy(ctx, provider, order, parsed.Amount, payload, effects, ack)
		return
	}

	now := s.now()
	profit, margin := orders.Profit(order.SellingPrice, order.CapitalCost)
	var ref *string
	if parsed.ProviderRef != "" {
		ref = &parsed.ProviderRef
	}
	err := s.orders.MarkPaid(ctx, order.OrderID, orders.PaidUpdate{
		ProviderRef: ref,
		Amount:      *parsed.Amount,
		FinalProfit: profit,
		Margin:      margin,
		PaidAt:      now,
	})
	if err != nil {
		s.lostRace(ctx, order.OrderID, err, payload, enums.ProviderActor(provider), effects, ack)
		return
	}

	effects.Audit(order.OrderID, enums.AuditPaymentSucceeded, enums.ProviderActor(provider), map[string]any{
		"expected_amount": expected,
		"received_amount": *parsed.Amount,
		"final_profit":    profit,
		"margin":          margin,
	})
	// Payment entries land before anything the dispatcher records.
	s.sink.Flush(ctx, effects)

	s.logg.Info(ctx, "payment reconciled")
	ack.Outcome = OutcomePaid
	ack.OrderStatus = enums.OrderStatusProcess
	ack.DeliveryStatus = enums.DeliveryStatusPending
	s.metrics.IncCallback(string(provider), string(OutcomePaid))

	s.dispatch(ctx, order.OrderID, enums.ProviderActor(provider))
}

// alertLatePayment raises an operator alert for money that arrived after the
// order closed, typically a payment that settled after the expiry sweep.
// The order itself is left as it is; refunding or reopening is manual work.
func (s *Service) alertLatePayment(ctx context.Context, provider enums.PaymentProvider, order *models.Order, parsed *providers.CallbackResult, effects *audit.Effects) {
	effects.Notify(notifications.Event{
		Type:    enums.EventDiscrepancyDetected,
		OrderID: order.OrderID,
		Actor:   enums.ProviderActor(provider),
		Data: payloads.DiscrepancyDetectedEvent{
			OrderID:        order.OrderID,
			Provider:       provider,
			Currency:       order.Currency,
			ExpectedAmount: order.ExpectedAmount(),
			ReceivedAmount: parsed.Amount,
			Reason:         "payment received after order closed",
			OrderStatus:    order.Status,
		},
	})
	s.logg.Warn(s.logg.WithField(ctx, "order_status", order.Status), "payment received for closed order")
	s.metrics.IncCallback(string(provider), "late_payment")
}

func (s *Service) applyDiscrepancy(ctx context.Context, provider enums.PaymentProvider, order *models.Order, received *int64, payload []byte, effects *audit.Effects, ack *Ack) {
	expected := order.ExpectedAmount()
	err := s.orders.MarkDiscrepancy(ctx, order.OrderID, orders.DiscrepancyUpdate{
		ExpectedAmount: expected,
		ReceivedAmount: received,
		RawPayload:     payload,
		At:             s.now(),
	})
	if err != nil {
		s.lostRace(ctx, order.OrderID, err, payload, enums.ProviderActor(provider), effects, ack)
		return
	}

	effects.Audit(order.OrderID, enums.AuditPaymentDiscrepancy, enums.ProviderActor(provider), map[string]any{
		"expected_amount": expected,
		"received_amount": received,
		"tolerance_pct":   s.tolerance.String(),
	})
	effects.Notify(notifications.Event{
		Type:    enums.EventDiscrepancyDetected,
		OrderID: order.OrderID,
		Actor:   enums.ProviderActor(provider),
		Data: payloads.DiscrepancyDetectedEvent{
			OrderID:        order.OrderID,
			Provider:       provider,
			Currency:       order.Currency,
			ExpectedAmount: expected,
			ReceivedAmount: received,
		},
	})
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"expected_amount": expected, "received_amount": received}), "callback amount outside tolerance")
	ack.Outcome = OutcomeDiscrepancy
	ack.OrderStatus = enums.OrderStatusDiscrepancy
	s.metrics.IncCallback(string(provider), string(OutcomeDiscrepancy))
}

func (s *Service) applyFailure(ctx context.Context, order *models.Order, parsed *providers.CallbackResult, effects *audit.Effects, ack *Ack) {
	provider := ack.Provider
	if err := s.orders.MarkPaymentFailed(ctx, order.OrderID, s.now()); err != nil {
		s.lostRace(ctx, order.OrderID, err, nil, enums.ProviderActor(provider), effects, ack)
		return
	}
	effects.Audit(order.OrderID, enums.AuditPaymentFailed, enums.ProviderActor(provider), map[string]any{
		"status":     parsed.Status,
		"raw_status": parsed.RawStatus,
	})
	ack.Outcome = OutcomeFailed
	ack.OrderStatus = enums.OrderStatusFailed
	s.metrics.IncCallback(string(provider), string(OutcomeFailed))
}

func (s *Service) applyPending(ctx context.Context, order *models.Order, effects *audit.Effects, ack *Ack) {
	if err := s.orders.MarkPaymentPending(ctx, order.OrderID, s.now()); err != nil {
		s.lostRace(ctx, order.OrderID, err, nil, enums.ProviderActor(ack.Provider), effects, ack)
		return
	}
	ack.Outcome = OutcomePending
	ack.OrderStatus = enums.OrderStatusPending
	s.metrics.IncCallback(string(ack.Provider), string(OutcomePending))
}

// duplicate acknowledges a callback for an order whose payment already
// settled. A paid order whose automatic delivery never started, because the
// process died between the two steps, is queued for delivery again.
func (s *Service) duplicate(ctx context.Context, order *models.Order, payload []byte, actor enums.AuditActor, effects *audit.Effects, ack *Ack) {
	effects.Audit(order.OrderID, enums.AuditCallbackDuplicate, actor, payload)
	s.sink.Flush(ctx, effects)
	s.finish(ack, order, OutcomeDuplicate)

	if order.Status == enums.OrderStatusProcess &&
		order.Delivery.Status == enums.DeliveryStatusPending &&
		order.Delivery.Type != enums.DeliveryTypeManual {
		s.logg.Warn(ctx, "paid order has no delivery yet, resuming")
		s.dispatch(ctx, order.OrderID, actor)
	}
}

// lostRace handles a conditional write that matched no row: another writer
// moved the order first. The fresh state decides the acknowledgement.
func (s *Service) lostRace(ctx context.Context, orderID string, cause error, payload []byte, actor enums.AuditActor, effects *audit.Effects, ack *Ack) {
	if !errors.Is(cause, orders.ErrPreconditionFailed) {
		s.logg.Error(ctx, "order update failed", cause)
		effects.Audit(orderID, enums.AuditCallbackIgnored, actor, map[string]any{"reason": "order update failed", "error": cause.Error()})
		ack.Outcome = OutcomeIgnored
		s.metrics.IncCallback(string(ack.Provider), "error")
		return
	}
	fresh, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		s.logg.Error(ctx, "reload after conflict failed", err)
		ack.Outcome = OutcomeIgnored
		return
	}
	if fresh.Payment.Status.IsSettled() {
		effects.Audit(orderID, enums.AuditCallbackDuplicate, actor, payload)
		s.finish(ack, fresh, OutcomeDuplicate)
		return
	}
	effects.Audit(orderID, enums.AuditCallbackIgnored, actor, map[string]any{
		"reason":       "order changed concurrently",
		"order_status": fresh.Status,
	})
	s.finish(ack, fresh, OutcomeIgnored)
}

// dispatch queues delivery. A refused request is not lost: the delivery
// sweeper finds paid orders that never started.
func (s *Service) dispatch(ctx context.Context, orderID string, actor enums.AuditActor) {
	accepted := s.delivery.Enqueue(ctx, delivery.Request{
		OrderID: orderID,
		Trigger: enums.DeliveryTriggerWebhook,
		Actor:   actor,
	})
	if !accepted {
		s.logg.Warn(ctx, "delivery queue refused order, leaving it to the sweeper")
	}
}

func (s *Service) finish(ack *Ack, order *models.Order, outcome Outcome) {
	ack.Outcome = outcome
	ack.OrderStatus = order.Status
	ack.DeliveryStatus = order.Delivery.Status
	s.metrics.IncCallback(string(ack.Provider), string(outcome))
}
