package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/angelmondragon/digistore-backend/internal/audit"
	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/internal/orders"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/metrics"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/payloads"
)

const (
	defaultInFlightWait = 5 * time.Second
	defaultStaleClaim   = 10 * time.Minute
	defaultPollInterval = 50 * time.Millisecond
	maxErrorMessage     = 500
)

// Request asks for one delivery attempt. ManualPayload, when set on an
// admin trigger, is the content an operator delivered by hand.
type Request struct {
	OrderID       string
	Trigger       enums.DeliveryTrigger
	Actor         enums.AuditActor
	ManualPayload string
}

// Result reports the delivery state after the attempt.
type Result struct {
	OrderID          string               `json:"order_id"`
	Success          bool                 `json:"success"`
	AlreadyDelivered bool                 `json:"already_delivered"`
	Status           enums.DeliveryStatus `json:"delivery_status"`
	OrderStatus      enums.OrderStatus    `json:"order_status"`
	Message          string               `json:"message,omitempty"`
	DeliveredData    *string              `json:"delivered_data,omitempty"`
	DeliveredBy      *string              `json:"delivered_by,omitempty"`
	DeliveredAt      *time.Time           `json:"delivered_at,omitempty"`
}

type productReader interface {
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
}

type effectsSink interface {
	Flush(ctx context.Context, effects *audit.Effects)
}

// Config tunes claim ownership.
type Config struct {
	// InFlightWait bounds how long a caller that lost the claim waits for
	// the owner to finish.
	InFlightWait time.Duration
	// StaleClaim is the age after which a PROCESSING claim is considered
	// abandoned and may be taken over.
	StaleClaim   time.Duration
	PollInterval time.Duration
}

// DispatcherParams wires the dispatcher.
type DispatcherParams struct {
	Orders     orders.Repository
	Catalog    productReader
	Strategies []Strategy
	Sink       effectsSink
	Config     Config
	Logger     *logger.Logger
	Metrics    *metrics.EngineMetrics
	Now        func() time.Time
}

// Dispatcher runs at most one delivery per order. A caller first claims
// the order with a fresh token; only the claim owner runs a strategy and
// only the claim owner can mark the order delivered.
type Dispatcher struct {
	orders     orders.Repository
	catalog    productReader
	strategies map[enums.DeliveryType]Strategy
	sink       effectsSink
	cfg        Config
	logg       *logger.Logger
	metrics    *metrics.EngineMetrics
	now        func() time.Time
	newToken   func() string
}

func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if p.Sink == nil {
		return nil, fmt.Errorf("audit sink required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	strategies := make(map[enums.DeliveryType]Strategy, len(p.Strategies))
	for _, s := range p.Strategies {
		if s == nil {
			continue
		}
		strategies[s.Type()] = s
	}
	if _, ok := strategies[enums.DeliveryTypeManual]; !ok {
		strategies[enums.DeliveryTypeManual] = ManualStrategy{}
	}
	cfg := p.Config
	if cfg.InFlightWait <= 0 {
		cfg.InFlightWait = defaultInFlightWait
	}
	if cfg.StaleClaim <= 0 {
		cfg.StaleClaim = defaultStaleClaim
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		orders:     p.Orders,
		catalog:    p.Catalog,
		strategies: strategies,
		sink:       p.Sink,
		cfg:        cfg,
		logg:       p.Logger,
		metrics:    p.Metrics,
		now:        now,
		newToken:   func() string { return uuid.NewString() },
	}, nil
}

// Deliver fulfils a paid order. An order that is already DELIVERED is
// returned as a successful no-op. Strategy failures are recorded on the
// order and reported in the Result; errors are reserved for requests the
// order cannot accept.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) (*Result, error) {
	if req.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if req.Trigger == "" {
		req.Trigger = enums.DeliveryTriggerWebhook
	}
	if req.Actor == "" {
		req.Actor = enums.ActorSystem
	}
	ctx = d.logg.WithFields(ctx, map[string]any{"order_id": req.OrderID, "trigger": req.Trigger})

	effects := &audit.Effects{}
	defer d.sink.Flush(ctx, effects)

	order, err := d.load(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Delivery.Status == enums.DeliveryStatusDelivered {
		return d.alreadyDelivered(order, req, effects), nil
	}
	if order.Status != enums.OrderStatusProcess || !order.Payment.Status.IsSettled() {
		return nil, pkgerrors.New(pkgerrors.CodeNotEligible, "order is not awaiting delivery").
			WithDetails(map[string]any{"status": order.Status, "payment_status": order.Payment.Status})
	}

	token := d.newToken()
	now := d.now()
	err = d.orders.ClaimDelivery(ctx, order.OrderID, orders.DeliveryClaim{
		Token:       token,
		Now:         now,
		StaleBefore: now.Add(-d.cfg.StaleClaim),
	})
	if err != nil {
		if !errors.Is(err, orders.ErrPreconditionFailed) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim delivery")
		}
		return d.afterLostClaim(ctx, req, effects)
	}

	if req.Trigger.IsAdmin() && strings.TrimSpace(req.ManualPayload) != "" {
		return d.completeManual(ctx, order, token, req, effects)
	}
	return d.runStrategy(ctx, order, token, req, effects)
}

func (d *Dispatcher) load(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := d.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

// afterLostClaim waits for whoever holds the claim, then reports the state
// they left behind.
func (d *Dispatcher) afterLostClaim(ctx context.Context, req Request, effects *audit.Effects) (*Result, error) {
	deadline := time.Now().Add(d.cfg.InFlightWait)
	for {
		order, err := d.load(ctx, req.OrderID)
		if err != nil {
			return nil, err
		}
		switch order.Delivery.Status {
		case enums.DeliveryStatusDelivered:
			return d.alreadyDelivered(order, req, effects), nil
		case enums.DeliveryStatusProcessing:
			if time.Now().After(deadline) {
				return resultFrom(order, false, "delivery already in progress"), nil
			}
		default:
			if order.Status != enums.OrderStatusProcess {
				return nil, pkgerrors.New(pkgerrors.CodeNotEligible, "order is not awaiting delivery")
			}
			return resultFrom(order, false, deref(order.Delivery.ErrorMessage)), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

func (d *Dispatcher) runStrategy(ctx context.Context, order *models.Order, token string, req Request, effects *audit.Effects) (*Result, error) {
	deliveryType := order.Delivery.Type
	product, err := d.catalog.GetProductBySlug(ctx, order.ProductSlug)
	if err != nil {
		d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "product lookup failed")
	}
	if deliveryType == "" && product != nil {
		deliveryType = product.DeliveryType
	}
	strategy, ok := d.strategies[deliveryType]
	if !ok {
		return d.fail(ctx, order, token, deliveryType, req, fmt.Errorf("no strategy for delivery type %q", deliveryType), effects)
	}

	// The strategy must give up while the claim is still fresh, otherwise a
	// takeover could run the same fulfilment a second time.
	runCtx, cancel := context.WithTimeout(ctx, d.strategyBudget())
	outcome, err := strategy.Execute(runCtx, Job{Order: order, Product: product, Now: d.now()})
	cancel()
	if err != nil {
		return d.fail(ctx, order, token, deliveryType, req, err, effects)
	}
	if outcome.AwaitManual {
		return d.awaitManual(ctx, order, token, outcome.Note, req, effects)
	}

	status := enums.OrderStatusSuccess
	if req.Trigger.IsAdmin() {
		status = enums.OrderStatusCompleted
	}
	return d.complete(ctx, order, token, deliveryType, status, outcome, req, effects)
}

// strategyBudget is half the stale window, leaving the owner time to record
// the outcome before anyone may take the claim over.
func (d *Dispatcher) strategyBudget() time.Duration {
	return d.cfg.StaleClaim / 2
}

func (d *Dispatcher) completeManual(ctx context.Context, order *models.Order, token string, req Request, effects *audit.Effects) (*Result, error) {
	content := strings.TrimSpace(req.ManualPayload)
	ref := "manual:" + order.OrderID
	outcome := &Outcome{ContentRef: &content, PublicRef: &ref}
	return d.complete(ctx, order, token, enums.DeliveryTypeManual, enums.OrderStatusCompleted, outcome, req, effects)
}

func (d *Dispatcher) complete(ctx context.Context, order *models.Order, token string, deliveryType enums.DeliveryType, status enums.OrderStatus, outcome *Outcome, req Request, effects *audit.Effects) (*Result, error) {
	now := d.now()
	deliveredBy := string(req.Actor)
	err := d.orders.CompleteDelivery(ctx, order.OrderID, orders.DeliveryCompletion{
		ClaimToken:  token,
		OrderStatus: status,
		DeliveredBy: deliveredBy,
		ContentRef:  outcome.ContentRef,
		At:          now,
	})
	if err != nil {
		if errors.Is(err, orders.ErrPreconditionFailed) {
			// the claim was taken over while the strategy ran
			d.logg.Warn(ctx, "delivery claim lost before completion")
			return d.afterLostClaim(ctx, req, effects)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete delivery")
	}

	d.metrics.IncDelivery(string(deliveryType), "delivered")
	effects.Audit(order.OrderID, enums.AuditDeliverySucceeded, req.Actor, map[string]any{
		"delivery_type": deliveryType,
		"trigger":       req.Trigger,
		"order_status":  status,
		"reference":     deref(outcome.PublicRef),
	})
	effects.Notify(notifications.Event{
		Type:    enums.EventDeliveryCompleted,
		OrderID: order.OrderID,
		Actor:   req.Actor,
		Data: payloads.DeliveryCompletedEvent{
			OrderID:      order.OrderID,
			ProductSlug:  order.ProductSlug,
			DeliveryType: deliveryType,
			Status:       status,
			DeliveredBy:  deliveredBy,
			ContentRef:   outcome.PublicRef,
			DeliveredAt:  now,
		},
		OccurredAt: now,
	})
	d.logg.Info(d.logg.WithField(ctx, "delivery_type", deliveryType), "order delivered")

	return &Result{
		OrderID:       order.OrderID,
		Success:       true,
		Status:        enums.DeliveryStatusDelivered,
		OrderStatus:   status,
		DeliveredData: outcome.ContentRef,
		DeliveredBy:   &deliveredBy,
		DeliveredAt:   &now,
	}, nil
}

func (d *Dispatcher) fail(ctx context.Context, order *models.Order, token string, deliveryType enums.DeliveryType, req Request, cause error, effects *audit.Effects) (*Result, error) {
	message := truncate(cause.Error(), maxErrorMessage)
	d.logg.Error(d.logg.WithField(ctx, "delivery_type", deliveryType), "delivery failed", cause)

	if err := d.orders.FailDelivery(ctx, order.OrderID, token, message, d.now()); err != nil {
		if errors.Is(err, orders.ErrPreconditionFailed) {
			return d.afterLostClaim(ctx, req, effects)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record delivery failure")
	}

	d.metrics.IncDelivery(string(deliveryType), "failed")
	effects.Audit(order.OrderID, enums.AuditDeliveryFailed, req.Actor, map[string]any{
		"delivery_type": deliveryType,
		"trigger":       req.Trigger,
		"error":         message,
	})
	effects.Notify(notifications.Event{
		Type:    enums.EventDeliveryFailed,
		OrderID: order.OrderID,
		Actor:   req.Actor,
		Data: payloads.DeliveryFailedEvent{
			OrderID:      order.OrderID,
			ProductSlug:  order.ProductSlug,
			DeliveryType: deliveryType,
			Reason:       message,
		},
	})

	return &Result{
		OrderID:     order.OrderID,
		Status:      enums.DeliveryStatusFailed,
		OrderStatus: order.Status,
		Message:     message,
	}, nil
}

func (d *Dispatcher) awaitManual(ctx context.Context, order *models.Order, token, note string, req Request, effects *audit.Effects) (*Result, error) {
	if err := d.orders.ReleaseToManual(ctx, order.OrderID, token, note, d.now()); err != nil {
		if errors.Is(err, orders.ErrPreconditionFailed) {
			return d.afterLostClaim(ctx, req, effects)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "park manual delivery")
	}

	d.metrics.IncDelivery(string(enums.DeliveryTypeManual), "awaiting_manual")
	effects.Audit(order.OrderID, enums.AuditDeliveryAwaitManual, req.Actor, map[string]any{"trigger": req.Trigger})
	effects.Notify(notifications.Event{
		Type:    enums.EventDeliveryFailed,
		OrderID: order.OrderID,
		Actor:   req.Actor,
		Data: payloads.DeliveryFailedEvent{
			OrderID:      order.OrderID,
			ProductSlug:  order.ProductSlug,
			DeliveryType: enums.DeliveryTypeManual,
			Reason:       note,
			Manual:       true,
		},
	})
	d.logg.Info(ctx, "delivery awaiting operator")

	return &Result{
		OrderID:     order.OrderID,
		Status:      enums.DeliveryStatusPending,
		OrderStatus: order.Status,
		Message:     note,
	}, nil
}

func (d *Dispatcher) alreadyDelivered(order *models.Order, req Request, effects *audit.Effects) *Result {
	effects.Audit(order.OrderID, enums.AuditDeliveryAlreadyDone, req.Actor, map[string]any{
		"trigger":      req.Trigger,
		"delivered_by": order.Delivery.DeliveredBy,
		"delivered_at": order.Delivery.DeliveredAt,
	})
	result := resultFrom(order, true, "already delivered")
	result.AlreadyDelivered = true
	return result
}

func resultFrom(order *models.Order, success bool, message string) *Result {
	return &Result{
		OrderID:     order.OrderID,
		Success:     success,
		Status:      order.Delivery.Status,
		OrderStatus: order.Status,
		Message:     message,
		DeliveredBy: order.Delivery.DeliveredBy,
		DeliveredAt: order.Delivery.DeliveredAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
