package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/digistore-backend/internal/audit"
	"github.com/angelmondragon/digistore-backend/internal/catalog"
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

type productReader interface {
	GetProductBySlug(ctx context.Context, slug string) (*models.Product, error)
}

type adapterResolver interface {
	Resolve(name enums.PaymentProvider) (providers.Adapter, bool)
}

type effectsSink interface {
	Flush(ctx context.Context, effects *audit.Effects)
}

// Result is what the checkout collaborator renders to the buyer.
type Result struct {
	OrderID     string                `json:"order_id"`
	Provider    enums.PaymentProvider `json:"provider"`
	ProviderRef string                `json:"provider_ref"`
	Amount      int64                 `json:"amount"`
	Currency    enums.Currency        `json:"currency"`
	CheckoutURL *string               `json:"checkout_url,omitempty"`
	QRPayload   *string               `json:"qr_payload,omitempty"`
	Fee         *int64                `json:"fee,omitempty"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
	Reused      bool                  `json:"reused"`
}

// ManagerParams wires the session manager.
type ManagerParams struct {
	Orders   orders.Repository
	Catalog  productReader
	Adapters adapterResolver
	Sink     effectsSink
	Config   Config
	Logger   *logger.Logger
	Metrics  *metrics.EngineMetrics
	Now      func() time.Time
}

// Manager opens provider payment sessions for orders.
type Manager struct {
	orders   orders.Repository
	catalog  productReader
	adapters adapterResolver
	sink     effectsSink
	cfg      Config
	logg     *logger.Logger
	metrics  *metrics.EngineMetrics
	now      func() time.Time
}

// NewManager validates params.
func NewManager(p ManagerParams) (*Manager, error) {
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if p.Adapters == nil {
		return nil, fmt.Errorf("provider registry required")
	}
	if p.Sink == nil {
		return nil, fmt.Errorf("audit sink required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(p.Config.Routes) == 0 {
		return nil, fmt.Errorf("at least one gateway route required")
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		orders:   p.Orders,
		catalog:  p.Catalog,
		adapters: p.Adapters,
		sink:     p.Sink,
		cfg:      p.Config,
		logg:     p.Logger,
		metrics:  p.Metrics,
		now:      now,
	}, nil
}

// CreateSession opens a payment session for the order, or returns the one
// already attached. The primary gateway is called once; the backup is
// called once more only if the primary failed.
func (m *Manager) CreateSession(ctx context.Context, orderID string, currency enums.Currency) (*Result, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = m.logg.WithFields(ctx, map[string]any{"order_id": orderID, "trigger": "create_session"})

	order, err := m.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}

	if !eligible(order) {
		return nil, pkgerrors.New(pkgerrors.CodeNotEligible, "order is not eligible for a new payment session").
			WithDetails(map[string]any{"status": order.Status, "locked": order.Locked})
	}
	if order.Payment.ProviderRef != nil {
		return existingResult(order), nil
	}

	if currency == "" {
		currency = order.Currency
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}

	product, err := m.catalog.GetProductBySlug(ctx, order.ProductSlug)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodePriceNotFound, "product is not available")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}
	price, ok := product.PriceFor(order.PlanID, currency)
	if !ok || price.SellingPrice <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodePriceNotFound, fmt.Sprintf("no %s price for plan", currency))
	}

	quantity := int64(order.Quantity)
	if quantity <= 0 {
		quantity = 1
	}
	sellingPrice := price.SellingPrice * quantity
	var capitalCost *int64
	if price.CapitalCost != nil {
		total := *price.CapitalCost * quantity
		capitalCost = &total
	}

	route, err := m.route(currency, price)
	if err != nil {
		return nil, err
	}

	now := m.now()
	req := providers.PaymentRequest{
		OrderID:       order.OrderID,
		ProductName:   product.Name,
		Quantity:      int(quantity),
		Amount:        sellingPrice,
		Currency:      currency,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		ReturnURL:     m.cfg.returnURLFor(order.OrderID),
	}
	if m.cfg.SessionTTL > 0 {
		req.ExpiresAt = now.Add(m.cfg.SessionTTL)
	}

	effects := &audit.Effects{}
	defer m.sink.Flush(ctx, effects)

	provider, session, err := m.createWithFailover(ctx, route, req)
	if err != nil {
		effects.Audit(order.OrderID, enums.AuditPaymentCreateFailed, enums.ActorSystem, map[string]any{
			"primary": route.Primary,
			"backup":  route.Backup,
			"error":   err.Error(),
		})
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentCreateFailed, err, "payment session could not be created")
	}
	failedOver := provider != route.Primary

	expiresAt := session.ExpiresAt
	if expiresAt == nil && !req.ExpiresAt.IsZero() {
		at := req.ExpiresAt
		expiresAt = &at
	}
	result := &Result{
		OrderID:     order.OrderID,
		Provider:    provider,
		ProviderRef: session.Reference,
		Amount:      sellingPrice,
		Currency:    currency,
		CheckoutURL: session.CheckoutURL,
		QRPayload:   session.QRPayload,
		Fee:         session.Fee,
		ExpiresAt:   expiresAt,
	}

	err = m.orders.AttachSession(ctx, order.OrderID, orders.SessionUpdate{
		Provider:     provider,
		ProviderRef:  session.Reference,
		Currency:     currency,
		Amount:       sellingPrice,
		Fee:          session.Fee,
		CheckoutURL:  session.CheckoutURL,
		QRPayload:    session.QRPayload,
		ExpiresAt:    expiresAt,
		SellingPrice: sellingPrice,
		CapitalCost:  capitalCost,
		DeliveryType: product.DeliveryType,
		InitiatedAt:  now,
	})
	if errors.Is(err, orders.ErrPreconditionFailed) {
		return m.afterLostAttach(ctx, order.OrderID, provider, session.Reference)
	}
	if err != nil {
		// The provider already holds a live session; the webhook path reconciles it.
		m.logg.Error(m.logg.WithField(ctx, "provider", provider), "payment session persist failed", err)
		effects.Audit(order.OrderID, enums.AuditSessionPersistFailed, enums.ActorSystem, map[string]any{
			"provider":     provider,
			"provider_ref": session.Reference,
			"error":        err.Error(),
		})
		return result, nil
	}

	effects.Audit(order.OrderID, enums.AuditPaymentCreated, enums.ActorSystem, map[string]any{
		"provider":     provider,
		"provider_ref": session.Reference,
		"amount":       sellingPrice,
		"currency":     currency,
		"failed_over":  failedOver,
		"expires_at":   expiresAt,
	})
	effects.Notify(notifications.Event{
		Type:    enums.EventPaymentCreated,
		OrderID: order.OrderID,
		Actor:   enums.ActorSystem,
		Data: payloads.PaymentCreatedEvent{
			OrderID:     order.OrderID,
			Provider:    provider,
			ProviderRef: session.Reference,
			Amount:      sellingPrice,
			Currency:    currency,
			CheckoutURL: session.CheckoutURL,
			ExpiresAt:   expiresAt,
			FailedOver:  failedOver,
		},
		OccurredAt: now,
	})
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{"provider": provider, "failed_over": failedOver}), "payment session created")
	return result, nil
}

func (m *Manager) route(currency enums.Currency, price *models.ProductPrice) (Route, error) {
	route := m.cfg.Routes[currency]
	if price.Gateway != nil && *price.Gateway != "" {
		route.Primary = *price.Gateway
	}
	if price.BackupGateway != nil && *price.BackupGateway != "" {
		route.Backup = *price.BackupGateway
	}
	if route.Primary == "" {
		return Route{}, pkgerrors.New(pkgerrors.CodeProviderNotFound, fmt.Sprintf("no gateway configured for %s", currency))
	}
	if route.Backup == route.Primary {
		route.Backup = ""
	}
	return route, nil
}

// createWithFailover calls the primary, then the backup. Calls are strictly
// sequential so a slow primary can never race the backup into two live sessions.
func (m *Manager) createWithFailover(ctx context.Context, route Route, req providers.PaymentRequest) (enums.PaymentProvider, *providers.PaymentSession, error) {
	session, primaryErr := m.callProvider(ctx, route.Primary, req)
	if primaryErr == nil {
		return route.Primary, session, nil
	}
	m.logg.Warn(m.logg.WithFields(ctx, map[string]any{
		"provider": route.Primary,
		"error":    primaryErr.Error(),
	}), "primary gateway failed")
	if route.Backup == "" {
		return "", nil, primaryErr
	}

	m.metrics.IncFailover(string(route.Primary), string(route.Backup))
	session, backupErr := m.callProvider(ctx, route.Backup, req)
	if backupErr == nil {
		return route.Backup, session, nil
	}
	return "", nil, multierr.Combine(
		fmt.Errorf("%s: %w", route.Primary, primaryErr),
		fmt.Errorf("%s: %w", route.Backup, backupErr),
	)
}

func (m *Manager) callProvider(ctx context.Context, name enums.PaymentProvider, req providers.PaymentRequest) (*providers.PaymentSession, error) {
	adapter, ok := m.adapters.Resolve(name)
	if !ok {
		m.metrics.IncSession(string(name), "unconfigured")
		return nil, fmt.Errorf("provider %s is not configured", name)
	}
	req.CallbackURL = m.cfg.CallbackURL(name)

	callCtx := ctx
	if m.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.cfg.ProviderTimeout)
		defer cancel()
	}
	session, err := adapter.CreatePayment(callCtx, req)
	if err == nil && (session == nil || session.Reference == "") {
		err = fmt.Errorf("provider %s returned an empty session", name)
	}
	if err != nil {
		m.metrics.IncSession(string(name), "failed")
		return nil, err
	}
	m.metrics.IncSession(string(name), "created")
	return session, nil
}

// afterLostAttach handles an attach that matched no row: a concurrent request
// stored its session first, or the order left the unpaid states. The session
// just opened at the gateway is abandoned and expires there.
func (m *Manager) afterLostAttach(ctx context.Context, orderID string, provider enums.PaymentProvider, discardedRef string) (*Result, error) {
	ctx = m.logg.WithFields(ctx, map[string]any{"provider": provider, "discarded_ref": discardedRef})
	fresh, err := m.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
	}
	if fresh.Payment.ProviderRef != nil && eligible(fresh) {
		m.logg.Warn(ctx, "concurrent payment session stored first, returning it")
		return existingResult(fresh), nil
	}
	m.logg.Warn(m.logg.WithField(ctx, "status", fresh.Status), "order changed while creating payment session")
	return nil, pkgerrors.New(pkgerrors.CodeNotEligible, "order is not eligible for a new payment session").
		WithDetails(map[string]any{"status": fresh.Status, "locked": fresh.Locked})
}

func eligible(order *models.Order) bool {
	return !order.Locked && order.Status.IsUnpaid() && !order.Payment.Status.IsSettled()
}

func existingResult(order *models.Order) *Result {
	result := &Result{
		OrderID:     order.OrderID,
		ProviderRef: *order.Payment.ProviderRef,
		Amount:      order.ExpectedAmount(),
		Currency:    order.Currency,
		CheckoutURL: order.Payment.CheckoutURL,
		QRPayload:   order.Payment.QRPayload,
		Fee:         order.Payment.Fee,
		ExpiresAt:   order.Payment.ExpiresAt,
		Reused:      true,
	}
	if order.Payment.Provider != nil {
		result.Provider = *order.Payment.Provider
	}
	return result
}
