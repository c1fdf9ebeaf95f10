package reconciler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/digistore-backend/internal/audit"
	"github.com/angelmondragon/digistore-backend/internal/catalog"
	"github.com/angelmondragon/digistore-backend/internal/delivery"
	"github.com/angelmondragon/digistore-backend/internal/enginetest"
	"github.com/angelmondragon/digistore-backend/internal/inventory"
	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/internal/orders"
	"github.com/angelmondragon/digistore-backend/internal/payments/providers"
	"github.com/angelmondragon/digistore-backend/internal/payments/session"
	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/payloads"
)

const tripayKey = "private-key"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Enqueue(_ context.Context, event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return true
}

func (r *recordingNotifier) ofType(eventType enums.OutboxEventType) []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifications.Event
	for _, event := range r.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type reconcilerFixture struct {
	db       *gorm.DB
	service  *Service
	queue    *delivery.Queue
	midtrans *enginetest.FakeAdapter
	registry *providers.Registry
	sink     *audit.Sink
	notifier *recordingNotifier
	stock    *inventory.Repository
	auditLog audit.Repository
	product  *models.Product
}

func newReconcilerFixture(t *testing.T, sellingPrice int64, tripayURL string) *reconcilerFixture {
	t.Helper()
	db := dbtest.Open(t)
	product := enginetest.SeedProduct(t, db, enginetest.ProductSeed{
		Slug:   "netflix-1m",
		Prices: []models.ProductPrice{enginetest.IDRPrice(sellingPrice, enginetest.Int64(sellingPrice*4/5))},
	})

	if tripayURL == "" {
		tripayURL = "http://127.0.0.1:0"
	}
	tripay, err := providers.NewTripay(config.TripayConfig{
		BaseURL:      tripayURL,
		APIKey:       "api-key",
		PrivateKey:   tripayKey,
		MerchantCode: "T0001",
		Method:       "QRIS",
	}, time.Second)
	require.NoError(t, err)
	midtrans := &enginetest.FakeAdapter{Provider: enums.ProviderMidtrans}
	registry, err := providers.NewRegistry(tripay, midtrans)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	auditRepo := audit.NewRepository(db)
	sink, err := audit.NewSink(auditRepo, notifier, nil)
	require.NoError(t, err)

	stock := inventory.NewRepository(db)
	preloaded, err := delivery.NewPreloadedStrategy(stock, nil)
	require.NoError(t, err)
	dispatcher, err := delivery.NewDispatcher(delivery.DispatcherParams{
		Orders:  orders.NewRepository(db),
		Catalog: catalog.NewRepository(db),
		Strategies: []delivery.Strategy{
			preloaded,
			delivery.NewAPIStrategy(http.DefaultClient, delivery.APIDefaults{MaxAttempts: 3, Backoff: time.Millisecond, Timeout: 2 * time.Second}),
		},
		Sink:   sink,
		Config: delivery.Config{PollInterval: 5 * time.Millisecond},
		Logger: enginetest.Logger(),
	})
	require.NoError(t, err)

	queue, err := delivery.NewQueue(delivery.QueueParams{Dispatcher: dispatcher, Logger: enginetest.Logger()})
	require.NoError(t, err)
	queue.Start(context.Background())
	t.Cleanup(queue.Close)

	f := &reconcilerFixture{
		db:       db,
		queue:    queue,
		midtrans: midtrans,
		registry: registry,
		sink:     sink,
		notifier: notifier,
		stock:    stock,
		auditLog: auditRepo,
		product:  product,
	}
	f.service = f.newService(t, registry)
	return f
}

func (f *reconcilerFixture) newService(t *testing.T, registry *providers.Registry) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Orders:           orders.NewRepository(f.db),
		Adapters:         registry,
		Delivery:         f.queue,
		Sink:             f.sink,
		TolerancePercent: decimal.NewFromInt(1),
		Logger:           enginetest.Logger(),
	})
	require.NoError(t, err)
	return service
}

func (f *reconcilerFixture) awaitDelivery(t *testing.T, orderID string, status enums.DeliveryStatus) *models.Order {
	t.Helper()
	require.Eventually(t, func() bool {
		return enginetest.Reload(t, f.db, orderID).Delivery.Status == status
	}, 3*time.Second, 10*time.Millisecond)
	return enginetest.Reload(t, f.db, orderID)
}

func (f *reconcilerFixture) events(t *testing.T, orderID string) []enums.AuditEvent {
	t.Helper()
	entries, err := f.auditLog.ListByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	out := make([]enums.AuditEvent, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Event)
	}
	return out
}

func (f *reconcilerFixture) usedItems(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.StockItem{}).Where("used = ?", true).Count(&count).Error)
	return count
}

func lastEvent(events []enums.AuditEvent) enums.AuditEvent {
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1]
}

func tripayCallback(orderID, reference, status string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"reference":%q,"merchant_ref":%q,"status":%q,"total_amount":%d}`, reference, orderID, status, amount))
}

func signed(body []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(tripayKey))
	mac.Write(body)
	headers := http.Header{}
	headers.Set("X-Callback-Signature", hex.EncodeToString(mac.Sum(nil)))
	return headers
}

func withSellingPrice(price int64) func(*models.Order) {
	return func(o *models.Order) {
		provider := enums.ProviderTripay
		ref := "T-" + o.OrderID
		o.SellingPrice = price
		o.Status = enums.OrderStatusPending
		o.Payment.Status = enums.PaymentStatusPending
		o.Payment.Provider = &provider
		o.Payment.ProviderRef = &ref
	}
}

func TestCallbackEndToEnd(t *testing.T) {
	tripayAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/create", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"reference":"T-1","checkout_url":"https://tripay.example/T-1","total_fee":1000}}`))
	}))
	defer tripayAPI.Close()

	f := newReconcilerFixture(t, 150000, tripayAPI.URL)
	_, err := f.stock.AddItems(context.Background(), "netflix-1m", []string{"acct-1", "acct-2"})
	require.NoError(t, err)
	enginetest.SeedOrder(t, f.db, f.product, "ORD-1", nil)

	manager, err := session.NewManager(session.ManagerParams{
		Orders:   orders.NewRepository(f.db),
		Catalog:  catalog.NewRepository(f.db),
		Adapters: f.registry,
		Sink:     f.sink,
		Config: session.Config{
			Routes:          map[enums.Currency]session.Route{enums.CurrencyIDR: {Primary: enums.ProviderTripay}},
			PublicBaseURL:   "https://shop.example",
			SessionTTL:      time.Hour,
			ProviderTimeout: time.Second,
		},
		Logger: enginetest.Logger(),
	})
	require.NoError(t, err)

	created, err := manager.CreateSession(context.Background(), "ORD-1", enums.CurrencyIDR)
	require.NoError(t, err)
	assert.Equal(t, enums.ProviderTripay, created.Provider)
	assert.Equal(t, "T-1", created.ProviderRef)
	assert.Equal(t, enums.PaymentStatusPending, enginetest.Reload(t, f.db, "ORD-1").Payment.Status)

	body := tripayCallback("ORD-1", "T-1", "PAID", 150000)
	ack, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, ack.Outcome)
	assert.Equal(t, enums.OrderStatusProcess, ack.OrderStatus)
	assert.Equal(t, enums.DeliveryStatusPending, ack.DeliveryStatus)

	order := f.awaitDelivery(t, "ORD-1", enums.DeliveryStatusDelivered)
	// the dispatcher flushes its audit entry just after the row commits
	require.Eventually(t, func() bool {
		return lastEvent(f.events(t, "ORD-1")) == enums.AuditDeliverySucceeded
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, enums.OrderStatusSuccess, order.Status)
	assert.Equal(t, enums.PaymentStatusSuccess, order.Payment.Status)
	assert.Equal(t, enums.DeliveryStatusDelivered, order.Delivery.Status)
	require.NotNil(t, order.FinalProfit)
	assert.Equal(t, int64(30000), *order.FinalProfit)
	require.NotNil(t, order.Margin)
	assert.True(t, order.Margin.Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, int64(1), f.usedItems(t))

	replay, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, replay.Outcome)
	assert.Equal(t, enums.OrderStatusSuccess, replay.OrderStatus)

	again := enginetest.Reload(t, f.db, "ORD-1")
	assert.Equal(t, order.Status, again.Status)
	assert.Equal(t, order.Version, again.Version)
	assert.Equal(t, order.Delivery.DeliveredAt, again.Delivery.DeliveredAt)
	assert.Equal(t, order.Payment.PaidAt, again.Payment.PaidAt)
	assert.Equal(t, int64(1), f.usedItems(t))

	assert.Equal(t, []enums.AuditEvent{
		enums.AuditPaymentCreated,
		enums.AuditCallbackReceived,
		enums.AuditPaymentSucceeded,
		enums.AuditDeliverySucceeded,
		enums.AuditCallbackDuplicate,
	}, f.events(t, "ORD-1"))
}

func TestCallbackAmountTolerance(t *testing.T) {
	cases := []struct {
		name     string
		received int64
		status   enums.OrderStatus
		outcome  Outcome
	}{
		{name: "exact", received: 100000, status: enums.OrderStatusProcess, outcome: OutcomePaid},
		{name: "one percent under", received: 99000, status: enums.OrderStatusProcess, outcome: OutcomePaid},
		{name: "one percent over", received: 101000, status: enums.OrderStatusProcess, outcome: OutcomePaid},
		{name: "two percent under", received: 98000, status: enums.OrderStatusDiscrepancy, outcome: OutcomeDiscrepancy},
		{name: "just past the band", received: 98999, status: enums.OrderStatusDiscrepancy, outcome: OutcomeDiscrepancy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newReconcilerFixture(t, 100000, "")
			enginetest.SeedOrder(t, f.db, f.product, "ORD-T", withSellingPrice(100000))

			body := tripayCallback("ORD-T", "T-ORD-T", "PAID", tc.received)
			ack, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, ack.Outcome)

			order := enginetest.Reload(t, f.db, "ORD-T")
			if tc.outcome == OutcomePaid {
				// no stock is loaded, so a paid order stays in PROCESS with a failed delivery
				order = f.awaitDelivery(t, "ORD-T", enums.DeliveryStatusFailed)
			}
			assert.Equal(t, tc.status, order.Status)
			if tc.outcome == OutcomeDiscrepancy {
				assert.Equal(t, enums.PaymentStatusDiscrepancy, order.Payment.Status)
				require.NotNil(t, order.Discrepancy.ReceivedAmount)
				assert.Equal(t, tc.received, *order.Discrepancy.ReceivedAmount)
				assert.Equal(t, int64(100000), *order.Discrepancy.ExpectedAmount)
				assert.NotEmpty(t, order.Discrepancy.RawPayload)
				assert.Equal(t, enums.DeliveryStatusPending, order.Delivery.Status)
			} else {
				assert.Equal(t, enums.PaymentStatusSuccess, order.Payment.Status)
			}
		})
	}
}

func TestCallbackRejectsInvalidSignature(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")
	enginetest.SeedOrder(t, f.db, f.product, "ORD-S", withSellingPrice(150000))

	body := tripayCallback("ORD-S", "T-ORD-S", "PAID", 150000)
	headers := http.Header{}
	headers.Set("X-Callback-Signature", "deadbeef")

	_, err := f.service.HandleCallback(context.Background(), "tripay", body, headers)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeSignatureInvalid, pkgerrors.As(err).Code())

	order := enginetest.Reload(t, f.db, "ORD-S")
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Empty(t, f.events(t, "ORD-S"))
}

func TestCallbackAdvisorySignatureIsAudited(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")
	enginetest.SeedOrder(t, f.db, f.product, "ORD-M", nil)
	f.midtrans.Parsed = &providers.CallbackResult{OrderID: "ORD-M", Status: enums.CallbackStatusPending, RawStatus: "pending"}

	ack, err := f.service.HandleCallback(context.Background(), "midtrans", []byte(`{"order_id":"ORD-M"}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, ack.Outcome)
	assert.Equal(t, enums.OrderStatusPending, ack.OrderStatus)

	assert.Equal(t, []enums.AuditEvent{enums.AuditSignatureUnverified, enums.AuditCallbackReceived}, f.events(t, "ORD-M"))
}

func TestCallbackFailureMarksOrderFailed(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")
	enginetest.SeedOrder(t, f.db, f.product, "ORD-F", withSellingPrice(150000))

	body := tripayCallback("ORD-F", "T-ORD-F", "EXPIRED", 150000)
	ack, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, ack.Outcome)

	order := enginetest.Reload(t, f.db, "ORD-F")
	assert.Equal(t, enums.OrderStatusFailed, order.Status)
	assert.Equal(t, enums.PaymentStatusFailed, order.Payment.Status)
	assert.Contains(t, f.events(t, "ORD-F"), enums.AuditPaymentFailed)
}

func TestCallbackResolvesOrderByProviderReference(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")
	enginetest.SeedOrder(t, f.db, f.product, "ORD-R", withSellingPrice(150000))

	body := tripayCallback("", "T-ORD-R", "UNPAID", 150000)
	ack, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	require.NoError(t, err)
	assert.Equal(t, "ORD-R", ack.OrderID)
	assert.Equal(t, OutcomePending, ack.Outcome)
}

func TestCallbackLookupErrors(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")

	body := tripayCallback("ORD-404", "T-404", "PAID", 150000)
	_, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeOrderNotFound, pkgerrors.As(err).Code())

	_, err = f.service.HandleCallback(context.Background(), "paypal", body, http.Header{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeProviderNotFound, pkgerrors.As(err).Code())

	_, err = f.service.HandleCallback(context.Background(), "square", body, http.Header{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeProviderNotFound, pkgerrors.As(err).Code(), "known but unconfigured provider")

	garbage := []byte(`not json`)
	_, err = f.service.HandleCallback(context.Background(), "tripay", garbage, signed(garbage))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestCallbackIgnoredEvent(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")
	f.midtrans.ParseErr = providers.ErrIgnoredEvent

	ack, err := f.service.HandleCallback(context.Background(), "midtrans", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, ack.Outcome)
}

func TestCallbackAfterRejectionIsIgnored(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")
	enginetest.SeedOrder(t, f.db, f.product, "ORD-X", func(o *models.Order) {
		withSellingPrice(150000)(o)
		o.Status = enums.OrderStatusRejected
	})

	body := tripayCallback("ORD-X", "T-ORD-X", "PAID", 150000)
	ack, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, ack.Outcome)
	assert.Equal(t, enums.OrderStatusRejected, enginetest.Reload(t, f.db, "ORD-X").Status)
	assert.Equal(t, []enums.AuditEvent{enums.AuditCallbackReceived, enums.AuditCallbackIgnored}, f.events(t, "ORD-X"))
}

func TestDuplicateCallbackResumesUnstartedDelivery(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")
	_, err := f.stock.AddItems(context.Background(), "netflix-1m", []string{"acct-1"})
	require.NoError(t, err)
	enginetest.SeedOrder(t, f.db, f.product, "ORD-C", func(o *models.Order) {
		withSellingPrice(150000)(o)
		o.Status = enums.OrderStatusProcess
		o.Payment.Status = enums.PaymentStatusSuccess
		o.Locked = true
	})

	body := tripayCallback("ORD-C", "T-ORD-C", "PAID", 150000)
	ack, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, ack.Outcome)
	assert.Equal(t, enums.DeliveryStatusPending, ack.DeliveryStatus)

	order := f.awaitDelivery(t, "ORD-C", enums.DeliveryStatusDelivered)
	assert.Equal(t, enums.OrderStatusSuccess, order.Status)
	assert.Equal(t, int64(1), f.usedItems(t))
}

func TestCallbackReturnsBeforeSlowAPIDelivery(t *testing.T) {
	var hits atomic.Int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"voucher":"V-9"}`))
	}))
	defer endpoint.Close()

	f := newReconcilerFixture(t, 150000, "")
	product := enginetest.SeedProduct(t, f.db, enginetest.ProductSeed{
		Slug:         "game-voucher",
		DeliveryType: enums.DeliveryTypeAPI,
		Prices:       []models.ProductPrice{enginetest.IDRPrice(150000, enginetest.Int64(120000))},
		Config:       models.ProductDeliveryConfig{API: &models.APIDeliveryConfig{URL: endpoint.URL, BackoffMS: 1}},
	})
	enginetest.SeedOrder(t, f.db, product, "ORD-API", withSellingPrice(150000))

	body := tripayCallback("ORD-API", "T-ORD-API", "PAID", 150000)
	started := time.Now()
	ack, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	elapsed := time.Since(started)
	require.NoError(t, err)

	assert.Less(t, elapsed, 250*time.Millisecond, "callback must not wait on the fulfilment endpoint")
	assert.Equal(t, OutcomePaid, ack.Outcome)
	assert.Equal(t, enums.OrderStatusProcess, ack.OrderStatus)

	order := f.awaitDelivery(t, "ORD-API", enums.DeliveryStatusDelivered)
	assert.Equal(t, enums.OrderStatusSuccess, order.Status)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCallbackForgedMidtransSignatureIsRejected(t *testing.T) {
	const serverKey = "server-key"
	f := newReconcilerFixture(t, 150000, "")
	midtrans, err := providers.NewMidtrans(config.MidtransConfig{BaseURL: "http://127.0.0.1:0", ServerKey: serverKey}, time.Second)
	require.NoError(t, err)
	registry, err := providers.NewRegistry(midtrans)
	require.NoError(t, err)
	service := f.newService(t, registry)
	enginetest.SeedOrder(t, f.db, f.product, "ORD-MF", withSellingPrice(150000))

	forged := []byte(`{"order_id":"ORD-MF","transaction_id":"tx-1","status_code":"200","gross_amount":"150000.00",` +
		`"signature_key":"deadbeef","transaction_status":"settlement","fraud_status":"accept"}`)
	_, err = service.HandleCallback(context.Background(), "midtrans", forged, http.Header{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeSignatureInvalid, pkgerrors.As(err).Code())
	assert.Equal(t, http.StatusUnauthorized, pkgerrors.MetadataFor(pkgerrors.As(err).Code()).HTTPStatus)

	order := enginetest.Reload(t, f.db, "ORD-MF")
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusPending, order.Payment.Status)
	assert.Empty(t, f.events(t, "ORD-MF"))

	sum := sha512.Sum512([]byte("ORD-MF" + "200" + "150000.00" + serverKey))
	genuine := []byte(fmt.Sprintf(`{"order_id":"ORD-MF","transaction_id":"tx-1","status_code":"200","gross_amount":"150000.00",`+
		`"signature_key":%q,"transaction_status":"settlement","fraud_status":"accept"}`, hex.EncodeToString(sum[:])))
	ack, err := service.HandleCallback(context.Background(), "midtrans", genuine, http.Header{})
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, ack.Outcome)
	assert.NotContains(t, f.events(t, "ORD-MF"), enums.AuditSignatureUnverified)
}

func TestCallbackPaidAfterExpiryRaisesAlert(t *testing.T) {
	f := newReconcilerFixture(t, 150000, "")
	enginetest.SeedOrder(t, f.db, f.product, "ORD-E", func(o *models.Order) {
		withSellingPrice(150000)(o)
		o.Status = enums.OrderStatusFailed
		o.Payment.Status = enums.PaymentStatusFailed
	})

	body := tripayCallback("ORD-E", "T-ORD-E", "PAID", 150000)
	ack, err := f.service.HandleCallback(context.Background(), "tripay", body, signed(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, ack.Outcome)
	assert.Equal(t, enums.OrderStatusFailed, enginetest.Reload(t, f.db, "ORD-E").Status)

	alerts := f.notifier.ofType(enums.EventDiscrepancyDetected)
	require.Len(t, alerts, 1)
	assert.Equal(t, "ORD-E", alerts[0].OrderID)
	data, ok := alerts[0].Data.(payloads.DiscrepancyDetectedEvent)
	require.True(t, ok)
	assert.Equal(t, "payment received after order closed", data.Reason)
	assert.Equal(t, enums.OrderStatusFailed, data.OrderStatus)
	require.NotNil(t, data.ReceivedAmount)
	assert.Equal(t, int64(150000), *data.ReceivedAmount)

	// a failure callback for the closed order is not money and raises nothing
	failed := tripayCallback("ORD-E", "T-ORD-E", "FAILED", 150000)
	_, err = f.service.HandleCallback(context.Background(), "tripay", failed, signed(failed))
	require.NoError(t, err)
	assert.Len(t, f.notifier.ofType(enums.EventDiscrepancyDetected), 1)
}
