// Package enginetest holds fixtures shared by the engine package tests.
package enginetest

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/digistore-backend/internal/payments/providers"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

// Logger discards everything.
func Logger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

// ProductSeed describes a catalog row to seed.
type ProductSeed struct {
	Slug         string
	DeliveryType enums.DeliveryType
	Config       models.ProductDeliveryConfig
	Prices       []models.ProductPrice
}

// SeedProduct inserts an active product and its prices.
func SeedProduct(t testing.TB, db *gorm.DB, row ProductSeed) *models.Product {
	t.Helper()
	if row.DeliveryType == "" {
		row.DeliveryType = enums.DeliveryTypePreloaded
	}
	product := &models.Product{
		ID:             uuid.New(),
		Slug:           row.Slug,
		Name:           row.Slug,
		Active:         true,
		DeliveryType:   row.DeliveryType,
		DeliveryConfig: datatypes.NewJSONType(row.Config),
	}
	require.NoError(t, db.Create(product).Error)
	for i := range row.Prices {
		price := row.Prices[i]
		price.ID = uuid.New()
		price.ProductID = product.ID
		require.NoError(t, db.Create(&price).Error)
		product.Prices = append(product.Prices, price)
	}
	return product
}

// IDRPrice is a plain IDR price row without gateway overrides.
func IDRPrice(selling int64, capital *int64) models.ProductPrice {
	return models.ProductPrice{Currency: enums.CurrencyIDR, SellingPrice: selling, CapitalCost: capital}
}

// SeedOrder inserts an AWAITING_PAYMENT order for the product.
func SeedOrder(t testing.TB, db *gorm.DB, product *models.Product, orderID string, mutate func(*models.Order)) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderID:       orderID,
		ProductID:     product.ID,
		ProductSlug:   product.Slug,
		Currency:      enums.CurrencyIDR,
		Quantity:      1,
		CustomerName:  "Budi",
		CustomerEmail: "budi@example.com",
		Status:        enums.OrderStatusAwaitingPayment,
		Payment:       models.OrderPayment{Status: enums.PaymentStatusAwaitingProof},
		Delivery:      models.OrderDelivery{Type: product.DeliveryType, Status: enums.DeliveryStatusPending},
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if mutate != nil {
		mutate(order)
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

// Reload fetches the current row of an order.
func Reload(t testing.TB, db *gorm.DB, orderID string) *models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, db.Where("order_id = ?", orderID).First(&order).Error)
	return &order
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// FakeAdapter is a scriptable provider adapter.
type FakeAdapter struct {
	Provider     enums.PaymentProvider
	Session      *providers.PaymentSession
	Err          error
	Signature    bool
	VerifyResult bool
	Parsed       *providers.CallbackResult
	ParseErr     error

	mu       sync.Mutex
	requests []providers.PaymentRequest
}

func (f *FakeAdapter) Name() enums.PaymentProvider { return f.Provider }

func (f *FakeAdapter) RequiresSignature() bool { return f.Signature }

func (f *FakeAdapter) CreatePayment(_ context.Context, req providers.PaymentRequest) (*providers.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Session, nil
}

func (f *FakeAdapter) VerifyCallback(_ []byte, _ http.Header) bool { return f.VerifyResult }

func (f *FakeAdapter) ParseCallback(_ []byte) (*providers.CallbackResult, error) {
	if f.ParseErr != nil {
		return nil, f.ParseErr
	}
	copied := *f.Parsed
	return &copied, nil
}

// Requests returns the CreatePayment calls seen so far.
func (f *FakeAdapter) Requests() []providers.PaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providers.PaymentRequest(nil), f.requests...)
}
