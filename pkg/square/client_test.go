package square

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"
	sqcore "github.com/square/square-go-sdk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
)

func validConfig() config.SquareConfig {
	return config.SquareConfig{
		AccessToken:  "EAAA-token",
		SignatureKey: "sig-key",
		LocationID:   "LOC-1",
	}
}

func TestNewClientDefaultsToSandbox(t *testing.T) {
	c, err := NewClient(context.Background(), validConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "sandbox", c.Environment())
	assert.Equal(t, "sig-key", c.SignatureKey())
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "staging"
	_, err := NewClient(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "sandbox or production")

	cfg = validConfig()
	cfg.LocationID = " "
	_, err = NewClient(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "location id")
}

func TestCreatePaymentLink(t *testing.T) {
	linkID, url, orderID := "PL1", "https://square.link/u/abc", "SQ-ORDER-1"
	var got *sqcheckout.CreatePaymentLinkRequest
	c := &Client{
		locationID: "LOC-1",
		createLink: func(_ context.Context, req *sqcheckout.CreatePaymentLinkRequest) (*sq.CreatePaymentLinkResponse, error) {
			got = req
			return &sq.CreatePaymentLinkResponse{
				PaymentLink: &sq.PaymentLink{ID: &linkID, URL: &url, OrderID: &orderID},
			}, nil
		},
	}

	link, err := c.CreatePaymentLink(context.Background(), PaymentLinkParams{OrderID: "ORD-1", Name: "Netflix", AmountMinor: 500})
	require.NoError(t, err)
	assert.Equal(t, &PaymentLink{ID: "PL1", URL: url, OrderID: "SQ-ORDER-1"}, link)
	require.NotNil(t, got.IdempotencyKey)
	assert.True(t, strings.HasPrefix(*got.IdempotencyKey, "link-"))
}

func TestCreatePaymentLinkMapsFailures(t *testing.T) {
	c := &Client{createLink: func(context.Context, *sqcheckout.CreatePaymentLinkRequest) (*sq.CreatePaymentLinkResponse, error) {
		return nil, sqcore.NewAPIError(http.StatusTooManyRequests, errors.New(`{"errors":[]}`))
	}}
	_, err := c.CreatePaymentLink(context.Background(), PaymentLinkParams{OrderID: "ORD-1", IdempotencyKey: "k"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeRateLimit, pkgerrors.As(err).Code())

	c.createLink = func(context.Context, *sqcheckout.CreatePaymentLinkRequest) (*sq.CreatePaymentLinkResponse, error) {
		return &sq.CreatePaymentLinkResponse{}, nil
	}
	_, err = c.CreatePaymentLink(context.Background(), PaymentLinkParams{OrderID: "ORD-1"})
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	var nilClient *Client
	_, err = nilClient.CreatePaymentLink(context.Background(), PaymentLinkParams{})
	assert.ErrorIs(t, err, errNotInitialized)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		expect pkgerrors.Code
	}{
		{"auth category", sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`)), pkgerrors.CodeUnauthorized},
		{"reused key", sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`)), pkgerrors.CodeIdempotency},
		{"not found", sqcore.NewAPIError(http.StatusNotFound, errors.New("not json")), pkgerrors.CodeNotFound},
		{"unprocessable", sqcore.NewAPIError(http.StatusUnprocessableEntity, errors.New("{}")), pkgerrors.CodeStateConflict},
		{"other 4xx", sqcore.NewAPIError(http.StatusPaymentRequired, errors.New("{}")), pkgerrors.CodeValidation},
		{"server", sqcore.NewAPIError(http.StatusBadGateway, errors.New("{}")), pkgerrors.CodeDependency},
		{"transport", errors.New("dial tcp: refused"), pkgerrors.CodeDependency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			typed := pkgerrors.As(mapError(tc.err, "op"))
			require.NotNil(t, typed)
			assert.Equal(t, tc.expect, typed.Code())
		})
	}
}

func TestPaymentLinkRequest(t *testing.T) {
	params := PaymentLinkParams{
		OrderID:     "ORD-9",
		Name:        "Netflix 1 Month",
		AmountMinor: 1299,
		Currency:    "usd",
		BuyerEmail:  "buyer@example.com",
		RedirectURL: "https://shop.example.com/orders/ORD-9",
	}
	req := params.request("LOC-1", "link-key")

	assert.Equal(t, "link-key", *req.IdempotencyKey)
	assert.Equal(t, "ORD-9", *req.PaymentNote)
	require.NotNil(t, req.QuickPay)
	assert.Equal(t, "LOC-1", req.QuickPay.LocationID)
	assert.Equal(t, int64(1299), *req.QuickPay.PriceMoney.Amount)
	assert.Equal(t, sq.Currency("USD"), *req.QuickPay.PriceMoney.Currency)
	assert.Equal(t, params.RedirectURL, *req.CheckoutOptions.RedirectURL)
	assert.Equal(t, params.BuyerEmail, *req.PrePopulatedData.BuyerEmail)

	bare := PaymentLinkParams{Name: "x", AmountMinor: 1}.request("LOC-1", "k")
	assert.Nil(t, bare.CheckoutOptions)
	assert.Nil(t, bare.PrePopulatedData)
	assert.Nil(t, bare.PaymentNote)
	assert.Equal(t, sq.Currency(defaultCurrency), *bare.QuickPay.PriceMoney.Currency)
}
