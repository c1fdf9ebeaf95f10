package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/square"
)

const testSquareNotificationURL = "https://api.example.com/api/v1/webhooks/square"

type fakeSquareLinks struct {
	params []square.PaymentLinkParams
	link   *square.PaymentLink
	err    error
}

func (f *fakeSquareLinks) CreatePaymentLink(_ context.Context, params square.PaymentLinkParams) (*square.PaymentLink, error) {
	f.params = append(f.params, params)
	return f.link, f.err
}

func squareSignature(key, url string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(url))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSquareCreatePayment(t *testing.T) {
	links := &fakeSquareLinks{link: &square.PaymentLink{ID: "PL1", URL: "https://square.link/u/abc", OrderID: "SQ-ORDER-1"}}
	adapter, err := NewSquare(links, "sig-key", testSquareNotificationURL)
	require.NoError(t, err)

	session, err := adapter.CreatePayment(context.Background(), PaymentRequest{
		OrderID:     "ORD-7",
		ProductName: "Duolingo Super",
		Amount:      899,
		Currency:    enums.CurrencyUSD,
	})
	require.NoError(t, err)
	require.Len(t, links.params, 1)
	assert.Equal(t, "ORD-7", links.params[0].OrderID)
	assert.Equal(t, int64(899), links.params[0].AmountMinor)
	assert.Equal(t, "order-ORD-7", links.params[0].IdempotencyKey)

	assert.Equal(t, "SQ-ORDER-1", session.Reference)
	require.NotNil(t, session.CheckoutURL)
	assert.Equal(t, "https://square.link/u/abc", *session.CheckoutURL)
}

func TestSquareVerifyCallback(t *testing.T) {
	adapter, err := NewSquare(&fakeSquareLinks{}, "sig-key", testSquareNotificationURL)
	require.NoError(t, err)

	body := []byte(`{"type":"payment.updated"}`)
	headers := http.Header{}
	headers.Set("x-square-hmacsha256-signature", squareSignature("sig-key", testSquareNotificationURL, body))
	assert.True(t, adapter.VerifyCallback(body, headers))

	headers.Set("x-square-hmacsha256-signature", squareSignature("sig-key", "https://other.example.com/hook", body))
	assert.False(t, adapter.VerifyCallback(body, headers))
}

func TestSquareParseCallback(t *testing.T) {
	adapter, err := NewSquare(&fakeSquareLinks{}, "sig-key", testSquareNotificationURL)
	require.NoError(t, err)

	cases := []struct {
		raw  string
		want enums.CallbackStatus
	}{
		{"APPROVED", enums.CallbackStatusPending},
		{"PENDING", enums.CallbackStatusPending},
		{"COMPLETED", enums.CallbackStatusSuccess},
		{"CANCELED", enums.CallbackStatusCancelled},
		{"FAILED", enums.CallbackStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			body := []byte(`{"type":"payment.updated","data":{"id":"PAY1","object":{"payment":{"id":"PAY1","order_id":"SQ-ORDER-1","note":"ORD-7","status":"` + tc.raw + `","amount_money":{"amount":899,"currency":"USD"}}}}}`)
			result, err := adapter.ParseCallback(body)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Status)
			assert.Equal(t, "ORD-7", result.OrderID)
			assert.Equal(t, "SQ-ORDER-1", result.ProviderRef)
			require.NotNil(t, result.Amount)
			assert.Equal(t, int64(899), *result.Amount)
		})
	}

	_, err = adapter.ParseCallback([]byte(`{"type":"customer.created","data":{}}`))
	require.ErrorIs(t, err, ErrIgnoredEvent)

	_, err = adapter.ParseCallback([]byte(`{"type":"payment.created","data":{"object":{}}}`))
	require.ErrorIs(t, err, ErrMalformedCallback)
}
