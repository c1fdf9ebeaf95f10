package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

var (
	// ErrMalformedCallback marks a callback body that cannot be parsed.
	ErrMalformedCallback = errors.New("malformed callback payload")
	// ErrIgnoredEvent marks a well-formed callback that carries no payment
	// status, such as an unrelated event type on a shared endpoint.
	ErrIgnoredEvent = errors.New("callback event ignored")
)

// PaymentRequest is the provider neutral input of CreatePayment.
type PaymentRequest struct {
	OrderID       string
	ProductName   string
	Quantity      int
	Amount        int64
	Currency      enums.Currency
	CustomerName  string
	CustomerEmail string
	CallbackURL   string
	ReturnURL     string
	ExpiresAt     time.Time
}

// PaymentSession is what a provider returns for a created payment.
type PaymentSession struct {
	Reference   string
	CheckoutURL *string
	QRPayload   *string
	Fee         *int64
	ExpiresAt   *time.Time
}

// CallbackResult is a provider callback translated into engine terms.
// Either OrderID or ProviderRef is set; Amount is nil when the provider
// did not report one.
type CallbackResult struct {
	OrderID     string
	ProviderRef string
	Status      enums.CallbackStatus
	RawStatus   string
	Amount      *int64
}

// Adapter is implemented once per payment provider.
type Adapter interface {
	Name() enums.PaymentProvider
	// RequiresSignature reports whether a failed VerifyCallback must reject
	// the callback. Providers without an enforced scheme only log the failure.
	RequiresSignature() bool
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error)
	VerifyCallback(payload []byte, headers http.Header) bool
	ParseCallback(payload []byte) (*CallbackResult, error)
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}
