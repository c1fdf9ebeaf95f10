package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	stripeMinSessionTTL   = 30 * time.Minute
	stripeMaxSessionTTL   = 24 * time.Hour
)

// StripeSessionCreator matches the checkout session create call of the Stripe client.
type StripeSessionCreator func(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)

// Stripe opens hosted Checkout Sessions and verifies signed webhook events.
type Stripe struct {
	create        StripeSessionCreator
	signingSecret string
	now           func() time.Time
}

// NewStripe builds the adapter from a session creator, usually
// pkg/stripe's Client.CreateCheckoutSession.
func NewStripe(create StripeSessionCreator, signingSecret string, now func() time.Time) (*Stripe, error) {
	if create == nil {
		return nil, fmt.Errorf("stripe session creator is required")
	}
	if strings.TrimSpace(signingSecret) == "" {
		return nil, fmt.Errorf("stripe signing secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Stripe{create: create, signingSecret: signingSecret, now: now}, nil
}

func (s *Stripe) Name() enums.PaymentProvider { return enums.ProviderStripe }

func (s *Stripe) RequiresSignature() bool { return true }

func (s *Stripe) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	if req.Currency != enums.CurrencyUSD {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("stripe checkout is not enabled for %s", req.Currency))
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(req.ReturnURL),
		CancelURL:         stripe.String(req.ReturnURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(string(req.Currency))),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ProductName),
				},
			},
		}},
		ExpiresAt: stripe.Int64(s.sessionExpiry(req.ExpiresAt).Unix()),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	session, err := s.create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stripe create checkout session failed")
	}
	if session == nil || session.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe returned no checkout session")
	}

	out := &PaymentSession{
		Reference:   session.ID,
		CheckoutURL: stringPtr(session.URL),
	}
	if session.ExpiresAt > 0 {
		at := time.Unix(session.ExpiresAt, 0).UTC()
		out.ExpiresAt = &at
	}
	return out, nil
}

// sessionExpiry clamps the requested expiry into the window Stripe accepts.
func (s *Stripe) sessionExpiry(requested time.Time) time.Time {
	now := s.now()
	earliest := now.Add(stripeMinSessionTTL)
	latest := now.Add(stripeMaxSessionTTL)
	switch {
	case requested.IsZero(), requested.Before(earliest):
		return earliest
	case requested.After(latest):
		return latest
	default:
		return requested
	}
}

func (s *Stripe) VerifyCallback(payload []byte, headers http.Header) bool {
	sig := headers.Get(stripeSignatureHeader)
	if sig == "" {
		return false
	}
	return webhook.ValidatePayload(payload, sig, s.signingSecret) == nil
}

func (s *Stripe) ParseCallback(payload []byte) (*CallbackResult, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedCallback, event.ID)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if session.ID == "" && session.ClientReferenceID == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrMalformedCallback)
	}

	result := &CallbackResult{
		OrderID:     session.ClientReferenceID,
		ProviderRef: session.ID,
		RawStatus:   fmt.Sprintf("%s:%s", event.Type, session.PaymentStatus),
	}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			result.Status = enums.CallbackStatusSuccess
		} else {
			result.Status = enums.CallbackStatusPending
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		result.Status = enums.CallbackStatusSuccess
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		result.Status = enums.CallbackStatusFailed
	case stripe.EventTypeCheckoutSessionExpired:
		result.Status = enums.CallbackStatusExpired
	}
	if session.AmountTotal > 0 {
		result.Amount = int64Ptr(session.AmountTotal)
	}
	return result, nil
}
