package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/square"
)

const squareSignatureHeader = "X-Square-Hmacsha256-Signature"

type squareLinkCreator interface {
	CreatePaymentLink(ctx context.Context, params square.PaymentLinkParams) (*square.PaymentLink, error)
}

// Square opens quick pay Payment Links. The Square order behind the link
// is the provider reference because payment webhooks only carry that id.
type Square struct {
	links           squareLinkCreator
	signatureKey    string
	notificationURL string
}

// NewSquare builds the adapter. notificationURL must be the exact URL
// registered on the webhook subscription because it is part of the signature.
func NewSquare(links squareLinkCreator, signatureKey, notificationURL string) (*Square, error) {
	if links == nil {
		return nil, fmt.Errorf("square link client is required")
	}
	if strings.TrimSpace(signatureKey) == "" {
		return nil, fmt.Errorf("square signature key is required")
	}
	if strings.TrimSpace(notificationURL) == "" {
		return nil, fmt.Errorf("square notification url is required")
	}
	return &Square{links: links, signatureKey: signatureKey, notificationURL: notificationURL}, nil
}

func (s *Square) Name() enums.PaymentProvider { return enums.ProviderSquare }

func (s *Square) RequiresSignature() bool { return true }

func (s *Square) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	if req.Currency != enums.CurrencyUSD {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("square checkout is not enabled for %s", req.Currency))
	}
	link, err := s.links.CreatePaymentLink(ctx, square.PaymentLinkParams{
		OrderID:        req.OrderID,
		Name:           req.ProductName,
		AmountMinor:    req.Amount,
		Currency:       string(req.Currency),
		BuyerEmail:     req.CustomerEmail,
		RedirectURL:    req.ReturnURL,
		IdempotencyKey: "order-" + req.OrderID,
	})
	if err != nil {
		return nil, err
	}
	reference := link.OrderID
	if reference == "" {
		reference = link.ID
	}
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned a payment link without order")
	}
	return &PaymentSession{
		Reference:   reference,
		CheckoutURL: stringPtr(link.URL),
	}, nil
}

// VerifyCallback checks base64 HMAC-SHA256(signatureKey, notificationURL+body).
func (s *Square) VerifyCallback(payload []byte, headers http.Header) bool {
	provided := strings.TrimSpace(headers.Get(squareSignatureHeader))
	if provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.signatureKey))
	mac.Write([]byte(s.notificationURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(provided), []byte(expected))
}

type squareNotification struct {
	Type string `json:"type"`
	Data struct {
		ID     string `json:"id"`
		Object struct {
			Payment *struct {
				ID          string `json:"id"`
				OrderID     string `json:"order_id"`
				Status      string `json:"status"`
				Note        string `json:"note"`
				AmountMoney *struct {
					Amount   int64  `json:"amount"`
					Currency string `json:"currency"`
				} `json:"amount_money"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

func (s *Square) ParseCallback(payload []byte) (*CallbackResult, error) {
	var n squareNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	switch n.Type {
	case "payment.created", "payment.updated":
	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, n.Type)
	}
	payment := n.Data.Object.Payment
	if payment == nil || payment.OrderID == "" {
		return nil, fmt.Errorf("%w: payment without order_id", ErrMalformedCallback)
	}
	status, ok := squareStatus(payment.Status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown square status %q", ErrMalformedCallback, payment.Status)
	}
	result := &CallbackResult{
		OrderID:     strings.TrimSpace(payment.Note),
		ProviderRef: payment.OrderID,
		Status:      status,
		RawStatus:   payment.Status,
	}
	if payment.AmountMoney != nil {
		result.Amount = int64Ptr(payment.AmountMoney.Amount)
	}
	return result, nil
}

func squareStatus(raw string) (enums.CallbackStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPROVED", "PENDING":
		return enums.CallbackStatusPending, true
	case "COMPLETED":
		return enums.CallbackStatusSuccess, true
	case "CANCELED":
		return enums.CallbackStatusCancelled, true
	case "FAILED":
		return enums.CallbackStatusFailed, true
	default:
		return "", false
	}
}
