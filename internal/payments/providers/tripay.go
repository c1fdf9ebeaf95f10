package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
)

const tripaySignatureHeader = "X-Callback-Signature"

// Tripay creates closed QRIS/VA transactions through the Tripay REST API.
type Tripay struct {
	cfg  config.TripayConfig
	opts httpOptions
}

// NewTripay builds the adapter. It returns nil, nil when the merchant is not configured.
func NewTripay(cfg config.TripayConfig, timeout time.Duration, opts ...Option) (*Tripay, error) {
	if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, nil
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" || strings.TrimSpace(cfg.MerchantCode) == "" {
		return nil, fmt.Errorf("tripay requires api key, private key and merchant code")
	}
	return &Tripay{cfg: cfg, opts: applyOptions(cfg.BaseURL, timeout, opts)}, nil
}

func (t *Tripay) Name() enums.PaymentProvider { return enums.ProviderTripay }

func (t *Tripay) RequiresSignature() bool { return true }

type tripayOrderItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type tripayCreateRequest struct {
	Method        string            `json:"method"`
	MerchantRef   string            `json:"merchant_ref"`
	Amount        int64             `json:"amount"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	OrderItems    []tripayOrderItem `json:"order_items"`
	CallbackURL   string            `json:"callback_url"`
	ReturnURL     string            `json:"return_url,omitempty"`
	ExpiredTime   int64             `json:"expired_time"`
	Signature     string            `json:"signature"`
}

type tripayCreateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Reference   string `json:"reference"`
		CheckoutURL string `json:"checkout_url"`
		QRString    string `json:"qr_string"`
		PayCode     string `json:"pay_code"`
		TotalFee    int64  `json:"total_fee"`
		ExpiredTime int64  `json:"expired_time"`
	} `json:"data"`
}

// CreatePayment opens a closed payment whose merchant_ref is the order id.
func (t *Tripay) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	if req.Currency != enums.CurrencyIDR {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("tripay does not support %s", req.Currency))
	}
	expires := req.ExpiresAt
	if expires.IsZero() {
		expires = t.opts.now().Add(time.Hour)
	}
	// Tripay requires amount to equal the item total, so the order is sent as one line.
	body := tripayCreateRequest{
		Method:        t.cfg.Method,
		MerchantRef:   req.OrderID,
		Amount:        req.Amount,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		OrderItems:    []tripayOrderItem{{Name: req.ProductName, Price: req.Amount, Quantity: 1}},
		CallbackURL:   req.CallbackURL,
		ReturnURL:     req.ReturnURL,
		ExpiredTime:   expires.Unix(),
		Signature:     t.createSignature(req.OrderID, req.Amount),
	}

	httpReq, err := http.NewRequest(http.MethodPost, t.opts.baseURL+"/transaction/create", nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build tripay request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	var resp tripayCreateResponse
	if err := doJSON(ctx, t.opts.client, "tripay", httpReq, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Data.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("tripay rejected transaction: %s", resp.Message))
	}

	session := &PaymentSession{
		Reference:   resp.Data.Reference,
		CheckoutURL: stringPtr(resp.Data.CheckoutURL),
		QRPayload:   stringPtr(resp.Data.QRString),
		Fee:         int64Ptr(resp.Data.TotalFee),
	}
	if session.QRPayload == nil {
		session.QRPayload = stringPtr(resp.Data.PayCode)
	}
	if resp.Data.ExpiredTime > 0 {
		at := time.Unix(resp.Data.ExpiredTime, 0).UTC()
		session.ExpiresAt = &at
	}
	return session, nil
}

func (t *Tripay) createSignature(merchantRef string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(t.cfg.PrivateKey))
	mac.Write([]byte(t.cfg.MerchantCode + merchantRef + strconv.FormatInt(amount, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback checks the hex HMAC-SHA256 of the raw body.
func (t *Tripay) VerifyCallback(payload []byte, headers http.Header) bool {
	provided := strings.TrimSpace(headers.Get(tripaySignatureHeader))
	if provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(t.cfg.PrivateKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected))
}

type tripayCallback struct {
	Reference      string `json:"reference"`
	MerchantRef    string `json:"merchant_ref"`
	Status         string `json:"status"`
	TotalAmount    *int64 `json:"total_amount"`
	AmountReceived *int64 `json:"amount_received"`
}

func (t *Tripay) ParseCallback(payload []byte) (*CallbackResult, error) {
	var cb tripayCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if cb.MerchantRef == "" && cb.Reference == "" {
		return nil, fmt.Errorf("%w: missing merchant_ref and reference", ErrMalformedCallback)
	}
	status, ok := tripayStatus(cb.Status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tripay status %q", ErrMalformedCallback, cb.Status)
	}
	amount := cb.TotalAmount
	if amount == nil {
		amount = cb.AmountReceived
	}
	return &CallbackResult{
		OrderID:     cb.MerchantRef,
		ProviderRef: cb.Reference,
		Status:      status,
		RawStatus:   cb.Status,
		Amount:      amount,
	}, nil
}

func tripayStatus(raw string) (enums.CallbackStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "UNPAID":
		return enums.CallbackStatusPending, true
	case "PAID":
		return enums.CallbackStatusSuccess, true
	case "EXPIRED":
		return enums.CallbackStatusExpired, true
	case "FAILED":
		return enums.CallbackStatusFailed, true
	case "REFUND":
		return enums.CallbackStatusCancelled, true
	default:
		return "", false
	}
}
