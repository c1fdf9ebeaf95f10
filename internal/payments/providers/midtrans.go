package providers

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
)

// Midtrans creates Snap transactions. The Snap token doubles as the
// provider reference until the first notification reports a transaction_id.
type Midtrans struct {
	cfg  config.MidtransConfig
	opts httpOptions
}

// NewMidtrans builds the adapter. It returns nil, nil when no server key is configured.
func NewMidtrans(cfg config.MidtransConfig, timeout time.Duration, opts ...Option) (*Midtrans, error) {
	if strings.TrimSpace(cfg.ServerKey) == "" {
		return nil, nil
	}
	return &Midtrans{cfg: cfg, opts: applyOptions(cfg.BaseURL, timeout, opts)}, nil
}

func (m *Midtrans) Name() enums.PaymentProvider { return enums.ProviderMidtrans }

// RequiresSignature is true unless the advisory sandbox mode is on, in which
// case the reconciler only logs a bad signature_key.
func (m *Midtrans) RequiresSignature() bool { return !m.cfg.AdvisorySignature }

type midtransItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type midtransCallbacks struct {
	Finish string `json:"finish"`
}

type midtransExpiry struct {
	Unit     string `json:"unit"`
	Duration int64  `json:"duration"`
}

type midtransSnapRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	ItemDetails     []midtransItem `json:"item_details"`
	CustomerDetails struct {
		FirstName string `json:"first_name,omitempty"`
		Email     string `json:"email,omitempty"`
	} `json:"customer_details"`
	Callbacks *midtransCallbacks `json:"callbacks,omitempty"`
	Expiry    *midtransExpiry    `json:"expiry,omitempty"`
}

type midtransSnapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

func (m *Midtrans) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	if req.Currency != enums.CurrencyIDR {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("midtrans does not support %s", req.Currency))
	}

	var body midtransSnapRequest
	body.TransactionDetails.OrderID = req.OrderID
	body.TransactionDetails.GrossAmount = req.Amount
	body.ItemDetails = []midtransItem{{ID: req.OrderID, Name: truncate(req.ProductName, 50), Price: req.Amount, Quantity: 1}}
	body.CustomerDetails.FirstName = req.CustomerName
	body.CustomerDetails.Email = req.CustomerEmail
	if req.ReturnURL != "" {
		body.Callbacks = &midtransCallbacks{Finish: req.ReturnURL}
	}
	var expiresAt *time.Time
	if !req.ExpiresAt.IsZero() {
		minutes := int64(math.Ceil(req.ExpiresAt.Sub(m.opts.now()).Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		body.Expiry = &midtransExpiry{Unit: "minutes", Duration: minutes}
		at := req.ExpiresAt.UTC()
		expiresAt = &at
	}

	httpReq, err := http.NewRequest(http.MethodPost, m.opts.baseURL+"/snap/v1/transactions", nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build midtrans request")
	}
	httpReq.SetBasicAuth(m.cfg.ServerKey, "")
	if req.CallbackURL != "" {
		httpReq.Header.Set("X-Override-Notification", req.CallbackURL)
	}

	var resp midtransSnapResponse
	if err := doJSON(ctx, m.opts.client, "midtrans", httpReq, body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("midtrans rejected transaction: %s", strings.Join(resp.ErrorMessages, "; ")))
	}

	return &PaymentSession{
		Reference:   resp.Token,
		CheckoutURL: stringPtr(resp.RedirectURL),
		ExpiresAt:   expiresAt,
	}, nil
}

type midtransNotification struct {
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// VerifyCallback recomputes signature_key as SHA512(order_id+status_code+gross_amount+server_key).
func (m *Midtrans) VerifyCallback(payload []byte, _ http.Header) bool {
	var n midtransNotification
	if err := json.Unmarshal(payload, &n); err != nil || n.SignatureKey == "" {
		return false
	}
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + m.cfg.ServerKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(n.SignatureKey)), []byte(expected)) == 1
}

func (m *Midtrans) ParseCallback(payload []byte) (*CallbackResult, error) {
	var n midtransNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if n.OrderID == "" && n.TransactionID == "" {
		return nil, fmt.Errorf("%w: missing order_id and transaction_id", ErrMalformedCallback)
	}
	status, ok := midtransStatus(n.TransactionStatus, n.FraudStatus)
	if !ok {
		return nil, fmt.Errorf("%w: unknown midtrans status %q", ErrMalformedCallback, n.TransactionStatus)
	}

	result := &CallbackResult{
		OrderID:     n.OrderID,
		ProviderRef: n.TransactionID,
		Status:      status,
		RawStatus:   n.TransactionStatus,
	}
	if strings.TrimSpace(n.GrossAmount) != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(n.GrossAmount))
		if err != nil {
			return nil, fmt.Errorf("%w: gross_amount %q", ErrMalformedCallback, n.GrossAmount)
		}
		result.Amount = int64Ptr(amount.Round(0).IntPart())
	}
	return result, nil
}

func midtransStatus(transaction, fraud string) (enums.CallbackStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(transaction)) {
	case "pending", "authorize":
		return enums.CallbackStatusPending, true
	case "settlement":
		return enums.CallbackStatusSuccess, true
	case "capture":
		if strings.EqualFold(fraud, "challenge") {
			return enums.CallbackStatusPending, true
		}
		return enums.CallbackStatusSuccess, true
	case "deny", "failure":
		return enums.CallbackStatusFailed, true
	case "cancel", "refund", "partial_refund":
		return enums.CallbackStatusCancelled, true
	case "expire":
		return enums.CallbackStatusExpired, true
	default:
		return "", false
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
