// Package square wraps the Square SDK calls the checkout flow needs: one
// hosted quick pay link per order.
package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

var environments = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

var errNotInitialized = errors.New("square client not initialized")

type createLinkFunc func(context.Context, *sqcheckout.CreatePaymentLinkRequest) (*sq.CreatePaymentLinkResponse, error)

// Client opens Square payment links for a single location.
type Client struct {
	createLink   createLinkFunc
	environment  string
	locationID   string
	signatureKey string
	logger       *logger.Logger
}

// NewClient checks the Square settings and builds the SDK handle. The
// environment defaults to sandbox.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	env := strings.ToLower(strings.TrimSpace(cfg.Env))
	if env == "" {
		env = "sandbox"
	}
	baseURL, ok := environments[env]
	if !ok {
		return nil, fmt.Errorf("square environment %q must be sandbox or production", cfg.Env)
	}
	required := map[string]string{
		"access token":  cfg.AccessToken,
		"signature key": cfg.SignatureKey,
		"location id":   cfg.LocationID,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("square %s is required", name)
		}
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(strings.TrimSpace(cfg.AccessToken)),
	)
	c := &Client{
		createLink: func(ctx context.Context, req *sqcheckout.CreatePaymentLinkRequest) (*sq.CreatePaymentLinkResponse, error) {
			return sdk.Checkout.PaymentLinks.Create(ctx, req)
		},
		environment:  env,
		locationID:   strings.TrimSpace(cfg.LocationID),
		signatureKey: strings.TrimSpace(cfg.SignatureKey),
		logger:       logg,
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "environment", env), "square client ready")
	}
	return c, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SignatureKey verifies webhook subscription signatures.
func (c *Client) SignatureKey() string {
	if c == nil {
		return ""
	}
	return c.signatureKey
}

// CreatePaymentLink opens a hosted quick pay checkout. A blank
// IdempotencyKey gets a generated one.
func (c *Client) CreatePaymentLink(ctx context.Context, params PaymentLinkParams) (*PaymentLink, error) {
	if c == nil || c.createLink == nil {
		return nil, errNotInitialized
	}
	key := strings.TrimSpace(params.IdempotencyKey)
	if key == "" {
		key = "link-" + uuid.NewString()
	}
	if c.logger != nil {
		ctx = c.logger.WithFields(ctx, map[string]any{
			"order_id":     params.OrderID,
			"amount_minor": params.AmountMinor,
			"currency":     params.Currency,
		})
	}

	resp, err := c.createLink(ctx, params.request(c.locationID, key))
	if err != nil {
		mapped := mapError(err, "create payment link")
		if c.logger != nil {
			c.logger.Error(ctx, "square create payment link failed", mapped)
		}
		return nil, mapped
	}
	link := resp.GetPaymentLink()
	if link == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned no payment link")
	}

	out := &PaymentLink{
		ID:      deref(link.GetID()),
		URL:     deref(link.GetURL()),
		OrderID: deref(link.GetOrderID()),
	}
	if c.logger != nil {
		c.logger.Info(c.logger.WithFields(ctx, map[string]any{
			"payment_link_id": out.ID,
			"square_order_id": out.OrderID,
		}), "square payment link created")
	}
	return out, nil
}

// mapError turns an SDK failure into a domain error. Square's error list wins
// over the HTTP status when it names a reused idempotency key or bad auth.
func mapError(err error, op string) error {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op)
	}
	code := codeForStatus(apiErr.StatusCode)
	for _, e := range squareErrors(apiErr) {
		switch {
		case e.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "square "+op)
		case e.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "square "+op)
		}
	}
	return pkgerrors.Wrap(code, err, "square "+op)
}

// squareErrors decodes the {"errors": [...]} body the SDK keeps as the
// wrapped error text.
func squareErrors(apiErr *sqcore.APIError) []sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(inner.Error()), &body) != nil {
		return nil
	}
	return body.Errors
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
