package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

const (
	modeTest = "test"
	modeLive = "live"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook signing secret is required")
	errUnknownMode    = fmt.Errorf("stripe environment must be %q or %q", modeTest, modeLive)
)

// keyPrefixes lists the secret and restricted key prefixes accepted per mode.
var keyPrefixes = map[string][]string{
	modeTest: {"sk_test_", "rk_test_"},
	modeLive: {"sk_live_", "rk_live_"},
}

// Client owns the Stripe API handle used to open hosted checkout sessions.
type Client struct {
	api           *stripe.Client
	mode          string
	signingSecret string
}

// NewClient validates the key against the configured mode before building
// the API handle, so a live key never runs against a test deployment.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	if err := checkKeyMode(mode, apiKey); err != nil {
		return nil, err
	}

	c := &Client{
		api:           stripe.NewClient(apiKey),
		mode:          mode,
		signingSecret: secret,
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "mode", mode), "stripe client ready")
	}
	return c, nil
}

// CreateCheckoutSession opens a hosted Checkout Session.
func (c *Client) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("stripe client not initialized")
	}
	return c.api.V1CheckoutSessions.Create(ctx, params)
}

func (c *Client) Mode() string {
	if c == nil {
		return ""
	}
	return c.mode
}

// SigningSecret is the webhook endpoint secret used to verify callbacks.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func parseMode(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	if mode == "" {
		return modeTest, nil
	}
	if _, ok := keyPrefixes[mode]; !ok {
		return "", errUnknownMode
	}
	return mode, nil
}

func checkKeyMode(mode, key string) error {
	prefixes, ok := keyPrefixes[mode]
	if !ok {
		return errUnknownMode
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s mode requires a key starting with %s", mode, strings.Join(prefixes, " or "))
}
