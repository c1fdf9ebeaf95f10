package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

// Route is the primary and optional backup gateway for a currency.
type Route struct {
	Primary enums.PaymentProvider
	Backup  enums.PaymentProvider
}

// Config is threaded into the Manager at construction; nothing is read
// from the environment per request.
type Config struct {
	Routes          map[enums.Currency]Route
	PublicBaseURL   string
	ReturnURL       string
	SessionTTL      time.Duration
	ProviderTimeout time.Duration
}

// ConfigFromPayments maps the env backed payments section.
func ConfigFromPayments(cfg config.PaymentsConfig) (Config, error) {
	routes := map[enums.Currency]Route{}
	add := func(currency enums.Currency, primary, backup string) error {
		if strings.TrimSpace(primary) == "" {
			return nil
		}
		p, err := enums.ParsePaymentProvider(primary)
		if err != nil {
			return fmt.Errorf("%s default gateway: %w", currency, err)
		}
		route := Route{Primary: p}
		if strings.TrimSpace(backup) != "" {
			b, err := enums.ParsePaymentProvider(backup)
			if err != nil {
				return fmt.Errorf("%s backup gateway: %w", currency, err)
			}
			route.Backup = b
		}
		routes[currency] = route
		return nil
	}
	if err := add(enums.CurrencyIDR, cfg.DefaultIDR, cfg.BackupIDR); err != nil {
		return Config{}, err
	}
	if err := add(enums.CurrencyUSD, cfg.DefaultUSD, cfg.BackupUSD); err != nil {
		return Config{}, err
	}
	return Config{
		Routes:          routes,
		PublicBaseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		ReturnURL:       strings.TrimRight(cfg.ReturnURL, "/"),
		SessionTTL:      cfg.SessionTTL,
		ProviderTimeout: cfg.ProviderTimeout,
	}, nil
}

// CallbackURL is the webhook endpoint bound to one provider.
func (c Config) CallbackURL(provider enums.PaymentProvider) string {
	return fmt.Sprintf("%s/api/v1/webhooks/%s", strings.TrimRight(c.PublicBaseURL, "/"), provider)
}

func (c Config) returnURLFor(orderID string) string {
	if c.ReturnURL == "" {
		return ""
	}
	return c.ReturnURL + "/" + orderID
}
