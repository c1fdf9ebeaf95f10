package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/angelmondragon/digistore-backend/internal/admin"
	"github.com/angelmondragon/digistore-backend/internal/audit"
	"github.com/angelmondragon/digistore-backend/internal/catalog"
	"github.com/angelmondragon/digistore-backend/internal/delivery"
	"github.com/angelmondragon/digistore-backend/internal/inventory"
	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/internal/orders"
	"github.com/angelmondragon/digistore-backend/internal/payments/providers"
	"github.com/angelmondragon/digistore-backend/internal/payments/session"
	"github.com/angelmondragon/digistore-backend/internal/reconciler"
	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/db"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/metrics"
	"github.com/angelmondragon/digistore-backend/pkg/outbox"
	"github.com/angelmondragon/digistore-backend/pkg/square"
	pkgstripe "github.com/angelmondragon/digistore-backend/pkg/stripe"
)

// engine holds the services behind the HTTP surface.
type engine struct {
	providers     *providers.Registry
	notifications *notifications.Dispatcher
	deliveries    *delivery.Queue
	sessions      *session.Manager
	reconciler    *reconciler.Service
	admin         admin.Service
}

func buildEngine(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, engineMetrics *metrics.EngineMetrics) (*engine, error) {
	sessionCfg, err := session.ConfigFromPayments(cfg.Payments)
	if err != nil {
		return nil, fmt.Errorf("payments config: %w", err)
	}

	registry, err := buildProviders(ctx, cfg, logg, sessionCfg)
	if err != nil {
		return nil, err
	}
	for currency, route := range sessionCfg.Routes {
		if _, ok := registry.Resolve(route.Primary); !ok {
			logg.Warn(logg.WithFields(ctx, map[string]any{"currency": currency, "provider": route.Primary}), "default gateway not configured")
		}
	}

	notifier, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Outbox:   outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		DB:       dbClient,
		Logger:   logg,
		QueueLen: cfg.Eventing.NotificationQueueLen,
		Workers:  cfg.Eventing.NotificationWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}

	sink, err := audit.NewSink(audit.NewRepository(dbClient.DB()), notifier, logg)
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	catalogRepo := catalog.NewRepository(dbClient.DB())

	preloaded, err := delivery.NewPreloadedStrategy(inventory.NewRepository(dbClient.DB()), engineMetrics)
	if err != nil {
		return nil, fmt.Errorf("preloaded strategy: %w", err)
	}
	apiStrategy := delivery.NewAPIStrategy(&http.Client{}, delivery.APIDefaults{
		MaxAttempts: cfg.Delivery.APIMaxAttempts,
		Backoff:     cfg.Delivery.APIBackoff,
		MaxBackoff:  cfg.Delivery.APIMaxBackoff,
		Timeout:     cfg.Delivery.APITimeout,
	})

	dispatcher, err := delivery.NewDispatcher(delivery.DispatcherParams{
		Orders:     ordersRepo,
		Catalog:    catalogRepo,
		Strategies: []delivery.Strategy{preloaded, apiStrategy, delivery.ManualStrategy{}},
		Sink:       sink,
		Config: delivery.Config{
			InFlightWait: cfg.Delivery.InFlightWait,
			StaleClaim:   cfg.Delivery.StaleClaim,
		},
		Logger:  logg,
		Metrics: engineMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery dispatcher: %w", err)
	}

	deliveries, err := delivery.NewQueue(delivery.QueueParams{
		Dispatcher: dispatcher,
		Orders:     ordersRepo,
		Logger:     logg,
		QueueLen:   cfg.Delivery.QueueLen,
		Workers:    cfg.Delivery.Workers,
		SweepEvery: cfg.Delivery.SweepEvery,
		SweepGrace: cfg.Delivery.SweepGrace,
		StaleClaim: cfg.Delivery.StaleClaim,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery queue: %w", err)
	}

	sessions, err := session.NewManager(session.ManagerParams{
		Orders:   ordersRepo,
		Catalog:  catalogRepo,
		Adapters: registry,
		Sink:     sink,
		Config:   sessionCfg,
		Logger:   logg,
		Metrics:  engineMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	reconcilerSvc, err := reconciler.NewService(reconciler.ServiceParams{
		Orders:           ordersRepo,
		Adapters:         registry,
		Delivery:         deliveries,
		Sink:             sink,
		TolerancePercent: cfg.Reconcile.Tolerance(),
		Logger:           logg,
		Metrics:          engineMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	adminSvc, err := admin.NewService(admin.ServiceParams{
		Orders:   ordersRepo,
		Delivery: dispatcher,
		Sink:     sink,
		Logger:   logg,

		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
	})
	if err != nil {
		return nil, fmt.Errorf("admin service: %w", err)
	}

	return &engine{
		providers:     registry,
		notifications: notifier,
		deliveries:    deliveries,
		sessions:      sessions,
		reconciler:    reconcilerSvc,
		admin:         adminSvc,
	}, nil
}

// buildProviders registers every gateway that has credentials in this
// environment.
func buildProviders(ctx context.Context, cfg *config.Config, logg *logger.Logger, sessionCfg session.Config) (*providers.Registry, error) {
	var adapters []providers.Adapter

	tripay, err := providers.NewTripay(cfg.Tripay, cfg.Payments.ProviderTimeout)
	if err != nil {
		return nil, fmt.Errorf("tripay: %w", err)
	}
	if tripay != nil {
		adapters = append(adapters, tripay)
	}

	midtrans, err := providers.NewMidtrans(cfg.Midtrans, cfg.Payments.ProviderTimeout)
	if err != nil {
		return nil, fmt.Errorf("midtrans: %w", err)
	}
	if midtrans != nil {
		adapters = append(adapters, midtrans)
	}

	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe: %w", err)
		}
		adapter, err := providers.NewStripe(client.CreateCheckoutSession, client.SigningSecret(), nil)
		if err != nil {
			return nil, fmt.Errorf("stripe adapter: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if strings.TrimSpace(cfg.Square.AccessToken) != "" {
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, fmt.Errorf("square: %w", err)
		}
		adapter, err := providers.NewSquare(client, client.SignatureKey(), sessionCfg.CallbackURL(enums.ProviderSquare))
		if err != nil {
			return nil, fmt.Errorf("square adapter: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	return providers.NewRegistry(adapters...)
}
