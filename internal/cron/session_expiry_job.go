package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/digistore-backend/internal/audit"
	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/internal/orders"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/payloads"
)

const (
	defaultExpiryGrace = 15 * time.Minute
	defaultExpiryBatch = 100
)

// SessionExpiryJobParams configure the payment session expiry sweep.
type SessionExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    orders.Repository
	Sink      effectsSink
	Grace     time.Duration
	BatchSize int
}

type effectsSink interface {
	Flush(ctx context.Context, effects *audit.Effects)
}

// NewSessionExpiryJob builds the job that fails orders whose payment
// session lapsed without a settling callback.
func NewSessionExpiryJob(params SessionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Sink == nil {
		return nil, fmt.Errorf("audit sink required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultExpiryGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &sessionExpiryJob{
		logg:  params.Logger,
		repo:  params.Orders,
		sink:  params.Sink,
		grace: grace,
		batch: batch,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

type sessionExpiryJob struct {
	logg  *logger.Logger
	repo  orders.Repository
	sink  effectsSink
	grace time.Duration
	batch int
	now   func() time.Time
}

func (j *sessionExpiryJob) Name() string { return "payment-session-expiry" }

// Run drains at most one batch per cycle. Late callbacks inside the grace
// window still reconcile normally.
func (j *sessionExpiryJob) Run(ctx context.Context) error {
	now := j.now()
	cutoff := now.Add(-j.grace)
	candidates, err := j.repo.ListExpiredPending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list expired sessions: %w", err)
	}

	var (
		errs    []error
		expired int
		skipped int
	)
	for _, order := range candidates {
		orderCtx := j.logg.WithOrderID(ctx, order.OrderID)
		err := j.repo.ExpirePending(ctx, order.OrderID, cutoff)
		if errors.Is(err, orders.ErrPreconditionFailed) {
			// a callback settled the order after it was listed
			skipped++
			continue
		}
		if err != nil {
			j.logg.Error(orderCtx, "expire payment session failed", err)
			errs = append(errs, fmt.Errorf("expire %s: %w", order.OrderID, err))
			continue
		}

		event := payloads.OrderExpiredEvent{
			OrderID:   order.OrderID,
			Provider:  order.Payment.Provider,
			ExpiredAt: now,
		}
		effects := &audit.Effects{}
		effects.Audit(order.OrderID, enums.AuditOrderExpired, enums.ActorSystem, event)
		effects.Notify(notifications.Event{
			Type:       enums.EventOrderExpired,
			OrderID:    order.OrderID,
			Actor:      enums.ActorSystem,
			Data:       event,
			OccurredAt: now,
		})
		j.sink.Flush(orderCtx, effects)
		expired++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(candidates),
		"expired":    expired,
		"skipped":    skipped,
	})
	j.logg.Info(logCtx, "payment session expiry sweep complete")
	return multierr.Combine(errs...)
}
