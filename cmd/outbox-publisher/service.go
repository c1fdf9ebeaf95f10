package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(topic string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	PubSub        pubSubClient
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	// PublisherFactory overrides the per-topic Pub/Sub publishers in tests.
	PublisherFactory publisherFactory
}

// Service drains outbox_events onto Pub/Sub. Each batch is claimed inside
// one transaction (FOR UPDATE SKIP LOCKED on Postgres), published
// concurrently, then marked published, failed or dead-lettered before commit.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	repo        outboxRepository
	pubsub      pubSubClient
	registry    registryResolver
	dlq         dlqRepository
	publishers  publisherFactory
	stop        func()
	batchSize   int
	maxAttempts int
	interval    time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	for name, missing := range map[string]bool{
		"config":            params.Config == nil,
		"logger":            params.Logger == nil,
		"database client":   params.DB == nil,
		"pubsub client":     params.PubSub == nil,
		"outbox repository": params.Repository == nil,
		"event registry":    params.Registry == nil,
		"dlq repository":    params.DLQRepository == nil,
	} {
		if missing {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	s := &Service{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		pubsub:      params.PubSub,
		registry:    params.Registry,
		dlq:         params.DLQRepository,
		publishers:  params.PublisherFactory,
		stop:        func() {},
		batchSize:   orDefault(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts: orDefault(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		interval:    time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if s.interval <= 0 {
		s.interval = defaultPollInterval
	}
	if s.publishers == nil {
		topics := newTopicPublishers(params.PubSub)
		s.publishers = topics.get
		s.stop = topics.Stop
	}
	return s, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; an empty batch waits one poll interval; a failed batch backs
// off exponentially.
func (s *Service) Run(ctx context.Context) error {
	defer s.stop()

	for name, ping := range map[string]func(context.Context) error{"database": s.db.Ping, "pubsub": s.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	var backoff retry.Backoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := s.processBatch(ctx)
		wait := s.interval
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			if backoff == nil {
				backoff = newErrorBackoff(s.interval)
			}
			wait, _ = backoff.Next()
		case processed:
			backoff = nil
			continue
		default:
			backoff = nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLettered
)

type batchStats map[outcome]int

type inFlight struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	pub      publisher
	result   publishResult
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	stats := batchStats{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil || len(events) == 0 {
			return err
		}

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()

		pending := make([]inFlight, 0, len(events))
		for _, event := range events {
			resolved, err := s.registry.Resolve(event)
			if err != nil {
				if err := s.deadLetter(ctx, tx, event, "", enums.OutboxDLQReasonNonRetryable, err); err != nil {
					return err
				}
				stats[outcomeDeadLettered]++
				continue
			}
			topic := resolved.Descriptor.Topic
			pub := s.publishers(topic)
			if pub == nil {
				err := registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
				if err := s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonNonRetryable, err); err != nil {
					return err
				}
				stats[outcomeDeadLettered]++
				continue
			}
			pending = append(pending, inFlight{
				event:    event,
				resolved: resolved,
				pub:      pub,
				result:   pub.Publish(publishCtx, newMessage(event, resolved)),
			})
		}

		for _, p := range pending {
			o, err := s.settle(ctx, publishCtx, tx, p)
			if err != nil {
				return err
			}
			stats[o]++
		}
		return nil
	})
	if err == nil && len(stats) > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"published":     stats[outcomePublished],
			"retry":         stats[outcomeRetry],
			"dead_lettered": stats[outcomeDeadLettered],
		}), "outbox batch processed")
	}
	return len(stats) > 0, err
}

// settle waits for one publish and records its outcome on the row.
func (s *Service) settle(ctx, publishCtx context.Context, tx *gorm.DB, p inFlight) (outcome, error) {
	topic := p.resolved.Descriptor.Topic
	logCtx := s.logg.WithFields(ctx, eventFields(p.event, topic))

	var pubErr error
	if p.result == nil {
		pubErr = errors.New("publisher returned no result")
	} else {
		_, pubErr = p.result.Get(publishCtx)
	}
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, p.event.ID); err != nil {
			return 0, fmt.Errorf("mark published %s: %w", p.event.ID, err)
		}
		s.logg.Info(s.logg.WithField(logCtx, "event_id", p.resolved.Envelope.EventID), "outbox event published")
		return outcomePublished, nil
	}

	// a failed publish pauses its ordering key until resumed
	p.pub.ResumePublish(p.event.AggregateID)

	if attempt := p.event.AttemptCount + 1; attempt >= s.maxAttempts {
		err := fmt.Errorf("max publish attempts reached: %w", pubErr)
		return outcomeDeadLettered, s.deadLetter(ctx, tx, p.event, topic, enums.OutboxDLQReasonMaxAttempts, err)
	}
	s.logg.Warn(s.logg.WithField(logCtx, "error", pubErr.Error()), "outbox publish failed, will retry")
	if err := s.repo.MarkFailedTx(tx, p.event.ID, pubErr); err != nil {
		return 0, fmt.Errorf("mark failure %s: %w", p.event.ID, err)
	}
	return outcomeRetry, nil
}

// deadLetter copies the row into outbox_dlq and parks it so it is never
// fetched again.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	fields := eventFields(event, topic)
	fields["error_reason"] = reason
	fields["error"] = msg
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func eventFields(event models.OutboxEvent, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"order_id":       event.AggregateID,
		"attempt_count":  event.AttemptCount,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// newErrorBackoff doubles the pause after each failed batch up to
// maxBackoff. Run drops it as soon as a batch succeeds.
func newErrorBackoff(base time.Duration) retry.Backoff {
	return retry.WithJitter(jitterWindow, retry.WithCappedDuration(maxBackoff, retry.NewExponential(base)))
}
