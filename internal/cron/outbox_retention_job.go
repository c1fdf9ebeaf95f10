package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	// the publisher's default retry budget
	outboxMinAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type settledEventPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configure the notification sweep. MinAttempts
// must equal the publisher's retry budget, otherwise rows still being
// retried look dead-lettered and get pruned. DeadLetters is optional.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Events      settledEventPruner
	DeadLetters deadLetterPruner
	Retention   time.Duration
	DLQ         time.Duration
	MinAttempts int
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	events      settledEventPruner
	deadLetters deadLetterPruner
	retention   time.Duration
	dlq         time.Duration
	minAttempts int
	now         func() time.Time
}

func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.DB == nil:
		return nil, errors.New("db runner required")
	case p.Events == nil:
		return nil, errors.New("outbox repository required")
	}
	j := &outboxRetentionJob{
		logg:        p.Logger,
		db:          p.DB,
		events:      p.Events,
		deadLetters: p.DeadLetters,
		retention:   p.Retention,
		dlq:         p.DLQ,
		minAttempts: p.MinAttempts,
		now:         time.Now,
	}
	if j.retention <= 0 {
		j.retention = defaultOutboxRetention
	}
	if j.dlq <= 0 {
		j.dlq = defaultDLQRetention
	}
	if j.minAttempts <= 0 {
		j.minAttempts = outboxMinAttempts
	}
	return j, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes published (or abandoned) outbox rows past retention and, when
// wired, dead letters past their own longer retention. Both deletes commit
// together.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	eventCutoff := now.Add(-j.retention)
	dlqCutoff := now.Add(-j.dlq)

	var events, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if events, err = j.events.DeletePublishedBefore(ctx, tx, eventCutoff, j.minAttempts); err != nil {
			return fmt.Errorf("prune outbox events: %w", err)
		}
		if j.deadLetters == nil {
			return nil
		}
		if deadLetters, err = j.deadLetters.DeleteFailedBefore(ctx, tx, dlqCutoff); err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":         eventCutoff,
		"dlq_cutoff":           dlqCutoff,
		"min_attempts":         j.minAttempts,
		"events_deleted":       events,
		"dead_letters_deleted": deadLetters,
	}), "order notification outbox pruned")
	return nil
}
