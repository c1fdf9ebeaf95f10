// Package outbox stores domain events in the same transaction as the state
// change that produced them; cmd/outbox-publisher ships them to Pub/Sub.
package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

var (
	ErrTxRequired          = errors.New("transaction required")
	ErrAggregateIDRequired = errors.New("aggregate id required")
)

type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Actor         *ActorRef
	Data          any
	// Version defaults to EnvelopeVersion.
	Version int
	// OccurredAt defaults to the emit time.
	OccurredAt time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit appends event to the outbox inside tx. Nothing is published until tx
// commits, so a rolled-back state change never produces a notification.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return ErrTxRequired
	}
	event.AggregateID = strings.TrimSpace(event.AggregateID)
	if event.AggregateID == "" {
		return ErrAggregateIDRequired
	}
	now := s.now().UTC()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}

	env, raw, err := seal(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       raw,
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"event_id":   env.EventID,
			"event_type": event.EventType,
			"order_id":   event.AggregateID,
		}), "outbox event queued")
	}
	return nil
}
