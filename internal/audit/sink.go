package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/digistore-backend/internal/notifications"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Entry is an audit record waiting to be appended.
type Entry struct {
	OrderID string
	Event   enums.AuditEvent
	Actor   enums.AuditActor
	Payload any
}

type notifier interface {
	Enqueue(ctx context.Context, event notifications.Event) bool
}

// Sink appends audit entries and hands notifications to the async
// dispatcher. Neither path ever returns an error to the caller: a state
// transition that already committed must not be undone by bookkeeping.
type Sink struct {
	repo     Repository
	notifier notifier
	logg     *logger.Logger
	now      func() time.Time
}

// NewSink wires the audit repository with an optional notifier.
func NewSink(repo Repository, n notifier, logg *logger.Logger) (*Sink, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &Sink{
		repo:     repo,
		notifier: n,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record appends a single entry, logging any failure.
func (s *Sink) Record(ctx context.Context, entry Entry) {
	if s == nil {
		return
	}
	row, err := s.toModel(entry)
	if err == nil {
		err = s.repo.Append(ctx, row)
	}
	if err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":    entry.OrderID,
			"audit_event": entry.Event,
		})
		s.logg.Error(logCtx, "audit append failed", err)
	}
}

// Notify queues a notification without blocking.
func (s *Sink) Notify(ctx context.Context, event notifications.Event) {
	if s == nil || s.notifier == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if !s.notifier.Enqueue(ctx, event) && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":   event.OrderID,
			"event_type": event.Type,
		})
		s.logg.Warn(logCtx, "notification dropped")
	}
}

// Flush runs the side effects collected while a core operation executed.
// Audit entries go first, in the order they were collected.
func (s *Sink) Flush(ctx context.Context, effects *Effects) {
	if s == nil || effects == nil {
		return
	}
	for _, entry := range effects.entries {
		s.Record(ctx, entry)
	}
	for _, event := range effects.events {
		s.Notify(ctx, event)
	}
	effects.entries = nil
	effects.events = nil
}

// History returns the audit trail of an order, oldest first.
func (s *Sink) History(ctx context.Context, orderID string) ([]models.AuditLogEntry, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}

func (s *Sink) toModel(entry Entry) (*models.AuditLogEntry, error) {
	if entry.OrderID == "" {
		return nil, fmt.Errorf("order id is required")
	}
	if entry.Event == "" {
		return nil, fmt.Errorf("audit event is required")
	}
	actor := entry.Actor
	if actor == "" {
		actor = enums.ActorSystem
	}
	payload, err := encodePayload(entry.Payload)
	if err != nil {
		return nil, err
	}
	return &models.AuditLogEntry{
		ID:        uuid.New(),
		OrderID:   entry.OrderID,
		Event:     entry.Event,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: s.now(),
	}, nil
}

// encodePayload stores raw provider bodies verbatim when they are JSON and
// wraps anything else so the column always holds a JSON document.
func encodePayload(v any) (datatypes.JSON, error) {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode audit payload: %w", err)
		}
		return datatypes.JSON(encoded), nil
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if json.Valid(raw) {
		return datatypes.JSON(raw), nil
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(wrapped), nil
}
