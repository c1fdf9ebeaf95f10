// Package registry maps outbox event types to their topic and payload schema
// and decodes stored rows before they are published.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/outbox"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is a decoded outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish, however often it
// is retried. The publisher dead-letters it straight away.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryablef(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func orderEvent[T any](eventType enums.OutboxEventType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		Topic:         topic,
		newPayload:    func() any { return new(T) },
	}
}

// NewEventRegistry wires every order event to its topic. Operator-facing
// events use the alert topic when one is configured.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	notify := strings.TrimSpace(cfg.NotificationTopic)
	if notify == "" {
		return nil, errors.New("notification topic is required")
	}
	alert := strings.TrimSpace(cfg.AlertTopic)
	if alert == "" {
		alert = notify
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		orderEvent[payloads.PaymentCreatedEvent](enums.EventPaymentCreated, notify),
		orderEvent[payloads.DeliveryCompletedEvent](enums.EventDeliveryCompleted, notify),
		orderEvent[payloads.OrderRejectedEvent](enums.EventOrderRejected, notify),
		orderEvent[payloads.OrderExpiredEvent](enums.EventOrderExpired, notify),
		orderEvent[payloads.DeliveryFailedEvent](enums.EventDeliveryFailed, alert),
		orderEvent[payloads.DiscrepancyDetectedEvent](enums.EventDiscrepancyDetected, alert),
	} {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Topics lists the distinct topics events can be published on.
func (r *EventRegistry) Topics() []string {
	seen := make(map[string]struct{}, 2)
	for _, desc := range r.entries {
		seen[desc.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the envelope and
// the typed payload. Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryablef("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryablef("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == "":
		return nil, nonRetryablef("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryablef("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryablef("payload missing for %s", event.EventType)
	}

	payload := desc.newPayload()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, nonRetryablef("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
