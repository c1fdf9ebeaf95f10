package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/outbox"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	ref := "stock_item/42"
	payloadBytes := mustMarshal(t, payloads.DeliveryCompletedEvent{
		OrderID:      "ORD-1",
		ProductSlug:  "netflix-1m",
		DeliveryType: enums.DeliveryTypePreloaded,
		Status:       enums.OrderStatusSuccess,
		DeliveredBy:  "system",
		ContentRef:   &ref,
		DeliveredAt:  time.Now().UTC(),
	})

	event := models.OutboxEvent{
		EventType:     enums.EventDeliveryCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   "ORD-1",
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "notification-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.DeliveryCompletedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.OrderID != "ORD-1" || payload.ContentRef == nil || *payload.ContentRef != ref {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryCoversEveryEventType(t *testing.T) {
	reg := newTestEventRegistry(t)
	for _, eventType := range []enums.OutboxEventType{
		enums.EventPaymentCreated,
		enums.EventDeliveryCompleted,
		enums.EventDeliveryFailed,
		enums.EventDiscrepancyDetected,
		enums.EventOrderRejected,
		enums.EventOrderExpired,
	} {
		event := models.OutboxEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "ORD-9",
			Payload:       mustEnvelope(t, []byte(`{"order_id":"ORD-9"}`)),
		}
		if _, err := reg.Resolve(event); err != nil {
			t.Fatalf("resolve %s: %v", eventType, err)
		}
	}
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.OutboxEventType("order_refunded"),
		AggregateType: enums.AggregateOrder,
		AggregateID:   "ORD-1",
		Payload:       mustEnvelope(t, []byte(`{"reason":"none"}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventPaymentCreated,
		AggregateType: enums.OutboxAggregateType("store"),
		AggregateID:   "ORD-1",
		Payload:       mustEnvelope(t, []byte(`{"order_id":"ORD-1"}`)),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveMissingAggregateID(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventOrderRejected,
		AggregateType: enums.AggregateOrder,
		Payload:       mustEnvelope(t, []byte(`{}`)),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveNullPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventOrderExpired,
		AggregateType: enums.AggregateOrder,
		AggregateID:   "ORD-1",
		Payload:       mustEnvelope(t, []byte("null")),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatalf("expected error for missing topic")
	}
}

func TestEventRegistryRoutesAlertsToAlertTopic(t *testing.T) {
	reg, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "notification-topic", AlertTopic: " ops-alerts "})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if got := reg.Topics(); len(got) != 2 || got[0] != "notification-topic" || got[1] != "ops-alerts" {
		t.Fatalf("unexpected topics %v", got)
	}

	want := map[enums.OutboxEventType]string{
		enums.EventDeliveryCompleted:   "notification-topic",
		enums.EventDeliveryFailed:      "ops-alerts",
		enums.EventDiscrepancyDetected: "ops-alerts",
	}
	for eventType, topic := range want {
		resolved, err := reg.Resolve(models.OutboxEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "ORD-3",
			Payload:       mustEnvelope(t, []byte(`{"order_id":"ORD-3"}`)),
		})
		if err != nil {
			t.Fatalf("resolve %s: %v", eventType, err)
		}
		if resolved.Descriptor.Topic != topic {
			t.Fatalf("%s routed to %q, want %q", eventType, resolved.Descriptor.Topic, topic)
		}
	}

	if got := newTestEventRegistry(t).Topics(); len(got) != 1 || got[0] != "notification-topic" {
		t.Fatalf("without alert topic expected a single topic, got %v", got)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "notification-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
