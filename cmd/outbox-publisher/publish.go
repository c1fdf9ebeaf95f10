package main

import (
	"context"
	"errors"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/outbox/registry"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	// ResumePublish unblocks an ordering key after a failed publish.
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// newMessage keys every message by order so subscribers see one order's
// notifications in outbox order.
func newMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// topicPublishers hands out one long-lived Pub/Sub publisher per topic and
// flushes them all on Stop.
type topicPublishers struct {
	client pubSubClient

	mu   sync.Mutex
	open map[string]*gcpPublisher
}

func newTopicPublishers(client pubSubClient) *topicPublishers {
	return &topicPublishers{client: client, open: make(map[string]*gcpPublisher)}
}

func (t *topicPublishers) get(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.open[topic]; ok {
		return p
	}
	raw := t.client.Publisher(topic)
	if raw == nil {
		return nil
	}
	raw.EnableMessageOrdering = true
	p := &gcpPublisher{raw: raw}
	t.open[topic] = p
	return p
}

func (t *topicPublishers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, p := range t.open {
		p.raw.Stop()
		delete(t.open, topic)
	}
}

type gcpPublisher struct {
	raw *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return gcpResult{p.raw.Publish(ctx, msg)}
}

func (p *gcpPublisher) ResumePublish(orderingKey string) {
	p.raw.ResumePublish(orderingKey)
}

type gcpResult struct {
	res *gcppubsub.PublishResult
}

func (r gcpResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("publish result is nil")
	}
	return r.res.Get(ctx)
}
