package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
	err    error
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

func TestDispatcherWritesQueuedEvents(t *testing.T) {
	emitter := &fakeEmitter{}
	d, err := NewDispatcher(DispatcherParams{Outbox: emitter, DB: fakeTxRunner{}, Workers: 2})
	require.NoError(t, err)
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		assert.True(t, d.Enqueue(context.Background(), Event{
			Type:    enums.EventDeliveryCompleted,
			OrderID: "ORD-1",
			Actor:   enums.ActorSystem,
			Data:    map[string]string{"order_id": "ORD-1"},
		}))
	}
	d.Close()

	require.Equal(t, 5, emitter.count())
	event := emitter.events[0]
	assert.Equal(t, enums.AggregateOrder, event.AggregateType)
	assert.Equal(t, "ORD-1", event.AggregateID)
	require.NotNil(t, event.Actor)
	assert.Equal(t, "system", event.Actor.ID)
	assert.False(t, event.OccurredAt.IsZero())

	assert.False(t, d.Enqueue(context.Background(), Event{Type: enums.EventOrderExpired, OrderID: "ORD-2"}), "closed dispatcher rejects events")
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	emitter := &fakeEmitter{}
	d, err := NewDispatcher(DispatcherParams{Outbox: emitter, DB: fakeTxRunner{}, QueueLen: 1})
	require.NoError(t, err)

	assert.True(t, d.Enqueue(context.Background(), Event{Type: enums.EventPaymentCreated, OrderID: "ORD-1"}))
	assert.False(t, d.Enqueue(context.Background(), Event{Type: enums.EventPaymentCreated, OrderID: "ORD-2"}))

	d.Close()
	assert.Equal(t, 1, emitter.count(), "close flushes events queued before start")
}

func TestDispatcherSwallowsEmitErrors(t *testing.T) {
	emitter := &fakeEmitter{err: errors.New("db down")}
	d, err := NewDispatcher(DispatcherParams{Outbox: emitter, DB: fakeTxRunner{}})
	require.NoError(t, err)
	d.Start(context.Background())

	assert.True(t, d.Enqueue(context.Background(), Event{Type: enums.EventDiscrepancyDetected, OrderID: "ORD-3"}))
	d.Close()
	assert.Equal(t, 0, emitter.count())
}

func TestNewDispatcherValidatesParams(t *testing.T) {
	_, err := NewDispatcher(DispatcherParams{DB: fakeTxRunner{}})
	assert.Error(t, err)
	_, err = NewDispatcher(DispatcherParams{Outbox: &fakeEmitter{}})
	assert.Error(t, err)
}
