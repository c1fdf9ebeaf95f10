package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
	"github.com/angelmondragon/digistore-backend/pkg/outbox"
	"gorm.io/gorm"
)

const (
	defaultQueueLen = 256
	defaultWorkers  = 2
	emitTimeout     = 5 * time.Second
)

// Event is a best-effort notification about an order.
type Event struct {
	Type       enums.OutboxEventType
	OrderID    string
	Actor      enums.AuditActor
	Data       any
	OccurredAt time.Time
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DispatcherParams wires the dispatcher dependencies.
type DispatcherParams struct {
	Outbox   emitter
	DB       txRunner
	Logger   *logger.Logger
	QueueLen int
	Workers  int
}

// Dispatcher buffers notifications in memory and persists them to the
// outbox from background workers. Enqueue never blocks: when the queue is
// full the notification is dropped and logged.
type Dispatcher struct {
	outbox  emitter
	db      txRunner
	logg    *logger.Logger
	queue   chan Event
	workers int

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher validates params and builds an idle dispatcher.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	if params.DB == nil {
		return nil, errors.New("db runner required")
	}
	queueLen := params.QueueLen
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	workers := params.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Dispatcher{
		outbox:  params.Outbox,
		db:      params.DB,
		logg:    params.Logger,
		queue:   make(chan Event, queueLen),
		workers: workers,
	}, nil
}

// Start launches the workers. They stop once Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(context.WithoutCancel(ctx))
	}
}

// Enqueue hands the event to the workers and reports whether it was accepted.
func (d *Dispatcher) Enqueue(ctx context.Context, event Event) bool {
	if d == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	select {
	case d.queue <- event:
		return true
	default:
		return false
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		// nobody will drain the queue; flush inline
		for event := range d.queue {
			d.write(context.Background(), event)
		}
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for event := range d.queue {
		d.write(ctx, event)
	}
}

func (d *Dispatcher) write(ctx context.Context, event Event) {
	writeCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()

	err := d.db.WithTx(writeCtx, func(tx *gorm.DB) error {
		return d.outbox.Emit(writeCtx, tx, toDomainEvent(event))
	})
	if err != nil && d.logg != nil {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"order_id":   event.OrderID,
			"event_type": event.Type,
		})
		d.logg.Error(logCtx, "notification outbox write failed", fmt.Errorf("emit %s: %w", event.Type, err))
	}
}

func toDomainEvent(event Event) outbox.DomainEvent {
	var actor *outbox.ActorRef
	if event.Actor != "" {
		actor = &outbox.ActorRef{ID: string(event.Actor)}
	}
	return outbox.DomainEvent{
		EventType:     event.Type,
		AggregateType: enums.AggregateOrder,
		AggregateID:   event.OrderID,
		Actor:         actor,
		Data:          event.Data,
		Version:       1,
		OccurredAt:    event.OccurredAt,
	}
}
