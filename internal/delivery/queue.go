package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/digistore-backend/pkg/db/models"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

const (
	defaultQueueLen   = 256
	defaultWorkers    = 4
	defaultSweepGrace = 30 * time.Second
	sweepBatch        = 100
)

type deliverer interface {
	Deliver(ctx context.Context, req Request) (*Result, error)
}

type awaitingLister interface {
	ListAwaitingDelivery(ctx context.Context, paidBefore, staleBefore time.Time, limit int) ([]models.Order, error)
}

// QueueParams wires the queue.
type QueueParams struct {
	Dispatcher deliverer
	Orders     awaitingLister
	Logger     *logger.Logger
	QueueLen   int
	Workers    int
	// SweepEvery enables the periodic re-queue of stuck orders when positive.
	SweepEvery time.Duration
	// SweepGrace is how long a paid order may wait before the sweeper
	// considers its delivery lost.
	SweepGrace time.Duration
	StaleClaim time.Duration
	Now        func() time.Time
}

// Queue runs webhook-triggered deliveries off the request path. A request
// dropped because the queue is full, or lost with the process, is picked up
// again by the sweeper; the dispatcher's claim keeps that at most once.
type Queue struct {
	dispatcher deliverer
	orders     awaitingLister
	logg       *logger.Logger
	queue      chan Request
	workers    int
	sweepEvery time.Duration
	sweepGrace time.Duration
	staleClaim time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewQueue(p QueueParams) (*Queue, error) {
	if p.Dispatcher == nil {
		return nil, errors.New("delivery dispatcher required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger required")
	}
	if p.SweepEvery > 0 && p.Orders == nil {
		return nil, errors.New("orders repository required for sweeping")
	}
	queueLen := p.QueueLen
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	workers := p.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	grace := p.SweepGrace
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	stale := p.StaleClaim
	if stale <= 0 {
		stale = defaultStaleClaim
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{
		dispatcher: p.Dispatcher,
		orders:     p.Orders,
		logg:       p.Logger,
		queue:      make(chan Request, queueLen),
		workers:    workers,
		sweepEvery: p.SweepEvery,
		sweepGrace: grace,
		staleClaim: stale,
		now:        now,
		pending:    make(map[string]struct{}),
		stop:       make(chan struct{}),
	}, nil
}

// Start launches the workers and, when configured, the sweeper.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	if q.sweepEvery > 0 {
		q.wg.Add(1)
		go q.sweepLoop(ctx)
	}
}

// Enqueue reports whether the request was accepted. A request for an order
// that is already queued counts as accepted.
func (q *Queue) Enqueue(ctx context.Context, req Request) bool {
	if q == nil || req.OrderID == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if _, queued := q.pending[req.OrderID]; queued {
		return true
	}
	select {
	case q.queue <- req:
		q.pending[req.OrderID] = struct{}{}
		return true
	default:
		q.logg.Warn(q.logg.WithField(ctx, "order_id", req.OrderID), "delivery queue full, leaving order to the sweeper")
		return false
	}
}

// Sweep queues paid orders whose delivery never started or whose claim
// went stale, and returns how many were accepted.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	if q.orders == nil {
		return 0, nil
	}
	now := q.now()
	rows, err := q.orders.ListAwaitingDelivery(ctx, now.Add(-q.sweepGrace), now.Add(-q.staleClaim), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list orders awaiting delivery: %w", err)
	}
	accepted := 0
	for _, row := range rows {
		if q.Enqueue(ctx, Request{OrderID: row.OrderID, Trigger: enums.DeliveryTriggerWebhook, Actor: enums.ActorSystem}) {
			accepted++
		}
	}
	if accepted > 0 {
		q.logg.Info(q.logg.WithField(ctx, "orders", accepted), "requeued orders awaiting delivery")
	}
	return accepted, nil
}

// Close stops intake and waits for queued deliveries to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.stop)
	close(q.queue)
	started := q.started
	q.mu.Unlock()

	if !started {
		return
	}
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for req := range q.queue {
		q.mu.Lock()
		delete(q.pending, req.OrderID)
		q.mu.Unlock()

		logCtx := q.logg.WithFields(ctx, map[string]any{"order_id": req.OrderID, "trigger": req.Trigger})
		result, err := q.dispatcher.Deliver(ctx, req)
		if err != nil {
			q.logg.Error(logCtx, "queued delivery failed", err)
			continue
		}
		if !result.Success {
			q.logg.Warn(q.logg.WithField(logCtx, "delivery_status", result.Status), "queued delivery did not complete")
		}
	}
}

func (q *Queue) sweepLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			if _, err := q.Sweep(ctx); err != nil {
				q.logg.Error(ctx, "delivery sweep failed", err)
			}
		}
	}
}
