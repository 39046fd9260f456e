package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const (
	defaultQueueWorkers = 2
	defaultQueueSize    = 256
)

var errMissingHandler = errors.New("notify: queue handler is required")

// Handler processes one dequeued event.
type Handler interface {
	Dispatch(ctx context.Context, event Event) []Outcome
}

// QueueConfig describes a notification work queue.
type QueueConfig struct {
	Handler  Handler
	Workers  int
	Size     int
	Observer Observer
	Logger   *zap.Logger
}

// Queue is a bounded in-memory buffer of events consumed by a fixed worker
// pool. Events are not persisted; anything still buffered when the process
// exits is lost.
type Queue struct {
	handler  Handler
	workers  int
	observer Observer
	logger   *zap.Logger

	events chan Event

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue constructs a stopped queue; call Start to launch the workers.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Handler == nil {
		return nil, errMissingHandler
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultQueueWorkers
	}
	size := cfg.Size
	if size <= 0 {
		size = defaultQueueSize
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Queue{
		handler:  cfg.Handler,
		workers:  workers,
		observer: observer,
		logger:   logger,
		events:   make(chan Event, size),
	}, nil
}

// Start launches the workers. Workers stop when ctx is cancelled or after
// Stop drains the buffer. Calling Start more than once has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for index := 0; index < q.workers; index++ {
		q.wg.Add(1)
		go q.work(ctx, index)
	}
}

// Enqueue buffers event without blocking. It reports false, logging a
// warning and counting the drop, when the queue is full or stopped.
func (q *Queue) Enqueue(event Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(event, "queue stopped")
		return false
	}
	select {
	case q.events <- event:
		return true
	default:
		q.drop(event, "queue full")
		return false
	}
}

// Stop rejects further events, lets the workers drain what is buffered and
// waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context, worker int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-q.events:
			if !ok {
				return
			}
			q.handle(ctx, worker, event)
		}
	}
}

func (q *Queue) handle(ctx context.Context, worker int, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			q.logger.Error("notification worker recovered from panic",
				zap.Int("worker", worker),
				zap.Uint("space_id", event.SpaceID),
				zap.Any("panic", recovered),
			)
		}
	}()
	q.handler.Dispatch(ctx, event)
}

func (q *Queue) drop(event Event, reason string) {
	q.observer.NotificationDropped()
	q.logger.Warn("notification event dropped",
		zap.String("reason", reason),
		zap.Uint("space_id", event.SpaceID),
		zap.String("category", event.Category),
	)
}
