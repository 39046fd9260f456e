package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type blockingHandler struct {
	release chan struct{}
	mu      sync.Mutex
	handled []Event
}

func (h *blockingHandler) Dispatch(_ context.Context, event Event) []Outcome {
	<-h.release
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return nil
}

func (h *blockingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

type dropCounter struct {
	noopObserver
	mu    sync.Mutex
	drops int
}

func (c *dropCounter) NotificationDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops++
}

func TestQueueDropsWhenFullWithoutBlocking(t *testing.T) {
	handler := &blockingHandler{release: make(chan struct{})}
	counter := &dropCounter{}
	core, logs := observer.New(zapcore.WarnLevel)
	queue, err := NewQueue(QueueConfig{Handler: handler, Workers: 1, Size: 1, Observer: counter, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	// No workers yet, so the buffer holds exactly one event.
	if !queue.Enqueue(Event{SpaceID: 1, Category: CategoryChat}) {
		t.Fatalf("expected first event to be buffered")
	}
	done := make(chan bool, 1)
	go func() { done <- queue.Enqueue(Event{SpaceID: 2, Category: CategoryChat}) }()
	select {
	case accepted := <-done:
		if accepted {
			t.Fatalf("expected overflow event to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a full queue")
	}
	if counter.drops != 1 {
		t.Fatalf("expected one counted drop, got %d", counter.drops)
	}
	if logs.FilterMessage("notification event dropped").Len() != 1 {
		t.Fatalf("expected a warning for the dropped event")
	}

	queue.Start(context.Background())
	close(handler.release)
	queue.Stop()
	if handler.count() != 1 {
		t.Fatalf("expected buffered event to be drained on stop, got %d", handler.count())
	}
	if queue.Enqueue(Event{SpaceID: 3, Category: CategoryChat}) {
		t.Fatalf("expected stopped queue to reject events")
	}
	if counter.drops != 2 {
		t.Fatalf("expected the rejected event to be counted, got %d", counter.drops)
	}
}

func TestQueueWorkersProcessConcurrently(t *testing.T) {
	handler := &blockingHandler{release: make(chan struct{})}
	queue, err := NewQueue(QueueConfig{Handler: handler, Workers: 4, Size: 16})
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	for index := 0; index < 8; index++ {
		if !queue.Enqueue(Event{SpaceID: uint(index), Category: CategoryChat}) {
			t.Fatalf("expected event %d to be accepted", index)
		}
	}
	close(handler.release)
	queue.Stop()
	if handler.count() != 8 {
		t.Fatalf("expected all events handled, got %d", handler.count())
	}
}

func TestNewQueueRequiresHandler(t *testing.T) {
	if _, err := NewQueue(QueueConfig{}); err == nil {
		t.Fatalf("expected missing handler to be rejected")
	}
}
