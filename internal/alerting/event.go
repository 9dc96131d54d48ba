package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/originsmart/facility-monitor/internal/errors"
)

// FieldChanged is published by ingestion after a device reading is stored.
type FieldChanged struct {
	DeviceID  uint
	DeviceOEM string
	Field     string
	// OldValue is nil when the device had no previous reading.
	OldValue *float64
	NewValue float64
	At       time.Time
}

// FieldChangedHandler processes one event. Handlers run on the bus worker
// and must not block for long.
type FieldChangedHandler func(event FieldChanged)

// ErrBusStopped is returned by Publish after Stop.
var ErrBusStopped = errors.NewStd("event bus stopped")

const (
	// eventBusBufferSize is the capacity of the async event channel.
	eventBusBufferSize = 1000
)

// EventBus is an async pub/sub for FieldChanged events. Publish waits for
// buffer space rather than dropping, so every stored reading reaches the
// dispatcher. Handlers run sequentially on one worker goroutine in publish
// order.
type EventBus struct {
	handlers map[uint64]FieldChangedHandler
	order    []uint64
	nextID   uint64
	mu       sync.RWMutex
	eventCh  chan FieldChanged
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	onPanic  func(recovered any)

	// pubMu orders sends against Stop: once stopped is set no send can
	// land in eventCh after the worker's final drain.
	pubMu   sync.RWMutex
	stopped bool
}

// NewEventBus creates a bus and starts its worker. onPanic, if non-nil, is
// told about recovered handler panics.
func NewEventBus(onPanic func(recovered any)) *EventBus {
	b := &EventBus{
		handlers: make(map[uint64]FieldChangedHandler),
		eventCh:  make(chan FieldChanged, eventBusBufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		onPanic:  onPanic,
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler and returns its subscription ID.
func (b *EventBus) Subscribe(handler FieldChangedHandler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = handler
	b.order = append(b.order, id)
	return id
}

// Unsubscribe removes a handler. Unknown IDs are ignored.
func (b *EventBus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[id]; !ok {
		return
	}
	delete(b.handlers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Subscribers returns the number of registered handlers.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Publish enqueues an event, waiting for buffer space if needed.
func (b *EventBus) Publish(ctx context.Context, event FieldChanged) error {
	b.pubMu.RLock()
	defer b.pubMu.RUnlock()
	if b.stopped {
		return ErrBusStopped
	}

	if event.At.IsZero() {
		event.At = time.Now()
	}

	// The worker keeps consuming until stopCh closes, which cannot happen
	// while this send holds the read lock.
	select {
	case b.eventCh <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued events and waits for the worker to exit. Safe to call
// multiple times.
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		b.pubMu.Lock()
		b.stopped = true
		b.pubMu.Unlock()
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *EventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(event FieldChanged) {
	b.mu.RLock()
	handlers := make([]FieldChangedHandler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall keeps a panicking handler from killing the worker.
func (b *EventBus) safeCall(handler FieldChangedHandler, event FieldChanged) {
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(r)
		}
	}()
	handler(event)
}
