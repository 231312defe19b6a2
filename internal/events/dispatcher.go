package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/metrics"
)

const deliveryTimeout = 5 * time.Second

// Dispatcher queues events on a buffered channel and delivers them to every
// sink from a single worker goroutine.
type Dispatcher struct {
	queue  chan Event
	sinks  []Sink
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewDispatcher creates a dispatcher. Call Start before publishing.
func NewDispatcher(logger *zap.Logger, bufferSize int, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Dispatcher{
		queue:  make(chan Event, bufferSize),
		sinks:  sinks,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

// Publish enqueues an event. It never blocks: when the queue is full or the
// dispatcher is closed the event is dropped and counted.
func (d *Dispatcher) Publish(_ context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
		return
	}

	select {
	case d.queue <- event:
	default:
		metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
		d.logger.Warn("Event queue full, dropping event",
			zap.String("event_id", event.ID.String()),
			zap.String("type", string(event.Type)))
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
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

	if started {
		<-d.done
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := sink.Deliver(ctx, event)
		cancel()
		if err != nil {
			metrics.EventDeliveryFailures.WithLabelValues(sink.Name()).Inc()
			d.logger.Warn("Event delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_id", event.ID.String()),
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}
}
