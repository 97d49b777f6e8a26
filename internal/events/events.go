// Package events delivers account lifecycle notifications to external consumers
// (newsletter signup, referral attribution) without blocking authentication.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AccountCreated is emitted once per newly created account.
type AccountCreated struct {
	AccountID   string    `json:"account_id"`
	Kind        string    `json:"kind"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink handles a single event.
type Sink interface {
	Handle(ctx context.Context, ev AccountCreated) error
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ev AccountCreated)
}

// Dispatcher fans events out to sinks from a single worker fed by a bounded queue.
// A full queue drops the event with a warning.
type Dispatcher struct {
	log     *zap.Logger
	sinks   []Sink
	queue   chan AccountCreated
	timeout time.Duration

	onDrop func()

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher constructs a Dispatcher with a queue of size capacity.
func NewDispatcher(log *zap.Logger, capacity int, sinks ...Sink) *Dispatcher {
	if capacity <= 0 {
		capacity = 256
	}
	return &Dispatcher{
		log:     log,
		sinks:   sinks,
		queue:   make(chan AccountCreated, capacity),
		timeout: 5 * time.Second,
		onDrop:  func() {},
		done:    make(chan struct{}),
	}
}

// OnDrop registers a callback invoked for each dropped event. Must be called before Start.
func (d *Dispatcher) OnDrop(fn func()) { d.onDrop = fn }

// Publish enqueues ev without blocking.
func (d *Dispatcher) Publish(ev AccountCreated) {
	select {
	case d.queue <- ev:
	default:
		d.onDrop()
		d.log.Warn("event queue full, dropping", zap.String("account_id", ev.AccountID))
	}
}

// Start runs the worker until Close is called. Pending events are drained first.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		for ev := range d.queue {
			d.deliver(ev)
		}
	}()
}

// Close stops accepting events and waits for the worker to drain the queue.
// Publish must not be called after Close.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	<-d.done
}

func (d *Dispatcher) deliver(ev AccountCreated) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := s.Handle(ctx, ev); err != nil {
			d.log.Warn("event sink failed", zap.String("account_id", ev.AccountID), zap.Error(err))
		}
		cancel()
	}
}

// LogSink writes events to the structured log.
type LogSink struct{ Log *zap.Logger }

// Handle implements Sink.
func (s LogSink) Handle(_ context.Context, ev AccountCreated) error {
	s.Log.Info("account created",
		zap.String("account_id", ev.AccountID),
		zap.String("kind", ev.Kind),
		zap.String("display_name", ev.DisplayName),
		zap.String("referrer", ev.Referrer),
	)
	return nil
}
