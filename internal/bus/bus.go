// Package bus implements the in-process topic bus that connects the incident
// pipeline stages. Delivery is at-least-once from the handlers' point of view:
// the bus itself never drops or retries, but subscribers must tolerate
// redelivery because publishers may re-emit after a partial failure.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Message is implemented by every event payload. Topic routes the payload to
// its subscribers; payload types are fixed per topic so handlers can assert
// the concrete type without shape probing.
type Message interface {
	Topic() string
}

// Handler consumes a single delivery. Errors are logged by the bus and do not
// propagate to the publisher.
type Handler func(ctx context.Context, msg Message) error

type delivery struct {
	id  string
	msg Message
}

type subscriber struct {
	name string
	ch   chan delivery
}

// Bus is an in-process publish/subscribe dispatcher. Each subscriber runs on
// its own goroutine and receives events in publish order; one subscriber's
// failure or slowness never affects another topic's subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	log    *slog.Logger
	depth  int
	closed bool

	pendingMu sync.Mutex
	pending   int
	idle      *sync.Cond

	workers sync.WaitGroup
}

// New creates a Bus. queueDepth bounds each subscriber's in-flight backlog;
// Publish blocks once a subscriber falls that far behind.
func New(log *slog.Logger, queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	b := &Bus{
		subs:  make(map[string][]*subscriber),
		log:   log,
		depth: queueDepth,
	}
	b.idle = sync.NewCond(&b.pendingMu)
	return b
}

// Subscribe registers handler for topic under the given name (used in logs).
// Handlers registered after a publish do not receive earlier events.
func (b *Bus) Subscribe(topic, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.log.Warn("subscribe on closed bus ignored", "topic", topic, "subscriber", name)
		return
	}
	sub := &subscriber{name: name, ch: make(chan delivery, b.depth)}
	b.subs[topic] = append(b.subs[topic], sub)

	b.workers.Add(1)
	go b.run(topic, sub, h)
}

// Publish hands msg to every current subscriber of its topic. It returns once
// the event is accepted for dispatch, not once handlers complete.
//
// Publish blocks while a subscriber's backlog is at queueDepth, so a handler
// that publishes to its own topic can deadlock once its own backlog is full.
// Stage handlers only publish to downstream topics, which keeps the chain
// acyclic; anything else must pass a cancellable ctx, which is the only way
// out of a full-backlog wait.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus closed: dropped %s", msg.Topic())
	}

	d := delivery{id: uuid.NewString(), msg: msg}
	targets := b.subs[msg.Topic()]
	if len(targets) == 0 {
		b.log.Debug("no subscribers for topic", "topic", msg.Topic(), "event_id", d.id)
		return nil
	}

	for _, sub := range targets {
		b.track(1)
		select {
		case sub.ch <- d:
		case <-ctx.Done():
			b.track(-1)
			return ctx.Err()
		}
	}
	b.log.Debug("event published", "topic", msg.Topic(), "event_id", d.id, "subscribers", len(targets))
	return nil
}

// Drain blocks until every accepted delivery has been handled. Intended for
// graceful shutdown and for tests that need the pipeline to settle.
func (b *Bus) Drain() {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
}

// Close stops accepting publishes, drains outstanding deliveries, and stops
// all subscriber goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.mu.Unlock()

	b.workers.Wait()
}

func (b *Bus) run(topic string, sub *subscriber, h Handler) {
	defer b.workers.Done()
	for d := range sub.ch {
		b.dispatch(topic, sub.name, d, h)
	}
}

// dispatch invokes the handler with panic containment. A panicking or failing
// handler is logged and the bus moves on; nothing propagates to the publisher.
func (b *Bus) dispatch(topic, name string, d delivery, h Handler) {
	defer b.track(-1)
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", "topic", topic, "subscriber", name, "event_id", d.id, "panic", r)
		}
	}()
	if err := h(context.Background(), d.msg); err != nil {
		b.log.Error("subscriber failed", "topic", topic, "subscriber", name, "event_id", d.id, "err", err)
	}
}

func (b *Bus) track(n int) {
	b.pendingMu.Lock()
	b.pending += n
	if b.pending == 0 {
		b.idle.Broadcast()
	}
	b.pendingMu.Unlock()
}
