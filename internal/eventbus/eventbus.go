// Package eventbus is the in-process publish/subscribe fan-out used for
// dashboard pushes and cross-component notifications within a single
// process. It MUST NOT be used for cross-process coordination — that is
// internal/broker's job.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is a typed payload published on a topic string.
type Event struct {
	Topic   string
	Payload interface{}
	Time    time.Time
}

// subscriber is a single registered receiver: a buffered channel plus the
// name it registered under, kept for logging when it gets dropped.
type subscriber struct {
	name string
	ch   chan Event
}

// Bus is a best-effort, fan-out publish/subscribe hub. Slow subscribers are
// dropped (with a warning) rather than allowed to block publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	bufferSize  int
	logger      *slog.Logger
}

// New constructs a Bus with the given per-subscriber channel buffer size.
func New(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers name to receive events published on topic. The
// returned channel is closed when Unsubscribe is called; callers must drain
// it in a loop, not a single receive.
func (b *Bus) Subscribe(topic, name string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{name: name, ch: make(chan Event, b.bufferSize)}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	return sub.ch
}

// Unsubscribe removes name from topic's subscriber list and closes its
// channel. A no-op if name was never subscribed.
func (b *Bus) Unsubscribe(topic, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.name == name {
			close(s.ch)
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish fans payload out to every subscriber of topic. A subscriber whose
// buffer is full is dropped (its channel closed) rather than blocking this
// call — internal/broker is the place for backpressure-aware delivery, not
// this bus.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	evt := Event{Topic: topic, Payload: payload, Time: time.Now()}

	var dropped []string
	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
			dropped = append(dropped, s.name)
		}
	}

	if len(dropped) > 0 {
		b.mu.Lock()
		for _, name := range dropped {
			remaining := b.subscribers[topic][:0]
			for _, s := range b.subscribers[topic] {
				if s.name == name {
					close(s.ch)
					b.logger.Warn("eventbus: dropping slow subscriber", "topic", topic, "subscriber", name)
					continue
				}
				remaining = append(remaining, s)
			}
			b.subscribers[topic] = remaining
		}
		b.mu.Unlock()
	}
}

// SubscriberCount reports how many subscribers a topic currently has, for
// tests and health reporting.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
