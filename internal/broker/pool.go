// Package broker owns the single AMQP connection and the pool of logical,
// purpose-scoped channels leased out to every other component. No caller
// outside this package ever talks to amqp091-go directly.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/observability"
)

// Lease is a checked-out, purpose-scoped handle on a broker channel. Callers
// MUST call Release exactly once, on every exit path.
type Lease struct {
	purpose string
	channel *amqp.Channel
	pool    *Pool
}

// Channel returns the underlying amqp091-go channel for operations Pool
// itself does not wrap directly (e.g. QueueBind during topology setup).
func (l *Lease) Channel() *amqp.Channel {
	return l.channel
}

// channelSlot is the pool's bookkeeping for one purpose: the live channel
// (nil while disconnected) and a mutex enforcing "at most one concurrent
// checkout per purpose" — the rest of the contention queues on this lock.
type channelSlot struct {
	mu      sync.Mutex
	channel *amqp.Channel
}

// Pool owns one AMQP connection and a set of purpose-keyed channel slots. It
// reconnects with exponential backoff behind a circuit breaker so a
// persistently unreachable broker fails fast instead of hammering the dial.
type Pool struct {
	url    string
	logger *slog.Logger
	trace  *observability.TraceManager
	metrics *observability.MetricsManager

	mu      sync.RWMutex
	conn    *amqp.Connection
	slots   map[string]*channelSlot
	closed  chan *amqp.Error

	breaker *gobreaker.CircuitBreaker

	reconnecting bool
	reconnectMu  sync.Mutex

	hooksMu sync.Mutex
	hooks   map[int]func()
	nextHookID int
}

// Config parameterizes reconnect behavior; zero values fall back to the
// spec's defaults (min 1s, cap 30s, jitter +-20%).
type Config struct {
	URL          string
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	JitterFrac   float64
	BreakerName  string
}

func (c Config) withDefaults() Config {
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.JitterFrac <= 0 {
		c.JitterFrac = 0.2
	}
	if c.BreakerName == "" {
		c.BreakerName = "broker-dial"
	}
	return c
}

// ErrBrokerUnavailable is returned by Acquire/Publish when the circuit
// breaker has opened or the connection is mid-reconnect.
var ErrBrokerUnavailable = vsmerrors.New(vsmerrors.Unavailable, "broker.dial", fmt.Errorf("broker unavailable"))

// New dials the broker and returns a Pool ready to hand out leases. It wraps
// connection attempts in a gobreaker.CircuitBreaker so sustained broker
// outages stop retrying a dial that will only fail.
func New(cfg Config, logger *slog.Logger, trace *observability.TraceManager, metrics *observability.MetricsManager) (*Pool, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		url:     cfg.URL,
		logger:  logger,
		trace:   trace,
		metrics: metrics,
		slots:   make(map[string]*channelSlot),
		hooks:   make(map[int]func()),
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.MaxBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	if err := p.dial(); err != nil {
		return nil, err
	}

	go p.watchClose(cfg)

	return p, nil
}

func (p *Pool) dial() error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			if p.metrics != nil {
				p.metrics.IncrementBrokerConnectionErrors(context.Background())
			}
			return nil, err
		}
		p.mu.Lock()
		p.conn = conn
		p.closed = conn.NotifyClose(make(chan *amqp.Error, 1))
		p.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return vsmerrors.New(vsmerrors.Unavailable, "broker.dial", err)
	}
	return nil
}

// watchClose waits for the connection to drop and reconnects with
// exponential backoff and jitter. All leases outstanding at the moment of
// disconnection are invalidated; callers discover this on their next
// Acquire/Publish call as ErrBrokerUnavailable until reconnect completes.
func (p *Pool) watchClose(cfg Config) {
	for {
		p.mu.RLock()
		closed := p.closed
		p.mu.RUnlock()
		if closed == nil {
			return
		}
		_, ok := <-closed
		if !ok {
			return
		}

		p.reconnectMu.Lock()
		p.reconnecting = true
		p.reconnectMu.Unlock()

		p.invalidateSlots()

		backoff := cfg.MinBackoff
		for {
			if p.metrics != nil {
				p.metrics.IncrementBrokerReconnects(context.Background())
			}
			if err := p.dial(); err == nil {
				p.logger.Info("broker reconnected")
				break
			}
			jitter := 1 + (rand.Float64()*2-1)*cfg.JitterFrac
			sleep := time.Duration(float64(backoff) * jitter)
			p.logger.Warn("broker reconnect failed, backing off", "sleep", sleep)
			time.Sleep(sleep)
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		p.reconnectMu.Lock()
		p.reconnecting = false
		p.reconnectMu.Unlock()

		p.notifyReconnect()
	}
}

// OnReconnect registers fn to run, in its own goroutine, every time the pool
// re-establishes its connection after a drop. Long-lived consumers (agents,
// the coordinator's routed-command and algedonic consumers) use this to
// re-acquire their lease and re-issue Consume, since invalidateSlots only
// clears the stale channel and never resubscribes on their behalf. Returns
// an unregister func the caller must call once it stops consuming.
func (p *Pool) OnReconnect(fn func()) (unregister func()) {
	p.hooksMu.Lock()
	id := p.nextHookID
	p.nextHookID++
	p.hooks[id] = fn
	p.hooksMu.Unlock()

	return func() {
		p.hooksMu.Lock()
		delete(p.hooks, id)
		p.hooksMu.Unlock()
	}
}

func (p *Pool) notifyReconnect() {
	p.hooksMu.Lock()
	fns := make([]func(), 0, len(p.hooks))
	for _, fn := range p.hooks {
		fns = append(fns, fn)
	}
	p.hooksMu.Unlock()
	for _, fn := range fns {
		go fn()
	}
}

func (p *Pool) invalidateSlots() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for purpose, slot := range p.slots {
		slot.mu.Lock()
		slot.channel = nil
		slot.mu.Unlock()
		p.logger.Warn("invalidating channel lease on reconnect", "purpose", purpose)
	}
}

func (p *Pool) isReconnecting() bool {
	p.reconnectMu.Lock()
	defer p.reconnectMu.Unlock()
	return p.reconnecting
}

func (p *Pool) slotFor(purpose string) *channelSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.slots[purpose]
	if !ok {
		slot = &channelSlot{}
		p.slots[purpose] = slot
	}
	return slot
}

// Acquire returns a Lease bound to purpose. At most one concurrent checkout
// per purpose is allowed; additional callers block on slot.mu until
// Release, or until ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context, purpose string) (*Lease, error) {
	if p.isReconnecting() {
		return nil, ErrBrokerUnavailable
	}

	slot := p.slotFor(purpose)

	locked := make(chan struct{})
	go func() {
		slot.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		// The waiting goroutine still takes the lock eventually; hand it
		// straight back so an abandoned acquisition does not hold the
		// purpose forever.
		go func() {
			<-locked
			slot.mu.Unlock()
		}()
		return nil, vsmerrors.New(vsmerrors.Timeout, "broker.acquire", ctx.Err())
	}

	if slot.channel == nil {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn == nil {
			slot.mu.Unlock()
			return nil, ErrBrokerUnavailable
		}
		ch, err := conn.Channel()
		if err != nil {
			slot.mu.Unlock()
			return nil, vsmerrors.New(vsmerrors.Transport, "broker.acquire", err)
		}
		slot.channel = ch
	}

	return &Lease{purpose: purpose, channel: slot.channel, pool: p}, nil
}

// Release returns the lease's channel to the pool, unblocking the next
// queued Acquire for the same purpose.
func (p *Pool) Release(l *Lease) {
	if l == nil {
		return
	}
	slot := p.slotFor(l.purpose)
	slot.mu.Unlock()
}

// Publish publishes body on exchange/routingKey using lease's channel.
func (p *Pool) Publish(ctx context.Context, l *Lease, exchange, routingKey string, body []byte, props amqp.Publishing) error {
	if l == nil || l.channel == nil {
		return ErrBrokerUnavailable
	}
	props.Body = body
	err := l.channel.PublishWithContext(ctx, exchange, routingKey, false, false, props)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncrementBrokerConnectionErrors(ctx)
		}
		return vsmerrors.New(vsmerrors.Transport, "broker.publish", err)
	}
	return nil
}

// Consume installs a delivery callback on lease's channel for queue. handler
// MUST ack or nack every delivery it receives.
func (p *Pool) Consume(l *Lease, queue, consumerTag string, handler func(amqp.Delivery)) error {
	if l == nil || l.channel == nil {
		return ErrBrokerUnavailable
	}
	deliveries, err := l.channel.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return vsmerrors.New(vsmerrors.Transport, "broker.consume", err)
	}
	go func() {
		for d := range deliveries {
			handler(d)
		}
	}()
	return nil
}

// Stats is a point-in-time snapshot of pool usage for the health checker and
// Prometheus gauges.
type Stats struct {
	PurposesInUse int
	Reconnecting  bool
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	n := len(p.slots)
	p.mu.RUnlock()
	return Stats{PurposesInUse: n, Reconnecting: p.isReconnecting()}
}

// Ping reports whether the pool currently holds a live connection, for use
// as an observability.HealthChecker probe.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("broker connection not established")
	}
	return nil
}

// Close tears down the pool's connection. Outstanding leases become invalid.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
