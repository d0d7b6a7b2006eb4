// Package coordinator implements the level-2 control plane component:
// dampening oscillation between level-1 contexts and synchronizing shared
// state across them, using a mutex-guarded state owner that evaluates one
// caller-supplied window of metric readings per DetectOscillation call.
package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cyberviable/vsm/internal/broker"
	"github.com/cyberviable/vsm/internal/eventbus"
)

// Decision is CoordinateMessage's verdict for one inter-context message.
type Decision string

const (
	Allow Decision = "allow"
	Delay Decision = "delay"
	Block Decision = "block"
)

// Outcome pairs a Decision with its parameters (delay duration or block
// reason), since only one of the two ever applies.
type Outcome struct {
	Decision Decision
	DelayFor time.Duration
	Reason   string
}

// state is the damping state machine's current phase.
type state int

const (
	stateStable state = iota
	stateWarning
	stateDamping
)

const (
	defaultWindow       = 30 * time.Second
	defaultThresholdF   = 3
	dampingFactor       = 1.5
	dampingCap          = 10 * time.Second
	dampingFloor        = 100 * time.Millisecond
	quietWindowsToCalm  = 2
)

// Coordinator is the single-writer owner of the oscillation state machine
// and current damping delay for one metric stream. Each DetectOscillation
// call evaluates one discrete window tick — the caller (typically a
// ticker loop fed by the internal event bus) is responsible for batching
// metric_stream readings into window-sized slices.
type Coordinator struct {
	pool   *broker.Pool
	bus    *eventbus.Bus
	logger *slog.Logger

	window     time.Duration
	thresholdF int

	mu          sync.Mutex
	st          state
	delay       time.Duration
	quietStreak int
}

// New constructs a Coordinator. window/thresholdF default to 30s/3 per the
// spec if zero values are passed.
func New(pool *broker.Pool, bus *eventbus.Bus, window time.Duration, thresholdF int, logger *slog.Logger) *Coordinator {
	if window <= 0 {
		window = defaultWindow
	}
	if thresholdF <= 0 {
		thresholdF = defaultThresholdF
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		pool:       pool,
		bus:        bus,
		logger:     logger,
		window:     window,
		thresholdF: thresholdF,
		st:         stateStable,
	}
}

// CoordinateMessage decides whether to allow, delay, or block one message
// from one context to another. Audit-bypass commands should never reach
// this call — the audit channel routes around the Coordinator entirely.
func (c *Coordinator) CoordinateMessage(ctx context.Context, from, to string, msg map[string]interface{}) Outcome {
	c.mu.Lock()
	st := c.st
	delay := c.delay
	c.mu.Unlock()

	switch st {
	case stateDamping:
		return Outcome{Decision: Delay, DelayFor: delay}
	case stateWarning:
		return Outcome{Decision: Allow}
	default:
		return Outcome{Decision: Allow}
	}
}

// DetectOscillation evaluates one window's worth of metric_stream readings:
// counts zero-crossings of the derivative within the window, and advances
// the damping state machine by exactly one tick.
func (c *Coordinator) DetectOscillation(ctx context.Context, window []float64) {
	crossings := zeroCrossings(window)
	oscillating := crossings > c.thresholdF

	c.mu.Lock()

	switch c.st {
	case stateStable:
		if oscillating {
			c.st = stateWarning
			c.quietStreak = 0
		}
	case stateWarning:
		if oscillating {
			c.st = stateDamping
			c.delay = dampingFloor
			c.quietStreak = 0
		} else {
			c.st = stateStable
		}
	case stateDamping:
		if oscillating {
			c.delay = time.Duration(float64(c.delay) * dampingFactor)
			if c.delay > dampingCap {
				c.delay = dampingCap
			}
			c.quietStreak = 0
		} else {
			c.quietStreak++
			if c.quietStreak >= quietWindowsToCalm {
				c.st = stateStable
				c.delay = 0
				c.quietStreak = 0
			} else {
				// Shrink additively while waiting out the quiet streak.
				c.delay -= dampingFloor
				if c.delay < 0 {
					c.delay = 0
				}
			}
		}
	}
	detected := oscillating && c.st != stateStable
	c.mu.Unlock()

	if detected {
		c.logger.Warn("coordinator: oscillation detected", "crossings", crossings, "threshold", c.thresholdF)
		if c.bus != nil {
			c.bus.Publish("vsm.coordinator.events", map[string]interface{}{
				"event":     "oscillation_detected",
				"crossings": crossings,
			})
		}
	}
}

// zeroCrossings counts sign changes in the discrete derivative of the
// value sequence.
func zeroCrossings(values []float64) int {
	if len(values) < 3 {
		return 0
	}
	crossings := 0
	prevSign := 0
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		sign := 0
		switch {
		case d > 0:
			sign = 1
		case d < 0:
			sign = -1
		}
		if sign != 0 && prevSign != 0 && sign != prevSign {
			crossings++
		}
		if sign != 0 {
			prevSign = sign
		}
	}
	return crossings
}

// State reports the coordinator's current phase, for health/status
// reporting.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.st {
	case stateWarning:
		return "warning"
	case stateDamping:
		return "damping"
	default:
		return "stable"
	}
}

// BroadcastSync publishes payload on the internal event bus under topic and
// on vsm.intelligence with routing key coord.<topic>.
func (c *Coordinator) BroadcastSync(ctx context.Context, topic string, payload map[string]interface{}) error {
	if c.bus != nil {
		c.bus.Publish(topic, payload)
	}
	if c.pool == nil {
		return nil
	}

	lease, err := c.pool.Acquire(ctx, "coordinator")
	if err != nil {
		return err
	}
	defer c.pool.Release(lease)

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.pool.Publish(ctx, lease, "vsm.intelligence", "coord."+topic, body, amqp.Publishing{
		ContentType: "application/json",
	})
}
