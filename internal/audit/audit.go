// Package audit implements the level-3* bypass channel: direct,
// coordination-free inspection calls to level-1 agents, using the same
// broker RPC pattern (reply queue, correlation id, deadline) as the rest
// of the control plane, with a circuit breaker per target so one wedged
// agent cannot stall every future audit call.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/cyberviable/vsm/internal/broker"
	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/observability"
)

const (
	bypassHeader    = "audit-bypass"
	requesterHeader = "x-requester"
	defaultDeadline = 5 * time.Second
	responseQueue   = "vsm.audit.responses"
)

// Reply is one target's answer to an audit request.
type Reply struct {
	Target  string
	Payload map[string]interface{}
	Err     error
}

// Channel is the single entry point for audit calls. It never delays for
// the Coordinator — every publish carries the bypass header the agent
// runtime contract recognizes and answers without awaiting a coordination
// token.
type Channel struct {
	pool   *broker.Pool
	logger *slog.Logger
	trace  *observability.TraceManager
	metrics *observability.MetricsManager
	deadline time.Duration

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
}

// New constructs a Channel. deadline defaults to 5s if zero.
func New(pool *broker.Pool, deadline time.Duration, logger *slog.Logger, trace *observability.TraceManager, metrics *observability.MetricsManager) *Channel {
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		pool:     pool,
		logger:   logger,
		trace:    trace,
		metrics:  metrics,
		deadline: deadline,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Channel) breakerFor(target string) *gobreaker.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if b, ok := c.breakers[target]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit:" + target,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[target] = b
	return b
}

// SendAudit publishes an inspection request to target's command queue with
// the bypass header and waits up to the configured deadline for a reply on a
// private per-call reply queue. Audit operations never modify state —
// callers are expected to only send read-style operations.
func (c *Channel) SendAudit(ctx context.Context, target, operation string, params map[string]interface{}) (map[string]interface{}, error) {
	breaker := c.breakerFor(target)
	result, err := breaker.Execute(func() (interface{}, error) {
		return c.sendOnce(ctx, target, operation, params)
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncrementAllocationDenied(ctx, "audit_failed")
		}
		return nil, err
	}
	return result.(map[string]interface{}), nil
}

func (c *Channel) sendOnce(ctx context.Context, target, operation string, params map[string]interface{}) (map[string]interface{}, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	lease, err := c.pool.Acquire(deadlineCtx, "audit")
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(lease)

	correlationID := uuid.NewString()
	body, err := json.Marshal(map[string]interface{}{
		"operation":      operation,
		"params":         params,
		"correlation_id": correlationID,
	})
	if err != nil {
		return nil, vsmerrors.New(vsmerrors.Internal, "audit.send", err)
	}

	ch := lease.Channel()
	// A private, exclusive, auto-delete reply queue per call, same idiom as
	// rpc.Router.Call: the "audit" purpose's channel is reused across calls,
	// so a static queue with a long-lived exclusive consumer would make the
	// second SendAudit in the process's lifetime fail to add a second
	// exclusive consumer and wedge the channel for every call after it.
	replyQueue := responseQueue + "." + correlationID
	if _, err := ch.QueueDeclare(replyQueue, false, true, true, false, nil); err != nil {
		return nil, vsmerrors.New(vsmerrors.Transport, "audit.send", err)
	}
	deliveries, err := ch.Consume(replyQueue, "", true, true, false, false, nil)
	if err != nil {
		return nil, vsmerrors.New(vsmerrors.Transport, "audit.send", err)
	}

	routingKey := fmt.Sprintf("vsm.s1.%s.command", target)
	if err := c.pool.Publish(deadlineCtx, lease, "vsm.audit", routingKey, body, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       replyQueue,
		Headers: amqp.Table{
			bypassHeader:    true,
			requesterHeader: "system3",
		},
	}); err != nil {
		return nil, err
	}

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, vsmerrors.New(vsmerrors.Transport, "audit.send", fmt.Errorf("delivery channel closed"))
		}
		if d.CorrelationId != correlationID {
			return nil, vsmerrors.New(vsmerrors.Internal, "audit.send", fmt.Errorf("correlation mismatch"))
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			return nil, vsmerrors.New(vsmerrors.Internal, "audit.send", err)
		}
		if c.metrics != nil {
			c.metrics.IncrementEventsProcessed(ctx, "audit.complete", target, true)
		}
		return payload, nil
	case <-deadlineCtx.Done():
		if c.metrics != nil {
			c.metrics.IncrementEventsProcessed(ctx, "audit.timeout", target, false)
		}
		return nil, vsmerrors.New(vsmerrors.Timeout, "audit.send", deadlineCtx.Err())
	}
}

// BulkAudit fans SendAudit out to every target concurrently, aggregating
// replies under the same deadline; a target that times out or fails is
// represented by a Reply carrying a non-nil Err rather than aborting the
// whole batch.
func (c *Channel) BulkAudit(ctx context.Context, targets []string, operation string, params map[string]interface{}) []Reply {
	replies := make([]Reply, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			payload, err := c.SendAudit(ctx, target, operation, params)
			replies[i] = Reply{Target: target, Payload: payload, Err: err}
		}(i, target)
	}
	wg.Wait()
	return replies
}
