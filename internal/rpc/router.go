// Package rpc implements the request/response pattern over the broker:
// correlation IDs, private reply queues, a single reaper that resolves
// timeouts, and a local handler table for commands a process consumes
// itself.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cyberviable/vsm/internal/broker"
	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/observability"
	"github.com/cyberviable/vsm/internal/types"
)

// HandlerFunc processes a Command consumed by this process and returns the
// Result to publish back, or an error the caller converts to an error
// Result (kind=internal) without killing the consumer loop.
type HandlerFunc func(ctx context.Context, cmd types.Command) (types.Result, error)

// ErrHandlerExists is returned by RegisterHandler when a handler is already
// registered for the given command type; first registered wins.
var ErrHandlerExists = vsmerrors.New(vsmerrors.AlreadyRegistered, "rpc.register_handler", fmt.Errorf("handler already registered"))

type pendingCall struct {
	resultCh chan types.Result
	deadline time.Time
}

// Router is the per-process RPC layer: it owns the correlation table for
// outstanding Calls and a handler table for Commands this process consumes.
type Router struct {
	pool   *broker.Pool
	logger *slog.Logger
	trace  *observability.TraceManager
	metrics *observability.MetricsManager

	mu      sync.Mutex
	pending map[string]*pendingCall

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	reapInterval time.Duration
	stopReap     chan struct{}
}

// New constructs a Router bound to pool and starts its correlation reaper.
func New(pool *broker.Pool, logger *slog.Logger, trace *observability.TraceManager, metrics *observability.MetricsManager) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		pool:         pool,
		logger:       logger,
		trace:        trace,
		metrics:      metrics,
		pending:      make(map[string]*pendingCall),
		handlers:     make(map[string]HandlerFunc),
		reapInterval: 250 * time.Millisecond,
		stopReap:     make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// Stop halts the reaper goroutine. Any calls still pending at Stop time
// never resolve; callers should have their own ctx cancellation as a
// backstop.
func (r *Router) Stop() {
	close(r.stopReap)
}

func (r *Router) reapLoop() {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reapExpired()
		case <-r.stopReap:
			return
		}
	}
}

func (r *Router) reapExpired() {
	now := time.Now()
	var expired []*pendingCall
	r.mu.Lock()
	for id, pc := range r.pending {
		if now.After(pc.deadline) {
			expired = append(expired, pc)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, pc := range expired {
		select {
		case pc.resultCh <- types.Result{Status: types.StatusTimeout}:
		default:
		}
	}
}

// routingKeyFor maps a Call/Cast target into the routing key published on
// vsm.s1.commands: a bare handle addresses one agent directly, a
// "capability." prefix addresses whichever agent advertises it, and
// "broadcast" reaches every agent.
func routingKeyFor(target string) string {
	switch {
	case target == "broadcast":
		return "broadcast"
	case len(target) > 11 && target[:11] == "capability.":
		return target
	default:
		return "agent." + target
	}
}

// Call publishes command to target, waits up to timeout for a matching
// Result, and returns exactly one of {ok, error, timeout}. A private,
// exclusive, auto-delete reply queue is declared per call and consumed for
// exactly one delivery.
func (r *Router) Call(ctx context.Context, target string, cmd types.Command, timeout time.Duration) (types.Result, error) {
	correlationID := uuid.NewString()
	cmd.CorrelationID = correlationID
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	lease, err := r.pool.Acquire(ctx, "rpc")
	if err != nil {
		return types.Result{}, err
	}
	defer r.pool.Release(lease)

	replyQueue := "vsm.reply." + correlationID
	if _, err := lease.Channel().QueueDeclare(replyQueue, false, true, true, false, nil); err != nil {
		return types.Result{}, vsmerrors.New(vsmerrors.Transport, "rpc.call", err)
	}
	cmd.ReplyTo = replyQueue

	resultCh := make(chan types.Result, 1)
	r.mu.Lock()
	r.pending[correlationID] = &pendingCall{resultCh: resultCh, deadline: time.Now().Add(timeout)}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, correlationID)
		r.mu.Unlock()
	}()

	body, err := json.Marshal(cmd)
	if err != nil {
		return types.Result{}, vsmerrors.New(vsmerrors.InvalidInput, "rpc.call", err)
	}

	deliveries, err := lease.Channel().Consume(replyQueue, "", false, true, false, false, nil)
	if err != nil {
		return types.Result{}, vsmerrors.New(vsmerrors.Transport, "rpc.call", err)
	}

	if err := r.pool.Publish(ctx, lease, "vsm.s1.commands", routingKeyFor(target), body, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       replyQueue,
		Priority:      uint8(cmd.Priority),
		DeliveryMode:  amqp.Persistent,
	}); err != nil {
		return types.Result{}, err
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case d := <-deliveries:
		var result types.Result
		if err := json.Unmarshal(d.Body, &result); err != nil {
			d.Nack(false, false)
			return types.Result{}, vsmerrors.New(vsmerrors.Internal, "rpc.call", err)
		}
		d.Ack(false)
		return r.resolveOnce(correlationID, result), nil
	case res := <-resultCh:
		return res, nil
	case <-deadlineCtx.Done():
		return types.Result{Status: types.StatusTimeout}, nil
	}
}

// resolveOnce guards against a duplicate reply for the same correlation_id:
// only the first reply is acted on; later ones are idempotently discarded.
func (r *Router) resolveOnce(correlationID string, result types.Result) types.Result {
	r.mu.Lock()
	_, stillPending := r.pending[correlationID]
	delete(r.pending, correlationID)
	r.mu.Unlock()
	if !stillPending {
		r.logger.Debug("rpc: discarding duplicate result", "correlation_id", correlationID)
	}
	return result
}

// Cast publishes command fire-and-forget: no reply_to, no correlation slot.
func (r *Router) Cast(ctx context.Context, target string, cmd types.Command) error {
	cmd.ReplyTo = ""
	cmd.CorrelationID = ""
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	lease, err := r.pool.Acquire(ctx, "rpc:cast")
	if err != nil {
		return err
	}
	defer r.pool.Release(lease)

	body, err := json.Marshal(cmd)
	if err != nil {
		return vsmerrors.New(vsmerrors.InvalidInput, "rpc.cast", err)
	}

	return r.pool.Publish(ctx, lease, "vsm.s1.commands", routingKeyFor(target), body, amqp.Publishing{
		ContentType:  "application/json",
		Priority:     uint8(cmd.Priority),
		DeliveryMode: amqp.Persistent,
	})
}

// RegisterHandler registers fn for commandType. First registered wins;
// additional registrations for the same type fail with ErrHandlerExists.
func (r *Router) RegisterHandler(commandType string, fn HandlerFunc) error {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	if _, exists := r.handlers[commandType]; exists {
		return ErrHandlerExists
	}
	r.handlers[commandType] = fn
	return nil
}

// Dispatch looks up the handler registered for cmd.Type and invokes it.
// Returns vsmerrors.NotFound if no handler is registered.
func (r *Router) Dispatch(ctx context.Context, cmd types.Command) (types.Result, error) {
	r.handlersMu.RLock()
	fn, ok := r.handlers[cmd.Type]
	r.handlersMu.RUnlock()
	if !ok {
		return types.Result{}, vsmerrors.New(vsmerrors.NotFound, "rpc.dispatch", fmt.Errorf("no handler for command type %q", cmd.Type))
	}
	return fn(ctx, cmd)
}
