// Package agent packages the generic level-1 consume/dispatch/report loop
// into a reusable type: a concrete business agent supplies capability
// handlers and calls Run; everything else (queue declaration, dispatch,
// result publication, health reporting, graceful shutdown) is handled here.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/cyberviable/vsm/internal/broker"
	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/observability"
	"github.com/cyberviable/vsm/internal/registry"
	"github.com/cyberviable/vsm/internal/types"
)

// Agent is one level-1 process: a pool lease, a capability handler table,
// and the consumer loop binding them together.
type Agent struct {
	config Config
	pool   *broker.Pool
	decl   *broker.Declarator
	reg    *registry.Registry
	trace  *observability.TraceManager
	metrics *observability.MetricsManager
	logger *slog.Logger

	mu           sync.Mutex
	capabilities map[string]*Capability
	running      bool

	sem chan struct{} // bounds concurrent dispatch to Config.ConcurrentDispatch
}

// New constructs an Agent. config is defaulted and validated immediately.
func New(config Config, pool *broker.Pool, decl *broker.Declarator, reg *registry.Registry, obs *observability.Observability) (*Agent, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, vsmerrors.New(vsmerrors.InvalidInput, "agent.new", err)
	}

	logger := slog.Default()
	var trace *observability.TraceManager
	var metrics *observability.MetricsManager
	if obs != nil {
		logger = obs.Logger
		trace = observability.NewTraceManager(config.ID)
		metrics, _ = observability.NewMetricsManager(obs.Meter)
	}

	return &Agent{
		config:       config,
		pool:         pool,
		decl:         decl,
		reg:          reg,
		trace:        trace,
		metrics:      metrics,
		logger:       logger,
		capabilities: make(map[string]*Capability),
	}, nil
}

// ID returns the agent's id, satisfying internal/supervisor.Runnable.
func (a *Agent) ID() string { return a.config.ID }

// Type returns the agent's declared type, satisfying
// internal/supervisor.Runnable.
func (a *Agent) Type() types.AgentType { return types.AgentType(a.config.Type) }

// AddCapability registers a capability handler. Returns
// ErrDuplicateCapability if name is already registered.
func (a *Agent) AddCapability(name, schemaHint string, handler CapabilityHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.capabilities[name]; exists {
		return ErrDuplicateCapability
	}
	a.capabilities[name] = &Capability{Name: name, SchemaHint: schemaHint, Handler: handler}
	return nil
}

// MustAddCapability is like AddCapability but panics on error, for
// fail-fast initialization code.
func (a *Agent) MustAddCapability(name, schemaHint string, handler CapabilityHandler) {
	if err := a.AddCapability(name, schemaHint, handler); err != nil {
		panic(err)
	}
}

// Run executes the full agent lifecycle per the Agent Runtime Contract:
// declare queues, register with the registry, consume commands, publish
// results, report health periodically, and drain gracefully on ctx
// cancellation.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAgentAlreadyRunning
	}
	if len(a.capabilities) == 0 {
		a.mu.Unlock()
		return ErrNoCapabilities
	}
	a.running = true
	a.sem = make(chan struct{}, a.config.ConcurrentDispatch)
	capNames := make([]string, 0, len(a.capabilities))
	for name := range a.capabilities {
		capNames = append(capNames, name)
	}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if err := a.decl.DeclareAgentQueues(ctx, a.config.ID, capNames); err != nil {
		return vsmerrors.New(vsmerrors.Transport, "agent.run", err)
	}

	caps := make([]types.Capability, 0, len(capNames))
	for _, name := range capNames {
		caps = append(caps, types.Capability{Name: name, SchemaHint: a.capabilities[name].SchemaHint})
	}
	if a.reg != nil {
		if _, err := a.reg.Register(ctx, a.config.ID, a.config.ID, types.AgentType(a.config.Type), caps, nil); err != nil {
			return err
		}
		defer a.reg.Deregister(context.Background(), a.config.ID)
	}

	lease, err := a.pool.Acquire(ctx, "agent:"+a.config.ID)
	if err != nil {
		return err
	}
	defer a.pool.Release(lease)

	queueName := fmt.Sprintf("vsm.s1.%s.command", a.config.ID)

	var wg sync.WaitGroup
	deliveryHandler := func(d amqp.Delivery) {
		wg.Add(1)
		a.sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-a.sem }()
			a.handleDelivery(ctx, d)
		}()
	}

	if err := a.subscribe(lease, queueName, deliveryHandler); err != nil {
		return err
	}

	// invalidateSlots clears this agent's channel on a broker reconnect but
	// never re-subscribes; without this hook the agent would silently stop
	// receiving commands for the rest of its life after any broker blip.
	unregister := a.pool.OnReconnect(func() {
		if ctx.Err() != nil {
			return
		}
		newLease, err := a.pool.Acquire(ctx, "agent:"+a.config.ID)
		if err != nil {
			a.logger.Error("agent: failed to re-acquire lease after broker reconnect", "agent_id", a.config.ID, "error", err)
			return
		}
		defer a.pool.Release(newLease)
		if err := a.subscribe(newLease, queueName, deliveryHandler); err != nil {
			a.logger.Error("agent: failed to re-subscribe after broker reconnect", "agent_id", a.config.ID, "error", err)
			return
		}
		a.logger.Info("agent resubscribed after broker reconnect", "agent_id", a.config.ID)
	})
	defer unregister()

	a.logger.Info("agent started", "agent_id", a.config.ID, "capabilities", capNames)

	healthTicker := time.NewTicker(a.healthInterval())
	defer healthTicker.Stop()

	for {
		select {
		case <-healthTicker.C:
			a.reportHealth(ctx)
		case <-ctx.Done():
			a.logger.Info("agent shutting down, draining in-flight commands", "agent_id", a.config.ID)
			wg.Wait()
			return nil
		}
	}
}

// subscribe sets prefetch and starts consuming queueName on lease's channel,
// used both for the initial Run startup and for re-subscribing after a
// broker reconnect hands out a fresh channel for the same purpose.
func (a *Agent) subscribe(lease *broker.Lease, queueName string, handler func(amqp.Delivery)) error {
	if err := lease.Channel().Qos(10, 0, false); err != nil {
		a.logger.Warn("agent: failed to set prefetch", "agent_id", a.config.ID, "error", err)
	}
	return a.pool.Consume(lease, queueName, "agent:"+a.config.ID, handler)
}

func (a *Agent) healthInterval() time.Duration {
	d, err := time.ParseDuration(a.config.HealthReportEvery)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// handleDelivery parses one delivery, dispatches to the matching capability
// handler, publishes the Result, and acks/nacks per the delivery outcome.
func (a *Agent) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var cmd types.Command
	if err := json.Unmarshal(d.Body, &cmd); err != nil {
		a.logger.Error("agent: invalid command payload, discarding", "agent_id", a.config.ID, "error", err)
		d.Nack(false, false)
		return
	}

	start := time.Now()
	spanCtx := ctx
	var span trace.Span
	if a.trace != nil {
		spanCtx, span = a.trace.StartSpan(ctx, "agent."+a.config.ID+".handle_command")
		a.trace.AddCommandAttributes(span, cmd.ID, cmd.Type, cmd.Payload)
	}

	result := a.dispatch(spanCtx, cmd)
	result.DurationMS = time.Since(start).Milliseconds()

	if span != nil {
		a.trace.AddCommandResult(span, string(result.Status), result.Payload, result.ErrorMessage)
		if result.Status == types.StatusOK {
			a.trace.SetSpanSuccess(span)
		}
		span.End()
	}

	if cmd.ReplyTo != "" {
		if err := a.publishResult(ctx, cmd, result); err != nil {
			a.logger.Error("agent: failed to publish result", "agent_id", a.config.ID, "error", err)
		}
	}

	if a.metrics != nil {
		a.metrics.IncrementEventsProcessed(ctx, cmd.Type, a.config.ID, result.Status == types.StatusOK)
	}

	switch {
	case result.Status == types.StatusOK:
		d.Ack(false)
	case result.ErrorKind == string(vsmerrors.InvalidInput) || result.ErrorKind == string(vsmerrors.Unauthorized):
		d.Nack(false, false) // permanent failure, no requeue
	default:
		if d.Redelivered {
			d.Nack(false, false) // exceeded retry budget, route to dead-letter
		} else {
			d.Nack(false, true) // transient failure, requeue for retry
		}
	}
}

// dispatch looks up the capability handler for cmd.Type and invokes it,
// converting panics and unclassified errors into kind=internal Results
// instead of crashing the consumer loop.
func (a *Agent) dispatch(ctx context.Context, cmd types.Command) (result types.Result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent: handler panicked", "agent_id", a.config.ID, "command_type", cmd.Type, "recover", r)
			result = types.Result{
				CorrelationID: cmd.CorrelationID,
				Status:        types.StatusError,
				ErrorKind:     string(vsmerrors.Internal),
				ErrorMessage:  fmt.Sprintf("handler panic: %v", r),
			}
		}
	}()

	a.mu.Lock()
	cap, ok := a.capabilities[cmd.Type]
	a.mu.Unlock()
	if !ok {
		return types.Result{
			CorrelationID: cmd.CorrelationID,
			Status:        types.StatusError,
			ErrorKind:     string(vsmerrors.NotFound),
			ErrorMessage:  fmt.Sprintf("no capability handler for command type %q", cmd.Type),
		}
	}

	payload, err := cap.Handler(ctx, cmd)
	if err != nil {
		return types.Result{
			CorrelationID: cmd.CorrelationID,
			Status:        types.StatusError,
			ErrorKind:     string(vsmerrors.KindOf(err)),
			ErrorMessage:  err.Error(),
		}
	}
	return types.Result{
		CorrelationID: cmd.CorrelationID,
		Status:        types.StatusOK,
		Payload:       payload,
	}
}

func (a *Agent) publishResult(ctx context.Context, cmd types.Command, result types.Result) error {
	lease, err := a.pool.Acquire(ctx, "agent:"+a.config.ID)
	if err != nil {
		return err
	}
	defer a.pool.Release(lease)

	body, err := json.Marshal(result)
	if err != nil {
		return vsmerrors.New(vsmerrors.Internal, "agent.publish_result", err)
	}

	resultsExchange := fmt.Sprintf("vsm.s1.%s.results", a.config.ID)
	return a.pool.Publish(ctx, lease, resultsExchange, cmd.ReplyTo, body, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: cmd.CorrelationID,
	})
}

func (a *Agent) reportHealth(ctx context.Context) {
	lease, err := a.pool.Acquire(ctx, "agent:"+a.config.ID)
	if err != nil {
		a.logger.Warn("agent: failed to acquire lease for health report", "agent_id", a.config.ID, "error", err)
		return
	}
	defer a.pool.Release(lease)

	body, _ := json.Marshal(map[string]interface{}{
		"agent_id": a.config.ID,
		"status":   "healthy",
		"ts":       time.Now().UTC(),
	})
	if err := a.pool.Publish(ctx, lease, "vsm.control", "agent.health."+a.config.ID, body, amqp.Publishing{
		ContentType: "application/json",
	}); err != nil {
		a.logger.Warn("agent: failed to publish health report", "agent_id", a.config.ID, "error", err)
	}
}

// GetLogger returns the agent's structured logger.
func (a *Agent) GetLogger() *slog.Logger { return a.logger }

// GetConfig returns a copy of the agent's configuration.
func (a *Agent) GetConfig() Config { return a.config }
