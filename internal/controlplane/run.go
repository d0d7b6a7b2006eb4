// Package controlplane wires every level-2 through level-5 VSM component
// together into one runnable process: broker pool, topology, registry,
// supervisor, RPC router, control, audit, intelligence, governance, variety
// engineering, and recursive meta-VSM management. Level-1 agents are
// separate processes supervised through internal/supervisor; the operator
// CLI and the coordinator binary both start this same process via Run so
// there is exactly one wiring path to keep in sync with the rest of the
// module.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cyberviable/vsm/internal/agent"
	"github.com/cyberviable/vsm/internal/audit"
	"github.com/cyberviable/vsm/internal/broker"
	"github.com/cyberviable/vsm/internal/config"
	"github.com/cyberviable/vsm/internal/control"
	"github.com/cyberviable/vsm/internal/coordinator"
	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/eventbus"
	"github.com/cyberviable/vsm/internal/governance"
	"github.com/cyberviable/vsm/internal/intelligence"
	"github.com/cyberviable/vsm/internal/meta"
	"github.com/cyberviable/vsm/internal/observability"
	"github.com/cyberviable/vsm/internal/reasoner"
	"github.com/cyberviable/vsm/internal/registry"
	"github.com/cyberviable/vsm/internal/rpc"
	"github.com/cyberviable/vsm/internal/supervisor"
	"github.com/cyberviable/vsm/internal/types"
	"github.com/cyberviable/vsm/internal/variety"
)

// Exit codes, per the operator CLI contract: 0 success, 1 generic error,
// 2 configuration error, 3 broker unavailable, 4 precondition failed.
const (
	ExitOK                 = 0
	ExitGenericError       = 1
	ExitConfigError        = 2
	ExitBrokerUnavailable  = 3
	ExitPreconditionFailed = 4
)

// CoordinatorHandle is the agent-style queue handle the control plane
// process declares for itself, so operator commands registered on its own
// rpc.Router (e.g. audit_request) are reachable through the same
// command-dispatch surface as any S1 agent.
const CoordinatorHandle = "coordinator"

// Run starts the control plane and blocks until ctx is cancelled or an
// unrecoverable startup error occurs. It returns a process exit code rather
// than calling os.Exit itself, so callers (cmd/coordinator, vsmctl's run
// subcommand) keep control of their own deferred cleanup and can run it in
// a test harness.
func Run(ctx context.Context) int {
	appConfig := config.Load()

	obs, err := observability.NewObservability(observability.DefaultConfig("vsm-coordinator"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: failed to initialize observability: %v\n", err)
		return ExitConfigError
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			obs.Logger.ErrorContext(shutdownCtx, "coordinator: observability shutdown error", "error", err)
		}
	}()

	traceManager := observability.NewTraceManager("vsm-coordinator")
	metricsManager, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		obs.Logger.ErrorContext(ctx, "coordinator: failed to initialize metrics", "error", err)
		return ExitConfigError
	}

	pool, err := broker.New(broker.Config{URL: appConfig.BrokerURL}, obs.Logger, traceManager, metricsManager)
	if err != nil {
		obs.Logger.ErrorContext(ctx, "coordinator: failed to connect to broker", "error", err)
		return ExitBrokerUnavailable
	}
	defer pool.Close()

	declarator := broker.NewDeclarator(pool)
	if err := declarator.Declare(ctx); err != nil {
		obs.Logger.ErrorContext(ctx, "coordinator: failed to declare broker topology", "error", err)
		return ExitBrokerUnavailable
	}

	bus := eventbus.New(256, obs.Logger)

	sup := supervisor.New(nil, appConfig.SupervisorMaxRestarts, time.Duration(appConfig.SupervisorRestartWindowS)*time.Second, obs.Logger)
	reg := registry.New(pool, bus, supervisorLivenessChecker(sup), time.Duration(appConfig.RegistryLivenessSweepMS)*time.Millisecond, obs.Logger)
	defer reg.Stop()
	sup.SetFactory(defaultAgentFactory(pool, declarator, reg, obs))

	router := rpc.New(pool, obs.Logger, traceManager, metricsManager)
	defer router.Stop()

	coord := coordinator.New(pool, bus, 0, 0, obs.Logger)

	ctrl := control.New(map[types.ResourceKind]int{
		types.ResourceCompute: 100,
		types.ResourceMemory:  100,
		types.ResourceNetwork: 100,
		types.ResourceStorage: 100,
	}, obs.Logger)
	go ctrl.RunOptimizationCycle(ctx, time.Duration(appConfig.ControlCycleMS)*time.Millisecond)

	auditChannel := audit.New(pool, time.Duration(appConfig.DefaultAuditTimeoutMS)*time.Millisecond, obs.Logger, traceManager, metricsManager)
	if err := router.RegisterHandler("audit_request", auditRequestHandler(auditChannel)); err != nil {
		obs.Logger.ErrorContext(ctx, "coordinator: failed to register audit_request handler", "error", err)
	}

	for cmdType, handler := range agentLifecycleHandlers(sup) {
		if err := router.RegisterHandler(cmdType, handler); err != nil {
			obs.Logger.ErrorContext(ctx, "coordinator: failed to register handler", "command_type", cmdType, "error", err)
		}
	}

	if err := declarator.DeclareAgentQueues(ctx, CoordinatorHandle, nil); err != nil {
		obs.Logger.ErrorContext(ctx, "coordinator: failed to declare command queue", "error", err)
		return ExitBrokerUnavailable
	}
	go serveRoutedCommands(ctx, pool, router, obs.Logger, CoordinatorHandle)

	reasonerClient := reasoner.NewMock()
	intel := intelligence.New(bus, reasonerClient, obs.Logger)

	policyLogPath := appConfig.PolicyLogPath
	if !filepath.IsAbs(policyLogPath) {
		policyLogPath = filepath.Join(".", policyLogPath)
	}
	policyLog, err := governance.OpenLog(policyLogPath)
	if err != nil {
		obs.Logger.ErrorContext(ctx, "coordinator: failed to open policy log", "error", err)
		return ExitConfigError
	}
	defer policyLog.Close()

	replayed, err := governance.ReplayLog(policyLogPath)
	if err != nil {
		obs.Logger.ErrorContext(ctx, "coordinator: failed to replay policy log", "error", err)
		return ExitConfigError
	}

	policyStore := governance.NewStore(pool, bus, obs.Logger)
	policyStore.Bootstrap(replayed)
	policyStore.AttachLog(policyLog)
	obs.Logger.InfoContext(ctx, "coordinator: replayed policy log", "policy_count", len(replayed))

	for cmdType, handler := range policyHandlers(policyStore) {
		if err := router.RegisterHandler(cmdType, handler); err != nil {
			obs.Logger.ErrorContext(ctx, "coordinator: failed to register handler", "command_type", cmdType, "error", err)
		}
	}

	viability := governance.NewViability()
	if err := router.RegisterHandler("viability_get", viabilityHandler(viability)); err != nil {
		obs.Logger.ErrorContext(ctx, "coordinator: failed to register viability_get handler", "error", err)
	}
	synthesizer := governance.NewSynthesizer(policyStore, reasonerClient, time.Duration(appConfig.PolicySynthesisTimeoutMS)*time.Millisecond, obs.Logger)
	algedonicProcessor := governance.NewAlgedonicProcessor(viability, intel, synthesizer, policyStore, appConfig.AlgedonicCriticalThreshold, obs.Logger)

	algedonicCh := make(chan types.AlgedonicSignal, 64)
	go algedonicProcessor.Run(ctx, algedonicCh)
	go consumeAlgedonicSignals(ctx, pool, obs.Logger, algedonicCh)

	varietyCalc := variety.NewCalculator()
	varietyMonitor := variety.NewMonitor(varietyCalc, 0, obs.Logger)

	metaManager := meta.NewManager(pool, declarator, bus, reasonerClient, appConfig.MaxRecursionDepth, obs.Logger)
	obs.Logger.InfoContext(ctx, "coordinator: meta-VSM manager ready", "active_instances", len(metaManager.List()), "max_recursion_depth", appConfig.MaxRecursionDepth)

	go runVarietyImbalanceChecks(ctx, varietyMonitor)

	healthServer := observability.NewHealthServer(appConfig.GetHealthPort("coordinator"), "vsm-coordinator", appConfig.ServiceVersion)
	healthServer.AddChecker("broker", observability.NewBrokerHealthChecker("broker", pool.Ping))
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			obs.Logger.WarnContext(ctx, "coordinator: health server stopped", "error", err)
		}
	}()

	obs.Logger.InfoContext(ctx, "coordinator: running",
		"max_recursion_depth", appConfig.MaxRecursionDepth,
		"viability_threshold", appConfig.ViabilityThreshold,
		"algedonic_critical_threshold", appConfig.AlgedonicCriticalThreshold,
	)

	scanTicker := time.NewTicker(time.Minute)
	defer scanTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			obs.Logger.InfoContext(context.Background(), "coordinator: shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			healthServer.Shutdown(shutdownCtx)
			shutdownCancel()
			return ExitOK
		case <-scanTicker.C:
			intel.ScanEnvironment(ctx, intelligence.ScanDirective{Scope: "environment", Depth: 1, Priority: 5})
			obs.Logger.InfoContext(ctx, "coordinator: viability score", "score", viability.Score())
			_ = coord.State()
		}
	}
}

// supervisorLivenessChecker adapts the supervisor's managed-agent list into
// a registry.LivenessChecker: a handle is alive iff some supervised agent's
// ID matches it. Agents register themselves with their own agent ID as
// handle, so this is a direct membership test, not a health probe.
func supervisorLivenessChecker(sup *supervisor.Supervisor) registry.LivenessChecker {
	return func(handle string) bool {
		for _, info := range sup.List() {
			if info.ID == handle {
				return true
			}
		}
		return false
	}
}

// defaultAgentFactory builds the supervisor.Factory used for `agent spawn`.
// Concrete per-type business capabilities are outside this module's scope
// (the Agent Runtime Contract only defines the generic consume/dispatch/
// report loop, not what any particular agent type does); every spawned
// agent gets one generic "echo" capability, so Spawn starts a real,
// runnable agent instead of one with zero capabilities (which Agent.Run
// rejects outright).
func defaultAgentFactory(pool *broker.Pool, decl *broker.Declarator, reg *registry.Registry, obs *observability.Observability) supervisor.Factory {
	return func(agentType types.AgentType, id string, cfg map[string]string) (supervisor.Runnable, error) {
		if id == "" {
			id = uuid.NewString()
		}
		a, err := agent.New(agent.Config{ID: id, Type: string(agentType)}, pool, decl, reg, obs)
		if err != nil {
			return nil, err
		}
		if err := a.AddCapability("echo", "echoes payload back unchanged", func(ctx context.Context, cmd types.Command) (map[string]interface{}, error) {
			return cmd.Payload, nil
		}); err != nil {
			return nil, err
		}
		return a, nil
	}
}

// agentLifecycleHandlers adapts the Supervisor's spawn/terminate/list
// operations into rpc.HandlerFunc entries for `agent spawn|terminate|list`.
func agentLifecycleHandlers(sup *supervisor.Supervisor) map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		"agent_spawn": func(ctx context.Context, cmd types.Command) (types.Result, error) {
			agentType, _ := cmd.Payload["agent_type"].(string)
			id, _ := cmd.Payload["id"].(string)
			cfg := make(map[string]string)
			if raw, ok := cmd.Payload["config"].(map[string]interface{}); ok {
				for k, v := range raw {
					if s, ok := v.(string); ok {
						cfg[k] = s
					}
				}
			}
			info, err := sup.Spawn(ctx, types.AgentType(agentType), id, cfg)
			if err != nil {
				return errorResult(cmd.CorrelationID, err), nil
			}
			return types.Result{
				CorrelationID: cmd.CorrelationID,
				Status:        types.StatusOK,
				Payload: map[string]interface{}{
					"id":         info.ID,
					"type":       string(info.Type),
					"started_at": info.StartedAt,
				},
			}, nil
		},
		"agent_terminate": func(ctx context.Context, cmd types.Command) (types.Result, error) {
			if err := sup.Terminate(cmd.Target); err != nil {
				return errorResult(cmd.CorrelationID, err), nil
			}
			return types.Result{CorrelationID: cmd.CorrelationID, Status: types.StatusOK}, nil
		},
		"agent_list": func(ctx context.Context, cmd types.Command) (types.Result, error) {
			infos := sup.List()
			agents := make([]map[string]interface{}, 0, len(infos))
			for _, info := range infos {
				agents = append(agents, map[string]interface{}{
					"id":         info.ID,
					"type":       string(info.Type),
					"started_at": info.StartedAt,
					"restarts":   info.Restarts,
				})
			}
			return types.Result{
				CorrelationID: cmd.CorrelationID,
				Status:        types.StatusOK,
				Payload:       map[string]interface{}{"agents": agents},
			}, nil
		},
	}
}

// policyHandlers adapts the governance Store's Set/GetByType/All operations
// into rpc.HandlerFunc entries for `policy set|list`.
func policyHandlers(store *governance.Store) map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		"policy_set": func(ctx context.Context, cmd types.Command) (types.Result, error) {
			id, _ := cmd.Payload["id"].(string)
			if id == "" {
				id = uuid.NewString()
			}
			typ, _ := cmd.Payload["type"].(string)
			autoExecutable, _ := cmd.Payload["auto_executable"].(bool)
			body, _ := cmd.Payload["body"].(map[string]interface{})
			policyContext, _ := cmd.Payload["context"].(map[string]interface{})
			policy := store.Set(ctx, id, types.PolicyType(typ), body, policyContext, autoExecutable)
			return types.Result{
				CorrelationID: cmd.CorrelationID,
				Status:        types.StatusOK,
				Payload: map[string]interface{}{
					"id":      policy.ID,
					"version": policy.Version,
				},
			}, nil
		},
		"policy_list": func(ctx context.Context, cmd types.Command) (types.Result, error) {
			var policies []*types.Policy
			if typ, _ := cmd.Payload["type"].(string); typ != "" {
				policies = store.GetByType(types.PolicyType(typ))
			} else {
				policies = store.All()
			}
			out := make([]map[string]interface{}, 0, len(policies))
			for _, p := range policies {
				out = append(out, map[string]interface{}{
					"id":      p.ID,
					"type":    string(p.Type),
					"version": p.Version,
					"body":    p.Body,
				})
			}
			return types.Result{
				CorrelationID: cmd.CorrelationID,
				Status:        types.StatusOK,
				Payload:       map[string]interface{}{"policies": out},
			}, nil
		},
	}
}

// viabilityHandler adapts the Viability Evaluator's composite score into an
// rpc.HandlerFunc for the `viability` subcommand.
func viabilityHandler(v *governance.Viability) rpc.HandlerFunc {
	return func(ctx context.Context, cmd types.Command) (types.Result, error) {
		return types.Result{
			CorrelationID: cmd.CorrelationID,
			Status:        types.StatusOK,
			Payload:       map[string]interface{}{"score": v.Score()},
		}, nil
	}
}

// errorResult converts any error into a Result, tagging it with its
// classified vsmerrors.Kind where one is available.
func errorResult(correlationID string, err error) types.Result {
	return types.Result{
		CorrelationID: correlationID,
		Status:        types.StatusError,
		ErrorKind:     string(vsmerrors.KindOf(err)),
		ErrorMessage:  err.Error(),
	}
}

// auditRequestHandler adapts an audit.Channel into an rpc.HandlerFunc so the
// operator CLI's `audit <target> <operation>` reaches C9 through the same
// command-dispatch surface every other RPC-routed operation uses.
func auditRequestHandler(ch *audit.Channel) rpc.HandlerFunc {
	return func(ctx context.Context, cmd types.Command) (types.Result, error) {
		operation, _ := cmd.Payload["operation"].(string)
		payload, err := ch.SendAudit(ctx, cmd.Target, operation, cmd.Payload)
		if err != nil {
			return types.Result{
				CorrelationID: cmd.CorrelationID,
				Status:        types.StatusError,
				ErrorMessage:  err.Error(),
			}, nil
		}
		return types.Result{
			CorrelationID: cmd.CorrelationID,
			Status:        types.StatusOK,
			Payload:       payload,
		}, nil
	}
}

// runVarietyImbalanceChecks periodically checks every adjacent-level
// boundary for variety imbalance. No Filter or Amplifier is instantiated in
// this process, so nil is passed for both; the check still exercises the
// detection and logging path against whatever the calculator has observed.
func runVarietyImbalanceChecks(ctx context.Context, monitor *variety.Monitor) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	boundaries := []variety.Boundary{
		variety.BoundaryS1S2, variety.BoundaryS2S3, variety.BoundaryS3S4, variety.BoundaryS4S5,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range boundaries {
				monitor.Check(b, nil, nil)
			}
		}
	}
}

// serveRoutedCommands consumes the command queue declared for handle (an
// ordinary agent-style queue bound on vsm.s1.commands) and feeds every
// delivery through router.Dispatch, publishing the Result back to the
// command's reply_to queue on the default exchange. This is how operator
// commands like audit_request reach a handler registered on this process's
// own Router rather than on an S1 agent's capability table.
func serveRoutedCommands(ctx context.Context, pool *broker.Pool, router *rpc.Router, logger *slog.Logger, handle string) {
	lease, err := pool.Acquire(ctx, "coordinator:"+handle)
	if err != nil {
		logger.ErrorContext(ctx, "coordinator: failed to acquire command consumer lease", "error", err)
		return
	}
	defer pool.Release(lease)

	queueName := fmt.Sprintf("vsm.s1.%s.command", handle)
	handleDelivery := func(pubLease *broker.Lease) func(amqp.Delivery) {
		return func(delivery amqp.Delivery) {
			var cmd types.Command
			if err := json.Unmarshal(delivery.Body, &cmd); err != nil {
				logger.WarnContext(ctx, "coordinator: failed to decode routed command", "error", err)
				delivery.Nack(false, false)
				return
			}

			result, dispatchErr := router.Dispatch(ctx, cmd)
			if dispatchErr != nil {
				result = types.Result{
					CorrelationID: cmd.CorrelationID,
					Status:        types.StatusError,
					ErrorKind:     string(vsmerrors.Internal),
					ErrorMessage:  dispatchErr.Error(),
				}
			}
			delivery.Ack(false)

			if cmd.ReplyTo == "" {
				return
			}
			body, err := json.Marshal(result)
			if err != nil {
				logger.ErrorContext(ctx, "coordinator: failed to marshal routed command result", "error", err)
				return
			}
			if err := pool.Publish(ctx, pubLease, "", cmd.ReplyTo, body, amqp.Publishing{
				ContentType:   "application/json",
				CorrelationId: cmd.CorrelationID,
			}); err != nil {
				logger.WarnContext(ctx, "coordinator: failed to publish routed command result", "error", err)
			}
		}
	}

	if err := pool.Consume(lease, queueName, "coordinator:"+handle, handleDelivery(lease)); err != nil {
		logger.ErrorContext(ctx, "coordinator: failed to start command consumer", "error", err)
	}

	// Mirrors internal/agent.Agent.Run's reconnect hook: invalidateSlots
	// clears this consumer's channel on a broker reconnect but never
	// resubscribes on its own, so routed commands like audit_request would
	// otherwise go unserved for the rest of the process after any blip.
	unregister := pool.OnReconnect(func() {
		if ctx.Err() != nil {
			return
		}
		newLease, err := pool.Acquire(ctx, "coordinator:"+handle)
		if err != nil {
			logger.ErrorContext(ctx, "coordinator: failed to re-acquire command consumer lease after reconnect", "error", err)
			return
		}
		if err := pool.Consume(newLease, queueName, "coordinator:"+handle, handleDelivery(newLease)); err != nil {
			logger.ErrorContext(ctx, "coordinator: failed to resubscribe command consumer after reconnect", "error", err)
			pool.Release(newLease)
			return
		}
		logger.InfoContext(ctx, "coordinator: resubscribed command consumer after broker reconnect", "handle", handle)
	})
	defer unregister()

	<-ctx.Done()
}

// consumeAlgedonicSignals bridges the vsm.algedonic broker fanout into the
// in-process channel the AlgedonicProcessor consumes, decoding each
// delivery's JSON body into a types.AlgedonicSignal.
func consumeAlgedonicSignals(ctx context.Context, pool *broker.Pool, logger *slog.Logger, out chan<- types.AlgedonicSignal) {
	lease, err := pool.Acquire(ctx, "algedonic-consumer")
	if err != nil {
		logger.ErrorContext(ctx, "coordinator: failed to acquire algedonic consumer lease", "error", err)
		return
	}
	defer pool.Release(lease)

	queueName := "vsm.system5.algedonic"
	handleDelivery := func(delivery amqp.Delivery) {
		var sig types.AlgedonicSignal
		if err := json.Unmarshal(delivery.Body, &sig); err != nil {
			logger.WarnContext(ctx, "coordinator: failed to decode algedonic signal", "error", err)
			delivery.Nack(false, false)
			return
		}
		select {
		case out <- sig:
			delivery.Ack(false)
		case <-ctx.Done():
			delivery.Nack(false, true)
		}
	}

	if err := pool.Consume(lease, queueName, "coordinator-algedonic", handleDelivery); err != nil {
		logger.ErrorContext(ctx, "coordinator: failed to start algedonic consumer", "error", err)
	}

	unregister := pool.OnReconnect(func() {
		if ctx.Err() != nil {
			return
		}
		newLease, err := pool.Acquire(ctx, "algedonic-consumer")
		if err != nil {
			logger.ErrorContext(ctx, "coordinator: failed to re-acquire algedonic consumer lease after reconnect", "error", err)
			return
		}
		defer pool.Release(newLease)
		if err := pool.Consume(newLease, queueName, "coordinator-algedonic", handleDelivery); err != nil {
			logger.ErrorContext(ctx, "coordinator: failed to resubscribe algedonic consumer after reconnect", "error", err)
			return
		}
		logger.InfoContext(ctx, "coordinator: resubscribed algedonic consumer after broker reconnect")
	})
	defer unregister()

	<-ctx.Done()
}
