// Package observability provides the logging, tracing, metrics, and health
// check infrastructure shared by every component of the control plane.
//
// # Quick Start
//
//	config := observability.DefaultConfig("registry")
//	obs, err := observability.NewObservability(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	logger := obs.Logger
//	tracer := obs.Tracer
//	meter := obs.Meter
//
// This sets up an OTLP trace exporter, a Prometheus metrics exporter, and a
// structured slog.Logger that tags every record with the active trace/span
// ID. DEBUG level additionally mirrors log output to stdout via
// CombinedHandler.
//
// # Health Checks
//
//	healthServer := observability.NewHealthServer(port, serviceName, version)
//	healthServer.AddChecker("broker", observability.NewBrokerHealthChecker("broker", conn.Ping))
//	go healthServer.Start(ctx)
//
// Serves /health, /ready, and /metrics.
//
// # Tracing and Metrics
//
// TraceManager and MetricsManager wrap the raw OpenTelemetry tracer/meter
// with span and counter helpers scoped to this domain (command dispatch,
// broker publish/consume, algedonic signals, policy updates, coordinator
// damping). See tracing.go and metrics.go for the full method set.
package observability
