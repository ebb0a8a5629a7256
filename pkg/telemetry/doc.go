// Package telemetry provides observability for the BOps engine.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and an in-process event publisher.
// Every collector is optional: a nil *Metrics, *Tracer or *EventPublisher
// turns the corresponding calls into no-ops, so the engine can run without
// any telemetry configured.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	_ = tel.StartMetricsServer(ctx)
//
//	eng := engine.New(
//	    engine.WithLogger(tel.Logger),
//	    engine.WithMetrics(tel.Metrics),
//	    engine.WithTracer(tel.Tracer),
//	    engine.WithEvents(tel.Events),
//	)
//
// # Logging
//
// Loggers carry the operation, invocation and node they describe:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithOperation("package-bop").WithInvocationID(id).Debug("Invocation started")
//
// # Tracing
//
// Each invocation, node call and compilation runs in its own span. Nested
// operations appear as child spans of the node that called them.
//
// Supported exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// The metrics server exposes /metrics and /healthz:
//
//	bops_invocations_total{operation, status}
//	bops_invocation_duration_seconds{operation, status}
//	bops_invocation_timeouts_total{operation}
//	bops_node_calls_total{operation, kind, mode, status}
//	bops_stitches_total{operation, status}
//	bops_validation_failures_total{operation, code}
//	bops_dead_nodes{operation}
//	bops_variable_mutations_total{operation, status}
//
// # Events
//
// Subscribers receive operation and invocation lifecycle events:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Operation)
//	}, telemetry.FilterByType(telemetry.EventInvocationTimeout))
package telemetry
