// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for aurora nodes.
//
// # Tracing
//
// Build a provider at startup; without an OTLP endpoint it is a no-op:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "aurora-node",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1,
//	})
//	defer provider.Shutdown(ctx)
//
// # Metrics
//
// Build the registry and expose it through the ingress:
//
//	metrics := observability.NewMetrics()
//	metrics.WatchEngine(engine)
//	api.NewServer(engine, api.WithMetricsHandler(metrics.Handler()))
//
// # Instrumenting the engine
//
// Wrap the engine so that every decide and feedback feeds all three sinks:
//
//	slo := observability.NewSLOTracker(observability.DefaultTargets()...)
//	engine := observability.Instrument(core, provider, metrics, slo)
package observability
