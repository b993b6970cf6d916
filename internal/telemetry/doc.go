// Package telemetry provides OpenTelemetry instrumentation for dispatchd.
//
// Spans and metrics are exported over OTLP (gRPC or HTTP) to a collector.
// When telemetry is disabled, Tracer and Meter hand out no-op
// implementations so callers never need nil checks.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("dispatchd.http")
//
// ErrorReporter is the sink the decision engine uses for internal
// failures; it marks the active span as errored and logs the failure.
//
// Use NewTestTelemetry in tests to capture spans and metrics in memory.
package telemetry
