// Package telemetry sets up OpenTelemetry tracing and metrics for lexrag.
//
// Telemetry is off by default. When enabled, spans and OTel metrics are
// exported over OTLP (gRPC or HTTP) and the providers are installed
// globally, so the pipeline packages' otel.Tracer and otel.Meter calls pick
// them up. Prometheus metrics registered by the vector index are served
// separately at /metrics.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures degrade telemetry instead of failing startup; check
// Health for the reason.
package telemetry
