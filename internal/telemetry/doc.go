// Package telemetry wires OpenTelemetry for the daemon.
//
// New builds OTLP trace, metric and log exporters (gRPC by default,
// http/protobuf optional) and installs the trace and metric providers as
// the otel globals. The services and the HTTP middleware pull their
// tracers and meters from those globals, so enabling telemetry needs no
// further wiring; the log provider is handed to the zap bridge through
// LoggerProvider:
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//	for _, reason := range tel.Degradations() {
//	    logger.Warn("Telemetry degraded", zap.String("reason", reason))
//	}
//
// Exporter failures never stop the daemon: the affected signal stays on
// the no-op provider and the reason is reported through Degradations.
//
// In tests, Recorder captures both signals in memory:
//
//	rec := telemetry.NewRecorder()
//	rec.Install(t)
//	// exercise code that starts spans
//	if rec.Span("flow.decide") == nil {
//	    t.Fatal("span not recorded")
//	}
package telemetry
