package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Recorder captures spans and metrics in memory for tests.
type Recorder struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// NewRecorder builds an in-memory trace and metric pipeline.
func NewRecorder() *Recorder {
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	return &Recorder{
		spans:          spans,
		reader:         reader,
		tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// Install swaps the recorder in as the global otel providers and restores
// the previous ones when the test ends. Services constructed after
// Install record here.
func (r *Recorder) Install(tb testing.TB) {
	tb.Helper()
	prevTracer := otel.GetTracerProvider()
	prevMeter := otel.GetMeterProvider()
	otel.SetTracerProvider(r.tracerProvider)
	otel.SetMeterProvider(r.meterProvider)
	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	})
}

// EndedSpans returns every span finished so far.
func (r *Recorder) EndedSpans() []sdktrace.ReadOnlySpan {
	return r.spans.Ended()
}

// Span returns the first ended span with the given name, nil if none.
func (r *Recorder) Span(name string) sdktrace.ReadOnlySpan {
	for _, s := range r.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// SpanNames lists ended span names in completion order.
func (r *Recorder) SpanNames() []string {
	ended := r.spans.Ended()
	names := make([]string, len(ended))
	for i, s := range ended {
		names[i] = s.Name()
	}
	return names
}

// Collect drains the current metric state.
func (r *Recorder) Collect(tb testing.TB) metricdata.ResourceMetrics {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}
	return rm
}

// HasMetric reports whether an instrument with the given name recorded
// anything.
func (r *Recorder) HasMetric(tb testing.TB, name string) bool {
	tb.Helper()
	rm := r.Collect(tb)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}
