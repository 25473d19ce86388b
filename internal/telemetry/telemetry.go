package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry owns the trace, metric and log providers for the daemon.
//
// New installs the trace and metric providers as the otel globals, which
// is where the services and the HTTP middleware pick up their tracers and
// meters. The log provider feeds the zap bridge via LoggerProvider.
// Exporter failures do not stop the daemon: the affected signal stays on
// the no-op global and the reason is kept for the caller to log.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    *sdklog.LoggerProvider

	degraded []string
}

// New builds the OTLP pipeline described by cfg and registers its
// providers globally. A disabled config yields an instance whose Shutdown
// is a no-op.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.degraded = append(t.degraded, fmt.Sprintf("trace exporter: %v", err))
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricsEnabled {
		if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
			t.degraded = append(t.degraded, fmt.Sprintf("metric exporter: %v", err))
		} else {
			t.meterProvider = mp
			otel.SetMeterProvider(mp)
		}
	}

	if lp, err := newLoggerProvider(ctx, cfg, res); err != nil {
		t.degraded = append(t.degraded, fmt.Sprintf("log exporter: %v", err))
	} else {
		t.logProvider = lp
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Degradations lists the pipeline pieces that failed to initialize.
// Empty when everything came up, or when telemetry is disabled.
func (t *Telemetry) Degradations() []string {
	if t == nil {
		return nil
	}
	return t.degraded
}

// LoggerProvider returns the provider the zap OTEL bridge should use,
// or nil when telemetry is disabled or the log exporter failed.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.logProvider == nil {
		return nil
	}
	return t.logProvider
}

// Shutdown flushes and stops the providers. Falls back to the configured
// shutdown timeout when ctx carries no deadline.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout.Duration())
		defer cancel()
	}

	var errs []error
	stop := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s provider: %w", name, err))
		}
	}
	if t.tracerProvider != nil {
		stop("trace", t.tracerProvider.Shutdown)
	}
	if t.meterProvider != nil {
		stop("meter", t.meterProvider.Shutdown)
	}
	if t.logProvider != nil {
		stop("log", t.logProvider.Shutdown)
	}
	return errors.Join(errs...)
}
