package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/plannerd/internal/http"

// Metrics records per-request counters and latency for the API server.
// A nil instrument (creation failed at startup) is skipped at record
// time, so a broken meter never breaks request handling.
type Metrics struct {
	requests metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewMetrics registers the HTTP instruments on the global meter.
// Creation failures are logged and the affected instrument stays nil.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(httpInstrumentationName)

	m := &Metrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"plannerd.http.requests_total",
		metric.WithDescription("Requests served, labeled by method, endpoint and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.failures, err = meter.Int64Counter(
		"plannerd.http.errors_total",
		metric.WithDescription("Requests that ended in a 5xx response"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.latency, err = meter.Float64Histogram(
		"plannerd.http.request_duration_seconds",
		metric.WithDescription("Request duration, labeled by method, endpoint and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.inflight, err = meter.Int64UpDownCounter(
		"plannerd.http.active_requests",
		metric.WithDescription("Requests currently being handled"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create active requests gauge", zap.Error(err))
	}

	return m
}

// Middleware returns the echo middleware that feeds the instruments.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(c.Request().Context(), 1)
			}

			err := next(c)

			m.observe(c, start, err)
			return err
		}
	}
}

func (m *Metrics) observe(c echo.Context, start time.Time, err error) {
	ctx := c.Request().Context()
	status := resolveStatus(c, err)

	attrs := metric.WithAttributes(
		attribute.String("method", c.Request().Method),
		attribute.String("endpoint", routeLabel(c)),
		attribute.Int("status", status),
	)

	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.failures != nil && status >= http.StatusInternalServerError {
		m.failures.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if m.inflight != nil {
		m.inflight.Add(ctx, -1)
	}
}

// resolveStatus returns the status the client will see. When a handler
// returns an error the response has not been written yet, so the code
// has to come from the error itself, not from c.Response().Status.
func resolveStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// routeLabel keeps the endpoint label's cardinality bounded. Echo hands
// back the registered route template, so parameterized routes collapse
// to one label each:
//
//	/v1/users/u1/slots -> /v1/users/:user_id/slots
//
// Requests that match no route carry an empty path and group under "/".
func routeLabel(c echo.Context) string {
	if path := c.Path(); path != "" {
		return path
	}
	return "/"
}
