package calendar

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
)

// RetryConfig configures retry behavior for calendar API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the
	// first try. Default: 3.
	MaxRetries int `koanf:"max_retries" json:"max_retries"`

	// InitialBackoff is the first wait. Default: 1s.
	InitialBackoff time.Duration `koanf:"initial_backoff" json:"initial_backoff"`

	// MaxBackoff caps the wait. Default: 30s.
	MaxBackoff time.Duration `koanf:"max_backoff" json:"max_backoff"`

	// BackoffMultiplier grows the wait between attempts. Default: 2.
	BackoffMultiplier float64 `koanf:"backoff_multiplier" json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the standard calendar retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults fills unset fields.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// retryOperation runs op with exponential backoff on retryable errors.
// Exhausted retries surface as ExternalUnavailable so callers can leave
// state untouched.
func retryOperation(ctx context.Context, cfg RetryConfig, logger *zap.Logger, name string, op func() error) error {
	cfg.ApplyDefaults()

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			if attempt > 0 {
				logger.Info("calendar operation recovered after retries",
					zap.String("operation", name),
					zap.Int("attempts", attempt+1))
			}
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return faults.Unavailable("calendar", attempt+1, err)
		}
		if attempt == cfg.MaxRetries {
			break
		}

		logger.Warn("calendar operation failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxRetries+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return faults.Unavailable("calendar", attempt+1, ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
	}

	return faults.Unavailable("calendar", cfg.MaxRetries+1, lastErr)
}

// isRetryable classifies transient failures: rate limits, server-side
// errors, and network timeouts. Other 4xx responses fail immediately.
func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
