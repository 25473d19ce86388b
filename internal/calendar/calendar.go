// Package calendar is the external calendar collaborator.
//
// The reconciler talks to the Client interface only; implementations
// are selected by config. The google provider wraps the Calendar v3
// API with rate limiting and retries, the fake provider keeps events
// in memory for tests and offline runs.
package calendar

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ItemIDProperty is the private extended property linking an event back
// to the internal item that created it.
const ItemIDProperty = "plannerd_item_id"

// Event is the provider-neutral calendar event.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	ItemID      string    `json:"item_id,omitempty"`
	Updated     time.Time `json:"updated"`
}

// Client is what the sync reconciler needs from a calendar backend.
// List never mutates; Create/Update/Delete run only behind the
// confirmation gate.
type Client interface {
	List(ctx context.Context, userID string, from, to time.Time) ([]Event, error)
	Create(ctx context.Context, userID string, ev Event) (Event, error)
	Update(ctx context.Context, userID string, ev Event) (Event, error)
	Delete(ctx context.Context, userID, eventID string) error
}

// Config selects and configures the calendar provider.
type Config struct {
	// Provider is "google" or "fake".
	Provider string `koanf:"provider" json:"provider"`

	// CalendarID is the default calendar, normally "primary".
	CalendarID string `koanf:"calendar_id" json:"calendar_id"`

	// UserCalendars overrides the calendar per user id.
	UserCalendars map[string]string `koanf:"user_calendars" json:"user_calendars"`

	// CredentialsFile and TokenFile hold the OAuth client secrets and
	// the previously obtained user token. The daemon never runs an
	// interactive flow; the token must exist.
	CredentialsFile string `koanf:"credentials_file" json:"credentials_file"`
	TokenFile       string `koanf:"token_file" json:"token_file"`

	// RequestsPerMinute and Burst throttle the google provider.
	RequestsPerMinute float64 `koanf:"requests_per_minute" json:"requests_per_minute"`
	Burst             int     `koanf:"burst" json:"burst"`

	Retry RetryConfig `koanf:"retry" json:"retry"`
}

// NewDefaultConfig returns the fake provider with standard throttling.
func NewDefaultConfig() Config {
	return Config{
		Provider:          "fake",
		CalendarID:        "primary",
		RequestsPerMinute: 50,
		Burst:             5,
		Retry:             DefaultRetryConfig(),
	}
}

// New builds the configured provider.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "google":
		return newGoogleClient(ctx, cfg, logger)
	case "fake", "":
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", cfg.Provider)
	}
}
