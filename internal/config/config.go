// Package config provides configuration loading for plannerd.
//
// Configuration is loaded from a YAML file and layered with environment
// variables (see LoadWithFile). This package covers server, persistence,
// calendar, classifier, notification, and engine settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete plannerd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Calendar   CalendarConfig   `koanf:"calendar"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Notify     NotifyConfig     `koanf:"notify"`
	Engine     EngineConfig     `koanf:"engine"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds sqlite persistence configuration.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// CalendarConfig holds external calendar collaborator configuration.
type CalendarConfig struct {
	// Provider selects the implementation: "google" or "fake".
	Provider        string `koanf:"provider"`
	CalendarID      string `koanf:"calendar_id"`
	CredentialsFile string `koanf:"credentials_file"`
	TokenFile       string `koanf:"token_file"`
	// RequestsPerMinute throttles outbound calendar API calls.
	RequestsPerMinute int `koanf:"requests_per_minute"`
	Burst             int `koanf:"burst"`
}

// ClassifierConfig holds LLM classifier configuration.
type ClassifierConfig struct {
	// Provider selects the implementation: "llm", "heuristic", or "noop".
	Provider string        `koanf:"provider"`
	BaseURL  string        `koanf:"base_url"`
	Model    string        `koanf:"model"`
	APIKey   Secret        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// NotifyConfig holds NATS event bus configuration.
type NotifyConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// EngineConfig holds the scheduling and learning engine tunables.
type EngineConfig struct {
	// SuggestionThreshold is the minimum pattern confidence before a
	// flow is suggested to the user.
	SuggestionThreshold float64 `koanf:"suggestion_threshold"`
	// MaxWeightStep bounds how far a single correction can move a
	// preference weight.
	MaxWeightStep float64 `koanf:"max_weight_step"`
	// RejectionLimit is the number of consecutive rejections that
	// disables a flow.
	RejectionLimit int `koanf:"rejection_limit"`
	// RecentRunWindow is the number of recent flow runs inspected for
	// the needs-update check.
	RecentRunWindow int `koanf:"recent_run_window"`

	// HorizonDays is how far ahead the slot search looks.
	HorizonDays int `koanf:"horizon_days"`

	// ConfirmTTL is how long a proposed action token stays valid.
	ConfirmTTL Duration `koanf:"confirm_ttl"`

	PatternScanInterval Duration `koanf:"pattern_scan_interval"`
	SyncInterval        Duration `koanf:"sync_interval"`
	TriggerInterval     Duration `koanf:"trigger_interval"`
	CalibrationInterval Duration `koanf:"calibration_interval"`
}

// DefaultDatabasePath returns the default sqlite location under the
// user's data directory. Falls back to a relative path when the home
// directory cannot be resolved.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "plannerd.db"
	}
	return filepath.Join(home, ".local", "share", "plannerd", "plannerd.db")
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Database path is empty
//   - Calendar or classifier provider is unknown
//   - Engine tunables are outside their documented ranges
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Calendar.Provider {
	case "google", "fake":
	default:
		return fmt.Errorf("unknown calendar provider: %q (must be google or fake)", c.Calendar.Provider)
	}
	if c.Calendar.Provider == "google" && c.Calendar.CredentialsFile == "" {
		return errors.New("calendar credentials_file required for google provider")
	}
	if c.Calendar.RequestsPerMinute < 1 {
		return fmt.Errorf("calendar requests_per_minute must be >= 1, got %d", c.Calendar.RequestsPerMinute)
	}

	switch c.Classifier.Provider {
	case "llm", "heuristic", "noop":
	default:
		return fmt.Errorf("unknown classifier provider: %q (must be llm, heuristic or noop)", c.Classifier.Provider)
	}
	if c.Classifier.Provider == "llm" && !c.Classifier.APIKey.IsSet() {
		return errors.New("classifier api_key required for llm provider")
	}

	if c.Notify.Enabled && c.Notify.URL == "" {
		return errors.New("notify URL required when notifications are enabled")
	}

	return c.Engine.Validate()
}

// Validate checks the engine tunables against their documented ranges.
func (e *EngineConfig) Validate() error {
	if e.SuggestionThreshold < 0 || e.SuggestionThreshold > 1 {
		return fmt.Errorf("suggestion_threshold must be in [0,1], got %g", e.SuggestionThreshold)
	}
	if e.MaxWeightStep <= 0 || e.MaxWeightStep > 0.5 {
		return fmt.Errorf("max_weight_step must be in (0,0.5], got %g", e.MaxWeightStep)
	}
	if e.RejectionLimit < 1 {
		return fmt.Errorf("rejection_limit must be >= 1, got %d", e.RejectionLimit)
	}
	if e.RecentRunWindow < 1 {
		return fmt.Errorf("recent_run_window must be >= 1, got %d", e.RecentRunWindow)
	}
	if e.HorizonDays < 1 {
		return fmt.Errorf("horizon_days must be >= 1, got %d", e.HorizonDays)
	}
	if e.ConfirmTTL.Duration() <= 0 {
		return errors.New("confirm_ttl must be positive")
	}
	for name, iv := range map[string]Duration{
		"pattern_scan_interval": e.PatternScanInterval,
		"sync_interval":         e.SyncInterval,
		"trigger_interval":      e.TriggerInterval,
		"calibration_interval":  e.CalibrationInterval,
	} {
		if iv.Duration() <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
