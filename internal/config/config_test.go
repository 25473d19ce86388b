package config

import (
	"strings"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	if cfg.Server.Port != 8484 {
		t.Errorf("Server.Port = %d, want 8484", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path is empty, want default path")
	}
	if !strings.HasSuffix(cfg.Database.Path, "plannerd.db") {
		t.Errorf("Database.Path = %q, want a plannerd.db path", cfg.Database.Path)
	}
	if cfg.Calendar.Provider != "fake" {
		t.Errorf("Calendar.Provider = %q, want fake", cfg.Calendar.Provider)
	}
	if cfg.Calendar.CalendarID != "primary" {
		t.Errorf("Calendar.CalendarID = %q, want primary", cfg.Calendar.CalendarID)
	}
	if cfg.Calendar.RequestsPerMinute != 50 {
		t.Errorf("Calendar.RequestsPerMinute = %d, want 50", cfg.Calendar.RequestsPerMinute)
	}
	if cfg.Classifier.Provider != "heuristic" {
		t.Errorf("Classifier.Provider = %q, want heuristic", cfg.Classifier.Provider)
	}
	if cfg.Notify.Enabled {
		t.Error("Notify.Enabled = true, want false (disabled by default)")
	}
	if cfg.Notify.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Notify.URL = %q, want nats://127.0.0.1:4222", cfg.Notify.URL)
	}
}

func TestApplyDefaults_PreservesSetValues(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{Port: 9191},
		Calendar: CalendarConfig{Provider: "google", CredentialsFile: "/tmp/creds.json"},
	}
	applyDefaults(&cfg)

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191 to survive defaulting", cfg.Server.Port)
	}
	if cfg.Calendar.Provider != "google" {
		t.Errorf("Calendar.Provider = %q, want google to survive defaulting", cfg.Calendar.Provider)
	}
	// Unset fields still get filled.
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want default 10s", cfg.Server.ShutdownTimeout)
	}
}

func TestApplyEngineDefaults(t *testing.T) {
	var e EngineConfig
	applyEngineDefaults(&e)

	if e.SuggestionThreshold != 0.7 {
		t.Errorf("SuggestionThreshold = %g, want 0.7", e.SuggestionThreshold)
	}
	if e.MaxWeightStep != 0.1 {
		t.Errorf("MaxWeightStep = %g, want 0.1", e.MaxWeightStep)
	}
	if e.RejectionLimit != 3 {
		t.Errorf("RejectionLimit = %d, want 3", e.RejectionLimit)
	}
	if e.RecentRunWindow != 4 {
		t.Errorf("RecentRunWindow = %d, want 4", e.RecentRunWindow)
	}
	if e.HorizonDays != 7 {
		t.Errorf("HorizonDays = %d, want 7", e.HorizonDays)
	}
	if e.ConfirmTTL.Duration() != 24*time.Hour {
		t.Errorf("ConfirmTTL = %v, want 24h", e.ConfirmTTL.Duration())
	}
	if e.PatternScanInterval.Duration() != 6*time.Hour {
		t.Errorf("PatternScanInterval = %v, want 6h", e.PatternScanInterval.Duration())
	}
	if e.SyncInterval.Duration() != 4*time.Hour {
		t.Errorf("SyncInterval = %v, want 4h", e.SyncInterval.Duration())
	}
	if e.TriggerInterval.Duration() != time.Hour {
		t.Errorf("TriggerInterval = %v, want 1h", e.TriggerInterval.Duration())
	}
	if e.CalibrationInterval.Duration() != 24*time.Hour {
		t.Errorf("CalibrationInterval = %v, want 24h", e.CalibrationInterval.Duration())
	}
}

func validTestConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8484,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "/tmp/plannerd.db"},
		Calendar: CalendarConfig{
			Provider:          "fake",
			CalendarID:        "primary",
			RequestsPerMinute: 50,
			Burst:             5,
		},
		Classifier: ClassifierConfig{
			Provider: "noop",
			Timeout:  30 * time.Second,
		},
	}
	applyEngineDefaults(&cfg.Engine)
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port - too low",
			mutate:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port - too high",
			mutate:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid shutdown timeout",
			mutate:  func(cfg *Config) { cfg.Server.ShutdownTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "empty database path",
			mutate:  func(cfg *Config) { cfg.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "unknown calendar provider",
			mutate:  func(cfg *Config) { cfg.Calendar.Provider = "outlook" },
			wantErr: true,
		},
		{
			name: "google provider without credentials",
			mutate: func(cfg *Config) {
				cfg.Calendar.Provider = "google"
				cfg.Calendar.CredentialsFile = ""
			},
			wantErr: true,
		},
		{
			name:    "unknown classifier provider",
			mutate:  func(cfg *Config) { cfg.Classifier.Provider = "magic" },
			wantErr: true,
		},
		{
			name: "llm classifier without api key",
			mutate: func(cfg *Config) {
				cfg.Classifier.Provider = "llm"
				cfg.Classifier.APIKey = ""
			},
			wantErr: true,
		},
		{
			name: "notify enabled without URL",
			mutate: func(cfg *Config) {
				cfg.Notify.Enabled = true
				cfg.Notify.URL = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*EngineConfig) {},
			wantErr: false,
		},
		{
			name:    "threshold above one",
			mutate:  func(e *EngineConfig) { e.SuggestionThreshold = 1.5 },
			wantErr: true,
		},
		{
			name:    "weight step too large",
			mutate:  func(e *EngineConfig) { e.MaxWeightStep = 0.9 },
			wantErr: true,
		},
		{
			name:    "zero rejection limit",
			mutate:  func(e *EngineConfig) { e.RejectionLimit = 0 },
			wantErr: true,
		},
		{
			name:    "negative horizon",
			mutate:  func(e *EngineConfig) { e.HorizonDays = -1 },
			wantErr: true,
		},
		{
			name:    "negative confirm ttl",
			mutate:  func(e *EngineConfig) { e.ConfirmTTL = Duration(-time.Hour) },
			wantErr: true,
		},
		{
			name:    "negative sync interval",
			mutate:  func(e *EngineConfig) { e.SyncInterval = Duration(-time.Hour) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := EngineConfig{}
			applyEngineDefaults(&e)
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
