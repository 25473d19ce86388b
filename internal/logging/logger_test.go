package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_ValidConfig(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Underlying() == nil {
		t.Fatal("Underlying() returned nil")
	}
	_ = logger.Sync()
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	if _, err := NewLogger(cfg, nil); err == nil {
		t.Fatal("NewLogger() error = nil, want error for invalid format")
	}
}

func TestNewLogger_OTELOnlyWithoutProvider(t *testing.T) {
	// OTEL as the sole output needs a provider; without one there is
	// nowhere to write.
	cfg := NewDefaultConfig()
	cfg.Stdout = false
	cfg.OTEL = true

	_, err := NewLogger(cfg, nil)
	if err == nil {
		t.Fatal("NewLogger() error = nil, want no-output error")
	}
	if !strings.Contains(err.Error(), "no log output") {
		t.Errorf("error = %v, want no-output error", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Format = "yaml" },
			wantErr: "format must be json or console",
		},
		{
			name:    "no outputs",
			mutate:  func(c *Config) { c.Stdout = false },
			wantErr: "at least one output",
		},
		{
			name:    "bad redaction pattern",
			mutate:  func(c *Config) { c.Redaction.Patterns = []string{"("} },
			wantErr: "invalid redaction pattern",
		},
		{
			name: "oversized redaction pattern",
			mutate: func(c *Config) {
				c.Redaction.Patterns = []string{strings.Repeat("a", maxPatternLen+1)}
			},
			wantErr: "pattern too long",
		},
		{
			name:    "empty field value",
			mutate:  func(c *Config) { c.Fields = map[string]string{"env": ""} },
			wantErr: "empty value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"shout", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := LevelFromString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("LevelFromString(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
