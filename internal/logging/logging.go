// Package logging assembles the daemon's zap logger: level and format
// selection, secret redaction on the stdout core, and an optional OTEL
// log bridge. Services receive the assembled *zap.Logger and log through
// it directly; this package only builds and flushes it.
package logging

import (
	"fmt"
	"regexp"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug for output too noisy even for debugging
// sessions: per-slot scoring detail, calendar wire payloads. Filtered
// everywhere by default.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" on top of the
// zap set.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Config controls how the logger is assembled.
type Config struct {
	Level  zapcore.Level `koanf:"level"`
	Format string        `koanf:"format"` // "json" or "console"

	// Stdout and OTEL select the output cores. The OTEL core only
	// attaches when a logger provider is handed to NewLogger.
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`

	Caller          bool          `koanf:"caller"`
	StacktraceLevel zapcore.Level `koanf:"stacktrace_level"`

	// Fields are constant key/value pairs stamped on every entry.
	Fields map[string]string `koanf:"fields"`

	Redaction RedactionConfig `koanf:"redaction"`
}

// RedactionConfig lists field names and value patterns that must never
// reach the log output.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Keys     []string `koanf:"keys"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns production defaults: info-level JSON on
// stdout with credential redaction on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:           zapcore.InfoLevel,
		Format:          "json",
		Stdout:          true,
		Caller:          true,
		StacktraceLevel: zapcore.ErrorLevel,
		Fields:          map[string]string{"service": "plannerd"},
		Redaction: RedactionConfig{
			Enabled: true,
			Keys: []string{
				"password", "secret", "token", "api_key",
				"access_token", "refresh_token", "client_secret",
				"authorization", "bearer", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// Validate rejects configs NewLogger could not assemble.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be json or console, got %q", c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return fmt.Errorf("at least one output must be enabled")
	}
	if _, err := c.Redaction.compile(); err != nil {
		return err
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}

// maxPatternLen caps the length of redaction patterns arriving via
// config.
const maxPatternLen = 200

// compile turns the pattern list into regexps, enforcing the length
// bound. Used by both Validate and the encoder so the rules cannot
// drift apart.
func (r RedactionConfig) compile() ([]*regexp.Regexp, error) {
	if !r.Enabled {
		return nil, nil
	}
	patterns := make([]*regexp.Regexp, 0, len(r.Patterns))
	for _, p := range r.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}
