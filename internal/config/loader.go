package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config files above this size are rejected before parsing.
const maxConfigFileSize = 1 << 20

// LoadWithFile loads configuration from a YAML file and layers
// environment variables on top.
//
// Precedence, highest first:
//  1. Environment variables (SERVER_HTTP_PORT, ENGINE_SUGGESTION_THRESHOLD, ...)
//  2. The YAML file
//  3. Built-in defaults
//
// An empty configPath means ~/.config/plannerd/config.yaml, and a
// missing file is not an error. Because the file may carry API keys it
// must be owner-only (0600 or 0400) and live under ~/.config/plannerd/
// or /etc/plannerd/; symlinks are resolved before the directory check so
// a link cannot escape the allow-list.
//
// Environment keys split on the first underscore into section.field:
//
//	SERVER_HTTP_PORT            -> server.http_port
//	ENGINE_SUGGESTION_THRESHOLD -> engine.suggestion_threshold
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "plannerd", "config.yaml")
	}
	if err := checkConfigPath(configPath); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// EnsureConfigDir creates ~/.config/plannerd with owner-only
// permissions. The daemon calls this at startup so a fresh install has
// somewhere to put config.yaml.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "plannerd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// checkConfigPath enforces the directory allow-list. It runs whether or
// not the file exists, so pointing the daemon at /etc/passwd fails the
// same way as pointing it at a missing file there.
func checkConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	// EvalSymlinks fails on paths that do not exist yet; the absolute
	// path is what gets opened in that case, so check it instead.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	for _, dir := range []string{filepath.Join(home, ".config", "plannerd"), "/etc/plannerd"} {
		if strings.HasPrefix(resolved, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file %s is outside ~/.config/plannerd/ and /etc/plannerd/", path)
}

// readConfigFile returns the file's contents, or nil when the file does
// not exist. The permission and size checks run against the opened file
// descriptor, so swapping the file between check and read cannot bypass
// them.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stating config file: %w", err)
	}
	// Owner-only, because the file may carry API keys. Windows has its
	// own permission model and is skipped.
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0600 && perm != 0400 {
			return nil, fmt.Errorf("insecure config file permissions %v on %s (want 0600 or 0400)", perm, path)
		}
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is %d bytes, the limit is %d", path, info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}

// envToKey maps SECTION_FIELD_NAME to section.field_name. Only the
// first underscore separates; the rest belongs to the field.
func envToKey(s string) string {
	lower := strings.ToLower(s)
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// applyDefaults sets default values for configuration fields the file
// and environment left unset.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8484
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath()
	}

	if cfg.Calendar.Provider == "" {
		cfg.Calendar.Provider = "fake"
	}
	if cfg.Calendar.CalendarID == "" {
		cfg.Calendar.CalendarID = "primary"
	}
	if cfg.Calendar.RequestsPerMinute == 0 {
		cfg.Calendar.RequestsPerMinute = 50
	}
	if cfg.Calendar.Burst == 0 {
		cfg.Calendar.Burst = 5
	}

	if cfg.Classifier.Provider == "" {
		cfg.Classifier.Provider = "heuristic"
	}
	if cfg.Classifier.BaseURL == "" {
		cfg.Classifier.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "gpt-4o-mini"
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 30 * time.Second
	}

	if cfg.Notify.URL == "" {
		cfg.Notify.URL = "nats://127.0.0.1:4222"
	}

	applyEngineDefaults(&cfg.Engine)
}

// applyEngineDefaults fills zero-valued engine tunables.
func applyEngineDefaults(e *EngineConfig) {
	if e.SuggestionThreshold == 0 {
		e.SuggestionThreshold = 0.7
	}
	if e.MaxWeightStep == 0 {
		e.MaxWeightStep = 0.1
	}
	if e.RejectionLimit == 0 {
		e.RejectionLimit = 3
	}
	if e.RecentRunWindow == 0 {
		e.RecentRunWindow = 4
	}
	if e.HorizonDays == 0 {
		e.HorizonDays = 7
	}
	if e.ConfirmTTL == 0 {
		e.ConfirmTTL = Duration(24 * time.Hour)
	}
	if e.PatternScanInterval == 0 {
		e.PatternScanInterval = Duration(6 * time.Hour)
	}
	if e.SyncInterval == 0 {
		e.SyncInterval = Duration(4 * time.Hour)
	}
	if e.TriggerInterval == 0 {
		e.TriggerInterval = Duration(time.Hour)
	}
	if e.CalibrationInterval == 0 {
		e.CalibrationInterval = Duration(24 * time.Hour)
	}
}
