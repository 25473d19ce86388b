package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/config"
)

// Protocols accepted by Config.Protocol.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds the exporter settings for the OTLP pipeline.
type Config struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`

	// Insecure disables TLS entirely; only permitted for local endpoints.
	Insecure bool `koanf:"insecure"`
	// TLSSkipVerify keeps TLS but skips certificate verification, for
	// collectors behind internal CAs.
	TLSSkipVerify bool `koanf:"tls_skip_verify"`

	SampleRate      float64         `koanf:"sample_rate"`
	MetricsEnabled  bool            `koanf:"metrics_enabled"`
	MetricInterval  config.Duration `koanf:"metric_interval"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns local-dev defaults: pipeline off, full
// sampling, plaintext to a collector on localhost. Set
// TELEMETRY_ENABLED=true to turn the pipeline on.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		ServiceName:     "plannerd",
		ServiceVersion:  "0.1.0",
		Insecure:        true,
		SampleRate:      1.0,
		MetricsEnabled:  true,
		MetricInterval:  config.Duration(15 * time.Second),
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

// Validate rejects configs that would build a broken pipeline. A disabled
// config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required when telemetry is enabled")
	}

	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}

	if c.Insecure && !localEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure export to remote endpoint %q is not allowed; set insecure=false or use a loopback endpoint", c.Endpoint)
	}

	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", c.SampleRate)
	}
	if c.MetricsEnabled && c.MetricInterval.Duration() <= 0 {
		return fmt.Errorf("metric_interval must be positive when metrics are enabled")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}

// localEndpoint reports whether endpoint points at the local host.
// Plaintext export is only allowed for these.
func localEndpoint(endpoint string) bool {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	} else {
		// No port, possibly a bare bracketed IPv6 literal.
		host = strings.Trim(host, "[]")
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
