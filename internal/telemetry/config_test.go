package telemetry

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled, "telemetry should be off by default")
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "plannerd", cfg.ServiceName)
	assert.NotEmpty(t, cfg.ServiceVersion)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 15*time.Second, cfg.MetricInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration())
}

func TestConfig_Validate_Disabled(t *testing.T) {
	// A disabled config is always valid, even with nonsense fields.
	cfg := &Config{Enabled: false, SampleRate: 7}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: "service_name is required",
		},
		{
			name:    "missing service version",
			mutate:  func(c *Config) { c.ServiceVersion = "" },
			wantErr: "service_version is required",
		},
		{
			name:    "unknown protocol",
			mutate:  func(c *Config) { c.Protocol = "thrift" },
			wantErr: "protocol must be grpc or http/protobuf",
		},
		{
			name:   "http protocol accepted",
			mutate: func(c *Config) { c.Protocol = ProtocolHTTP },
		},
		{
			name:    "insecure remote endpoint rejected",
			mutate:  func(c *Config) { c.Endpoint = "collector.example.com:4317" },
			wantErr: "insecure export to remote endpoint",
		},
		{
			name: "secure remote endpoint accepted",
			mutate: func(c *Config) {
				c.Endpoint = "collector.example.com:4317"
				c.Insecure = false
			},
		},
		{
			name:    "sample rate too high",
			mutate:  func(c *Config) { c.SampleRate = 1.5 },
			wantErr: "sample_rate must be between 0 and 1",
		},
		{
			name:    "sample rate negative",
			mutate:  func(c *Config) { c.SampleRate = -0.1 },
			wantErr: "sample_rate must be between 0 and 1",
		},
		{
			name:    "zero metric interval",
			mutate:  func(c *Config) { c.MetricInterval = config.Duration(0) },
			wantErr: "metric_interval must be positive",
		},
		{
			name: "metric interval ignored when metrics disabled",
			mutate: func(c *Config) {
				c.MetricsEnabled = false
				c.MetricInterval = config.Duration(0)
			},
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.ShutdownTimeout = config.Duration(0) },
			wantErr: "shutdown_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		local    bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.53:4317", true},
		{"[::1]:4317", true},
		{"[::1]", true},
		{"::1", true},
		{"collector.example.com:4317", false},
		{"10.0.0.5:4317", false},
		{"otel.internal", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.local, localEndpoint(tt.endpoint))
		})
	}
}
