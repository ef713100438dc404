package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/patternd/pkg/detector"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/registry"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled defaults", func(*Config) {}, ""},
		{"disabled ignores bad values", func(c *Config) { c.Endpoint = "" }, ""},
		{"enabled local", func(c *Config) { c.Enabled = true }, ""},
		{"no endpoint", func(c *Config) {
			c.Enabled = true
			c.Endpoint = ""
		}, "endpoint is required"},
		{"no service", func(c *Config) {
			c.Enabled = true
			c.ServiceName = ""
		}, "service_name"},
		{"bad protocol", func(c *Config) {
			c.Enabled = true
			c.Protocol = "udp"
		}, "protocol must be"},
		{"insecure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
		}, "insecure connections"},
		{"tls remote", func(c *Config) {
			c.Enabled = true
			c.Insecure = false
			c.Endpoint = "https://collector.example.com"
			c.Protocol = ProtocolHTTP
		}, ""},
		{"bad rate", func(c *Config) {
			c.Enabled = true
			c.Sampling.Rate = 1.5
		}, "sampling.rate"},
		{"zero interval", func(c *Config) {
			c.Enabled = true
			c.Metrics.ExportInterval = 0
		}, "export_interval"},
		{"zero shutdown", func(c *Config) {
			c.Enabled = true
			c.Shutdown.Timeout = 0
		}, "shutdown.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := map[string]bool{
		"localhost:4317":          true,
		"127.0.0.1:4317":          true,
		"127.0.0.53":              true,
		"[::1]:4317":              true,
		"::1":                     true,
		"http://localhost:4318":   true,
		"10.0.0.1:4317":           false,
		"collector.internal":      false,
		"https://otel.example.io": false,
	}
	for endpoint, want := range tests {
		t.Run(endpoint, func(t *testing.T) {
			c := &Config{Endpoint: endpoint}
			assert.Equal(t, want, c.isLocalEndpoint())
		})
	}
}

func TestNewSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased")
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.Empty(t, tel.Degraded())
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NotNil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "carrier-pigeon"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid telemetry config")
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.False(t, tel.Enabled())
	assert.Nil(t, tel.Degraded())
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTelemetry_DetectorInstrumentation(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	reg := registry.New()
	err := reg.Register(pattern.Definition{
		Domain:         "security",
		Name:           "cve",
		Version:        "1.0.0",
		Category:       pattern.CategoryEntity,
		Regex:          `CVE-\d{4}-\d{4,7}`,
		OutputType:     "vulnerability",
		BaseConfidence: 0.9,
	})
	require.NoError(t, err)

	metrics, err := detector.NewMetrics(tel.Meter(detector.InstrumentationName))
	require.NoError(t, err)
	d := detector.New(reg,
		detector.WithTracer(tel.Tracer(detector.InstrumentationName)),
		detector.WithMetrics(metrics),
	)

	res, err := d.ProcessDocument(ctx, "Patch CVE-2024-3094 now.", []string{"security"})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)

	span := tel.SpanByName("detector.ProcessDocument")
	require.NotNil(t, span)
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.Nil(t, tel.SpanByName("missing"))

	names := MetricNames(tel.Collect(t))
	assert.Contains(t, names, "detector.documents.total")
	assert.Contains(t, names, "detector.confidence")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(shutdownCtx))
}
