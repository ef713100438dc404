package detector

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

func sumInt64(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestNewMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(provider.Meter(InstrumentationName))
	require.NoError(t, err)
	assert.True(t, metrics.initialized)

	global, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.True(t, global.initialized)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDocument(context.Background(), emptyResult())
		m.RecordFailure(context.Background())
	})
}

func TestMetrics_RecordDocument(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(provider.Meter(InstrumentationName))
	require.NoError(t, err)

	affects := relationship("security", "affects",
		`(?P<from>CVE-\d{4}-\d{4,7}) affects (?P<to>\w+)`, "affects", 0.75)
	d := New(newRegistry(t, cveDef(), affects), WithMetrics(metrics))

	ctx := context.Background()
	_, err = d.ProcessDocument(ctx, repeated, []string{"security"})
	require.NoError(t, err)
	_, err = d.ProcessDocument(ctx, "CVE-2021-44228 affects tomcat", []string{"security"})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(2), sumInt64(t, rm, "detector.documents.total"))
	assert.Equal(t, int64(2), sumInt64(t, rm, "detector.entities.total"))
	assert.Equal(t, int64(0), sumInt64(t, rm, "detector.relationships.total"))
	assert.Equal(t, int64(1), sumInt64(t, rm, "detector.relationships.dropped.total"))
	assert.Equal(t, int64(0), sumInt64(t, rm, "detector.documents.failed.total"))

	var sawDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "detector.duration.seconds" {
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				require.Len(t, hist.DataPoints, 1)
				assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
				sawDuration = true
			}
		}
	}
	assert.True(t, sawDuration)
}

func TestProcessDocument_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer(InstrumentationName)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		d := New(newRegistry(t, cveDef()), WithTracer(tracer))
		_, err := d.ProcessDocument(ctx, repeated, []string{"security"})
		require.NoError(t, err)

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		span := spans[len(spans)-1]
		assert.Equal(t, "detector.ProcessDocument", span.Name())
		assert.Equal(t, codes.Ok, span.Status().Code)

		attrs := make(map[attribute.Key]attribute.Value)
		for _, kv := range span.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		assert.Equal(t, int64(len(repeated)), attrs["detector.text_bytes"].AsInt64())
		assert.Equal(t, []string{"security"}, attrs["detector.domains"].AsStringSlice())
		assert.Equal(t, int64(1), attrs["detector.entities"].AsInt64())
	})

	t.Run("failure", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		metrics, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(InstrumentationName))
		require.NoError(t, err)

		src := stubSource{
			defs: []pattern.Definition{cveDef()},
			compile: func(pattern.Definition) (*regexp.Regexp, error) {
				return nil, errors.New("boom")
			},
		}
		_, err = New(src, WithTracer(tracer), WithMetrics(metrics)).ProcessDocument(ctx, repeated, []string{"security"})
		require.Error(t, err)

		spans := recorder.Ended()
		span := spans[len(spans)-1]
		assert.Equal(t, codes.Error, span.Status().Code)
		require.NotEmpty(t, span.Events())
		assert.Equal(t, "exception", span.Events()[0].Name)

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(ctx, &rm))
		assert.Equal(t, int64(1), sumInt64(t, rm, "detector.documents.failed.total"))
	})
}
