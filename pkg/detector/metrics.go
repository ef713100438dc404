package detector

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName is the name used for OTEL instrumentation.
	InstrumentationName = "github.com/fyrsmithlabs/patternd/pkg/detector"
)

// Metrics provides OpenTelemetry metrics for the detector.
type Metrics struct {
	// Counters
	documentsTotal     metric.Int64Counter
	failuresTotal      metric.Int64Counter
	entitiesTotal      metric.Int64Counter
	relationshipsTotal metric.Int64Counter
	droppedTotal       metric.Int64Counter

	// Histograms
	duration   metric.Float64Histogram
	confidence metric.Float64Histogram

	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.documentsTotal, err = meter.Int64Counter(
		"detector.documents.total",
		metric.WithDescription("Total number of documents processed"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, err
	}

	m.failuresTotal, err = meter.Int64Counter(
		"detector.documents.failed.total",
		metric.WithDescription("Total number of documents that failed processing"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, err
	}

	m.entitiesTotal, err = meter.Int64Counter(
		"detector.entities.total",
		metric.WithDescription("Total number of entities detected"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		return nil, err
	}

	m.relationshipsTotal, err = meter.Int64Counter(
		"detector.relationships.total",
		metric.WithDescription("Total number of relationships detected"),
		metric.WithUnit("{relationship}"),
	)
	if err != nil {
		return nil, err
	}

	m.droppedTotal, err = meter.Int64Counter(
		"detector.relationships.dropped.total",
		metric.WithDescription("Relationship matches dropped for unresolved endpoints"),
		metric.WithUnit("{relationship}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"detector.duration.seconds",
		metric.WithDescription("Document processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	m.confidence, err = meter.Float64Histogram(
		"detector.confidence",
		metric.WithDescription("Final confidence of emitted detections"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordDocument records a completed detection run.
func (m *Metrics) RecordDocument(ctx context.Context, res *Result) {
	if m == nil || !m.initialized || res == nil {
		return
	}
	m.documentsTotal.Add(ctx, 1)
	m.duration.Record(ctx, res.Stats.Duration.Seconds())
	if res.Stats.DroppedRelationships > 0 {
		m.droppedTotal.Add(ctx, int64(res.Stats.DroppedRelationships))
	}

	for typ, n := range res.Stats.EntityTypes {
		m.entitiesTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", typ)))
	}
	for typ, n := range res.Stats.RelationshipTypes {
		m.relationshipsTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", typ)))
	}

	entityAttrs := metric.WithAttributes(attribute.String("category", "entity"))
	for _, e := range res.Entities {
		m.confidence.Record(ctx, e.Confidence, entityAttrs)
	}
	relAttrs := metric.WithAttributes(attribute.String("category", "relationship"))
	for _, r := range res.Relationships {
		m.confidence.Record(ctx, r.Confidence, relAttrs)
	}
}

// RecordFailure records a failed detection run.
func (m *Metrics) RecordFailure(ctx context.Context) {
	if m == nil || !m.initialized {
		return
	}
	m.failuresTotal.Add(ctx, 1)
}

// Tracer returns a tracer for the detector package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
