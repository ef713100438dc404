// Package detector turns text into scored entities and relationships.
//
// A Detector selects the active patterns of the requested domains, runs
// them through the matcher, scores every match, deduplicates entities, and
// resolves relationship endpoints against the surviving entities. It keeps
// no state between calls; all shared state lives in the pattern registry.
package detector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/pkg/matcher"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/scoring"
)

// PatternSource supplies active definitions and their compiled expressions.
// *registry.Registry satisfies it.
type PatternSource interface {
	GetPatterns(domains []string, category pattern.Category) []pattern.Definition
	matcher.Compiler
}

// Config controls result assembly.
type Config struct {
	// MergeMentions folds entities with the same type and text into the
	// earliest occurrence. When false only identical spans are merged.
	MergeMentions bool `koanf:"merge_mentions"`

	// MinConfidence drops entities and relationships scoring below it.
	MinConfidence float64 `koanf:"min_confidence"`

	// MaxResolveDistance bounds how far, in bytes, a relationship endpoint
	// may be from the entity it resolves to. Zero means unbounded.
	MaxResolveDistance int `koanf:"max_resolve_distance"`
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{MergeMentions: true}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %v", c.MinConfidence)
	}
	if c.MaxResolveDistance < 0 {
		return fmt.Errorf("max_resolve_distance must be >= 0, got %d", c.MaxResolveDistance)
	}
	return nil
}

// Detector orchestrates pattern selection, matching, scoring, and
// assembly. It is safe for concurrent use.
type Detector struct {
	source  PatternSource
	matcher *matcher.Matcher
	scorer  *scoring.Scorer
	cfg     Config
	logger  *Logger
	metrics *Metrics
	tracer  trace.Tracer

	matcherOpts []matcher.Option
}

// Option configures a Detector.
type Option func(*Detector)

// WithConfig sets the assembly configuration.
func WithConfig(cfg Config) Option {
	return func(d *Detector) {
		d.cfg = cfg
	}
}

// WithScorer replaces the default scorer.
func WithScorer(s *scoring.Scorer) Option {
	return func(d *Detector) {
		if s != nil {
			d.scorer = s
		}
	}
}

// WithMatcherOptions configures the matcher built over the pattern source.
func WithMatcherOptions(opts ...matcher.Option) Option {
	return func(d *Detector) {
		d.matcherOpts = append(d.matcherOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		d.logger = NewLogger(logger)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

// WithTracer sets the tracer used for ProcessDocument spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Detector) {
		if t != nil {
			d.tracer = t
		}
	}
}

// New creates a Detector over source.
func New(source PatternSource, opts ...Option) *Detector {
	d := &Detector{
		source: source,
		scorer: scoring.New(scoring.DefaultConfig()),
		cfg:    DefaultConfig(),
		logger: NewLogger(nil),
		tracer: Tracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.matcher = matcher.New(source, append([]matcher.Option{matcher.WithLogger(d.logger.underlying())}, d.matcherOpts...)...)
	return d
}

// ProcessDocument detects entities and relationships in text using the
// active patterns of domains. Empty domains yield an empty result, and
// unknown domains are ignored. ctx carries trace and logging values only;
// detection runs to completion once started.
func (d *Detector) ProcessDocument(ctx context.Context, text string, domains []string) (*Result, error) {
	ctx, span := d.tracer.Start(ctx, "detector.ProcessDocument", trace.WithAttributes(
		attribute.Int("detector.text_bytes", len(text)),
		attribute.StringSlice("detector.domains", domains),
	))
	defer span.End()

	start := time.Now()
	res, err := d.process(ctx, text, domains)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.RecordFailure(ctx)
		d.logger.Error(ctx, "document processing failed", err, zap.Strings("domains", domains))
		return nil, err
	}
	res.Stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("detector.entities", res.Stats.Entities),
		attribute.Int("detector.relationships", res.Stats.Relationships),
		attribute.Int("detector.dropped_relationships", res.Stats.DroppedRelationships),
	)
	span.SetStatus(codes.Ok, "")
	d.metrics.RecordDocument(ctx, res)
	d.logger.DocumentProcessed(ctx, domains, res.Stats)
	return res, nil
}

func (d *Detector) process(ctx context.Context, text string, domains []string) (*Result, error) {
	res := emptyResult()
	if len(domains) == 0 || text == "" {
		return res, nil
	}

	entityDefs := d.source.GetPatterns(domains, pattern.CategoryEntity)
	relDefs := d.source.GetPatterns(domains, pattern.CategoryRelationship)
	if len(entityDefs) == 0 && len(relDefs) == 0 {
		return res, nil
	}

	entityMatches, err := d.findMatches(ctx, text, entityDefs)
	if err != nil {
		return nil, err
	}
	relMatches, err := d.findMatches(ctx, text, relDefs)
	if err != nil {
		return nil, err
	}

	all := make([]matcher.RawMatch, 0, len(entityMatches)+len(relMatches))
	all = append(all, entityMatches...)
	all = append(all, relMatches...)
	doc := d.scorer.NewDocumentContext(text, all)

	res.Entities = d.assembleEntities(entityMatches, doc)
	res.Relationships, res.Stats.DroppedRelationships = d.assembleRelationships(ctx, relMatches, res.Entities, doc)
	aggregate(res)
	return res, nil
}

// findMatches runs definitions one at a time so that a definition
// deactivated after selection is skipped instead of failing the document.
func (d *Detector) findMatches(ctx context.Context, text string, defs []pattern.Definition) ([]matcher.RawMatch, error) {
	var out []matcher.RawMatch
	for _, def := range defs {
		found, err := d.matcher.FindMatches(text, []pattern.Definition{def})
		if err != nil {
			if errors.Is(err, pattern.ErrPatternInactive) || errors.Is(err, pattern.ErrPatternNotFound) {
				d.logger.Debug(ctx, "pattern withdrawn during detection",
					zap.String("pattern", def.Key().String()), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("matching %s: %w", def.Key(), err)
		}
		out = append(out, found...)
	}
	return out, nil
}

type entityKey struct {
	typ, text  string
	start, end int
}

func (d *Detector) assembleEntities(matches []matcher.RawMatch, doc *scoring.DocumentContext) []Entity {
	// Exact dedup: identical (type, text, span) keeps the highest
	// confidence. Ties keep the earlier pattern in selection order.
	index := make(map[entityKey]int)
	var exact []Entity
	for _, m := range matches {
		conf, factors := d.scorer.Score(m, doc)
		e := Entity{
			Type:       m.Definition.OutputType,
			Text:       m.Text,
			Start:      m.Start,
			End:        m.End,
			Confidence: conf,
			Factors:    factors,
			Pattern:    m.Definition.Key(),
			Mentions:   []matcher.Span{m.Span()},
		}
		k := entityKey{typ: e.Type, text: e.Text, start: e.Start, end: e.End}
		if i, ok := index[k]; ok {
			if e.Confidence > exact[i].Confidence {
				exact[i] = e
			}
			continue
		}
		index[k] = len(exact)
		exact = append(exact, e)
	}

	entities := exact
	if d.cfg.MergeMentions {
		entities = mergeMentions(exact)
	}

	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Confidence < d.cfg.MinConfidence {
			continue
		}
		e.ID = entityID(e.Type, e.Text, e.Start, e.End)
		out = append(out, e)
	}
	slices.SortFunc(out, compareEntities)
	return out
}

// mergeMentions folds entities sharing type and text into the earliest
// occurrence. The merged entity carries the highest confidence, with the
// factors and pattern that produced it, and every folded span.
func mergeMentions(entities []Entity) []Entity {
	type mentionKey struct{ typ, text string }
	index := make(map[mentionKey]int)
	var out []Entity
	for _, e := range entities {
		k := mentionKey{typ: e.Type, text: e.Text}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, e)
			continue
		}

		cur := out[i]
		mentions := append(slices.Clone(cur.Mentions), e.Mentions...)
		if e.Confidence > cur.Confidence {
			cur.Confidence = e.Confidence
			cur.Factors = e.Factors
			cur.Pattern = e.Pattern
		}
		if e.Start < cur.Start || (e.Start == cur.Start && e.End < cur.End) {
			cur.Start, cur.End = e.Start, e.End
		}
		cur.Mentions = mentions
		out[i] = cur
	}

	for i := range out {
		slices.SortFunc(out[i].Mentions, compareSpans)
		out[i].Mentions = slices.Compact(out[i].Mentions)
	}
	return out
}

func compareSpans(a, b matcher.Span) int {
	if a.Start != b.Start {
		return a.Start - b.Start
	}
	return a.End - b.End
}

func compareEntities(a, b Entity) int {
	if c := compareSpans(a.Span(), b.Span()); c != 0 {
		return c
	}
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return strings.Compare(a.Text, b.Text)
}

func compareRelationships(a, b Relationship) int {
	if c := compareSpans(matcher.Span{Start: a.Start, End: a.End}, matcher.Span{Start: b.Start, End: b.End}); c != 0 {
		return c
	}
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := strings.Compare(a.FromID, b.FromID); c != 0 {
		return c
	}
	return strings.Compare(a.ToID, b.ToID)
}

func aggregate(res *Result) {
	s := &res.Stats
	s.Entities = len(res.Entities)
	s.Relationships = len(res.Relationships)

	var entitySum, relSum float64
	for _, e := range res.Entities {
		s.EntityTypes[e.Type]++
		entitySum += e.Confidence
	}
	for _, r := range res.Relationships {
		s.RelationshipTypes[r.Type]++
		relSum += r.Confidence
	}

	if s.Entities > 0 {
		s.MeanEntityConfidence = entitySum / float64(s.Entities)
	}
	if s.Relationships > 0 {
		s.MeanRelationshipConfidence = relSum / float64(s.Relationships)
	}
	if n := s.Entities + s.Relationships; n > 0 {
		s.MeanConfidence = (entitySum + relSum) / float64(n)
	}
}
