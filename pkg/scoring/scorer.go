package scoring

import (
	"math"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/pkg/matcher"
)

// Scorer applies an ordered factor pipeline to raw matches. It holds no
// mutable state and is safe for concurrent use.
type Scorer struct {
	cfg     Config
	factors []FactorFunc
	logger  *zap.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithFactors replaces the default pipeline. Factors run in the given order.
func WithFactors(factors ...FactorFunc) Option {
	return func(s *Scorer) {
		s.factors = append([]FactorFunc(nil), factors...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scorer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scorer. Without WithFactors the pipeline is
// DefaultFactors(cfg).
func New(cfg Config, opts ...Option) *Scorer {
	s := &Scorer{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	s.factors = DefaultFactors(cfg)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the scorer configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// NewDocumentContext builds the document context for text and its matches
// using the configured header region.
func (s *Scorer) NewDocumentContext(text string, matches []matcher.RawMatch) *DocumentContext {
	return NewDocumentContext(text, matches, s.cfg.HeaderRegion)
}

// Score returns the final confidence of m and the factors that fired, in
// pipeline order. The running value is clamped to [0,1] after each factor
// and each recorded Adjustment is the change actually applied, so the base
// confidence plus all adjustments equals the result.
func (s *Scorer) Score(m matcher.RawMatch, doc *DocumentContext) (float64, []Factor) {
	value := clamp(m.Definition.BaseConfidence)
	factors := make([]Factor, 0, len(s.factors))

	for _, fn := range s.factors {
		f := fn(m, doc)
		if f.Adjustment == 0 {
			continue
		}
		next := clamp(value + f.Adjustment)
		f.Adjustment = next - value
		value = next
		factors = append(factors, f)
	}

	if ce := s.logger.Check(zap.DebugLevel, "match scored"); ce != nil {
		ce.Write(
			zap.String("domain", m.Definition.Domain),
			zap.String("pattern", m.Definition.Name),
			zap.Int("start", m.Start),
			zap.Float64("base", m.Definition.BaseConfidence),
			zap.Float64("confidence", value),
			zap.Int("factors", len(factors)),
		)
	}
	return value, factors
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
