package scoring

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/pkg/matcher"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

const delta = 1e-9

func vulnDef() pattern.Definition {
	return pattern.Definition{
		Domain:         "security",
		Name:           "cve",
		Category:       pattern.CategoryEntity,
		Regex:          `CVE-\d{4}-\d{4,7}`,
		OutputType:     "vulnerability",
		BaseConfidence: 0.95,
		Version:        "1.0.0",
	}
}

// matchAt builds a match for the first occurrence of sub in doc at or after
// from.
func matchAt(t *testing.T, doc, sub string, from int, def pattern.Definition) matcher.RawMatch {
	t.Helper()
	i := strings.Index(doc[from:], sub)
	require.GreaterOrEqual(t, i, 0, "%q not in document", sub)
	start := from + i
	return matcher.RawMatch{
		Text:       sub,
		Start:      start,
		End:        start + len(sub),
		Groups:     []string{},
		Definition: def,
		Window:     matcher.ContextWindow(doc, start, start+len(sub), matcher.DefaultWindowSize),
	}
}

func TestContextKeywords(t *testing.T) {
	cfg := DefaultConfig()
	factor := ContextKeywords(cfg)

	tests := []struct {
		name     string
		doc      string
		keywords []string
		negative []string
		want     float64
		reason   string
	}{
		{
			name: "no keywords is neutral",
			doc:  "We found CVE-2021-44228 in prod.",
			want: 0,
		},
		{
			name:   "one boost per distinct keyword",
			doc:    "A vulnerability tracked as CVE-2021-44228 is actively exploited.",
			want:   2 * cfg.KeywordBoost,
			reason: "keywords: exploited, vulnerability",
		},
		{
			name: "boost is capped",
			doc:  "Advisory: vulnerable hosts under attack, exploit for CVE-2021-44228 needs a patch.",
			want: cfg.MaxKeywordBoost,
		},
		{
			name:   "false-positive words penalize",
			doc:    "For example CVE-2021-44228 would appear here.",
			want:   -cfg.FalsePositivePenalty,
			reason: "false-positive indicators: example",
		},
		{
			name: "penalty is capped",
			doc:  "Example sample dummy placeholder fake CVE-2021-44228 lorem",
			want: -cfg.MaxFalsePositivePenalty,
		},
		{
			name: "boost and penalty combine",
			doc:  "Sample advisory CVE-2021-44228",
			want: cfg.KeywordBoost - cfg.FalsePositivePenalty,
		},
		{
			name: "whole words only",
			doc:  "Patches and unpatched exploits CVE-2021-44228 counterexample",
			want: 0,
		},
		{
			name:     "definition keywords inside the match are ignored",
			doc:      "CVE-2021-44228 reported",
			keywords: []string{"cve"},
			want:     0,
		},
		{
			name:     "definition keywords and negatives apply",
			doc:      "Log4Shell CVE-2021-44228 in a TEST fixture",
			keywords: []string{"log4shell"},
			negative: []string{"test"},
			want:     cfg.KeywordBoost - cfg.FalsePositivePenalty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := vulnDef()
			def.Keywords = tt.keywords
			def.NegativeKeywords = tt.negative

			f := factor(matchAt(t, tt.doc, "CVE-2021-44228", 0, def), nil)
			assert.Equal(t, FactorContextKeywords, f.Name)
			assert.InDelta(t, tt.want, f.Adjustment, delta)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, f.Reason)
			}
		})
	}

	t.Run("empty window is neutral", func(t *testing.T) {
		m := matcher.RawMatch{Text: "CVE-2021-44228", Start: 4, End: 18, Definition: vulnDef()}
		assert.Zero(t, factor(m, nil).Adjustment)
	})
}

func TestSpanLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinLength = map[string]int{"vulnerability": 10}

	t.Run("short match penalized", func(t *testing.T) {
		def := vulnDef()
		def.OutputType = "token"
		f := SpanLength(cfg)(matcher.RawMatch{Text: "ab", Definition: def}, nil)
		assert.InDelta(t, -cfg.ShortMatchPenalty, f.Adjustment, delta)
		assert.Contains(t, f.Reason, "below minimum 3")
	})

	t.Run("minimum length is inclusive", func(t *testing.T) {
		def := vulnDef()
		def.OutputType = "token"
		assert.Zero(t, SpanLength(cfg)(matcher.RawMatch{Text: "abc", Definition: def}, nil).Adjustment)
	})

	t.Run("counts runes not bytes", func(t *testing.T) {
		def := vulnDef()
		def.OutputType = "token"
		assert.NotZero(t, SpanLength(cfg)(matcher.RawMatch{Text: "éé", Definition: def}, nil).Adjustment)
	})

	t.Run("per output type minimum", func(t *testing.T) {
		assert.NotZero(t, SpanLength(cfg)(matcher.RawMatch{Text: "CVE-1", Definition: vulnDef()}, nil).Adjustment)
		assert.Zero(t, SpanLength(cfg)(matcher.RawMatch{Text: "CVE-2021-44228", Definition: vulnDef()}, nil).Adjustment)
	})
}

func TestRepetition(t *testing.T) {
	cfg := DefaultConfig()
	factor := Repetition(cfg)
	m := matcher.RawMatch{Text: "CVE-2021-44228", Definition: vulnDef()}

	tests := []struct {
		occurrences int
		want        float64
	}{
		{occurrences: 1, want: 0},
		{occurrences: 2, want: 0.03},
		{occurrences: 3, want: 0.045},
		{occurrences: 4, want: 0.0525},
	}
	for _, tt := range tests {
		doc := NewDocumentContext(strings.Repeat("CVE-2021-44228 ", tt.occurrences), nil, 0)
		f := factor(m, doc)
		assert.InDelta(t, tt.want, f.Adjustment, delta, "occurrences=%d", tt.occurrences)
	}

	t.Run("capped", func(t *testing.T) {
		doc := NewDocumentContext(strings.Repeat("CVE-2021-44228 ", 50), nil, 0)
		f := factor(m, doc)
		assert.LessOrEqual(t, f.Adjustment, cfg.MaxRepetitionBoost)
		assert.Greater(t, f.Adjustment, 0.059)
		assert.Equal(t, "repetition detected: 50 occurrences", f.Reason)

		low := cfg
		low.MaxRepetitionBoost = 0.04
		assert.InDelta(t, 0.04, Repetition(low)(m, doc).Adjustment, delta)
	})

	t.Run("prefix of a longer token is not repetition", func(t *testing.T) {
		short := matcher.RawMatch{Text: "CVE-2021-4422", Definition: vulnDef()}
		doc := NewDocumentContext("Patched CVE-2021-4422 today; CVE-2021-44228 remains.", []matcher.RawMatch{short, m}, 0)
		assert.Equal(t, 1, doc.Occurrences("CVE-2021-4422"))
		assert.Zero(t, factor(short, doc).Adjustment)
		assert.Empty(t, factor(short, doc).Reason)
	})

	t.Run("infix of a longer address is not repetition", func(t *testing.T) {
		doc := NewDocumentContext("hosts 10.0.0.1 and 10.0.0.12 and 110.0.0.1", nil, 0)
		assert.Equal(t, 1, doc.Occurrences("10.0.0.1"))
		assert.Equal(t, 1, doc.Occurrences("10.0.0.12"))
	})

	t.Run("punctuation edges still count", func(t *testing.T) {
		doc := NewDocumentContext("see (CVE-2021-44228), and (CVE-2021-44228).", nil, 0)
		assert.Equal(t, 2, doc.Occurrences("(CVE-2021-44228)"))
	})

	t.Run("nil context is neutral", func(t *testing.T) {
		assert.Zero(t, factor(m, nil).Adjustment)
	})
}

func TestDocumentContext(t *testing.T) {
	t.Run("structured document", func(t *testing.T) {
		doc := NewDocumentContext("\n  Advisory CVE-2021-44228\nBody text.", nil, 0)
		assert.True(t, doc.Structured)
		assert.Equal(t, strings.Index(doc.Text, "\nBody"), doc.HeaderEnd)
	})

	t.Run("header region caps header end", func(t *testing.T) {
		doc := NewDocumentContext("Advisory CVE-2021-44228\nBody text.", nil, 8)
		assert.True(t, doc.Structured)
		assert.Equal(t, 8, doc.HeaderEnd)
	})

	tests := map[string]string{
		"single line":         "Advisory CVE-2021-44228",
		"header without body": "Advisory CVE-2021-44228\n   \n",
		"long first line":     strings.Repeat("word ", 40) + "\nbody",
		"empty":               "",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			doc := NewDocumentContext(text, nil, 0)
			assert.False(t, doc.Structured)
			assert.Zero(t, doc.HeaderEnd)
		})
	}

	t.Run("indexes occurrences and span domains", func(t *testing.T) {
		text := "CVE-2021-44228 and CVE-2021-44228"
		sec := matchAt(t, text, "CVE-2021-44228", 0, vulnDef())
		intel := sec
		intel.Definition.Domain = "intel"
		doc := NewDocumentContext(text, []matcher.RawMatch{sec, intel, sec}, 0)

		assert.Equal(t, 2, doc.Occurrences("CVE-2021-44228"))
		assert.Equal(t, 1, doc.Occurrences("and"))
		assert.Zero(t, doc.Occurrences(""))
		assert.Equal(t, []string{"intel", "security"}, doc.SpanDomains(sec.Span()))
		assert.Empty(t, doc.SpanDomains(matcher.Span{Start: 0, End: 3}))
	})
}

func TestPosition(t *testing.T) {
	cfg := DefaultConfig()
	text := "Advisory CVE-2021-44228\nLater we saw CVE-2021-45046."
	doc := NewDocumentContext(text, nil, cfg.HeaderRegion)

	head := matchAt(t, text, "CVE-2021-44228", 0, vulnDef())
	f := Position(cfg)(head, doc)
	assert.InDelta(t, cfg.PositionBoost, f.Adjustment, delta)
	assert.Equal(t, "match in document header", f.Reason)

	body := matchAt(t, text, "CVE-2021-45046", 0, vulnDef())
	assert.Zero(t, Position(cfg)(body, doc).Adjustment)

	flat := NewDocumentContext("Advisory CVE-2021-44228 only", nil, cfg.HeaderRegion)
	assert.Zero(t, Position(cfg)(head, flat).Adjustment)
	assert.Zero(t, Position(cfg)(head, nil).Adjustment)
}

func TestPriorityTier(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		priority pattern.Priority
		want     float64
	}{
		{priority: pattern.PriorityHigh, want: cfg.HighPriorityBoost},
		{priority: pattern.PriorityNormal, want: 0},
		{priority: pattern.PriorityLow, want: -cfg.LowPriorityPenalty},
	}
	for _, tt := range tests {
		t.Run(tt.priority.String(), func(t *testing.T) {
			def := vulnDef()
			def.Priority = tt.priority
			f := PriorityTier(cfg)(matcher.RawMatch{Text: "x", Definition: def}, nil)
			assert.InDelta(t, tt.want, f.Adjustment, delta)
		})
	}
}

func TestCaseConformity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CaseConventions["hostname"] = CaseLower

	tests := []struct {
		name       string
		outputType string
		text       string
		want       float64
	}{
		{name: "upper conforms", outputType: "vulnerability", text: "CVE-2021-44228", want: 0},
		{name: "upper violated", outputType: "vulnerability", text: "cve-2021-44228", want: -cfg.CasePenalty},
		{name: "mixed violates upper", outputType: "vulnerability", text: "Cve-2021-44228", want: -cfg.CasePenalty},
		{name: "lower conforms", outputType: "hostname", text: "db-01.internal", want: 0},
		{name: "lower violated", outputType: "hostname", text: "DB-01.internal", want: -cfg.CasePenalty},
		{name: "digits only conform", outputType: "vulnerability", text: "2021-44228", want: 0},
		{name: "no convention", outputType: "ip_address", text: "AbC", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := vulnDef()
			def.OutputType = tt.outputType
			f := CaseConformity(cfg)(matcher.RawMatch{Text: tt.text, Definition: def}, nil)
			assert.InDelta(t, tt.want, f.Adjustment, delta)
		})
	}
}

func TestGroupCompleteness(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name   string
		groups []string
		names  []string
		want   float64
	}{
		{name: "no groups", groups: []string{}, want: 0},
		{name: "all present", groups: []string{"a", "b"}, names: []string{"from", "to"}, want: 0},
		{name: "one of two empty", groups: []string{"a", ""}, names: []string{"from", "to"}, want: -cfg.GroupPenalty / 2},
		{name: "blank counts as empty", groups: []string{" \t", "b"}, names: []string{"", ""}, want: -cfg.GroupPenalty / 2},
		{name: "all empty", groups: []string{"", ""}, names: []string{"", ""}, want: -cfg.GroupPenalty},
		{name: "optional groups ignored", groups: []string{"a", "b", ""}, names: []string{"from", "to", "opt_note"}, want: 0},
		{name: "optional only", groups: []string{""}, names: []string{"opt_note"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := matcher.RawMatch{Text: "x", Groups: tt.groups, GroupNames: tt.names, Definition: vulnDef()}
			f := GroupCompleteness(cfg)(m, nil)
			assert.InDelta(t, tt.want, f.Adjustment, delta)
		})
	}
}

func TestCrossDomain(t *testing.T) {
	text := "Host 10.0.0.1 exposed"
	sec := pattern.Definition{Domain: "security", Name: "ip", OutputType: "ip_address"}
	infra := pattern.Definition{Domain: "infrastructure", Name: "ip", OutputType: "ip_address"}
	secMatch := matchAt(t, text, "10.0.0.1", 0, sec)
	infraMatch := matchAt(t, text, "10.0.0.1", 0, infra)
	doc := NewDocumentContext(text, []matcher.RawMatch{secMatch, infraMatch}, 0)

	t.Run("any other domain corroborates by default", func(t *testing.T) {
		cfg := DefaultConfig()
		f := CrossDomain(cfg)(secMatch, doc)
		assert.InDelta(t, cfg.CrossDomainBoost, f.Adjustment, delta)
		assert.Equal(t, "corroborated by infrastructure", f.Reason)
		assert.InDelta(t, cfg.CrossDomainBoost, CrossDomain(cfg)(infraMatch, doc).Adjustment, delta)
	})

	t.Run("restricted corroboration", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CorroboratingDomains = map[string][]string{"security": {"compliance"}}
		assert.Zero(t, CrossDomain(cfg)(secMatch, doc).Adjustment)
		assert.NotZero(t, CrossDomain(cfg)(infraMatch, doc).Adjustment)
	})

	t.Run("same domain does not corroborate", func(t *testing.T) {
		only := NewDocumentContext(text, []matcher.RawMatch{secMatch, secMatch}, 0)
		assert.Zero(t, CrossDomain(DefaultConfig())(secMatch, only).Adjustment)
	})

	t.Run("different span does not corroborate", func(t *testing.T) {
		shifted := infraMatch
		shifted.End--
		other := NewDocumentContext(text, []matcher.RawMatch{secMatch, shifted}, 0)
		assert.Zero(t, CrossDomain(DefaultConfig())(secMatch, other).Adjustment)
	})
}

func TestScorer_Score(t *testing.T) {
	t.Run("repeated identifier", func(t *testing.T) {
		text := "We found CVE-2021-44228 in prod and again: CVE-2021-44228."
		s := New(DefaultConfig())
		m := matchAt(t, text, "CVE-2021-44228", 0, vulnDef())
		doc := s.NewDocumentContext(text, []matcher.RawMatch{m})

		got, factors := s.Score(m, doc)
		assert.InDelta(t, 0.98, got, delta)
		require.Len(t, factors, 1)
		assert.Equal(t, FactorRepetition, factors[0].Name)
		assert.Contains(t, factors[0].Reason, "repetition detected")
		assert.InDelta(t, 0.03, factors[0].Adjustment, delta)
	})

	t.Run("every boost firing is clamped at one", func(t *testing.T) {
		text := "Security advisory CVE-2021-44228\nThe vulnerability CVE-2021-44228 is exploited."
		def := vulnDef()
		def.BaseConfidence = 0.9
		def.Priority = pattern.PriorityHigh
		m := matchAt(t, text, "CVE-2021-44228", 0, def)
		intel := m
		intel.Definition.Domain = "intel"

		s := New(DefaultConfig())
		doc := s.NewDocumentContext(text, []matcher.RawMatch{m, intel})
		got, factors := s.Score(m, doc)

		assert.Equal(t, 1.0, got)
		names := make([]string, 0, len(factors))
		sum := def.BaseConfidence
		for _, f := range factors {
			names = append(names, f.Name)
			sum += f.Adjustment
			assert.GreaterOrEqual(t, f.Adjustment, 0.0)
		}
		assert.Equal(t, []string{
			FactorContextKeywords, FactorRepetition, FactorPosition, FactorPriority, FactorCrossDomain,
		}, names)
		assert.InDelta(t, got, sum, delta)
		assert.InDelta(t, 0, factors[len(factors)-1].Adjustment, delta, "saturated factor is recorded with no effect")
	})

	t.Run("every penalty firing is clamped at zero", func(t *testing.T) {
		text := "example sample dummy cve-1"
		def := vulnDef()
		def.BaseConfidence = 0.2
		def.Priority = pattern.PriorityLow
		def.OutputType = "vulnerability"
		m := matchAt(t, text, "cve-1", 0, def)
		m.Groups = []string{""}
		m.GroupNames = []string{""}

		cfg := DefaultConfig()
		cfg.MinLength["vulnerability"] = 10
		s := New(cfg)
		got, factors := s.Score(m, s.NewDocumentContext(text, nil))

		assert.Equal(t, 0.0, got)
		sum := def.BaseConfidence
		for _, f := range factors {
			sum += f.Adjustment
			assert.LessOrEqual(t, f.Adjustment, 0.0)
		}
		assert.InDelta(t, 0, sum, delta)
	})

	t.Run("confidence stays in bounds for any base", func(t *testing.T) {
		text := "Advisory CVE-2021-44228\nexample vulnerability CVE-2021-44228"
		s := New(DefaultConfig())
		for i := 0; i <= 20; i++ {
			def := vulnDef()
			def.BaseConfidence = float64(i) / 20
			for _, p := range []pattern.Priority{pattern.PriorityLow, pattern.PriorityNormal, pattern.PriorityHigh} {
				def.Priority = p
				m := matchAt(t, text, "CVE-2021-44228", 0, def)
				got, factors := s.Score(m, s.NewDocumentContext(text, []matcher.RawMatch{m}))
				require.True(t, got >= 0 && got <= 1, "confidence %v out of bounds", got)

				sum := def.BaseConfidence
				for _, f := range factors {
					sum += f.Adjustment
				}
				assert.InDelta(t, got, sum, 1e-9)
			}
		}
	})

	t.Run("out of range base is clamped", func(t *testing.T) {
		s := New(DefaultConfig(), WithFactors())
		def := vulnDef()
		def.BaseConfidence = math.NaN()
		got, factors := s.Score(matcher.RawMatch{Definition: def}, nil)
		assert.Equal(t, 0.0, got)
		assert.Empty(t, factors)
	})
}

func TestScorer_WithFactors(t *testing.T) {
	fixed := func(name string, adj float64) FactorFunc {
		return func(matcher.RawMatch, *DocumentContext) Factor {
			return Factor{Name: name, Weight: math.Abs(adj), Adjustment: adj}
		}
	}

	s := New(DefaultConfig(), WithFactors(
		fixed("up", 0.3),
		fixed("neutral", 0),
		fixed("down", -0.5),
	))
	def := vulnDef()
	def.BaseConfidence = 0.8

	got, factors := s.Score(matcher.RawMatch{Definition: def}, nil)
	assert.InDelta(t, 0.5, got, delta)
	require.Len(t, factors, 2)
	assert.Equal(t, "up", factors[0].Name)
	assert.InDelta(t, 0.2, factors[0].Adjustment, delta)
	assert.Equal(t, 0.3, factors[0].Weight)
	assert.Equal(t, "down", factors[1].Name)
	assert.InDelta(t, -0.5, factors[1].Adjustment, delta)

	reordered := New(DefaultConfig(), WithFactors(fixed("down", -0.5), fixed("up", 0.3)))
	got, _ = reordered.Score(matcher.RawMatch{Definition: def}, nil)
	assert.InDelta(t, 0.6, got, delta)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := map[string]func(*Config){
		"negative weight":  func(c *Config) { c.KeywordBoost = -0.1 },
		"weight above one": func(c *Config) { c.GroupPenalty = 1.5 },
		"NaN weight":       func(c *Config) { c.PositionBoost = math.NaN() },
		"negative min len": func(c *Config) { c.DefaultMinLength = -1 },
		"negative header":  func(c *Config) { c.HeaderRegion = -1 },
		"unknown case":     func(c *Config) { c.CaseConventions["x"] = "title" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("first invalid weight is reported", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CrossDomainBoost = 2
		cfg.KeywordBoost = math.NaN()
		cfg.CasePenalty = -1
		for range 10 {
			assert.EqualError(t, cfg.Validate(), "keyword_boost must be between 0 and 1, got NaN")
		}
	})
}
