package scoring

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/patternd/pkg/matcher"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

// Factor names, in default pipeline order.
const (
	FactorContextKeywords   = "context_keywords"
	FactorSpanLength        = "span_length"
	FactorRepetition        = "repetition"
	FactorPosition          = "position"
	FactorPriority          = "priority"
	FactorCaseConformity    = "case_conformity"
	FactorGroupCompleteness = "group_completeness"
	FactorCrossDomain       = "cross_domain"
)

// globalKey selects false-positive words that apply to every domain.
const globalKey = "*"

// Factor is one named contribution to a final score.
type Factor struct {
	Name string `json:"name"`

	// Weight is the configured magnitude of the factor.
	Weight float64 `json:"weight"`

	// Adjustment is the signed value a factor proposes. Once recorded by
	// Scorer.Score it is the value actually applied after clamping.
	Adjustment float64 `json:"adjustment"`

	Reason string `json:"reason,omitempty"`
}

// FactorFunc computes one factor for a match. It must be pure: the same
// match and context always produce the same Factor. A zero Adjustment means
// the factor does not apply.
type FactorFunc func(m matcher.RawMatch, doc *DocumentContext) Factor

// DefaultFactors returns the standard pipeline built from cfg.
func DefaultFactors(cfg Config) []FactorFunc {
	return []FactorFunc{
		ContextKeywords(cfg),
		SpanLength(cfg),
		Repetition(cfg),
		Position(cfg),
		PriorityTier(cfg),
		CaseConformity(cfg),
		GroupCompleteness(cfg),
		CrossDomain(cfg),
	}
}

// ContextKeywords boosts a match for each domain or definition keyword in
// its surrounding window and penalizes it for each false-positive word.
// Only text outside the match itself is searched.
func ContextKeywords(cfg Config) FactorFunc {
	return func(m matcher.RawMatch, _ *DocumentContext) Factor {
		f := Factor{Name: FactorContextKeywords, Weight: cfg.KeywordBoost}
		around := strings.ToLower(surroundings(m))
		if strings.TrimSpace(around) == "" {
			return f
		}

		def := m.Definition
		hits := findWords(around, vocabulary(cfg.DomainKeywords[def.Domain], def.Keywords))
		misses := findWords(around, vocabulary(
			cfg.FalsePositiveWords[globalKey],
			cfg.FalsePositiveWords[def.Domain],
			def.NegativeKeywords,
		))

		boost := min(float64(len(hits))*cfg.KeywordBoost, cfg.MaxKeywordBoost)
		penalty := min(float64(len(misses))*cfg.FalsePositivePenalty, cfg.MaxFalsePositivePenalty)
		f.Adjustment = boost - penalty

		var reasons []string
		if len(hits) > 0 {
			reasons = append(reasons, "keywords: "+strings.Join(hits, ", "))
		}
		if len(misses) > 0 {
			reasons = append(reasons, "false-positive indicators: "+strings.Join(misses, ", "))
		}
		f.Reason = strings.Join(reasons, "; ")
		return f
	}
}

// SpanLength penalizes matches shorter, in runes, than the minimum for their
// output type.
func SpanLength(cfg Config) FactorFunc {
	return func(m matcher.RawMatch, _ *DocumentContext) Factor {
		f := Factor{Name: FactorSpanLength, Weight: cfg.ShortMatchPenalty}
		minLen, ok := cfg.MinLength[m.Definition.OutputType]
		if !ok {
			minLen = cfg.DefaultMinLength
		}
		n := utf8.RuneCountInString(m.Text)
		if n < minLen {
			f.Adjustment = -cfg.ShortMatchPenalty
			f.Reason = fmt.Sprintf("match length %d below minimum %d", n, minLen)
		}
		return f
	}
}

// Repetition boosts text that recurs in the document. The first repeat
// earns the full boost and each further repeat half the previous one, up to
// MaxRepetitionBoost.
func Repetition(cfg Config) FactorFunc {
	return func(m matcher.RawMatch, doc *DocumentContext) Factor {
		f := Factor{Name: FactorRepetition, Weight: cfg.RepetitionBoost}
		if doc == nil {
			return f
		}
		n := doc.Occurrences(m.Text)
		if n < 2 {
			return f
		}

		var boost float64
		step := cfg.RepetitionBoost
		for range n - 1 {
			boost += step
			step /= 2
			if boost >= cfg.MaxRepetitionBoost || step == 0 {
				break
			}
		}
		f.Adjustment = min(boost, cfg.MaxRepetitionBoost)
		f.Reason = fmt.Sprintf("repetition detected: %d occurrences", n)
		return f
	}
}

// Position boosts matches that start inside the header of a structured
// document.
func Position(cfg Config) FactorFunc {
	return func(m matcher.RawMatch, doc *DocumentContext) Factor {
		f := Factor{Name: FactorPosition, Weight: cfg.PositionBoost}
		if doc == nil || !doc.Structured || m.Start >= doc.HeaderEnd {
			return f
		}
		f.Adjustment = cfg.PositionBoost
		f.Reason = "match in document header"
		return f
	}
}

// PriorityTier applies the fixed boost or penalty of the definition's tier.
func PriorityTier(cfg Config) FactorFunc {
	return func(m matcher.RawMatch, _ *DocumentContext) Factor {
		f := Factor{Name: FactorPriority}
		switch m.Definition.Priority {
		case pattern.PriorityHigh:
			f.Weight = cfg.HighPriorityBoost
			f.Adjustment = cfg.HighPriorityBoost
		case pattern.PriorityLow:
			f.Weight = cfg.LowPriorityPenalty
			f.Adjustment = -cfg.LowPriorityPenalty
		default:
			return f
		}
		f.Reason = m.Definition.Priority.String() + " priority pattern"
		return f
	}
}

// CaseConformity penalizes matches whose letters break the casing
// convention of their output type.
func CaseConformity(cfg Config) FactorFunc {
	return func(m matcher.RawMatch, _ *DocumentContext) Factor {
		f := Factor{Name: FactorCaseConformity, Weight: cfg.CasePenalty}
		want := Case(strings.ToLower(string(cfg.CaseConventions[m.Definition.OutputType])))

		var conforms bool
		switch want {
		case CaseUpper:
			conforms = strings.ToUpper(m.Text) == m.Text
		case CaseLower:
			conforms = strings.ToLower(m.Text) == m.Text
		default:
			return f
		}
		if !conforms {
			f.Adjustment = -cfg.CasePenalty
			f.Reason = fmt.Sprintf("expected %s case for %s", want, m.Definition.OutputType)
		}
		return f
	}
}

// GroupCompleteness penalizes matches whose required capture groups are
// empty or blank, in proportion to how many are missing. Groups named with
// the pattern.OptionalGroupPrefix are not required.
func GroupCompleteness(cfg Config) FactorFunc {
	return func(m matcher.RawMatch, _ *DocumentContext) Factor {
		f := Factor{Name: FactorGroupCompleteness, Weight: cfg.GroupPenalty}

		var required, missing int
		for i, g := range m.Groups {
			if i < len(m.GroupNames) && strings.HasPrefix(m.GroupNames[i], pattern.OptionalGroupPrefix) {
				continue
			}
			required++
			if strings.TrimSpace(g) == "" {
				missing++
			}
		}
		if missing == 0 {
			return f
		}
		f.Adjustment = -cfg.GroupPenalty * float64(missing) / float64(required)
		f.Reason = fmt.Sprintf("%d of %d required groups empty", missing, required)
		return f
	}
}

// CrossDomain boosts a match when a pattern from a different, corroborating
// domain matched exactly the same span.
func CrossDomain(cfg Config) FactorFunc {
	return func(m matcher.RawMatch, doc *DocumentContext) Factor {
		f := Factor{Name: FactorCrossDomain, Weight: cfg.CrossDomainBoost}
		if doc == nil {
			return f
		}
		own := m.Definition.Domain
		allowed, restricted := cfg.CorroboratingDomains[own]

		var found []string
		for _, d := range doc.SpanDomains(m.Span()) {
			if d == own {
				continue
			}
			if restricted && !slices.Contains(allowed, d) {
				continue
			}
			found = append(found, d)
		}
		if len(found) == 0 {
			return f
		}
		f.Adjustment = cfg.CrossDomainBoost
		f.Reason = "corroborated by " + strings.Join(found, ", ")
		return f
	}
}

// surroundings returns the window text outside the match, or "" when the
// window does not contain the match.
func surroundings(m matcher.RawMatch) string {
	w := m.Window
	if w.Start > m.Start || w.End < m.End || w.End-w.Start != len(w.Text) {
		return ""
	}
	return w.Before(m) + " " + w.After(m)
}

// vocabulary merges word lists into a sorted, lowercase, de-duplicated set.
func vocabulary(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, w := range list {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				out = append(out, w)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// findWords returns the words of vocab present in text as whole words.
// text must already be lowercase.
func findWords(text string, vocab []string) []string {
	var found []string
	for _, w := range vocab {
		if containsWord(text, w) {
			found = append(found, w)
		}
	}
	return found
}

func containsWord(text, word string) bool {
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if wordBoundary(text, start, end) {
			return true
		}
		i = start + 1
	}
	return false
}

func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
