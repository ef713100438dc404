// Package matcher runs compiled pattern definitions over text and reports
// positional matches with their surrounding context.
package matcher

import (
	"regexp"
	"slices"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

// DefaultWindowSize is the number of bytes of context kept on each side of a
// match.
const DefaultWindowSize = 64

// Compiler supplies compiled expressions for definitions.
// *registry.Registry satisfies it.
type Compiler interface {
	Compiled(def pattern.Definition) (*regexp.Regexp, error)
}

// Span is a half-open byte range [Start, End) in the source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Window is the context surrounding a match.
type Window struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Before returns the window text preceding the match.
func (w Window) Before(m RawMatch) string {
	return w.Text[:m.Start-w.Start]
}

// After returns the window text following the match.
func (w Window) After(m RawMatch) string {
	return w.Text[m.End-w.Start:]
}

// RawMatch is one unscored occurrence of a pattern.
type RawMatch struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`

	// Groups holds the capture groups in order, excluding the whole match.
	// A group that did not participate is the empty string.
	Groups []string `json:"groups"`

	// GroupSpans holds the offsets of Groups; non-participating groups
	// have Start = End = -1.
	GroupSpans []Span `json:"group_spans"`

	// GroupNames holds the capture group names, "" for unnamed groups.
	GroupNames []string `json:"group_names"`

	Definition pattern.Definition `json:"-"`
	Window     Window             `json:"window"`
}

// Span returns the match offsets.
func (m RawMatch) Span() Span {
	return Span{Start: m.Start, End: m.End}
}

// Group returns the capture group with the given name.
func (m RawMatch) Group(name string) (string, Span, bool) {
	for i, n := range m.GroupNames {
		if n == name {
			return m.Groups[i], m.GroupSpans[i], true
		}
	}
	return "", Span{Start: -1, End: -1}, false
}

// Matcher finds raw matches. It is safe for concurrent use.
type Matcher struct {
	compiler   Compiler
	windowSize int
	logger     *zap.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithWindowSize sets the context bytes kept on each side of a match.
// Negative values are treated as zero.
func WithWindowSize(n int) Option {
	return func(m *Matcher) {
		if n < 0 {
			n = 0
		}
		m.windowSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Matcher backed by compiler.
func New(compiler Compiler, opts ...Option) *Matcher {
	m := &Matcher{
		compiler:   compiler,
		windowSize: DefaultWindowSize,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WindowSize returns the configured context size.
func (m *Matcher) WindowSize() int {
	return m.windowSize
}

// FindMatches runs every definition over text. Matches of one definition
// are leftmost, non-overlapping, and ordered left to right; definitions are
// processed in the given order and their matches may overlap each other.
// Empty matches are skipped.
func (m *Matcher) FindMatches(text string, defs []pattern.Definition) ([]RawMatch, error) {
	if text == "" || len(defs) == 0 {
		return []RawMatch{}, nil
	}

	var out []RawMatch
	for _, def := range defs {
		re, err := m.compiler.Compiled(def)
		if err != nil {
			return nil, err
		}

		found := 0
		names := slices.Clone(re.SubexpNames()[1:])
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			out = append(out, m.build(text, def, names, loc))
			found++
		}

		if found > 0 {
			m.logger.Debug("pattern matched",
				zap.String("domain", def.Domain),
				zap.String("pattern", def.Name),
				zap.Int("matches", found),
			)
		}
	}

	if out == nil {
		out = []RawMatch{}
	}
	return out, nil
}

func (m *Matcher) build(text string, def pattern.Definition, names []string, loc []int) RawMatch {
	groups := make([]string, len(names))
	spans := make([]Span, len(names))
	for i := range names {
		s, e := loc[2*(i+1)], loc[2*(i+1)+1]
		if s < 0 {
			spans[i] = Span{Start: -1, End: -1}
			continue
		}
		groups[i] = text[s:e]
		spans[i] = Span{Start: s, End: e}
	}

	return RawMatch{
		Text:       text[loc[0]:loc[1]],
		Start:      loc[0],
		End:        loc[1],
		Groups:     groups,
		GroupSpans: spans,
		GroupNames: names,
		Definition: def,
		Window:     ContextWindow(text, loc[0], loc[1], m.windowSize),
	}
}

// ContextWindow returns up to size bytes on each side of [start, end),
// clamped to the text and widened to UTF-8 rune boundaries.
func ContextWindow(text string, start, end, size int) Window {
	lo := start - size
	if lo < 0 {
		lo = 0
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}

	hi := end + size
	if hi > len(text) {
		hi = len(text)
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}

	return Window{Start: lo, End: hi, Text: text[lo:hi]}
}
