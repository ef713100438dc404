package matcher

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/registry"
)

func entityDef(name, regex string) pattern.Definition {
	return pattern.Definition{
		Domain:         "security",
		Name:           name,
		Category:       pattern.CategoryEntity,
		Regex:          regex,
		OutputType:     name,
		BaseConfidence: 0.8,
		Priority:       pattern.PriorityNormal,
		Version:        "1.0.0",
	}
}

func newMatcher(t *testing.T, defs ...pattern.Definition) *Matcher {
	t.Helper()
	reg := registry.New()
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}
	return New(reg)
}

func TestMatcher_FindMatches(t *testing.T) {
	cve := entityDef("cve", `CVE-\d{4}-\d{4,7}`)

	t.Run("empty text yields no matches", func(t *testing.T) {
		m := newMatcher(t, cve)
		got, err := m.FindMatches("", []pattern.Definition{cve})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("no definitions yields no matches", func(t *testing.T) {
		m := newMatcher(t)
		got, err := m.FindMatches("CVE-2021-44228", nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("reports every occurrence left to right", func(t *testing.T) {
		m := newMatcher(t, cve)
		text := "We found CVE-2021-44228 in prod and again: CVE-2021-44228."
		got, err := m.FindMatches(text, []pattern.Definition{cve})
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, "CVE-2021-44228", got[0].Text)
		assert.Equal(t, 9, got[0].Start)
		assert.Equal(t, 23, got[0].End)
		assert.Equal(t, text[got[1].Start:got[1].End], got[1].Text)
		assert.Less(t, got[0].End, got[1].Start)
		assert.NotNil(t, got[0].Groups)
		assert.Empty(t, got[0].Groups)
		assert.Equal(t, cve.Key(), got[0].Definition.Key())
	})

	t.Run("same pattern does not overlap itself", func(t *testing.T) {
		d := entityDef("pair", `aa`)
		m := newMatcher(t, d)
		got, err := m.FindMatches("aaaaa", []pattern.Definition{d})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, Span{Start: 0, End: 2}, got[0].Span())
		assert.Equal(t, Span{Start: 2, End: 4}, got[1].Span())
	})

	t.Run("different patterns may overlap", func(t *testing.T) {
		year := entityDef("year", `\d{4}`)
		m := newMatcher(t, cve, year)
		got, err := m.FindMatches("CVE-2021-44228", []pattern.Definition{cve, year})
		require.NoError(t, err)

		require.Len(t, got, 3)
		assert.Equal(t, "cve", got[0].Definition.Name)
		assert.Equal(t, "2021", got[1].Text)
		assert.Equal(t, "4422", got[2].Text)
	})

	t.Run("captures groups with spans and names", func(t *testing.T) {
		rel := pattern.Definition{
			Domain:         "security",
			Name:           "affects",
			Category:       pattern.CategoryRelationship,
			Regex:          `(?P<from>CVE-\d{4}-\d+) affects (?P<to>\w+)(?: (?P<opt_note>v\d+))?`,
			OutputType:     "affects",
			BaseConfidence: 0.7,
			Version:        "1.0.0",
		}
		m := newMatcher(t, rel)
		text := "CVE-2021-44228 affects log4j"
		got, err := m.FindMatches(text, []pattern.Definition{rel})
		require.NoError(t, err)
		require.Len(t, got, 1)

		match := got[0]
		assert.Equal(t, []string{"CVE-2021-44228", "log4j", ""}, match.Groups)
		assert.Equal(t, []string{"from", "to", "opt_note"}, match.GroupNames)
		assert.Equal(t, Span{Start: 23, End: 28}, match.GroupSpans[1])
		assert.Equal(t, Span{Start: -1, End: -1}, match.GroupSpans[2])

		to, span, ok := match.Group("to")
		require.True(t, ok)
		assert.Equal(t, "log4j", to)
		assert.Equal(t, "log4j", text[span.Start:span.End])

		_, _, ok = match.Group("missing")
		assert.False(t, ok)
	})

	t.Run("skips empty matches", func(t *testing.T) {
		d := entityDef("digits", `\d*`)
		m := newMatcher(t, d)
		got, err := m.FindMatches("ab12cd", []pattern.Definition{d})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "12", got[0].Text)
	})

	t.Run("propagates compile errors", func(t *testing.T) {
		m := newMatcher(t)
		_, err := m.FindMatches("CVE-2021-44228", []pattern.Definition{cve})
		assert.ErrorIs(t, err, pattern.ErrPatternNotFound)
	})

	t.Run("offsets are always within text", func(t *testing.T) {
		word := entityDef("word", `\w+`)
		m := newMatcher(t, word)
		text := strings.Repeat("héllo wörld ", 20)
		got, err := m.FindMatches(text, []pattern.Definition{word})
		require.NoError(t, err)
		for _, match := range got {
			assert.True(t, 0 <= match.Start && match.Start < match.End && match.End <= len(text))
			assert.True(t, match.Window.Start <= match.Start && match.End <= match.Window.End)
		}
	})
}

func TestContextWindow(t *testing.T) {
	text := "0123456789ABCDEFGHIJ"

	t.Run("symmetric window", func(t *testing.T) {
		w := ContextWindow(text, 10, 12, 3)
		assert.Equal(t, Window{Start: 7, End: 15, Text: "789ABCDE"}, w)
	})

	t.Run("clamped at document bounds", func(t *testing.T) {
		w := ContextWindow(text, 1, 19, 5)
		assert.Equal(t, 0, w.Start)
		assert.Equal(t, len(text), w.End)
	})

	t.Run("zero size is the match itself", func(t *testing.T) {
		w := ContextWindow(text, 4, 6, 0)
		assert.Equal(t, "45", w.Text)
	})

	t.Run("widens to rune boundaries", func(t *testing.T) {
		multi := "ééé CVE ééé"
		start := strings.Index(multi, "CVE")
		w := ContextWindow(multi, start, start+3, 2)
		assert.Equal(t, "é CVE é", w.Text)
	})

	t.Run("before and after split around match", func(t *testing.T) {
		m := RawMatch{Start: 10, End: 12}
		m.Window = ContextWindow(text, 10, 12, 3)
		assert.Equal(t, "789", m.Window.Before(m))
		assert.Equal(t, "CDE", m.Window.After(m))
	})
}

func TestMatcher_Options(t *testing.T) {
	m := New(fakeCompiler{}, WithWindowSize(-4))
	assert.Equal(t, 0, m.WindowSize())
	assert.Equal(t, DefaultWindowSize, New(fakeCompiler{}).WindowSize())
}

type fakeCompiler struct{ err error }

func (f fakeCompiler) Compiled(def pattern.Definition) (*regexp.Regexp, error) {
	if f.err != nil {
		return nil, f.err
	}
	return regexp.Compile(def.Regex)
}

func TestMatcher_CustomCompiler(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(fakeCompiler{err: boom}).FindMatches("x", []pattern.Definition{entityDef("x", "x")})
	assert.ErrorIs(t, err, boom)

	got, err := New(fakeCompiler{}).FindMatches("xx", []pattern.Definition{entityDef("x", "x")})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
