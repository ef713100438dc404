package scoring

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/patternd/pkg/matcher"
)

// maxHeaderLineRunes is the longest first line still treated as a title.
const maxHeaderLineRunes = 120

// DocumentContext holds document-wide signals shared by every match of one
// detection call. It is read-only once built and safe for concurrent reads.
type DocumentContext struct {
	Text string

	// Structured reports whether the document opens with a title or header
	// line.
	Structured bool

	// HeaderEnd is the byte offset where the header region ends.
	HeaderEnd int

	occurrences map[string]int
	spans       map[matcher.Span][]string
}

// NewDocumentContext indexes text and every raw match produced for it.
// headerRegion caps the header length in bytes; zero disables the cap.
func NewDocumentContext(text string, matches []matcher.RawMatch, headerRegion int) *DocumentContext {
	doc := &DocumentContext{
		Text:        text,
		occurrences: make(map[string]int),
		spans:       make(map[matcher.Span][]string),
	}
	doc.Structured, doc.HeaderEnd = detectHeader(text, headerRegion)

	for _, m := range matches {
		if _, ok := doc.occurrences[m.Text]; !ok {
			doc.occurrences[m.Text] = countWhole(text, m.Text)
		}
		span := m.Span()
		if !slices.Contains(doc.spans[span], m.Definition.Domain) {
			doc.spans[span] = append(doc.spans[span], m.Definition.Domain)
		}
	}
	for span := range doc.spans {
		slices.Sort(doc.spans[span])
	}
	return doc
}

// Occurrences returns how many non-overlapping times s appears in the text
// as a whole token. An occurrence embedded in a longer word, such as
// CVE-2021-4422 inside CVE-2021-44228, does not count.
func (d *DocumentContext) Occurrences(s string) int {
	if s == "" {
		return 0
	}
	if n, ok := d.occurrences[s]; ok {
		return n
	}
	return countWhole(d.Text, s)
}

func countWhole(text, s string) int {
	n := 0
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], s)
		if j < 0 {
			break
		}
		start := i + j
		end := start + len(s)
		if bounded(text, s, start, end) {
			n++
			i = end
		} else {
			i = start + 1
		}
	}
	return n
}

// bounded reports whether text[start:end] is not glued to neighbouring
// word runes. Only edges of s that are word runes are checked, so matches
// ending in punctuation still count.
func bounded(text, s string, start, end int) bool {
	if first, _ := utf8.DecodeRuneInString(s); isWordRune(first) && start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if last, _ := utf8.DecodeLastRuneInString(s); isWordRune(last) && end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

// SpanDomains returns the sorted domains whose patterns matched exactly span.
func (d *DocumentContext) SpanDomains(span matcher.Span) []string {
	return d.spans[span]
}

// detectHeader treats a document as structured when its first non-empty
// line is short and followed by more content.
func detectHeader(text string, headerRegion int) (bool, int) {
	start := 0
	for start < len(text) && (text[start] == '\n' || text[start] == '\r' || text[start] == ' ' || text[start] == '\t') {
		start++
	}
	if start == len(text) {
		return false, 0
	}

	nl := strings.IndexByte(text[start:], '\n')
	if nl < 0 {
		return false, 0
	}
	end := start + nl
	line := strings.TrimSpace(text[start:end])
	if line == "" || utf8.RuneCountInString(line) > maxHeaderLineRunes {
		return false, 0
	}
	if strings.TrimSpace(text[end:]) == "" {
		return false, 0
	}

	if headerRegion > 0 && end > headerRegion {
		end = headerRegion
	}
	return true, end
}
