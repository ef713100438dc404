package detector

import (
	"context"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/patternd/pkg/matcher"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/scoring"
)

// endpoint is one captured side of a relationship match.
type endpoint struct {
	text string
	span matcher.Span
}

// endpoints extracts the from and to captures of a relationship match:
// the groups named "from" and "to" when present, otherwise the first two
// groups.
func endpoints(m matcher.RawMatch) (from, to endpoint, ok bool) {
	ft, fs, fok := m.Group(pattern.GroupFrom)
	tt, ts, tok := m.Group(pattern.GroupTo)
	if fok && tok {
		return endpoint{text: ft, span: fs}, endpoint{text: tt, span: ts}, true
	}
	if len(m.Groups) < 2 {
		return endpoint{}, endpoint{}, false
	}
	return endpoint{text: m.Groups[0], span: m.GroupSpans[0]},
		endpoint{text: m.Groups[1], span: m.GroupSpans[1]}, true
}

// resolve finds the entity an endpoint refers to. Entities whose text
// equals the trimmed capture win over case-insensitive matches; among
// those the nearest occurrence wins, and ties go to the entity that sorts
// first.
func resolve(ep endpoint, entities []Entity, maxDistance int) (Entity, bool) {
	text := strings.TrimSpace(ep.text)
	if text == "" {
		return Entity{}, false
	}

	best, dist, found := nearest(ep.span, entities, func(e Entity) bool { return e.Text == text })
	if !found {
		best, dist, found = nearest(ep.span, entities, func(e Entity) bool { return strings.EqualFold(e.Text, text) })
	}
	if !found || (maxDistance > 0 && dist > maxDistance) {
		return Entity{}, false
	}
	return best, true
}

func nearest(span matcher.Span, entities []Entity, accept func(Entity) bool) (Entity, int, bool) {
	var (
		best  Entity
		dist  int
		found bool
	)
	for _, e := range entities {
		if !accept(e) {
			continue
		}
		for _, mention := range e.Mentions {
			d := gap(span, mention)
			if !found || d < dist {
				best, dist, found = e, d, true
			}
		}
	}
	return best, dist, found
}

// gap is the byte distance between two spans, zero when they overlap.
func gap(a, b matcher.Span) int {
	switch {
	case a.End <= b.Start:
		return b.Start - a.End
	case b.End <= a.Start:
		return a.Start - b.End
	default:
		return 0
	}
}

type relationshipKey struct {
	typ, from, to string
	start, end    int
}

// assembleRelationships resolves and scores relationship matches against
// the final entity set. It returns the relationships and the number of
// matches dropped for unresolved endpoints.
func (d *Detector) assembleRelationships(ctx context.Context, matches []matcher.RawMatch, entities []Entity, doc *scoring.DocumentContext) ([]Relationship, int) {
	var (
		out     []Relationship
		dropped int
	)
	index := make(map[relationshipKey]int)

	for _, m := range matches {
		from, to, ok := endpoints(m)
		var src, dst Entity
		if ok {
			var fok, tok bool
			src, fok = resolve(from, entities, d.cfg.MaxResolveDistance)
			dst, tok = resolve(to, entities, d.cfg.MaxResolveDistance)
			ok = fok && tok
		}
		if !ok {
			dropped++
			d.logger.RelationshipDropped(ctx, m)
			continue
		}

		conf, factors := d.scorer.Score(m, doc)
		if conf < d.cfg.MinConfidence {
			continue
		}
		r := Relationship{
			Type:       m.Definition.OutputType,
			Text:       m.Text,
			Start:      m.Start,
			End:        m.End,
			FromID:     src.ID,
			ToID:       dst.ID,
			Confidence: conf,
			Factors:    factors,
			Pattern:    m.Definition.Key(),
		}

		k := relationshipKey{typ: r.Type, from: r.FromID, to: r.ToID}
		if !d.cfg.MergeMentions {
			k.start, k.end = r.Start, r.End
		}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		cur := out[i]
		if r.Confidence > cur.Confidence {
			cur.Confidence, cur.Factors, cur.Pattern = r.Confidence, r.Factors, r.Pattern
		}
		if r.Start < cur.Start || (r.Start == cur.Start && r.End < cur.End) {
			cur.Text, cur.Start, cur.End = r.Text, r.Start, r.End
		}
		out[i] = cur
	}

	for i := range out {
		r := &out[i]
		r.ID = relationshipID(r.Type, r.FromID, r.ToID, r.Start, r.End)
	}
	slices.SortFunc(out, compareRelationships)
	if out == nil {
		out = []Relationship{}
	}
	return out, dropped
}
