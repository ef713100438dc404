package detector

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/patternd/pkg/matcher"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/scoring"
)

// Entity is a scored, deduplicated entity detection.
type Entity struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Text       string           `json:"text"`
	Start      int              `json:"start"`
	End        int              `json:"end"`
	Confidence float64          `json:"confidence"`
	Factors    []scoring.Factor `json:"factors"`
	Pattern    pattern.Key      `json:"pattern"`

	// Mentions lists every occurrence folded into this entity, in offset
	// order. It always contains the entity's own span.
	Mentions []matcher.Span `json:"mentions"`
}

// Span returns the entity offsets.
func (e Entity) Span() matcher.Span {
	return matcher.Span{Start: e.Start, End: e.End}
}

// Relationship connects two detected entities.
type Relationship struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Text       string           `json:"text"`
	Start      int              `json:"start"`
	End        int              `json:"end"`
	FromID     string           `json:"from_id"`
	ToID       string           `json:"to_id"`
	Confidence float64          `json:"confidence"`
	Factors    []scoring.Factor `json:"factors"`
	Pattern    pattern.Key      `json:"pattern"`
}

// Stats aggregates a detection run.
type Stats struct {
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`

	// EntityTypes and RelationshipTypes count detections per output type.
	EntityTypes       map[string]int `json:"entity_types"`
	RelationshipTypes map[string]int `json:"relationship_types"`

	MeanConfidence             float64 `json:"mean_confidence"`
	MeanEntityConfidence       float64 `json:"mean_entity_confidence"`
	MeanRelationshipConfidence float64 `json:"mean_relationship_confidence"`

	// DroppedRelationships counts relationship matches discarded because an
	// endpoint did not resolve to an entity.
	DroppedRelationships int `json:"dropped_relationships"`

	Duration time.Duration `json:"duration"`
}

// Result is the outcome of one ProcessDocument call. The detector keeps no
// reference to it.
type Result struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Stats         Stats          `json:"stats"`
}

// EntityByID returns the entity with the given ID.
func (r *Result) EntityByID(id string) (Entity, bool) {
	for _, e := range r.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

func emptyResult() *Result {
	return &Result{
		Entities:      []Entity{},
		Relationships: []Relationship{},
		Stats: Stats{
			EntityTypes:       map[string]int{},
			RelationshipTypes: map[string]int{},
		},
	}
}

// resultNamespace seeds name-based entity and relationship IDs.
var resultNamespace = uuid.MustParse("3b8e0d6a-95c2-4f0b-a7d1-5c9e2f4b7a10")

func entityID(typ, text string, start, end int) string {
	return uuid.NewSHA1(resultNamespace, fmt.Appendf(nil, "entity|%s|%s|%d|%d", typ, text, start, end)).String()
}

func relationshipID(typ, from, to string, start, end int) string {
	return uuid.NewSHA1(resultNamespace, fmt.Appendf(nil, "relationship|%s|%s|%s|%d|%d", typ, from, to, start, end)).String()
}
