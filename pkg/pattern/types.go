// Package pattern defines the immutable pattern definitions consumed by the
// registry, matcher, scorer, and detector.
package pattern

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Category distinguishes entity patterns from relationship patterns.
type Category string

const (
	// CategoryEntity patterns produce entities.
	CategoryEntity Category = "entity"

	// CategoryRelationship patterns produce relationships between entities.
	// Their regex must expose "from" and "to" capture groups (named, or the
	// first two numbered groups).
	CategoryRelationship Category = "relationship"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryEntity || c == CategoryRelationship
}

// Priority is the processing tier of a pattern. The zero value is
// PriorityNormal.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// String returns the lowercase tier name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a tier name. An empty string yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal", "medium":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Key is the identity of a definition. It is unique within a registry and
// never changes once registered.
type Key struct {
	Domain  string `json:"domain"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String returns "domain/name@version".
func (k Key) String() string {
	return k.Domain + "/" + k.Name + "@" + k.Version
}

// idNamespace seeds name-based definition IDs.
var idNamespace = uuid.MustParse("6f1c3b52-6a43-4c1e-9f0e-2d4a6c1b8e77")

// DeriveID returns the deterministic identifier for a key.
func DeriveID(k Key) string {
	return uuid.NewSHA1(idNamespace, []byte(k.String())).String()
}

// Definition describes one detectable pattern. It is plain data.
type Definition struct {
	ID             string   `json:"id" koanf:"id" toml:"id"`
	Domain         string   `json:"domain" koanf:"domain" toml:"domain"`
	Name           string   `json:"name" koanf:"name" toml:"name"`
	Category       Category `json:"category" koanf:"category" toml:"category"`
	Regex          string   `json:"regex" koanf:"regex" toml:"regex"`
	OutputType     string   `json:"output_type" koanf:"output_type" toml:"output_type"`
	BaseConfidence float64  `json:"base_confidence" koanf:"base_confidence" toml:"base_confidence"`
	Priority       Priority `json:"priority" koanf:"priority" toml:"priority"`
	Version        string   `json:"version" koanf:"version" toml:"version"`
	Description    string   `json:"description,omitempty" koanf:"description" toml:"description"`
	Examples       []string `json:"examples,omitempty" koanf:"examples" toml:"examples"`

	// Disabled definitions stay registered but are never matched. The zero
	// value is an active definition.
	Disabled bool `json:"disabled,omitempty" koanf:"disabled" toml:"disabled,omitempty"`

	// Keywords boost confidence when found near a match.
	Keywords []string `json:"keywords,omitempty" koanf:"keywords" toml:"keywords"`

	// NegativeKeywords are false-positive indicators near a match.
	NegativeKeywords []string `json:"negative_keywords,omitempty" koanf:"negative_keywords" toml:"negative_keywords"`
}

// Key returns the definition's identity.
func (d Definition) Key() Key {
	return Key{Domain: d.Domain, Name: d.Name, Version: d.Version}
}

// Active reports whether d takes part in detection.
func (d Definition) Active() bool { return !d.Disabled }

// Clone returns a deep copy of d.
func (d Definition) Clone() Definition {
	d.Examples = slices.Clone(d.Examples)
	d.Keywords = slices.Clone(d.Keywords)
	d.NegativeKeywords = slices.Clone(d.NegativeKeywords)
	return d
}
