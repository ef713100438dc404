// Package scoring computes calibrated confidence values for raw matches.
//
// A Scorer starts from a definition's base confidence and applies an ordered
// pipeline of factor functions. Each factor proposes a signed adjustment;
// the scorer clamps the running value to [0,1] after every step and records
// the adjustment actually applied, so the base confidence plus the recorded
// adjustments always equals the final score.
package scoring

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// Case is the expected letter casing of an output type.
type Case string

const (
	CaseAny   Case = ""
	CaseUpper Case = "upper"
	CaseLower Case = "lower"
)

// Config holds the weights and vocabularies used by the default factors.
type Config struct {
	// Context keywords
	KeywordBoost            float64             `koanf:"keyword_boost"`
	MaxKeywordBoost         float64             `koanf:"max_keyword_boost"`
	FalsePositivePenalty    float64             `koanf:"false_positive_penalty"`
	MaxFalsePositivePenalty float64             `koanf:"max_false_positive_penalty"`
	DomainKeywords          map[string][]string `koanf:"domain_keywords"`
	// FalsePositiveWords is keyed by domain; the "*" key applies to every domain.
	FalsePositiveWords map[string][]string `koanf:"false_positive_words"`

	// Span characteristics
	DefaultMinLength  int            `koanf:"default_min_length"`
	MinLength         map[string]int `koanf:"min_length"`
	ShortMatchPenalty float64        `koanf:"short_match_penalty"`

	// Repetition
	RepetitionBoost    float64 `koanf:"repetition_boost"`
	MaxRepetitionBoost float64 `koanf:"max_repetition_boost"`

	// Position
	PositionBoost float64 `koanf:"position_boost"`
	HeaderRegion  int     `koanf:"header_region"`

	// Priority tier
	HighPriorityBoost  float64 `koanf:"high_priority_boost"`
	LowPriorityPenalty float64 `koanf:"low_priority_penalty"`

	// Case conformity, keyed by output type
	CaseConventions map[string]Case `koanf:"case_conventions"`
	CasePenalty     float64         `koanf:"case_penalty"`

	// Capture-group completeness
	GroupPenalty float64 `koanf:"group_penalty"`

	// Domain cross-validation. A domain absent from the map is corroborated
	// by any other domain.
	CrossDomainBoost     float64             `koanf:"cross_domain_boost"`
	CorroboratingDomains map[string][]string `koanf:"corroborating_domains"`
}

// DefaultConfig returns the production weights.
func DefaultConfig() Config {
	return Config{
		KeywordBoost:            0.05,
		MaxKeywordBoost:         0.15,
		FalsePositivePenalty:    0.10,
		MaxFalsePositivePenalty: 0.30,
		DomainKeywords: map[string][]string{
			"security": {
				"vulnerability", "vulnerable", "exploit", "exploited", "patch",
				"advisory", "affected", "attack", "malware", "breach",
			},
			"compliance": {
				"regulation", "article", "control", "requirement", "audit",
				"policy", "compliance", "obligation",
			},
			"infrastructure": {
				"host", "server", "cluster", "deployed", "network", "service",
				"instance", "node",
			},
		},
		FalsePositiveWords: map[string][]string{
			"*": {"example", "sample", "dummy", "placeholder", "lorem", "fake"},
		},
		DefaultMinLength:  3,
		MinLength:         map[string]int{},
		ShortMatchPenalty: 0.15,

		RepetitionBoost:    0.03,
		MaxRepetitionBoost: 0.06,

		PositionBoost: 0.02,
		HeaderRegion:  200,

		HighPriorityBoost:  0.05,
		LowPriorityPenalty: 0.05,

		CaseConventions: map[string]Case{
			"vulnerability": CaseUpper,
			"weakness":      CaseUpper,
		},
		CasePenalty: 0.10,

		GroupPenalty: 0.20,

		CrossDomainBoost:     0.03,
		CorroboratingDomains: map[string][]string{},
	}
}

// Validate checks that every weight is a magnitude in [0,1] and every case
// convention is known.
func (c Config) Validate() error {
	weights := []struct {
		name string
		w    float64
	}{
		{"keyword_boost", c.KeywordBoost},
		{"max_keyword_boost", c.MaxKeywordBoost},
		{"false_positive_penalty", c.FalsePositivePenalty},
		{"max_false_positive_penalty", c.MaxFalsePositivePenalty},
		{"short_match_penalty", c.ShortMatchPenalty},
		{"repetition_boost", c.RepetitionBoost},
		{"max_repetition_boost", c.MaxRepetitionBoost},
		{"position_boost", c.PositionBoost},
		{"high_priority_boost", c.HighPriorityBoost},
		{"low_priority_penalty", c.LowPriorityPenalty},
		{"case_penalty", c.CasePenalty},
		{"group_penalty", c.GroupPenalty},
		{"cross_domain_boost", c.CrossDomainBoost},
	}
	for _, w := range weights {
		if math.IsNaN(w.w) || w.w < 0 || w.w > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", w.name, w.w)
		}
	}
	if c.DefaultMinLength < 0 {
		return fmt.Errorf("default_min_length must be >= 0, got %d", c.DefaultMinLength)
	}
	if c.HeaderRegion < 0 {
		return fmt.Errorf("header_region must be >= 0, got %d", c.HeaderRegion)
	}
	for _, outputType := range slices.Sorted(maps.Keys(c.CaseConventions)) {
		cs := c.CaseConventions[outputType]
		switch Case(strings.ToLower(string(cs))) {
		case CaseAny, CaseUpper, CaseLower:
		default:
			return fmt.Errorf("case_conventions[%s]: unknown case %q", outputType, cs)
		}
	}
	return nil
}
