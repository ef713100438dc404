package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

const (
	// SecretsDomain holds definitions derived from gitleaks rules.
	SecretsDomain = "secrets"

	// GitleaksVersion versions the derived definitions. It tracks the
	// gitleaks release whose default rules they come from.
	GitleaksVersion = "8.29.0"

	gitleaksConfidence        = 0.70
	gitleaksEntropyConfidence = 0.80
)

// GitleaksSource serves GitleaksDefinitions.
type GitleaksSource struct{}

func (GitleaksSource) Name() string { return "gitleaks" }

func (GitleaksSource) Definitions(context.Context) ([]pattern.Definition, error) {
	return GitleaksDefinitions()
}

// GitleaksDefinitions converts the gitleaks default rules into entity
// definitions in the secrets domain. Path-only rules are skipped. Rules
// with an entropy threshold start from a higher base confidence.
func GitleaksDefinitions() ([]pattern.Definition, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks rules: %w", err)
	}

	ids := make([]string, 0, len(d.Config.Rules))
	for id := range d.Config.Rules {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	defs := make([]pattern.Definition, 0, len(ids))
	for _, id := range ids {
		rule := d.Config.Rules[id]
		if rule.Regex == nil || rule.Regex.String() == "" {
			continue
		}
		confidence := gitleaksConfidence
		if rule.Entropy > 0 {
			confidence = gitleaksEntropyConfidence
		}
		def := pattern.Definition{
			Domain:         SecretsDomain,
			Name:           rule.RuleID,
			Category:       pattern.CategoryEntity,
			Regex:          rule.Regex.String(),
			OutputType:     "secret",
			BaseConfidence: confidence,
			Priority:       pattern.PriorityHigh,
			Version:        GitleaksVersion,
			Description:    strings.TrimSpace(rule.Description),
			Keywords:       slices.Clone(rule.Keywords),
		}
		def.ID = pattern.DeriveID(def.Key())
		defs = append(defs, def)
	}
	return defs, nil
}
