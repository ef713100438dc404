// Package catalog supplies pattern definitions to a registry.
//
// Sources are the bundled patterns, YAML or TOML catalog files, a SQLite
// table, and the gitleaks default rule set. A catalog file holds a
// "patterns" list. File-level "domain" and "version" fill entries that omit
// them, and entries are active unless they set active: false or disabled: true:
//
//	domain: security
//	version: 1.2.0
//	patterns:
//	  - name: cve
//	    category: entity
//	    regex: 'CVE-\d{4}-\d{4,7}'
//	    output_type: vulnerability
//	    base_confidence: 0.9
//	    priority: high
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

// Source yields definitions.
type Source interface {
	Name() string
	Definitions(ctx context.Context) ([]pattern.Definition, error)
}

// Registrar accepts definitions. *registry.Registry satisfies it.
type Registrar interface {
	Register(def pattern.Definition) error
}

// Report summarizes a load.
type Report struct {
	Registered int `json:"registered"`

	// Existing counts definitions whose identity was already registered.
	Existing int `json:"existing"`

	// Failed counts definitions rejected by the registry.
	Failed int `json:"failed"`

	// Keys lists every definition the sources supplied, registered or not.
	Keys []pattern.Key `json:"-"`
}

func (r *Report) add(o Report) {
	r.Registered += o.Registered
	r.Existing += o.Existing
	r.Failed += o.Failed
	r.Keys = append(r.Keys, o.Keys...)
}

// Register registers defs into reg. Duplicate identities are counted as
// existing and are not errors. Every other failure is collected and
// returned joined; the remaining definitions are still registered.
func Register(reg Registrar, defs []pattern.Definition) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	for _, def := range defs {
		rep.Keys = append(rep.Keys, def.Key())
		err := reg.Register(def)
		switch {
		case err == nil:
			rep.Registered++
		case errors.Is(err, pattern.ErrDuplicatePattern):
			rep.Existing++
		default:
			rep.Failed++
			errs = append(errs, err)
		}
	}
	return rep, errors.Join(errs...)
}

// Load reads every source and registers its definitions. A source that
// cannot be read is reported and skipped.
func Load(ctx context.Context, reg Registrar, logger *zap.Logger, sources ...Source) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		total Report
		errs  []error
	)
	for _, src := range sources {
		defs, err := src.Definitions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name(), err))
			continue
		}
		rep, err := Register(reg, defs)
		total.add(rep)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name(), err))
		}
		logger.Debug("catalog source loaded",
			zap.String("source", src.Name()),
			zap.Int("registered", rep.Registered),
			zap.Int("existing", rep.Existing),
			zap.Int("failed", rep.Failed),
		)
	}
	return total, errors.Join(errs...)
}
