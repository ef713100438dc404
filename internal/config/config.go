// Package config loads patternd configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, and PATTERND_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternd/internal/catalog"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
	"github.com/fyrsmithlabs/patternd/pkg/detector"
	"github.com/fyrsmithlabs/patternd/pkg/matcher"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/scoring"
)

// Config is the complete patternd configuration.
type Config struct {
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Registry  RegistryConfig   `koanf:"registry"`
	Matcher   MatcherConfig    `koanf:"matcher"`
	Scoring   scoring.Config   `koanf:"scoring"`
	Detector  detector.Config  `koanf:"detector"`
	Catalog   CatalogConfig    `koanf:"catalog"`
}

// RegistryConfig bounds the regular expressions accepted at registration.
type RegistryConfig struct {
	MaxRegexLength   int `koanf:"max_regex_length"`
	MaxRepeatNesting int `koanf:"max_repeat_nesting"`
}

// Limits converts the configuration to registration limits.
func (c RegistryConfig) Limits() pattern.Limits {
	return pattern.Limits{
		MaxRegexLength:   c.MaxRegexLength,
		MaxRepeatNesting: c.MaxRepeatNesting,
	}
}

// MatcherConfig configures match extraction.
type MatcherConfig struct {
	// WindowSize is the number of context bytes kept on each side of a match.
	WindowSize int `koanf:"window_size"`
}

// Options converts the configuration to matcher options.
func (c MatcherConfig) Options() []matcher.Option {
	return []matcher.Option{matcher.WithWindowSize(c.WindowSize)}
}

// CatalogConfig selects the pattern sources loaded at startup.
type CatalogConfig struct {
	// Builtin loads the bundled security, compliance, and infrastructure
	// patterns.
	Builtin bool `koanf:"builtin"`

	// Gitleaks loads the gitleaks default rules into the "secrets" domain.
	Gitleaks bool `koanf:"gitleaks"`

	// Paths lists YAML (.yaml, .yml) or TOML (.toml) catalog files.
	Paths []string `koanf:"paths"`

	SQLite SQLiteConfig `koanf:"sqlite"`

	// Watch reloads catalog files when they change.
	Watch bool `koanf:"watch"`

	// Debounce coalesces bursts of file events.
	Debounce Duration `koanf:"debounce"`
}

// SQLiteConfig points at a table of pattern definitions.
type SQLiteConfig struct {
	DSN   string `koanf:"dsn"`
	Table string `koanf:"table"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	limits := pattern.DefaultLimits()
	return &Config{
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Registry: RegistryConfig{
			MaxRegexLength:   limits.MaxRegexLength,
			MaxRepeatNesting: limits.MaxRepeatNesting,
		},
		Matcher:  MatcherConfig{WindowSize: matcher.DefaultWindowSize},
		Scoring:  scoring.DefaultConfig(),
		Detector: detector.DefaultConfig(),
		Catalog: CatalogConfig{
			Builtin:  true,
			SQLite:   SQLiteConfig{Table: "patterns"},
			Debounce: Duration(250 * time.Millisecond),
		},
	}
}

// Validate checks every section and joins the failures.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if c.Registry.MaxRegexLength <= 0 {
		errs = append(errs, fmt.Errorf("registry: max_regex_length must be positive, got %d", c.Registry.MaxRegexLength))
	}
	if c.Registry.MaxRepeatNesting <= 0 {
		errs = append(errs, fmt.Errorf("registry: max_repeat_nesting must be positive, got %d", c.Registry.MaxRepeatNesting))
	}
	if c.Matcher.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("matcher: window_size must be >= 0, got %d", c.Matcher.WindowSize))
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	if err := c.Detector.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if c.Catalog.SQLite.DSN != "" && !catalog.ValidTableName(c.Catalog.SQLite.Table) {
		errs = append(errs, fmt.Errorf("catalog: sqlite.table %q is not a valid identifier", c.Catalog.SQLite.Table))
	}
	return errors.Join(errs...)
}
