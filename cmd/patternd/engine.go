package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/catalog"
	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
	"github.com/fyrsmithlabs/patternd/pkg/detector"
	"github.com/fyrsmithlabs/patternd/pkg/registry"
	"github.com/fyrsmithlabs/patternd/pkg/scoring"
)

// catalogPaths adds catalog files on top of the configured ones
var catalogPaths []string

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&catalogPaths, "catalog", nil, "additional catalog files (.yaml, .yml, .toml)")
}

// engine holds everything one command invocation needs.
type engine struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	gatherer  *prometheus.Registry
	registry  *registry.Registry
	detector  *detector.Detector
	sqlite    *catalog.SQLiteSource

	// report and loadErr describe the startup catalog load. A partial load
	// is usable; commands decide whether failures are fatal.
	report  catalog.Report
	loadErr error
}

// loadConfig reads the config file and applies the --catalog flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Catalog.Paths = append(cfg.Catalog.Paths, catalogPaths...)
	return cfg, nil
}

// newEngine wires telemetry, logging, the registry, the catalog sources,
// and the detector from cfg.
func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	for _, problem := range tel.Degraded() {
		logger.Warn(ctx, "telemetry degraded", zap.Error(problem))
	}

	e := &engine{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		gatherer:  prometheus.NewRegistry(),
	}
	e.registry = registry.New(
		registry.WithLogger(logger.Underlying()),
		registry.WithLimits(cfg.Registry.Limits()),
		registry.WithMetrics(registry.NewMetrics(e.gatherer)),
	)

	sources, err := e.sources()
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	e.report, e.loadErr = catalog.Load(ctx, e.registry, logger.Underlying(), sources...)
	if e.loadErr != nil {
		logger.Warn(ctx, "catalog loaded with errors",
			zap.Int("registered", e.report.Registered),
			zap.Int("failed", e.report.Failed),
			zap.Error(e.loadErr))
	} else {
		logger.Debug(ctx, "catalog loaded",
			zap.Int("registered", e.report.Registered),
			zap.Int("existing", e.report.Existing))
	}

	metrics, err := detector.NewMetrics(tel.Meter(detector.InstrumentationName))
	if err != nil {
		_ = e.Close(ctx)
		return nil, fmt.Errorf("failed to create detector metrics: %w", err)
	}
	e.detector = detector.New(e.registry,
		detector.WithConfig(cfg.Detector),
		detector.WithScorer(scoring.New(cfg.Scoring, scoring.WithLogger(logger.Underlying()))),
		detector.WithMatcherOptions(cfg.Matcher.Options()...),
		detector.WithLogger(logger.Underlying()),
		detector.WithMetrics(metrics),
		detector.WithTracer(tel.Tracer(detector.InstrumentationName)),
	)
	return e, nil
}

func (e *engine) sources() ([]catalog.Source, error) {
	var sources []catalog.Source
	if e.cfg.Catalog.Builtin {
		sources = append(sources, catalog.BuiltinSource{})
	}
	if e.cfg.Catalog.Gitleaks {
		sources = append(sources, catalog.GitleaksSource{})
	}
	if dsn := e.cfg.Catalog.SQLite.DSN; dsn != "" {
		src, err := catalog.OpenSQLite(dsn, e.cfg.Catalog.SQLite.Table)
		if err != nil {
			return nil, err
		}
		e.sqlite = src
		sources = append(sources, src)
	}
	for _, p := range e.cfg.Catalog.Paths {
		sources = append(sources, catalog.FileSource{Path: p})
	}
	return sources, nil
}

// Close releases the SQLite handle, flushes telemetry, and syncs the logger.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	if e.sqlite != nil {
		if err := e.sqlite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite catalog: %w", err))
		}
	}
	if err := e.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	if err := e.logger.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
