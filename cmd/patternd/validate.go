package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/catalog"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/registry"
)

// errValidation is returned when any checked definition is invalid.
var errValidation = errors.New("validation failed")

// validateCmd checks catalog files or the configured catalog
var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate catalog files or the configured catalog",
	Long: `Validate pattern catalog files. Every definition must pass registration
checks, compile, and match each of its examples.

Without arguments the configured catalog sources are loaded and any
registration failures are reported.

Examples:
  # Check files before deploying them
  patternd validate patterns/security.yaml patterns/extra.toml

  # Check the configured catalog
  patternd validate`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		e, err := newEngine(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = e.Close(context.Background()) }()

		fmt.Fprintf(out, "registered %d, existing %d, failed %d\n",
			e.report.Registered, e.report.Existing, e.report.Failed)
		if e.loadErr != nil {
			fmt.Fprintf(out, "  %v\n", e.loadErr)
			return errValidation
		}
		return checkExamples(out, e.registry, e.registry.All())
	}

	failed := false
	for _, path := range args {
		if err := validateFile(out, path, cfg.Registry.Limits()); err != nil {
			failed = true
		}
	}
	if failed {
		return errValidation
	}
	return nil
}

// validateFile registers the file's definitions into an empty registry and
// checks their examples.
func validateFile(out io.Writer, path string, limits pattern.Limits) error {
	defs, err := catalog.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "FAIL %s\n  %v\n", path, err)
		return err
	}

	reg := registry.New(registry.WithLimits(limits))
	report, err := catalog.Register(reg, defs)
	if err != nil {
		fmt.Fprintf(out, "FAIL %s: %d of %d definitions rejected\n  %v\n", path, report.Failed, len(defs), err)
		return err
	}
	if err := checkExamples(io.Discard, reg, defs); err != nil {
		fmt.Fprintf(out, "FAIL %s\n", path)
		_ = checkExamples(out, reg, defs)
		return err
	}
	fmt.Fprintf(out, "ok   %s: %d definitions\n", path, len(defs))
	return nil
}

// checkExamples verifies that every example of every definition matches.
func checkExamples(out io.Writer, reg *registry.Registry, defs []pattern.Definition) error {
	failed := false
	for _, def := range defs {
		re, err := reg.Compiled(def)
		if errors.Is(err, pattern.ErrPatternInactive) {
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "  %s: %v\n", def.Key(), err)
			failed = true
			continue
		}
		for _, ex := range def.Examples {
			if !re.MatchString(ex) {
				fmt.Fprintf(out, "  %s: example %q does not match\n", def.Key(), ex)
				failed = true
			}
		}
	}
	if failed {
		return errValidation
	}
	return nil
}
