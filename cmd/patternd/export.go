package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/catalog"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

var (
	// exportFormat selects toml or sqlite
	exportFormat string
	// exportOutput is the TOML file or SQLite DSN to write
	exportOutput string
	// exportTable is the SQLite table to write
	exportTable string
	// activateState is the active flag written by the activate command
	activateState bool
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "toml", "export format: toml, sqlite")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "TOML file or SQLite DSN (required)")
	exportCmd.Flags().StringVar(&exportTable, "table", "patterns", "SQLite table")
	_ = exportCmd.MarkFlagRequired("output")

	activateCmd.Flags().BoolVar(&activateState, "active", true, "active flag to set")
	rootCmd.AddCommand(activateCmd)
}

// exportCmd writes the loaded catalog to a TOML file or SQLite table
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the loaded catalog to TOML or SQLite",
	Long: `Export every loaded definition, including inactive ones, to a TOML
catalog file or a SQLite table. Existing SQLite rows are left unchanged.

Examples:
  # Snapshot the built-in and file catalogs into SQLite
  patternd export --format sqlite --output patterns.db

  # Convert YAML catalogs to TOML
  patternd --catalog a.yaml --catalog b.yaml export -o catalog.toml`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

// activateCmd flips the active flag of a SQLite catalog row
var activateCmd = &cobra.Command{
	Use:   "activate domain/name@version",
	Short: "Activate or deactivate a definition in the SQLite catalog",
	Long: `Set the active flag of one definition stored in the configured SQLite
catalog (catalog.sqlite.dsn). Running processes pick the change up on their
next start.

Examples:
  # Withdraw a noisy pattern
  patternd activate --active=false infrastructure/hostname@1.0.0`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate,
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := newEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close(context.Background()) }()

	defs := e.registry.All()
	switch exportFormat {
	case "toml":
		content, err := catalog.WriteTOML(defs)
		if err != nil {
			return fmt.Errorf("failed to encode catalog: %w", err)
		}
		if err := os.WriteFile(exportOutput, content, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOutput, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d definitions to %s\n", len(defs), exportOutput)
	case "sqlite":
		dst, err := catalog.OpenSQLite(exportOutput, exportTable)
		if err != nil {
			return err
		}
		defer dst.Close()
		n, err := dst.Save(cmd.Context(), defs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d of %d definitions to %s (table %s)\n",
			n, len(defs), exportOutput, exportTable)
	default:
		return fmt.Errorf("unknown format %q (want toml or sqlite)", exportFormat)
	}
	return nil
}

func runActivate(cmd *cobra.Command, args []string) error {
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Catalog.SQLite.DSN == "" {
		return fmt.Errorf("catalog.sqlite.dsn is not configured")
	}

	src, err := catalog.OpenSQLite(cfg.Catalog.SQLite.DSN, cfg.Catalog.SQLite.Table)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := src.SetActive(cmd.Context(), key, activateState); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s active=%t\n", key, activateState)
	return nil
}

// parseKey parses "domain/name@version".
func parseKey(s string) (pattern.Key, error) {
	domain, rest, ok := strings.Cut(s, "/")
	if !ok {
		return pattern.Key{}, fmt.Errorf("invalid pattern key %q (want domain/name@version)", s)
	}
	name, version, ok := strings.Cut(rest, "@")
	if !ok || domain == "" || name == "" || version == "" {
		return pattern.Key{}, fmt.Errorf("invalid pattern key %q (want domain/name@version)", s)
	}
	return pattern.Key{Domain: domain, Name: name, Version: version}, nil
}
