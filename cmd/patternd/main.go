// Package main implements the patternd CLI for running pattern detection
// over documents and managing pattern catalogs.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the default config file location
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patternd",
	Short: "Regex-driven entity and relationship detection",
	Long: `patternd detects entities and relationships in text using versioned
regex pattern catalogs, and scores every detection with a multi-factor
confidence model.

Catalogs come from the bundled security, compliance, and infrastructure
patterns, YAML or TOML files, a SQLite table, and the gitleaks rule set.

Examples:
  # Detect in a file using every registered domain
  patternd detect advisory.txt

  # Detect from stdin, security domain only
  cat advisory.txt | patternd detect --domains security -

  # List the loaded catalog
  patternd patterns --domain compliance

  # Check catalog files before deploying them
  patternd validate patterns/*.yaml`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/patternd/config.yaml)")
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}
