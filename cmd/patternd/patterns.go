package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/catalog"
	"github.com/fyrsmithlabs/patternd/pkg/pattern"
	"github.com/fyrsmithlabs/patternd/pkg/registry"
)

var (
	// patternsDomains filters the listing to these domains
	patternsDomains []string
	// patternsAll includes inactive and superseded definitions
	patternsAll bool
	// patternsFormat selects table, json, or toml output
	patternsFormat string
)

func init() {
	patternsCmd.Flags().StringSliceVar(&patternsDomains, "domain", nil, "only list these domains")
	patternsCmd.Flags().BoolVar(&patternsAll, "all", false, "include inactive definitions")
	patternsCmd.Flags().StringVarP(&patternsFormat, "format", "f", "table", "output format: table, json, toml")
}

// patternsCmd lists the loaded catalog
var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List the loaded pattern catalog",
	Long: `List the pattern definitions loaded from the configured catalog sources,
ordered by priority, name, domain, and version.

Examples:
  # Everything active
  patternd patterns

  # One domain as JSON
  patternd patterns --domain security --format json

  # Every version, including deactivated ones, as a TOML catalog
  patternd patterns --all --format toml > catalog.toml`,
	Args: cobra.NoArgs,
	RunE: runPatterns,
}

func runPatterns(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := newEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close(context.Background()) }()

	defs := listDefinitions(e.registry, patternsDomains, patternsAll)
	return writeDefinitions(cmd.OutOrStdout(), defs, patternsFormat)
}

// listDefinitions returns active definitions, or every definition when all
// is set, restricted to domains when given.
func listDefinitions(reg *registry.Registry, domains []string, all bool) []pattern.Definition {
	if len(domains) == 0 {
		domains = reg.Domains()
	}
	if !all {
		defs := reg.GetPatterns(domains, pattern.CategoryEntity)
		defs = append(defs, reg.GetPatterns(domains, pattern.CategoryRelationship)...)
		registry.SortDefinitions(defs)
		return defs
	}

	var defs []pattern.Definition
	for _, d := range reg.All() {
		if slices.Contains(domains, d.Domain) {
			defs = append(defs, d)
		}
	}
	registry.SortDefinitions(defs)
	return defs
}

func writeDefinitions(w io.Writer, defs []pattern.Definition, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if defs == nil {
			defs = []pattern.Definition{}
		}
		return enc.Encode(defs)
	case "toml":
		content, err := catalog.WriteTOML(defs)
		if err != nil {
			return err
		}
		_, err = w.Write(content)
		return err
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DOMAIN\tNAME\tVERSION\tCATEGORY\tOUTPUT\tCONFIDENCE\tPRIORITY\tACTIVE")
		for _, d := range defs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%t\n",
				d.Domain, d.Name, d.Version, d.Category, d.OutputType, d.BaseConfidence, d.Priority, d.Active())
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q (want table, json, or toml)", format)
	}
}
