package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/catalog"
)

// versionCmd prints build and catalog versions
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "patternd %s\n", version)
		fmt.Fprintf(out, "builtin catalog %s\n", catalog.BuiltinVersion)
		fmt.Fprintf(out, "gitleaks rules %s\n", catalog.GitleaksVersion)
	},
}
