package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/negosync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "negosync %s\n", version.GetInfo())
	},
}
