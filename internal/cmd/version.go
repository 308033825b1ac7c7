package cmd

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	// Skip config loading so version works with a broken config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nimbusfs %s\n", versionInfo.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit:     %s\n", versionInfo.Commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:      %s\n", versionInfo.BuildDate)
		fmt.Fprintf(cmd.OutOrStdout(), "  go version: %s\n", goruntime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
