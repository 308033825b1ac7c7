package cmd

import (
	"github.com/spf13/cobra"

	"github.com/3leaps/nimbusfs/pkg/transfer"
)

var renameCmd = &cobra.Command{
	Use:   "rename <src> <new-name-or-uri>",
	Short: "Rename a file or directory in place",
	Long: `Rename src within its endpoint.

A bare name (no slash, no scheme) renames src inside its parent directory.
Renaming across endpoints is rejected; use mv instead.`,
	Args: cobra.ExactArgs(2),
	RunE: runRename,
}

var renameOverwrite bool

func init() {
	rootCmd.AddCommand(renameCmd)
	renameCmd.Flags().BoolVarP(&renameOverwrite, "overwrite", "f", false, "Replace an existing destination file")
}

func runRename(cmd *cobra.Command, args []string) error {
	items := []transfer.Item{{Src: args[0], Dst: args[1]}}
	return runOperation(cmd, transfer.OpRename, items, transfer.Options{Overwrite: renameOverwrite})
}
