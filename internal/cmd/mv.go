package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/nimbusfs/pkg/transfer"
)

var mvCmd = &cobra.Command{
	Use:   "mv <src>... <dst>",
	Short: "Move files or directory trees",
	Long: `Move one or more sources to a destination.

Within one endpoint a move is a rename when the backend supports it.
Otherwise the source is copied and then deleted; a source is only deleted
once everything under it was copied.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMv,
}

var mvFlags selectionFlags

func init() {
	rootCmd.AddCommand(mvCmd)
	mvFlags.register(mvCmd, true)
}

func runMv(cmd *cobra.Command, args []string) error {
	items, opts, err := fanIn(args, &mvFlags)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}
	return runOperation(cmd, transfer.OpMove, items, opts)
}
