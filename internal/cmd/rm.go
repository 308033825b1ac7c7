package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/transfer"
)

var rmCmd = &cobra.Command{
	Use:   "rm <uri>...",
	Short: "Delete files or directory trees",
	Long: `Delete files or directories.

Without --recursive a directory is removed only when it holds no
sub-directories. Entries skipped by --include, --exclude, --skip-hidden,
or a filter are kept along with their parent directories.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

var rmFlags selectionFlags

func init() {
	rootCmd.AddCommand(rmCmd)
	rmFlags.register(rmCmd, false)
}

func runRm(cmd *cobra.Command, args []string) error {
	opts := rmFlags.options()
	items := make([]transfer.Item, 0, len(args))
	for _, src := range args {
		if len(args) > 1 {
			if u, err := location.ParseURI(src); err == nil && u.IsPattern() {
				return exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("%w: %s", errMixedGlob, src))
			}
		}
		if err := expandPattern(src, &opts); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
		}
		items = append(items, transfer.Item{Src: src})
	}
	return runOperation(cmd, transfer.OpDelete, items, opts)
}
