package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/nimbusfs/pkg/transfer"
)

var cpCmd = &cobra.Command{
	Use:   "cp <src>... <dst>",
	Short: "Copy files or directory trees",
	Long: `Copy one or more sources to a destination.

With a single source, dst names the copy. With several sources, each is
copied into dst under its own base name.

Directories need --recursive. A glob source walks its literal prefix and
copies the matching entries.

Examples:
  nimbusfs cp ./report.csv s3://bucket/reports/report.csv
  nimbusfs cp -r sftp://backup@host/var/data/ file:///srv/mirror/data/
  nimbusfs cp 's3://bucket/logs/**/*.gz' mem://scratch/logs/`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCp,
}

var cpFlags selectionFlags

func init() {
	rootCmd.AddCommand(cpCmd)
	cpFlags.register(cpCmd, true)
}

func runCp(cmd *cobra.Command, args []string) error {
	items, opts, err := fanIn(args, &cpFlags)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}
	return runOperation(cmd, transfer.OpCopy, items, opts)
}
