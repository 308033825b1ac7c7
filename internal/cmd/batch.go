package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/pkg/manifest"
)

var batchCmd = &cobra.Command{
	Use:   "batch <manifest>",
	Short: "Run a copy, move, rename, or delete batch from a manifest",
	Long: `Run every item of a YAML or JSON batch manifest as one operation.

The manifest is validated against the embedded batch-manifest schema before
anything runs. Use "-" to read the manifest from stdin.

Example manifest:

  version: "1.0"
  operation: copy
  options:
    recursive: true
    continue_on_error: true
    excludes: ["**/_tmp/**"]
  items:
    - src: s3://bucket/exports/
      dst: sftp://backup@host/exports/
    - src: /var/log/app/
      dst: s3://bucket/logs/app/`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var batchValidateOnly bool

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolVar(&batchValidateOnly, "validate", false, "Validate the manifest and exit")
}

func runBatch(cmd *cobra.Command, args []string) error {
	path := args[0]

	var (
		m   *manifest.Manifest
		err error
	)
	if path == "-" {
		m, err = manifest.LoadFromReader(cmd.InOrStdin(), "")
	} else {
		m, err = manifest.Load(path)
	}
	if err != nil {
		observability.CLILogger.Error("Invalid batch manifest", zap.String("path", path), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid batch manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", path),
		zap.String("operation", m.Operation),
		zap.Int("items", len(m.Items)))

	if batchValidateOnly {
		return nil
	}
	return runOperation(cmd, m.Op(), m.Items, m.TransferOptions(nil))
}
