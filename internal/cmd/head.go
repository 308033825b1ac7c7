package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/pkg/content"
	"github.com/3leaps/nimbusfs/pkg/location"
)

var headCmd = &cobra.Command{
	Use:   "head <uri>...",
	Short: "Print the first bytes of one or more files",
	Long: `Print the leading bytes of each file to stdout.

Files are read in parallel (up to --concurrency at once) and printed in
argument order. With more than one file, each is preceded by a
"==> uri <==" header. Failed files are logged and skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHead,
}

var headBytes string

func init() {
	rootCmd.AddCommand(headCmd)
	headCmd.Flags().StringVarP(&headBytes, "bytes", "c", "1KiB", "Bytes to print per file (e.g. 512, 4KiB)")
}

func runHead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	n, err := humanize.ParseBytes(headBytes)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --bytes value", err)
	}
	for _, uri := range args {
		if _, err := location.ParseURI(uri); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid URI", err)
		}
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	results := make([]content.HeadBytesResult, len(args))
	for res := range content.HeadBytesMulti(ctx, rt.registry, args, int64(n), rt.cfg.BatchConcurrency) {
		results[res.Index] = res
	}
	if err := ctx.Err(); err != nil {
		return exitError(foundry.ExitSignalInt, "head cancelled", err)
	}

	out := cmd.OutOrStdout()
	var firstErr error
	printed := 0
	for _, res := range results {
		if res.Err != nil {
			observability.CLILogger.Error("Head failed", zap.String("uri", res.URI), zap.Error(res.Err))
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		if len(args) > 1 {
			if printed > 0 {
				_, _ = fmt.Fprintln(out)
			}
			_, _ = fmt.Fprintf(out, "==> %s <==\n", res.URI)
		}
		if _, err := out.Write(res.Data); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		printed++
	}

	if firstErr != nil {
		return exitError(operationExitCode(firstErr),
			fmt.Sprintf("head failed for %d of %d file(s)", len(args)-printed, len(args)), firstErr)
	}
	return nil
}
