package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
)

var catCmd = &cobra.Command{
	Use:   "cat <uri>",
	Short: "Stream a file to stdout",
	Long: `Stream the content of a single file to stdout as raw bytes.

--offset starts at a byte position; --length stops after that many bytes.`,
	Args: cobra.ExactArgs(1),
	RunE: runCat,
}

var (
	catOffset int64
	catLength int64
)

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().Int64Var(&catOffset, "offset", 0, "Start at this byte offset")
	catCmd.Flags().Int64Var(&catLength, "length", -1, "Stop after this many bytes (-1 = to end)")
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	uri := args[0]

	if catOffset < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --offset value", fmt.Errorf("offset must be >= 0"))
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	r, err := rt.engine.OpenReader(ctx, uri)
	if err != nil {
		return exitError(operationExitCode(err), "Failed to open "+uri, err)
	}
	defer func() { _ = r.Close() }()

	if catOffset > 0 {
		if _, err := r.Seek(catOffset, io.SeekStart); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --offset value", err)
		}
	}

	var src io.Reader = r
	if catLength >= 0 {
		src = io.LimitReader(r, catLength)
	}
	n, err := io.Copy(cmd.OutOrStdout(), src)
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			return exitError(foundry.ExitSignalInt, "cat cancelled", err)
		}
		return exitError(operationExitCode(err), "Failed to stream "+uri, err)
	}

	observability.CLILogger.Debug("Streamed file",
		zap.String("uri", uri),
		zap.Int64("offset", catOffset),
		zap.Int64("bytes", n),
		zap.Int64("size", r.Size()))
	return nil
}
