package cmd

import (
	"io"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/transfer"
)

var putCmd = &cobra.Command{
	Use:   "put <uri>",
	Short: "Write stdin to a file",
	Long: `Stream stdin into a single file.

The file appears only once stdin is fully written; an interrupted put leaves
no partial file behind. Pass --size when the length is known so backends can
preallocate or pick a single-part upload.`,
	Args: cobra.ExactArgs(1),
	RunE: runPut,
}

var (
	putSize      int64
	putOverwrite bool
)

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().Int64Var(&putSize, "size", -1, "Expected size in bytes (-1 = unknown)")
	putCmd.Flags().BoolVarP(&putOverwrite, "overwrite", "f", false, "Replace an existing file")
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	uri := args[0]

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	writer := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), "put")
	defer func() { _ = writer.Close() }()

	w, err := rt.engine.OpenWriter(ctx, uri, putSize, putOverwrite)
	if err != nil {
		return exitError(operationExitCode(err), "Failed to open "+uri, err)
	}

	n, err := io.Copy(w, cmd.InOrStdin())
	if err == nil {
		err = w.Commit()
	}
	rec := &output.ItemRecord{Src: "-", Dst: uri, Bytes: n, Status: output.StatusOK}
	if err != nil {
		w.Abort()
		rec.Status = output.StatusFailed
		rec.Code = transfer.ErrorCode(err)
		rec.Error = err.Error()
	}
	_ = w.Close()
	if werr := writer.WriteItem(ctx, rec); werr != nil && err == nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write record", werr)
	}
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "put cancelled", err)
		}
		return exitError(operationExitCode(err), "Failed to write "+uri, err)
	}
	return nil
}
