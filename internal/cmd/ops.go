package cmd

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/match"
	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/preflight"
	"github.com/3leaps/nimbusfs/pkg/transfer"
)

// selectionFlags are the walk options shared by cp, mv, and rm.
type selectionFlags struct {
	recursive       bool
	overwrite       bool
	continueOnError bool
	includes        []string
	excludes        []string
	skipHidden      bool
	minSize         string
	maxSize         string
	after           string
	before          string
	pathRegex       string
}

func (f *selectionFlags) register(cmd *cobra.Command, withOverwrite bool) {
	cmd.Flags().BoolVarP(&f.recursive, "recursive", "r", false, "Descend into directories")
	if withOverwrite {
		cmd.Flags().BoolVarP(&f.overwrite, "overwrite", "f", false, "Replace existing destination files")
	}
	cmd.Flags().BoolVar(&f.continueOnError, "continue-on-error", false, "Keep going after a failed item")
	cmd.Flags().StringArrayVar(&f.includes, "include", nil, "Only walk paths matching this glob (repeatable)")
	cmd.Flags().StringArrayVar(&f.excludes, "exclude", nil, "Skip paths matching this glob (repeatable)")
	cmd.Flags().BoolVar(&f.skipHidden, "skip-hidden", false, "Skip dot-files and dot-directories")
	cmd.Flags().StringVar(&f.minSize, "min-size", "", "Only files at least this size (e.g. 1KiB)")
	cmd.Flags().StringVar(&f.maxSize, "max-size", "", "Only files at most this size (e.g. 1GiB)")
	cmd.Flags().StringVar(&f.after, "modified-after", "", "Only files modified at or after this date (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.before, "modified-before", "", "Only files modified before this date (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.pathRegex, "path-regex", "", "Only files whose relative path matches this regex")
}

func (f *selectionFlags) options() transfer.Options {
	opts := transfer.Options{
		Recursive:       f.recursive,
		Overwrite:       f.overwrite,
		ContinueOnError: f.continueOnError,
		Includes:        append([]string(nil), f.includes...),
		Excludes:        append([]string(nil), f.excludes...),
		SkipHidden:      f.skipHidden,
	}

	var fc match.FilterConfig
	if f.minSize != "" || f.maxSize != "" {
		fc.Size = &match.SizeFilterConfig{Min: f.minSize, Max: f.maxSize}
	}
	if f.after != "" || f.before != "" {
		fc.Modified = &match.DateFilterConfig{After: f.after, Before: f.before}
	}
	fc.PathRegex = f.pathRegex
	if fc.Size != nil || fc.Modified != nil || fc.PathRegex != "" {
		opts.Filter = &fc
	}
	return opts
}

// expandPattern turns a glob source into a recursive walk of its literal
// prefix that keeps only matching entries.
func expandPattern(src string, opts *transfer.Options) error {
	u, err := location.ParseURI(src)
	if err != nil {
		return err
	}
	if !u.IsPattern() {
		return nil
	}
	opts.Recursive = true
	opts.Includes = append(opts.Includes, u.RelativePattern())
	return nil
}

// errMixedGlob rejects a glob source next to other sources, since the
// walk filters of one batch apply to every item.
var errMixedGlob = errors.New("a glob source must be the only source")

// fanIn builds copy or move items from "<src>... <dst>". Several sources
// land inside dst under their base names.
func fanIn(args []string, f *selectionFlags) ([]transfer.Item, transfer.Options, error) {
	opts := f.options()
	srcs, dst := args[:len(args)-1], args[len(args)-1]

	if len(srcs) == 1 {
		if err := expandPattern(srcs[0], &opts); err != nil {
			return nil, opts, err
		}
		return []transfer.Item{{Src: srcs[0], Dst: dst}}, opts, nil
	}

	items := make([]transfer.Item, 0, len(srcs))
	for _, src := range srcs {
		u, err := location.ParseURI(src)
		if err != nil {
			return nil, opts, err
		}
		if u.IsPattern() {
			return nil, opts, fmt.Errorf("%w: %s", errMixedGlob, src)
		}
		name := path.Base(u.Path)
		if name == "/" {
			return nil, opts, fmt.Errorf("cannot place endpoint root %s inside %s", src, dst)
		}
		items = append(items, transfer.Item{Src: src, Dst: strings.TrimSuffix(dst, "/") + "/" + name})
	}
	return items, opts, nil
}

// runOperation executes one batch and writes its records to stdout.
func runOperation(cmd *cobra.Command, op transfer.Op, items []transfer.Item, opts transfer.Options) error {
	ctx := cmd.Context()

	for _, it := range items {
		if _, err := location.ParseURI(it.Src); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid source URI", err)
		}
		if op != transfer.OpDelete && op != transfer.OpRename {
			if _, err := location.ParseURI(it.Dst); err != nil {
				return exitError(foundry.ExitInvalidArgument, "Invalid destination URI", err)
			}
		}
	}

	var mode preflight.Mode
	if preflightFlag != "" {
		m, err := preflight.ParseMode(preflightFlag)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --preflight", err)
		}
		mode = m
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	jobID := uuid.New().String()
	writer := output.NewJSONLWriter(cmd.OutOrStdout(), jobID, string(op))
	defer func() { _ = writer.Close() }()

	if mode != "" {
		rec, err := preflight.Run(ctx, rt.registry, op, items, mode)
		if writeErr := writer.WritePreflight(ctx, rec); writeErr != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write preflight record", writeErr)
		}
		if err != nil {
			return exitError(operationExitCode(err), "Preflight failed", err)
		}
	}

	reporter := transfer.NewReporter(ctx, writer, observability.CLILogger, rt.cfg.ProgressInterval)
	opts.Host = reporter

	observability.CLILogger.Debug("Starting operation",
		zap.String("job_id", jobID),
		zap.String("op", string(op)),
		zap.Int("items", len(items)),
		zap.Bool("recursive", opts.Recursive))

	res, err := rt.engine.Run(ctx, op, items, opts)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid operation", err)
	}
	reporter.Finish(res)

	if res.Err != nil {
		return exitError(operationExitCode(res.Err),
			fmt.Sprintf("%s finished with %d failed item(s)", op, res.Failed()), res.Err)
	}
	observability.CLILogger.Info("Operation complete",
		zap.String("job_id", jobID),
		zap.String("op", string(op)),
		zap.Int("items", len(res.Items)))
	return nil
}
