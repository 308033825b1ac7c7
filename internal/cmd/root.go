// Package cmd implements the nimbusfs command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/config"
	"github.com/3leaps/nimbusfs/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile          string
	logLevel         string
	logFormat        string
	workersFlag      int
	concurrencyFlag  int
	bandwidthFlag    string
	tempDirFlag      string
	bufferSizeFlag   string
	progressInterval string
	preflightFlag    string

	loggerReady bool
)

var rootCmd = &cobra.Command{
	Use:   "nimbusfs",
	Short: "Copy, move, rename, and delete across local, memory, S3, and SFTP storage",
	Long: `nimbusfs moves files and directory trees between storage endpoints.

Locations are URIs:
  /local/path, file:///local/path
  mem://name/path            (in-process, lives for one command)
  s3://bucket/prefix/key
  sftp://user@host:22/path

Source URIs may contain globs (s3://bucket/data/**/*.csv); the walk starts at
the literal prefix and keeps matching entries.

Every command writes JSONL records (items, progress, summary) to stdout and
logs to stderr.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntimeConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./nimbusfs.yaml or ~/.config/nimbusfs/nimbusfs.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: console or json")
	pf.IntVar(&workersFlag, "workers", 0, "Scheduler pool size (default: by CPU count)")
	pf.IntVar(&concurrencyFlag, "concurrency", 0, "Concurrent items per operation")
	pf.StringVar(&bandwidthFlag, "bandwidth", "", "Per-endpoint bandwidth limit, e.g. 10MiB (0 = unlimited)")
	pf.StringVar(&tempDirFlag, "temp-dir", "", "Directory for relay files")
	pf.StringVar(&bufferSizeFlag, "buffer-size", "", "Stream buffer size, e.g. 1MiB")
	pf.StringVar(&progressInterval, "progress-interval", "", "Minimum spacing of progress records, e.g. 1s")
	pf.StringVar(&preflightFlag, "preflight", "", "Check endpoints before moving data: plan-only, read-safe, write-probe")
}

// flagOverrides maps explicitly set persistent flags onto config keys.
func flagOverrides(cmd *cobra.Command) map[string]any {
	o := map[string]any{}
	flags := cmd.Flags()
	set := func(name, key string, val any) {
		if flags.Changed(name) {
			o[key] = val
		}
	}
	set("log-level", "logging.level", logLevel)
	set("log-format", "logging.format", logFormat)
	set("workers", "workers", workersFlag)
	set("concurrency", "batch_concurrency", concurrencyFlag)
	set("bandwidth", "bandwidth_limit", bandwidthFlag)
	set("temp-dir", "temp_dir", tempDirFlag)
	set("buffer-size", "buffer_size", bufferSizeFlag)
	set("progress-interval", "progress_interval", progressInterval)
	return o
}

func initRuntimeConfig(cmd *cobra.Command, args []string) error {
	config.SetConfigFile(cfgFile)
	cfg, err := config.Load(cmd.Context(), flagOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load config", err)
	}
	if err := observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize logger", err)
	}
	loggerReady = true
	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// operation; records for finished and cancelled items are still written.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if loggerReady {
			observability.CLILogger.Error("Command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}
