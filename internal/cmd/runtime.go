package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/config"
	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/provider/s3"
	"github.com/3leaps/nimbusfs/pkg/provider/sftp"
	"github.com/3leaps/nimbusfs/pkg/scheduler"
	"github.com/3leaps/nimbusfs/pkg/transfer"
)

// errNoFreshCredentials is returned by the refresher when reloading the
// config yields the credentials that already failed.
var errNoFreshCredentials = errors.New("no fresh credentials in config or environment")

// runtime is the engine stack shared by one command invocation.
type runtime struct {
	cfg      *config.Config
	registry *location.Registry
	pool     *scheduler.Pool
	engine   *transfer.Engine
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Config not loaded", errors.New("missing config"))
	}
	logger := observability.CLILogger

	limits := location.Limits{
		BandwidthLimit: int64(cfg.BandwidthLimit),
		ChunkSize:      int(cfg.ChunkSize),
	}
	registry := location.NewDefaultRegistry(s3Base(cfg), sftpBase(cfg), limits,
		location.WithLogger(logger),
		location.WithCredentialRefresher(func(ctx context.Context, conn provider.ConnInfo) (provider.ConnInfo, error) {
			return refreshCredentials(ctx, cmd, conn)
		}),
	)
	pool := scheduler.New(scheduler.WithWorkers(cfg.Workers), scheduler.WithLogger(logger))

	engine := transfer.New(registry, pool, transfer.Config{
		BatchConcurrency: cfg.BatchConcurrency,
		TempDir:          cfg.TempDir,
		BufferSize:       int(cfg.BufferSize),
	}, logger)

	return &runtime{cfg: cfg, registry: registry, pool: pool, engine: engine}, nil
}

func (rt *runtime) Close() {
	rt.pool.Shutdown()
	if err := rt.registry.Close(); err != nil {
		observability.CLILogger.Warn("Failed to close endpoints", zap.Error(err))
	}
}

func s3Base(cfg *config.Config) s3.Config {
	return s3.Config{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		Profile:         cfg.S3.Profile,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		ForcePathStyle:  cfg.S3.ForcePathStyle || cfg.S3.Endpoint != "",
	}
}

func sftpBase(cfg *config.Config) sftp.Config {
	return sftp.Config{
		User:                  cfg.SFTP.User,
		Password:              cfg.SFTP.Password,
		KeyFile:               cfg.SFTP.KeyFile,
		KeyPassphrase:         cfg.SFTP.KeyPassphrase,
		KnownHostsFile:        cfg.SFTP.KnownHostsFile,
		InsecureIgnoreHostKey: cfg.SFTP.InsecureIgnoreHostKey,
		DialTimeout:           cfg.SFTP.DialTimeout,
	}
}

// refreshCredentials reloads the config so rotated secrets in the config
// file or environment are picked up after an authentication failure.
func refreshCredentials(ctx context.Context, cmd *cobra.Command, conn provider.ConnInfo) (provider.ConnInfo, error) {
	cfg, err := config.Load(ctx, flagOverrides(cmd))
	if err != nil {
		return conn, fmt.Errorf("reload config: %w", err)
	}

	fresh := conn
	switch conn.Scheme {
	case provider.ProviderS3:
		fresh.User = cfg.S3.AccessKeyID
		fresh.Secret = cfg.S3.SecretAccessKey
	case provider.ProviderSFTP:
		if cfg.SFTP.Password != "" {
			fresh.Secret = cfg.SFTP.Password
		}
		if cfg.SFTP.KeyFile != "" {
			fresh.KeyFile = cfg.SFTP.KeyFile
		}
	default:
		return conn, fmt.Errorf("%w: %s", errNoFreshCredentials, conn.Scheme)
	}
	if fresh == conn {
		return conn, errNoFreshCredentials
	}
	observability.CLILogger.Info("Retrying with refreshed credentials",
		zap.String("scheme", string(conn.Scheme)),
		zap.String("host", conn.Host))
	return fresh, nil
}
