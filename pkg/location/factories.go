package location

import (
	"context"

	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/provider/file"
	"github.com/3leaps/nimbusfs/pkg/provider/memfs"
	"github.com/3leaps/nimbusfs/pkg/provider/s3"
	"github.com/3leaps/nimbusfs/pkg/provider/sftp"
)

// Limits are the transfer settings shared by every backend.
type Limits struct {
	// BandwidthLimit caps throughput per endpoint in bytes per second (0 = unlimited).
	BandwidthLimit int64

	// ChunkSize overrides the copy granularity (0 = provider default).
	ChunkSize int
}

// FileFactory opens the local filesystem rooted at "/".
type FileFactory struct {
	Limits Limits
}

func (f FileFactory) ConnInfo(u *URI) provider.ConnInfo {
	return provider.ConnInfo{Scheme: provider.ProviderFile, BasePath: "/"}
}

func (f FileFactory) Open(ctx context.Context, conn provider.ConnInfo) (provider.Provider, error) {
	return file.New(file.Config{
		BaseDir:        conn.BasePath,
		BandwidthLimit: f.Limits.BandwidthLimit,
		ChunkSize:      f.Limits.ChunkSize,
	})
}

// MemFactory opens named in-memory filesystems. Every URI naming the same
// instance shares one filesystem for the registry's lifetime.
type MemFactory struct {
	Limits Limits
}

func (f MemFactory) ConnInfo(u *URI) provider.ConnInfo {
	return provider.ConnInfo{Scheme: provider.ProviderMem, Host: u.Host}
}

func (f MemFactory) Open(ctx context.Context, conn provider.ConnInfo) (provider.Provider, error) {
	return memfs.New(memfs.Config{
		Name:           conn.Host,
		BandwidthLimit: f.Limits.BandwidthLimit,
		ChunkSize:      f.Limits.ChunkSize,
	}), nil
}

// S3Factory opens one provider per bucket. Base supplies region, endpoint,
// and credentials; the bucket comes from the URI host.
type S3Factory struct {
	Base   s3.Config
	Limits Limits
}

func (f S3Factory) ConnInfo(u *URI) provider.ConnInfo {
	host := f.Base.Endpoint
	if host == "" {
		host = "aws:" + f.Base.Region + ":" + f.Base.Profile
	}
	return provider.ConnInfo{
		Scheme:   provider.ProviderS3,
		Host:     host,
		User:     f.Base.AccessKeyID,
		Secret:   f.Base.SecretAccessKey,
		BasePath: u.Host,
	}
}

func (f S3Factory) Open(ctx context.Context, conn provider.ConnInfo) (provider.Provider, error) {
	cfg := f.Base
	cfg.Bucket = conn.BasePath
	cfg.AccessKeyID = conn.User
	cfg.SecretAccessKey = conn.Secret
	cfg.BandwidthLimit = f.Limits.BandwidthLimit
	cfg.ChunkSize = f.Limits.ChunkSize
	return s3.New(ctx, cfg)
}

// SFTPFactory opens one session per server and login. URI userinfo and port
// override Base.
type SFTPFactory struct {
	Base   sftp.Config
	Limits Limits
}

func (f SFTPFactory) ConnInfo(u *URI) provider.ConnInfo {
	conn := provider.ConnInfo{
		Scheme:   provider.ProviderSFTP,
		Host:     u.Host,
		Port:     f.Base.Port,
		User:     f.Base.User,
		Secret:   f.Base.Password,
		KeyFile:  f.Base.KeyFile,
		BasePath: "/",
	}
	if u.Port != 0 {
		conn.Port = u.Port
	}
	if u.User != "" {
		conn.User = u.User
	}
	if u.Password != "" {
		conn.Secret = u.Password
	}
	return conn
}

func (f SFTPFactory) Open(ctx context.Context, conn provider.ConnInfo) (provider.Provider, error) {
	cfg := f.Base
	cfg.Host = conn.Host
	cfg.Port = conn.Port
	cfg.User = conn.User
	cfg.Password = conn.Secret
	cfg.KeyFile = conn.KeyFile
	cfg.BasePath = conn.BasePath
	cfg.BandwidthLimit = f.Limits.BandwidthLimit
	cfg.ChunkSize = f.Limits.ChunkSize
	return sftp.New(ctx, cfg)
}

// NewDefaultRegistry registers every built-in backend.
func NewDefaultRegistry(s3Base s3.Config, sftpBase sftp.Config, limits Limits, opts ...Option) *Registry {
	base := []Option{
		WithFactory(provider.ProviderFile, FileFactory{Limits: limits}),
		WithFactory(provider.ProviderMem, MemFactory{Limits: limits}),
		WithFactory(provider.ProviderS3, S3Factory{Base: s3Base, Limits: limits}),
		WithFactory(provider.ProviderSFTP, SFTPFactory{Base: sftpBase, Limits: limits}),
	}
	return NewRegistry(append(base, opts...)...)
}
