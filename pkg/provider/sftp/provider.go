package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// Provider implements provider.Provider over one SFTP session.
//
// pkg/sftp clients pipeline requests and are safe for concurrent use, so a
// single session serves every transfer against the endpoint.
type Provider struct {
	client    *sftp.Client
	conn      io.Closer
	basePath  string
	limiter   *rate.Limiter
	chunkSize int
}

// Ensure Provider implements the interfaces.
var (
	_ provider.Provider         = (*Provider)(nil)
	_ provider.Remover          = (*Provider)(nil)
	_ provider.ContainerRemover = (*Provider)(nil)
	_ provider.DirMaker         = (*Provider)(nil)
	_ provider.Renamer          = (*Provider)(nil)
)

// New dials the server, authenticates, and opens an SFTP session.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderSFTP, Path: cfg.Addr(), Err: err}
	}

	var d net.Dialer
	d.Timeout = clientCfg.Timeout
	netConn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, &provider.ProviderError{Op: "Dial", Provider: provider.ProviderSFTP, Path: cfg.Addr(), Err: fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, cfg.Addr(), clientCfg)
	if err != nil {
		_ = netConn.Close()
		return nil, &provider.ProviderError{Op: "Dial", Provider: provider.ProviderSFTP, Path: cfg.Addr(), Err: classifyHandshake(err)}
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderSFTP, Path: cfg.Addr(), Err: err}
	}

	return newWithClient(client, sshClient, cfg), nil
}

func newWithClient(client *sftp.Client, conn io.Closer, cfg Config) *Provider {
	base := path.Clean("/" + strings.TrimSpace(cfg.BasePath))
	return &Provider{
		client:    client,
		conn:      conn,
		basePath:  base,
		limiter:   provider.NewLimiter(cfg.BandwidthLimit),
		chunkSize: cfg.ChunkSize,
	}
}

// classifyHandshake maps SSH handshake failures to provider sentinels.
func classifyHandshake(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"), strings.Contains(msg, "no supported methods remain"):
		return fmt.Errorf("%w: %v", provider.ErrInvalidCredentials, err)
	case strings.Contains(msg, "knownhosts"), strings.Contains(msg, "host key"):
		return fmt.Errorf("%w: %v", provider.ErrAccessDenied, err)
	default:
		return fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}
}

// Stat returns metadata for a single file or directory.
func (p *Provider) Stat(ctx context.Context, name string) (*provider.Entry, error) {
	_ = ctx
	fi, err := p.client.Stat(p.fullPath(name))
	if err != nil {
		return nil, p.wrapError("Stat", name, err)
	}
	return toEntry(fi), nil
}

// List returns the children of dir, sorted by name, without upload temp files.
func (p *Provider) List(ctx context.Context, dir string) ([]provider.Entry, error) {
	_ = ctx
	infos, err := p.client.ReadDir(p.fullPath(dir))
	if err != nil {
		return nil, p.wrapError("List", dir, err)
	}
	entries := make([]provider.Entry, 0, len(infos))
	for _, fi := range infos {
		if strings.HasPrefix(fi.Name(), provider.TempPrefix) {
			continue
		}
		entries = append(entries, *toEntry(fi))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Download opens the remote file, seeks to offset, and pumps it into w.
func (p *Provider) Download(ctx context.Context, name string, offset int64, w io.Writer, progress provider.ProgressFunc) (int64, error) {
	if offset < 0 {
		return 0, p.wrapError("Download", name, fmt.Errorf("offset must be >= 0"))
	}
	f, err := p.client.Open(p.fullPath(name))
	if err != nil {
		return 0, p.wrapError("Download", name, err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return 0, p.wrapError("Download", name, err)
	}
	if fi.IsDir() {
		return 0, p.wrapError("Download", name, provider.ErrIsDirectory)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, p.wrapError("Download", name, err)
		}
	}
	total := fi.Size() - offset
	if total < 0 {
		total = 0
	}

	n, err := provider.Pump(ctx, w, f, provider.PumpOptions{
		Total:     total,
		Progress:  progress,
		Limiter:   p.limiter,
		ChunkSize: p.chunkSize,
	})
	if err != nil {
		return n, p.wrapError("Download", name, err)
	}
	return n, nil
}

// Upload writes a temp sibling and renames it over the destination once
// complete.
func (p *Provider) Upload(ctx context.Context, name string, r io.Reader, size int64, progress provider.ProgressFunc) (int64, error) {
	full := p.fullPath(name)
	if full == p.basePath {
		return 0, p.wrapError("Upload", name, provider.ErrIsDirectory)
	}
	if fi, err := p.client.Stat(full); err == nil && fi.IsDir() {
		return 0, p.wrapError("Upload", name, provider.ErrIsDirectory)
	}
	if err := p.client.MkdirAll(path.Dir(full)); err != nil {
		return 0, p.wrapError("Upload", name, err)
	}

	tmp := path.Join(path.Dir(full), provider.TempPrefix+uuid.NewString())
	f, err := p.client.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, p.wrapError("Upload", name, err)
	}

	n, err := provider.Pump(ctx, f, r, provider.PumpOptions{
		Total:     size,
		Progress:  progress,
		Limiter:   p.limiter,
		ChunkSize: p.chunkSize,
	})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = p.replace(tmp, full)
	}
	if err != nil {
		_ = p.client.Remove(tmp)
		return n, p.wrapError("Upload", name, err)
	}
	return n, nil
}

// replace moves tmp over dst. posix-rename overwrites atomically where the
// server supports it; plain SFTP rename refuses to overwrite.
func (p *Provider) replace(tmp, dst string) error {
	if err := p.client.PosixRename(tmp, dst); err == nil {
		return nil
	}
	if err := p.client.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return p.client.Rename(tmp, dst)
}

// Remove deletes one file.
func (p *Provider) Remove(ctx context.Context, name string) error {
	_ = ctx
	full := p.fullPath(name)
	fi, err := p.client.Lstat(full)
	if err != nil {
		return p.wrapError("Remove", name, err)
	}
	if fi.IsDir() {
		return p.wrapError("Remove", name, provider.ErrIsDirectory)
	}
	if err := p.client.Remove(full); err != nil {
		return p.wrapError("Remove", name, err)
	}
	return nil
}

// RemoveDir deletes an empty directory. SFTP servers report a generic failure
// for non-empty directories, so emptiness is checked first.
func (p *Provider) RemoveDir(ctx context.Context, name string) error {
	_ = ctx
	full := p.fullPath(name)
	if full == p.basePath {
		return p.wrapError("RemoveDir", name, provider.ErrAccessDenied)
	}
	infos, err := p.client.ReadDir(full)
	if err != nil {
		return p.wrapError("RemoveDir", name, err)
	}
	if len(infos) > 0 {
		return p.wrapError("RemoveDir", name, provider.ErrNotEmpty)
	}
	if err := p.client.RemoveDirectory(full); err != nil {
		return p.wrapError("RemoveDir", name, err)
	}
	return nil
}

// MakeDir creates dir and any missing parents.
func (p *Provider) MakeDir(ctx context.Context, name string) error {
	_ = ctx
	full := p.fullPath(name)
	if fi, err := p.client.Stat(full); err == nil {
		if fi.IsDir() {
			return nil
		}
		return p.wrapError("MakeDir", name, provider.ErrAlreadyExists)
	}
	if err := p.client.MkdirAll(full); err != nil {
		return p.wrapError("MakeDir", name, err)
	}
	return nil
}

// Rename renames a file or directory. The destination must not exist.
func (p *Provider) Rename(ctx context.Context, from, to string) error {
	_ = ctx
	src, dst := p.fullPath(from), p.fullPath(to)
	if _, err := p.client.Lstat(src); err != nil {
		return p.wrapError("Rename", from, err)
	}
	if _, err := p.client.Lstat(dst); err == nil {
		return p.wrapError("Rename", to, provider.ErrAlreadyExists)
	}
	if err := p.client.MkdirAll(path.Dir(dst)); err != nil {
		return p.wrapError("Rename", to, err)
	}
	if err := p.client.Rename(src, dst); err != nil {
		return p.wrapError("Rename", from, err)
	}
	return nil
}

// Close ends the SFTP session and the underlying SSH connection.
func (p *Provider) Close() error {
	err := p.client.Close()
	if p.conn != nil {
		err = multierr.Append(err, p.conn.Close())
	}
	return err
}

func (p *Provider) fullPath(name string) string {
	clean := path.Clean("/" + strings.TrimSpace(name))
	return path.Join(p.basePath, clean)
}

func (p *Provider) wrapError(op, name string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderSFTP, Path: name, Err: err}

	var status *sftp.StatusError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = provider.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = provider.ErrAccessDenied
	case errors.As(err, &status):
		switch status.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			wrapped.Err = provider.ErrNotFound
		case sftp.ErrSSHFxPermissionDenied:
			wrapped.Err = provider.ErrAccessDenied
		case sftp.ErrSSHFxOpUnsupported:
			wrapped.Err = provider.ErrUnsupported
		case sftp.ErrSSHFxNoConnection, sftp.ErrSSHFxConnectionLost:
			wrapped.Err = provider.ErrProviderUnavailable
		}
	case errors.Is(err, sftp.ErrSSHFxConnectionLost), errors.Is(err, io.ErrUnexpectedEOF):
		wrapped.Err = provider.ErrProviderUnavailable
	}
	return wrapped
}

func toEntry(fi os.FileInfo) *provider.Entry {
	e := &provider.Entry{Name: fi.Name(), IsDir: fi.IsDir(), ModTime: fi.ModTime()}
	if !fi.IsDir() {
		e.Size = fi.Size()
	}
	return e
}
