package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// Provider implements provider.Provider for local filesystem paths.
//
// Paths are treated as slash-separated and relative to BaseDir.
type Provider struct {
	baseDir   string
	limiter   *rate.Limiter
	chunkSize int
}

// Ensure Provider implements provider capability interfaces.
var (
	_ provider.Provider         = (*Provider)(nil)
	_ provider.Remover          = (*Provider)(nil)
	_ provider.ContainerRemover = (*Provider)(nil)
	_ provider.DirMaker         = (*Provider)(nil)
	_ provider.Renamer          = (*Provider)(nil)
	_ provider.ServerCopier     = (*Provider)(nil)
	_ provider.LocalPather      = (*Provider)(nil)
)

type Config struct {
	BaseDir string

	// BandwidthLimit caps transfer throughput in bytes per second (0 = unlimited).
	BandwidthLimit int64

	// ChunkSize overrides the copy granularity (0 = provider.DefaultChunkSize).
	ChunkSize int
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Clean(cfg.BaseDir)
	return &Provider{
		baseDir:   base,
		limiter:   provider.NewLimiter(cfg.BandwidthLimit),
		chunkSize: cfg.ChunkSize,
	}, nil
}

func (p *Provider) Close() error { return nil }

// LocalPath maps a provider path to the file it names on disk.
func (p *Provider) LocalPath(path string) (string, bool) {
	full, err := p.fullPath(path)
	if err != nil {
		return "", false
	}
	return full, true
}

func (p *Provider) Stat(ctx context.Context, path string) (*provider.Entry, error) {
	_ = ctx
	full, err := p.fullPath(path)
	if err != nil {
		return nil, p.wrapError("Stat", path, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Stat", path, err)
	}
	return toEntry(st), nil
}

func (p *Provider) List(ctx context.Context, dir string) ([]provider.Entry, error) {
	_ = ctx
	full, err := p.fullPath(dir)
	if err != nil {
		return nil, p.wrapError("List", dir, err)
	}
	des, err := os.ReadDir(full)
	if err != nil {
		return nil, p.wrapError("List", dir, err)
	}

	entries := make([]provider.Entry, 0, len(des))
	for _, de := range des {
		if strings.HasPrefix(de.Name(), provider.TempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, *toEntry(info))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (p *Provider) Download(ctx context.Context, path string, offset int64, w io.Writer, progress provider.ProgressFunc) (int64, error) {
	full, err := p.fullPath(path)
	if err != nil {
		return 0, p.wrapError("Download", path, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return 0, p.wrapError("Download", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, p.wrapError("Download", path, err)
	}
	if st.IsDir() {
		return 0, p.wrapError("Download", path, provider.ErrIsDirectory)
	}
	if offset < 0 {
		return 0, p.wrapError("Download", path, fmt.Errorf("offset must be >= 0"))
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, p.wrapError("Download", path, err)
		}
	}
	total := st.Size() - offset
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
		return n, p.wrapError("Download", path, err)
	}
	return n, nil
}

// Upload writes to a temp file in the destination directory and renames it
// into place once complete.
func (p *Provider) Upload(ctx context.Context, path string, r io.Reader, size int64, progress provider.ProgressFunc) (int64, error) {
	full, err := p.fullPath(path)
	if err != nil {
		return 0, p.wrapError("Upload", path, err)
	}
	if full == p.baseDir {
		return 0, p.wrapError("Upload", path, provider.ErrIsDirectory)
	}
	if st, err := os.Stat(full); err == nil && st.IsDir() {
		return 0, p.wrapError("Upload", path, provider.ErrIsDirectory)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, p.wrapError("Upload", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), provider.TempPrefix+"*")
	if err != nil {
		return 0, p.wrapError("Upload", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	n, err := provider.Pump(ctx, tmp, r, provider.PumpOptions{
		Total:     size,
		Progress:  progress,
		Limiter:   p.limiter,
		ChunkSize: p.chunkSize,
	})
	if err != nil {
		return n, p.wrapError("Upload", path, err)
	}
	if err := tmp.Close(); err != nil {
		return n, p.wrapError("Upload", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return n, p.wrapError("Upload", path, err)
	}
	return n, nil
}

func (p *Provider) Remove(ctx context.Context, path string) error {
	_ = ctx
	full, err := p.fullPath(path)
	if err != nil {
		return p.wrapError("Remove", path, err)
	}
	st, err := os.Lstat(full)
	if err != nil {
		return p.wrapError("Remove", path, err)
	}
	if st.IsDir() {
		return p.wrapError("Remove", path, provider.ErrIsDirectory)
	}
	if err := os.Remove(full); err != nil {
		return p.wrapError("Remove", path, err)
	}
	return nil
}

func (p *Provider) RemoveDir(ctx context.Context, path string) error {
	_ = ctx
	full, err := p.fullPath(path)
	if err != nil {
		return p.wrapError("RemoveDir", path, err)
	}
	if full == p.baseDir {
		return p.wrapError("RemoveDir", path, provider.ErrAccessDenied)
	}
	st, err := os.Stat(full)
	if err != nil {
		return p.wrapError("RemoveDir", path, err)
	}
	if !st.IsDir() {
		return p.wrapError("RemoveDir", path, fmt.Errorf("not a directory"))
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return p.wrapError("RemoveDir", path, provider.ErrNotEmpty)
		}
		return p.wrapError("RemoveDir", path, err)
	}
	return nil
}

func (p *Provider) MakeDir(ctx context.Context, path string) error {
	_ = ctx
	full, err := p.fullPath(path)
	if err != nil {
		return p.wrapError("MakeDir", path, err)
	}
	if st, err := os.Stat(full); err == nil {
		if st.IsDir() {
			return nil
		}
		return p.wrapError("MakeDir", path, provider.ErrAlreadyExists)
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return p.wrapError("MakeDir", path, err)
	}
	return nil
}

func (p *Provider) Rename(ctx context.Context, from, to string) error {
	_ = ctx
	src, err := p.fullPath(from)
	if err != nil {
		return p.wrapError("Rename", from, err)
	}
	dst, err := p.fullPath(to)
	if err != nil {
		return p.wrapError("Rename", to, err)
	}
	if _, err := os.Lstat(src); err != nil {
		return p.wrapError("Rename", from, err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return p.wrapError("Rename", to, provider.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return p.wrapError("Rename", to, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return p.wrapError("Rename", from, err)
	}
	return nil
}

// CopyWithin copies a file without the caller relaying its bytes.
func (p *Provider) CopyWithin(ctx context.Context, from, to string) error {
	src, err := p.fullPath(from)
	if err != nil {
		return p.wrapError("CopyWithin", from, err)
	}
	f, err := os.Open(src)
	if err != nil {
		return p.wrapError("CopyWithin", from, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return p.wrapError("CopyWithin", from, err)
	}
	if st.IsDir() {
		return p.wrapError("CopyWithin", from, provider.ErrIsDirectory)
	}
	_, err = p.Upload(ctx, to, f, st.Size(), nil)
	return err
}

func (p *Provider) fullPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "/")
	// Prevent path traversal.
	clean := filepath.Clean("/" + path)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid path")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

func (p *Provider) wrapError(op, path string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Path: path, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to provider sentinels.
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
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
