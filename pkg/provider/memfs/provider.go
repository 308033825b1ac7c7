// Package memfs implements the provider interface over an in-process
// go-billy memory filesystem.
//
// A memfs provider behaves like a remote directory tree without any network
// I/O. Several endpoints may share one tree by name through the location
// registry, which makes it the backend of choice for tests and dry runs.
package memfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	billymem "github.com/go-git/go-billy/v5/memfs"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// Provider implements provider.Provider on a billy memory filesystem.
//
// The billy tree is not synchronized, so every namespace operation runs under
// mu. File content is streamed outside the lock; each open handle is used by
// one transfer only.
type Provider struct {
	name      string
	limiter   *rate.Limiter
	chunkSize int

	mu sync.Mutex
	fs billy.Filesystem
}

var (
	_ provider.Provider         = (*Provider)(nil)
	_ provider.Remover          = (*Provider)(nil)
	_ provider.ContainerRemover = (*Provider)(nil)
	_ provider.DirMaker         = (*Provider)(nil)
	_ provider.Renamer          = (*Provider)(nil)
)

// Config configures a memfs provider.
type Config struct {
	// Name identifies the tree in URIs (mem://<name>/path).
	Name string

	// BandwidthLimit caps transfer throughput in bytes per second (0 = unlimited).
	BandwidthLimit int64

	// ChunkSize overrides the copy granularity (0 = provider.DefaultChunkSize).
	ChunkSize int
}

// New creates an empty in-memory tree.
func New(cfg Config) *Provider {
	return &Provider{
		name:      cfg.Name,
		fs:        billymem.New(),
		limiter:   provider.NewLimiter(cfg.BandwidthLimit),
		chunkSize: cfg.ChunkSize,
	}
}

// Name returns the tree name.
func (p *Provider) Name() string { return p.name }

// Close is a no-op; the tree lives as long as the provider value.
func (p *Provider) Close() error { return nil }

func (p *Provider) Stat(ctx context.Context, name string) (*provider.Entry, error) {
	_ = ctx
	full := clean(name)
	if full == "/" {
		return &provider.Entry{IsDir: true}, nil
	}

	p.mu.Lock()
	st, err := p.fs.Stat(full)
	p.mu.Unlock()
	if err != nil {
		return nil, p.wrapError("Stat", name, err)
	}
	return toEntry(st), nil
}

func (p *Provider) List(ctx context.Context, dir string) ([]provider.Entry, error) {
	_ = ctx
	full := clean(dir)

	p.mu.Lock()
	defer p.mu.Unlock()

	if full != "/" {
		st, err := p.fs.Stat(full)
		if err != nil {
			return nil, p.wrapError("List", dir, err)
		}
		if !st.IsDir() {
			return nil, p.wrapError("List", dir, fmt.Errorf("not a directory"))
		}
	}
	infos, err := p.fs.ReadDir(full)
	if err != nil {
		// A fresh tree has no root node until something is written.
		if full == "/" && os.IsNotExist(err) {
			return []provider.Entry{}, nil
		}
		return nil, p.wrapError("List", dir, err)
	}
	entries := make([]provider.Entry, 0, len(infos))
	for _, fi := range infos {
		if isTemp(fi.Name()) {
			continue
		}
		entries = append(entries, *toEntry(fi))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (p *Provider) Download(ctx context.Context, name string, offset int64, w io.Writer, progress provider.ProgressFunc) (int64, error) {
	full := clean(name)

	p.mu.Lock()
	st, err := p.fs.Stat(full)
	if err != nil {
		p.mu.Unlock()
		return 0, p.wrapError("Download", name, err)
	}
	if st.IsDir() {
		p.mu.Unlock()
		return 0, p.wrapError("Download", name, provider.ErrIsDirectory)
	}
	f, err := p.fs.Open(full)
	p.mu.Unlock()
	if err != nil {
		return 0, p.wrapError("Download", name, err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, p.wrapError("Download", name, err)
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
		return n, p.wrapError("Download", name, err)
	}
	return n, nil
}

// Upload writes to a hidden sibling and moves it into place once the content
// is complete, so readers never observe a partial file.
func (p *Provider) Upload(ctx context.Context, name string, r io.Reader, size int64, progress provider.ProgressFunc) (int64, error) {
	full := clean(name)
	if full == "/" {
		return 0, p.wrapError("Upload", name, provider.ErrIsDirectory)
	}
	tmpName := path.Join(path.Dir(full), provider.TempPrefix+uuid.NewString())

	p.mu.Lock()
	if st, err := p.fs.Stat(full); err == nil && st.IsDir() {
		p.mu.Unlock()
		return 0, p.wrapError("Upload", name, provider.ErrIsDirectory)
	}
	if err := p.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		p.mu.Unlock()
		return 0, p.wrapError("Upload", name, err)
	}
	tmp, err := p.fs.Create(tmpName)
	p.mu.Unlock()
	if err != nil {
		return 0, p.wrapError("Upload", name, err)
	}

	n, err := provider.Pump(ctx, tmp, r, provider.PumpOptions{
		Total:     size,
		Progress:  progress,
		Limiter:   p.limiter,
		ChunkSize: p.chunkSize,
	})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		_ = p.fs.Remove(tmpName)
		return n, p.wrapError("Upload", name, err)
	}
	if st, statErr := p.fs.Stat(full); statErr == nil {
		if st.IsDir() {
			_ = p.fs.Remove(tmpName)
			return n, p.wrapError("Upload", name, provider.ErrIsDirectory)
		}
		if err := p.fs.Remove(full); err != nil {
			_ = p.fs.Remove(tmpName)
			return n, p.wrapError("Upload", name, err)
		}
	}
	if err := p.move(tmpName, full); err != nil {
		_ = p.fs.Remove(tmpName)
		return n, p.wrapError("Upload", name, err)
	}
	return n, nil
}

func (p *Provider) Remove(ctx context.Context, name string) error {
	_ = ctx
	full := clean(name)

	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.fs.Stat(full)
	if err != nil {
		return p.wrapError("Remove", name, err)
	}
	if st.IsDir() {
		return p.wrapError("Remove", name, provider.ErrIsDirectory)
	}
	if err := p.fs.Remove(full); err != nil {
		return p.wrapError("Remove", name, err)
	}
	return nil
}

func (p *Provider) RemoveDir(ctx context.Context, name string) error {
	_ = ctx
	full := clean(name)
	if full == "/" {
		return p.wrapError("RemoveDir", name, provider.ErrAccessDenied)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.fs.Stat(full)
	if err != nil {
		return p.wrapError("RemoveDir", name, err)
	}
	if !st.IsDir() {
		return p.wrapError("RemoveDir", name, fmt.Errorf("not a directory"))
	}
	children, err := p.fs.ReadDir(full)
	if err != nil {
		return p.wrapError("RemoveDir", name, err)
	}
	if len(children) > 0 {
		return p.wrapError("RemoveDir", name, provider.ErrNotEmpty)
	}
	if err := p.fs.Remove(full); err != nil {
		return p.wrapError("RemoveDir", name, err)
	}
	return nil
}

func (p *Provider) MakeDir(ctx context.Context, name string) error {
	_ = ctx
	full := clean(name)

	p.mu.Lock()
	defer p.mu.Unlock()

	if st, err := p.fs.Stat(full); err == nil {
		if st.IsDir() {
			return nil
		}
		return p.wrapError("MakeDir", name, provider.ErrAlreadyExists)
	}
	if err := p.fs.MkdirAll(full, 0o755); err != nil {
		return p.wrapError("MakeDir", name, err)
	}
	return nil
}

func (p *Provider) Rename(ctx context.Context, from, to string) error {
	_ = ctx
	src, dst := clean(from), clean(to)
	if src == "/" {
		return p.wrapError("Rename", from, provider.ErrAccessDenied)
	}
	if dst == src || strings.HasPrefix(dst, src+"/") {
		return p.wrapError("Rename", to, fmt.Errorf("cannot move a directory into itself"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.fs.Stat(src); err != nil {
		return p.wrapError("Rename", from, err)
	}
	if _, err := p.fs.Stat(dst); err == nil {
		return p.wrapError("Rename", to, provider.ErrAlreadyExists)
	}
	if err := p.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return p.wrapError("Rename", to, err)
	}
	if err := p.move(src, dst); err != nil {
		return p.wrapError("Rename", from, err)
	}
	return nil
}

// move relinks src at dst entry by entry. billy's own Rename matches
// descendants by raw string prefix, which also catches siblings such as
// "a" and "ab". Callers hold mu.
func (p *Provider) move(src, dst string) error {
	st, err := p.fs.Stat(src)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		in, err := p.fs.Open(src)
		if err != nil {
			return err
		}
		out, err := p.fs.Create(dst)
		if err != nil {
			_ = in.Close()
			return err
		}
		_, err = io.Copy(out, in)
		_ = in.Close()
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
		return p.fs.Remove(src)
	}

	if err := p.fs.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	children, err := p.fs.ReadDir(src)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := p.move(path.Join(src, child.Name()), path.Join(dst, child.Name())); err != nil {
			return err
		}
	}
	return p.fs.Remove(src)
}

func (p *Provider) wrapError(op, name string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderMem, Path: name, Err: err}
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsExist(err):
		wrapped.Err = provider.ErrAlreadyExists
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, provider.TempPrefix)
}

func clean(name string) string {
	return path.Clean("/" + strings.TrimSpace(name))
}

func toEntry(fi os.FileInfo) *provider.Entry {
	e := &provider.Entry{Name: fi.Name(), IsDir: fi.IsDir(), ModTime: fi.ModTime()}
	if !fi.IsDir() {
		e.Size = fi.Size()
	}
	return e
}
