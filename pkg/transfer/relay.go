package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/internal/satmath"
	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

// relayKind is how a file's bytes get from source to destination.
type relayKind int

const (
	// relayServer asks the endpoint to copy without routing bytes here.
	relayServer relayKind = iota

	// relayFromLocal uploads straight from the source's local file.
	relayFromLocal

	// relayToLocal downloads straight into the destination's local file.
	relayToLocal

	// relayTemp downloads into a temp file, then uploads it.
	relayTemp
)

func (k relayKind) String() string {
	switch k {
	case relayServer:
		return "server"
	case relayFromLocal:
		return "from-local"
	case relayToLocal:
		return "to-local"
	default:
		return "temp"
	}
}

// units is the progress span of a file of size bytes. A temp relay moves
// the bytes twice.
func (k relayKind) units(size int64) int64 {
	size = max(size, 0)
	if k == relayTemp {
		return satmath.Mul(size, 2)
	}
	return size
}

func (e *Engine) strategy(src, dst *location.Endpoint) relayKind {
	if src.Conn.SameEndpoint(dst.Conn) {
		if _, ok := src.Provider.(provider.ServerCopier); ok {
			return relayServer
		}
	}
	if _, ok := src.Provider.(provider.LocalPather); ok {
		return relayFromLocal
	}
	if _, ok := dst.Provider.(provider.LocalPather); ok {
		return relayToLocal
	}
	return relayTemp
}

// relay moves one file and returns the number of content bytes delivered.
func (e *Engine) relay(ctx context.Context, kind relayKind, src, dst side, size int64, fp *fileProgress) (int64, error) {
	e.logger.Debug("relay",
		zap.String("strategy", kind.String()),
		zap.String("src", src.uri),
		zap.String("dst", dst.uri),
		zap.Int64("size", size))

	switch kind {
	case relayServer:
		if fp.t.cancelled() {
			return 0, ErrCancelled
		}
		sc := src.ep.Provider.(provider.ServerCopier)
		if err := sc.CopyWithin(ctx, src.path, dst.path); err != nil {
			return 0, err
		}
		return size, nil
	case relayFromLocal:
		return e.uploadLocal(ctx, src, dst, size, fp)
	case relayToLocal:
		return e.downloadLocal(ctx, src, dst, size, fp)
	default:
		return e.relayTemp(ctx, src, dst, size, fp)
	}
}

func (e *Engine) uploadLocal(ctx context.Context, src, dst side, size int64, fp *fileProgress) (int64, error) {
	local, ok := src.ep.Provider.(provider.LocalPather).LocalPath(src.path)
	if !ok {
		return 0, fmt.Errorf("%s: invalid local path", src.uri)
	}
	f, err := os.Open(local)
	if err != nil {
		return 0, &provider.ProviderError{Op: "Open", Provider: provider.ProviderFile, Path: src.path, Err: err}
	}
	defer f.Close()

	return dst.ep.Provider.Upload(ctx, dst.path, f, size, fp.phase(0))
}

// downloadLocal writes to a hidden sibling of the destination and renames
// it into place once complete.
func (e *Engine) downloadLocal(ctx context.Context, src, dst side, size int64, fp *fileProgress) (n int64, err error) {
	local, ok := dst.ep.Provider.(provider.LocalPather).LocalPath(dst.path)
	if !ok {
		return 0, fmt.Errorf("%s: invalid local path", dst.uri)
	}
	dir := filepath.Dir(local)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &provider.ProviderError{Op: "MakeDir", Provider: provider.ProviderFile, Path: dst.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, provider.TempPrefix+"*")
	if err != nil {
		return 0, &provider.ProviderError{Op: "Create", Provider: provider.ProviderFile, Path: dst.path, Err: err}
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err = src.ep.Provider.Download(ctx, src.path, 0, tmp, fp.phase(0))
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return n, err
	}
	if size >= 0 && n != size {
		return n, &SizeMismatchError{Path: src.path, Expected: size, Got: n}
	}
	if err = os.Rename(tmp.Name(), local); err != nil {
		return n, &provider.ProviderError{Op: "Rename", Provider: provider.ProviderFile, Path: dst.path, Err: err}
	}
	return n, nil
}

// relayTemp spools the source into a temp file and uploads it. Progress
// runs from 0 to size during the download and from size to 2*size during
// the upload.
func (e *Engine) relayTemp(ctx context.Context, src, dst side, size int64, fp *fileProgress) (int64, error) {
	tmp, err := os.CreateTemp(e.cfg.TempDir, "nimbusfs-relay-*")
	if err != nil {
		return 0, fmt.Errorf("create relay file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	got, err := src.ep.Provider.Download(ctx, src.path, 0, tmp, fp.phase(0))
	if err != nil {
		return 0, err
	}
	if size >= 0 && got != size {
		return 0, &SizeMismatchError{Path: src.path, Expected: size, Got: got}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind relay file: %w", err)
	}
	return dst.ep.Provider.Upload(ctx, dst.path, tmp, got, fp.phase(got))
}
