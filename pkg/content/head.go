// Package content reads the leading bytes of files without transferring
// them whole.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

// Resolver maps a location URI to its endpoint and path.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (*location.Endpoint, string, error)
}

type HeadBytesResult struct {
	Index int
	URI   string
	Entry *provider.Entry
	Data  []byte
	Err   error
}

// HeadBytes reads the first n bytes of the file at path.
//
// Behavior:
// - Always stats first to capture metadata and reject directories.
// - Downloads from offset 0 and vetoes the transfer once n bytes arrived.
func HeadBytes(ctx context.Context, p provider.Provider, path string, n int64) ([]byte, *provider.Entry, error) {
	if n < 0 {
		return nil, nil, errors.New("head bytes must be >= 0")
	}

	entry, err := p.Stat(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if entry.IsDir {
		return nil, entry, &provider.ProviderError{Op: "Head", Path: path, Err: provider.ErrIsDirectory}
	}

	// If the file is smaller, only wait for what exists.
	if entry.Size < n {
		n = entry.Size
	}
	if n == 0 {
		return []byte{}, entry, nil
	}

	w := &capWriter{buf: make([]byte, 0, n), limit: n}
	_, err = p.Download(ctx, path, 0, w, func(_, done int64) bool {
		return done < n
	})
	if err != nil && !provider.IsAborted(err) {
		return nil, entry, err
	}
	if int64(len(w.buf)) < n {
		return w.buf, entry, fmt.Errorf("head %s: short read: got %d of %d bytes", path, len(w.buf), n)
	}
	return w.buf, entry, nil
}

// capWriter keeps the first limit bytes and accepts the rest unseen.
type capWriter struct {
	buf   []byte
	limit int64
}

func (w *capWriter) Write(p []byte) (int, error) {
	if room := w.limit - int64(len(w.buf)); room > 0 {
		if int64(len(p)) < room {
			room = int64(len(p))
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}
