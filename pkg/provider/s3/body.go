package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

const (
	// DefaultSpoolMaxMemoryBytes controls how large an upload we buffer in memory
	// to make PUT retries seekable. Larger uploads are spooled to a temp file.
	DefaultSpoolMaxMemoryBytes int64 = 16 << 20 // 16 MiB
)

type retryableBody struct {
	reader  io.ReadSeeker
	size    int64
	cleanup func() error
}

func (b *retryableBody) Reader() io.ReadSeeker { return b.reader }

func (b *retryableBody) Size() int64 { return b.size }

func (b *retryableBody) Close() error {
	if b.cleanup == nil {
		return nil
	}
	return b.cleanup()
}

// spool drains src into a seekable body so the SDK can sign and retry the
// PUT. Progress and bandwidth shaping apply while draining, through opts.
func spool(ctx context.Context, src io.Reader, size, maxMemoryBytes int64, tempDir string, opts provider.PumpOptions) (*retryableBody, error) {
	if maxMemoryBytes <= 0 {
		maxMemoryBytes = DefaultSpoolMaxMemoryBytes
	}
	opts.Total = size

	// Unknown size: treat as "large" and spool.
	if size >= 0 && size <= maxMemoryBytes {
		buf := bytes.NewBuffer(make([]byte, 0, size))
		n, err := provider.Pump(ctx, buf, src, opts)
		if err != nil {
			return nil, err
		}
		return &retryableBody{reader: bytes.NewReader(buf.Bytes()), size: n, cleanup: func() error { return nil }}, nil
	}

	f, err := os.CreateTemp(tempDir, "nimbusfs-put-buffer-*")
	if err != nil {
		return nil, err
	}

	n, copyErr := provider.Pump(ctx, f, src, opts)
	if copyErr != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, copyErr
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}

	return &retryableBody{
		reader: f,
		size:   n,
		cleanup: func() error {
			name := f.Name()
			closeErr := f.Close()
			rmErr := os.Remove(name)
			if closeErr != nil {
				return fmt.Errorf("close temp file: %w", closeErr)
			}
			if rmErr != nil {
				return fmt.Errorf("remove temp file: %w", rmErr)
			}
			return nil
		},
	}, nil
}
