package transfer

import (
	"context"
	"fmt"

	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/stream"
)

// OpenReader resolves uri and opens a seekable read stream over it.
func (e *Engine) OpenReader(ctx context.Context, uri string) (*stream.Reader, error) {
	ep, p, err := e.resolver.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	return stream.OpenReader(ctx, ep.Provider, p, e.streamOptions(-1)...)
}

// OpenWriter resolves uri and opens a write stream to it. size is the
// expected length, or -1 when unknown. An existing file is only replaced
// when overwrite is set; the replacement happens at Commit.
func (e *Engine) OpenWriter(ctx context.Context, uri string, size int64, overwrite bool) (*stream.Writer, error) {
	ep, p, err := e.resolver.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}

	existing, err := ep.Provider.Stat(ctx, p)
	switch {
	case provider.IsNotFound(err):
	case err != nil:
		return nil, err
	case existing.IsDir:
		return nil, fmt.Errorf("%s: %w", uri, provider.ErrIsDirectory)
	case !overwrite:
		return nil, fmt.Errorf("%s: %w", uri, provider.ErrAlreadyExists)
	}
	return stream.OpenWriter(ctx, ep.Provider, p, e.streamOptions(size)...)
}

func (e *Engine) streamOptions(size int64) []stream.Option {
	return []stream.Option{
		stream.WithBufferSize(e.cfg.BufferSize),
		stream.WithSize(size),
		stream.WithLogger(e.logger),
	}
}
