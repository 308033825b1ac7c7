package transfer

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/stream"
)

func TestEngine_WriteThenReadStream(t *testing.T) {
	e, reg := newTestEngine(t)
	ctx := context.Background()

	w, err := e.OpenWriter(ctx, "mem://a/stream.txt", -1, false)
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello, ")
	require.NoError(t, err)
	_, err = io.WriteString(w, "stream")
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	assert.Equal(t, "hello, stream", get(t, reg, "mem://a/stream.txt"))

	r, err := e.OpenReader(ctx, "mem://a/stream.txt")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(13), r.Size())

	_, err = r.Seek(7, io.SeekStart)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "stream", string(got))
}

func TestEngine_OpenWriterOverwritePolicy(t *testing.T) {
	e, reg := newTestEngine(t)
	put(t, reg, "mem://a/f.txt", []byte("old"))
	mkdir(t, reg, "mem://a/dir")
	ctx := context.Background()

	_, err := e.OpenWriter(ctx, "mem://a/f.txt", 3, false)
	assert.ErrorIs(t, err, provider.ErrAlreadyExists)

	_, err = e.OpenWriter(ctx, "mem://a/dir", 3, true)
	assert.ErrorIs(t, err, provider.ErrIsDirectory)

	w, err := e.OpenWriter(ctx, "mem://a/f.txt", 3, true)
	require.NoError(t, err)
	_, err = io.WriteString(w, "new")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "new", get(t, reg, "mem://a/f.txt"))
}

func TestEngine_OpenWriterWrongSizeKeepsExisting(t *testing.T) {
	e, reg := newTestEngine(t)
	put(t, reg, "mem://a/f.txt", []byte("old"))
	ctx := context.Background()

	over, err := e.OpenWriter(ctx, "mem://a/f.txt", 3, true)
	require.NoError(t, err)
	_, err = io.WriteString(over, "0123456789")
	var sizeErr *stream.SizeMismatchError
	assert.ErrorAs(t, err, &sizeErr)
	assert.ErrorAs(t, over.Commit(), &sizeErr)

	under, err := e.OpenWriter(ctx, "mem://a/f.txt", 20, true)
	require.NoError(t, err)
	_, err = io.WriteString(under, "0123456789")
	require.NoError(t, err)
	assert.ErrorAs(t, under.Commit(), &sizeErr)

	assert.Equal(t, "old", get(t, reg, "mem://a/f.txt"))
}

func TestEngine_OpenReaderMissing(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.OpenReader(context.Background(), "mem://a/none")
	assert.True(t, provider.IsNotFound(err))
}
