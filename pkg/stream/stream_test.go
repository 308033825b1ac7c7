package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/provider/memfs"
)

var errBoom = errors.New("boom")

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(b)
	return b
}

func seeded(t *testing.T, name string, data []byte) *memfs.Provider {
	t.Helper()
	p := memfs.New(memfs.Config{Name: "stream", ChunkSize: 1000})
	_, err := p.Upload(context.Background(), name, bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	return p
}

// countingProvider counts transfer calls on top of a memfs tree.
type countingProvider struct {
	*memfs.Provider
	downloads atomic.Int32
	uploads   atomic.Int32
}

func (c *countingProvider) Download(ctx context.Context, path string, offset int64, w io.Writer, progress provider.ProgressFunc) (int64, error) {
	c.downloads.Add(1)
	return c.Provider.Download(ctx, path, offset, w, progress)
}

func (c *countingProvider) Upload(ctx context.Context, path string, r io.Reader, size int64, progress provider.ProgressFunc) (int64, error) {
	c.uploads.Add(1)
	return c.Provider.Upload(ctx, path, r, size, progress)
}

// brokenProvider delivers the first cut bytes of a download, then fails.
// Uploads consume cut bytes, then fail.
type brokenProvider struct {
	*memfs.Provider
	data []byte
	cut  int64
}

func (b *brokenProvider) Download(ctx context.Context, path string, offset int64, w io.Writer, progress provider.ProgressFunc) (int64, error) {
	end := offset + b.cut
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	n, err := w.Write(b.data[offset:end])
	if err != nil {
		return int64(n), err
	}
	return int64(n), errBoom
}

func (b *brokenProvider) Upload(ctx context.Context, path string, r io.Reader, size int64, progress provider.ProgressFunc) (int64, error) {
	n, _ := io.CopyN(io.Discard, r, b.cut)
	return n, errBoom
}

// stalledProvider never delivers a byte until its context ends.
type stalledProvider struct {
	*memfs.Provider
}

func (s *stalledProvider) Download(ctx context.Context, path string, offset int64, w io.Writer, progress provider.ProgressFunc) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestRing_WrapAround(t *testing.T) {
	b := newRing(8)
	assert.Equal(t, 6, b.write([]byte("abcdef")))
	out := make([]byte, 4)
	assert.Equal(t, 4, b.read(out))
	assert.Equal(t, "abcd", string(out))

	// Write across the end of the backing array.
	assert.Equal(t, 6, b.write([]byte("ghijklmn")))
	assert.Equal(t, 0, b.free())
	assert.Equal(t, 0, b.write([]byte("x")))

	out = make([]byte, 16)
	n := b.read(out)
	assert.Equal(t, "efghijkl", string(out[:n]))
	assert.Equal(t, 0, b.len())

	b.write([]byte("zz"))
	b.reset()
	assert.Equal(t, 0, b.len())
	assert.Equal(t, 8, b.free())
}

func TestReader_ReadsWholeFileThroughSmallRing(t *testing.T) {
	data := randomBytes(300_000)
	p := seeded(t, "big.bin", data)

	r, err := OpenReader(context.Background(), p, "big.bin", WithBufferSize(4096))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(len(data)), r.Size())
	assert.NotEmpty(t, r.ID())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), r.Position())

	n, err := r.Read(make([]byte, 10))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestReader_SeekNeverDeliversStaleBytes(t *testing.T) {
	data := randomBytes(64 << 10)
	p := &countingProvider{Provider: seeded(t, "f", data)}

	r, err := OpenReader(context.Background(), p, "f", WithBufferSize(1024))
	require.NoError(t, err)
	defer r.Close()

	head := make([]byte, 100)
	_, err = io.ReadFull(r, head)
	require.NoError(t, err)
	assert.Equal(t, data[:100], head)

	for _, target := range []int64{50_000, 7, 63_000, 0} {
		pos, err := r.Seek(target, io.SeekStart)
		require.NoError(t, err)
		assert.Equal(t, target, pos)

		got := make([]byte, 200)
		_, err = io.ReadFull(r, got)
		require.NoError(t, err)
		assert.Equal(t, data[target:target+200], got, "read after seek to %d", target)
	}

	pos, err := r.Seek(-100, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-100), pos)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[len(data)-100:], rest)

	assert.GreaterOrEqual(t, p.downloads.Load(), int32(5), "each seek restarts the transfer")
}

func TestReader_SeekToCurrentPositionKeepsTransfer(t *testing.T) {
	data := randomBytes(10_000)
	p := &countingProvider{Provider: seeded(t, "f", data)}

	r, err := OpenReader(context.Background(), p, "f")
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 10)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)

	pos, err := r.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)
	pos, err = r.Seek(10, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[10:], rest)
	assert.Equal(t, int32(1), p.downloads.Load())
}

func TestReader_SeekValidation(t *testing.T) {
	p := seeded(t, "f", []byte("0123456789"))
	r, err := OpenReader(context.Background(), p, "f")
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, ErrNegativePosition)

	_, err = r.Seek(-11, io.SeekEnd)
	assert.ErrorIs(t, err, ErrNegativePosition)

	_, err = r.Seek(0, 42)
	assert.ErrorIs(t, err, ErrInvalidWhence)

	pos, err := r.Seek(math.MaxInt64, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), pos)

	_, err = r.Seek(1, io.SeekCurrent)
	assert.Error(t, err, "position overflow is rejected")
	assert.Equal(t, int64(math.MaxInt64), r.Position())

	n, err := r.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err, "reading past the end is end of stream")
}

func TestReader_ErrorIsLatched(t *testing.T) {
	data := []byte("abcdefghij")
	p := &brokenProvider{Provider: seeded(t, "f", data), data: data, cut: 4}

	r, err := OpenReader(context.Background(), p, "f")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "abcd", string(got))

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, errBoom)
	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, errBoom)

	// Seek clears the latched error and restarts from the new position.
	_, err = r.Seek(6, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "ghij", string(buf))
}

func TestReader_CloseUnblocksRead(t *testing.T) {
	p := &stalledProvider{Provider: seeded(t, "f", []byte("payload"))}
	r, err := OpenReader(context.Background(), p, "f")
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 4))
		result <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "close is idempotent")

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("read still blocked after close")
	}
	_, err = r.Seek(1, io.SeekStart)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenReader_Rejects(t *testing.T) {
	p := seeded(t, "dir/f", []byte("x"))

	_, err := OpenReader(context.Background(), p, "dir")
	assert.True(t, provider.IsDirectory(err))

	_, err = OpenReader(context.Background(), p, "missing")
	assert.True(t, provider.IsNotFound(err))
}

func TestWriter_RoundTrip(t *testing.T) {
	data := randomBytes(100_000)
	p := memfs.New(memfs.Config{ChunkSize: 777})

	w, err := OpenWriter(context.Background(), p, "out/file.bin", WithBufferSize(1024))
	require.NoError(t, err)
	for off := 0; off < len(data); off += 3000 {
		end := min(off+3000, len(data))
		n, err := w.Write(data[off:end])
		require.NoError(t, err)
		require.Equal(t, end-off, n)
	}
	assert.Equal(t, int64(len(data)), w.Position())
	require.NoError(t, w.Commit())

	r, err := OpenReader(context.Background(), p, "out/file.bin", WithBufferSize(2048))
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, len(data), len(got))
	assert.Equal(t, data, got)
}

func TestWriter_CommitIsIdempotent(t *testing.T) {
	p := &countingProvider{Provider: memfs.New(memfs.Config{})}

	w, err := OpenWriter(context.Background(), p, "f", WithSize(5))
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	first := w.Commit()
	second := w.Commit()
	require.NoError(t, first)
	assert.Equal(t, first, second)
	assert.NoError(t, w.Close())
	assert.Equal(t, int32(1), p.uploads.Load())

	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriter_UploadErrorIsLatched(t *testing.T) {
	p := &brokenProvider{Provider: memfs.New(memfs.Config{}), cut: 10}

	w, err := OpenWriter(context.Background(), p, "f", WithBufferSize(64))
	require.NoError(t, err)

	_, err = w.Write(make([]byte, 4096))
	assert.ErrorIs(t, err, errBoom)
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, errBoom)

	first := w.Commit()
	assert.ErrorIs(t, first, errBoom)
	assert.Equal(t, first, w.Commit())
}

func TestWriter_AbortDiscardsUpload(t *testing.T) {
	p := memfs.New(memfs.Config{})

	w, err := OpenWriter(context.Background(), p, "f")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	w.Abort()
	assert.True(t, provider.IsAborted(w.Commit()))
	assert.True(t, provider.IsAborted(w.Close()))

	_, err = p.Stat(context.Background(), "f")
	assert.True(t, provider.IsNotFound(err))
}

func TestWriter_EmptyCommitCreatesEmptyFile(t *testing.T) {
	p := memfs.New(memfs.Config{})
	w, err := OpenWriter(context.Background(), p, "empty")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entry, err := p.Stat(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Size)
}

func TestWriter_RejectsBytesBeyondDeclaredSize(t *testing.T) {
	p := memfs.New(memfs.Config{})

	w, err := OpenWriter(context.Background(), p, "f", WithSize(3))
	require.NoError(t, err)
	n, err := w.Write([]byte("0123456789"))
	assert.Zero(t, n)

	var sizeErr *SizeMismatchError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, int64(3), sizeErr.Expected)
	assert.Equal(t, int64(10), sizeErr.Got)

	commitErr := w.Commit()
	require.ErrorAs(t, commitErr, &sizeErr)
	_, err = p.Stat(context.Background(), "f")
	assert.True(t, provider.IsNotFound(err), "oversized upload became visible")
}

func TestWriter_CommitShortOfDeclaredSizeFails(t *testing.T) {
	p := memfs.New(memfs.Config{})

	w, err := OpenWriter(context.Background(), p, "f", WithSize(20))
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)

	var sizeErr *SizeMismatchError
	require.ErrorAs(t, w.Commit(), &sizeErr)
	assert.Equal(t, int64(20), sizeErr.Expected)
	assert.Equal(t, int64(10), sizeErr.Got)
	assert.Equal(t, sizeErr, w.Commit())

	_, err = p.Stat(context.Background(), "f")
	assert.True(t, provider.IsNotFound(err), "truncated upload became visible")
}
