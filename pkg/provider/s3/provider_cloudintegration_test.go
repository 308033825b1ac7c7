//go:build cloudintegration

package s3_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/provider/s3"
	"github.com/3leaps/nimbusfs/test/cloudtest"
)

func newCloudProvider(t *testing.T, ctx context.Context, bucket, prefix string) *s3.Provider {
	t.Helper()
	p, err := s3.New(ctx, s3.Config{
		Bucket:          bucket,
		Prefix:          prefix,
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvider_New_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	t.Run("lists an empty bucket", func(t *testing.T) {
		bucket := cloudtest.CreateBucket(t, ctx)
		p := newCloudProvider(t, ctx, bucket, "")

		entries, err := p.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("returns ErrNotFound for non-existent bucket", func(t *testing.T) {
		p := newCloudProvider(t, ctx, "nonexistent-bucket-12345", "")

		_, err := p.List(ctx, "")
		require.Error(t, err)

		var provErr *provider.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.ErrorIs(t, provErr.Err, provider.ErrNotFound)
	})
}

func TestProvider_List_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObjects(t, ctx, bucket, []string{
		"data/file1.txt",
		"data/file2.txt",
		"data/nested/file3.txt",
		"other/file4.txt",
	})
	p := newCloudProvider(t, ctx, bucket, "")

	entries, err := p.List(ctx, "data")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "file1.txt", entries[0].Name)
	assert.Equal(t, "file2.txt", entries[1].Name)
	assert.Equal(t, "nested", entries[2].Name)
	assert.True(t, entries[2].IsDir)

	_, err = p.List(ctx, "missing")
	assert.True(t, provider.IsNotFound(err))
}

func TestProvider_Stat_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	content := []byte("hello world")
	cloudtest.PutObject(t, ctx, bucket, "dir/test.txt", content)
	p := newCloudProvider(t, ctx, bucket, "")

	entry, err := p.Stat(ctx, "dir/test.txt")
	require.NoError(t, err)
	assert.Equal(t, "test.txt", entry.Name)
	assert.Equal(t, int64(len(content)), entry.Size)
	assert.False(t, entry.ModTime.IsZero())

	entry, err = p.Stat(ctx, "dir")
	require.NoError(t, err)
	assert.True(t, entry.IsDir)

	_, err = p.Stat(ctx, "nonexistent.txt")
	assert.True(t, provider.IsNotFound(err))
}

func TestProvider_DownloadRange_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObject(t, ctx, bucket, "r.txt", []byte("hello range world"))
	p := newCloudProvider(t, ctx, bucket, "")

	var buf bytes.Buffer
	n, err := p.Download(ctx, "r.txt", 6, &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "range world", buf.String())

	buf.Reset()
	n, err = p.Download(ctx, "r.txt", 100, &buf, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProvider_UploadWithPrefix_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	p := newCloudProvider(t, ctx, bucket, "root")

	n, err := p.Upload(ctx, "a/b.txt", strings.NewReader("payload"), -1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, []byte("payload"), cloudtest.GetObject(t, ctx, bucket, "root/a/b.txt"))
}

func TestProvider_DirectoriesAndCopy_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	p := newCloudProvider(t, ctx, bucket, "")

	require.NoError(t, p.MakeDir(ctx, "empty"))
	entries, err := p.List(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, entries, "marker object is hidden")

	_, err = p.Upload(ctx, "empty/f.txt", strings.NewReader("x"), 1, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, p.RemoveDir(ctx, "empty"), provider.ErrNotEmpty)

	require.NoError(t, p.CopyWithin(ctx, "empty/f.txt", "copy of/f.txt"))
	assert.Equal(t, []byte("x"), cloudtest.GetObject(t, ctx, bucket, "copy of/f.txt"))

	require.NoError(t, p.Remove(ctx, "empty/f.txt"))
	require.NoError(t, p.RemoveDir(ctx, "empty"))
	assert.True(t, provider.IsNotFound(p.Remove(ctx, "empty/f.txt")))
}

func TestProvider_Close_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	p := newCloudProvider(t, ctx, bucket, "")

	// Close multiple times should not error
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
