package location

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/provider/memfs"
)

// fakeFactory opens memfs providers and can reject a secret.
type fakeFactory struct {
	opens     atomic.Int32
	badSecret string
	closeErr  error
}

type closingProvider struct {
	*memfs.Provider
	err error
}

func (p closingProvider) Close() error { return p.err }

func (f *fakeFactory) ConnInfo(u *URI) provider.ConnInfo {
	return provider.ConnInfo{Scheme: u.Scheme, Host: u.Host, Secret: "old"}
}

func (f *fakeFactory) Open(ctx context.Context, conn provider.ConnInfo) (provider.Provider, error) {
	f.opens.Add(1)
	if conn.Secret == f.badSecret {
		return nil, &provider.ProviderError{Op: "Dial", Provider: conn.Scheme, Err: provider.ErrInvalidCredentials}
	}
	return closingProvider{Provider: memfs.New(memfs.Config{Name: conn.Host}), err: f.closeErr}, nil
}

func TestRegistry_CachesPerConnection(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(WithFactory(provider.ProviderMem, f))
	ctx := context.Background()

	ep1, p1, err := r.Resolve(ctx, "mem://a/x.txt")
	require.NoError(t, err)
	ep2, p2, err := r.Resolve(ctx, "mem://a/y/z.txt")
	require.NoError(t, err)
	ep3, _, err := r.Resolve(ctx, "mem://b/x.txt")
	require.NoError(t, err)

	assert.Equal(t, "/x.txt", p1)
	assert.Equal(t, "/y/z.txt", p2)
	assert.Same(t, ep1, ep2)
	assert.NotSame(t, ep1, ep3)
	assert.True(t, ep1.Conn.SameEndpoint(ep2.Conn))
	assert.False(t, ep1.Conn.SameEndpoint(ep3.Conn))
	assert.Equal(t, int32(2), f.opens.Load())
}

func TestRegistry_ConcurrentResolveOpensOnce(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(WithFactory(provider.ProviderMem, f))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Resolve(context.Background(), "mem://shared/f")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.opens.Load())
}

func TestRegistry_SharedContent(t *testing.T) {
	r := NewRegistry(WithFactory(provider.ProviderMem, MemFactory{}))
	ctx := context.Background()

	ep, p, err := r.Resolve(ctx, "mem://scratch/f.txt")
	require.NoError(t, err)
	_, err = ep.Provider.Upload(ctx, p, strings.NewReader("shared"), 6, nil)
	require.NoError(t, err)

	ep2, p2, err := r.Resolve(ctx, "mem://scratch/f.txt")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = ep2.Provider.Download(ctx, p2, 0, &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, "shared", buf.String())
}

func TestRegistry_UnsupportedScheme(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Resolve(context.Background(), "s3://bucket/key")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestRegistry_RefreshesCredentialsOnce(t *testing.T) {
	f := &fakeFactory{badSecret: "old"}
	var refreshes atomic.Int32
	r := NewRegistry(
		WithFactory(provider.ProviderMem, f),
		WithCredentialRefresher(func(ctx context.Context, conn provider.ConnInfo) (provider.ConnInfo, error) {
			refreshes.Add(1)
			conn.Secret = "new"
			return conn, nil
		}),
	)

	ep, _, err := r.Resolve(context.Background(), "mem://a/x")
	require.NoError(t, err)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), f.opens.Load())
	assert.Equal(t, "new", ep.Conn.Secret)
}

func TestRegistry_RefreshFailureIsReported(t *testing.T) {
	f := &fakeFactory{badSecret: "old"}
	r := NewRegistry(
		WithFactory(provider.ProviderMem, f),
		WithCredentialRefresher(func(ctx context.Context, conn provider.ConnInfo) (provider.ConnInfo, error) {
			return conn, errors.New("token service down")
		}),
	)

	_, _, err := r.Resolve(context.Background(), "mem://a/x")
	require.Error(t, err)
	assert.True(t, provider.IsInvalidCredentials(err))
	assert.Contains(t, err.Error(), "token service down")
	assert.Equal(t, int32(1), f.opens.Load())
}

func TestRegistry_NoRefresherFailsFast(t *testing.T) {
	f := &fakeFactory{badSecret: "old"}
	r := NewRegistry(WithFactory(provider.ProviderMem, f))

	_, _, err := r.Resolve(context.Background(), "mem://a/x")
	assert.True(t, provider.IsInvalidCredentials(err))

	// Failed opens are not cached.
	f.badSecret = ""
	_, _, err = r.Resolve(context.Background(), "mem://a/x")
	assert.NoError(t, err)
}

func TestRegistry_CloseAggregatesErrors(t *testing.T) {
	f := &fakeFactory{closeErr: errors.New("close failed")}
	r := NewRegistry(WithFactory(provider.ProviderMem, f))
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, "mem://a/x")
	require.NoError(t, err)
	_, _, err = r.Resolve(ctx, "mem://b/x")
	require.NoError(t, err)

	err = r.Close()
	require.Error(t, err)
	assert.Equal(t, 2, strings.Count(err.Error(), "close failed"))

	_, _, err = r.Resolve(ctx, "mem://a/x")
	assert.Error(t, err)
}

func TestDefaultFactories_ConnInfo(t *testing.T) {
	u, err := ParseURI("sftp://bob:pw@host:2200/x")
	require.NoError(t, err)
	conn := SFTPFactory{}.ConnInfo(u)
	assert.Equal(t, "host", conn.Host)
	assert.Equal(t, 2200, conn.Port)
	assert.Equal(t, "bob", conn.User)
	assert.Equal(t, "pw", conn.Secret)

	u, err = ParseURI("s3://bucket-a/k")
	require.NoError(t, err)
	a := S3Factory{}.ConnInfo(u)
	u, err = ParseURI("s3://bucket-b/k")
	require.NoError(t, err)
	b := S3Factory{}.ConnInfo(u)
	assert.False(t, a.SameEndpoint(b), "buckets are separate endpoints")

	u, err = ParseURI("file:///a")
	require.NoError(t, err)
	f1 := FileFactory{}.ConnInfo(u)
	u, err = ParseURI("file:///b/c")
	require.NoError(t, err)
	assert.True(t, f1.SameEndpoint(FileFactory{}.ConnInfo(u)))
}
