package sftp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// newPipeProvider serves dir through an in-process SFTP server.
func newPipeProvider(t *testing.T) (*Provider, string) {
	t.Helper()
	dir := t.TempDir()

	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	server, err := sftp.NewServer(struct {
		io.Reader
		io.WriteCloser
	}{serverRead, serverWrite})
	require.NoError(t, err)
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	require.NoError(t, err)

	p := newWithClient(client, nil, Config{BasePath: dir})
	t.Cleanup(func() {
		_ = server.Close()
		_ = p.Close()
	})
	return p, dir
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"missing host", Config{User: "u", Password: "p"}, "host is required"},
		{"missing user", Config{Host: "h", Password: "p"}, "user is required"},
		{"missing auth", Config{Host: "h", User: "u"}, "a password or a key file is required"},
		{"bad port", Config{Host: "h", User: "u", Password: "p", Port: 70000}, "port must be between"},
		{"password auth", Config{Host: "h", User: "u", Password: "p"}, ""},
		{"key auth", Config{Host: "h", User: "u", KeyFile: "/k"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Addr(t *testing.T) {
	assert.Equal(t, "example.com:22", (&Config{Host: "example.com"}).Addr())
	assert.Equal(t, "example.com:2222", (&Config{Host: "example.com", Port: 2222}).Addr())
}

func TestConfig_HostKeyCallback(t *testing.T) {
	cfg := &Config{InsecureIgnoreHostKey: true}
	cb, err := cfg.hostKeyCallback()
	require.NoError(t, err)
	assert.NotNil(t, cb)

	cfg = &Config{KnownHostsFile: filepath.Join(t.TempDir(), "missing")}
	_, err = cfg.hostKeyCallback()
	assert.Error(t, err)
}

func TestClassifyHandshake(t *testing.T) {
	assert.ErrorIs(t, classifyHandshake(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")), provider.ErrInvalidCredentials)
	assert.ErrorIs(t, classifyHandshake(errors.New("ssh: handshake failed: knownhosts: key mismatch")), provider.ErrAccessDenied)
	assert.ErrorIs(t, classifyHandshake(errors.New("connection reset by peer")), provider.ErrProviderUnavailable)
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	p, dir := newPipeProvider(t)

	n, err := p.Upload(ctx, "a/b.txt", strings.NewReader("hello sftp"), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	raw, err := os.ReadFile(filepath.Join(dir, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello sftp", string(raw))

	var buf bytes.Buffer
	n, err = p.Download(ctx, "a/b.txt", 6, &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "sftp", buf.String())

	_, err = p.Upload(ctx, "a/b.txt", strings.NewReader("v2"), 2, nil)
	require.NoError(t, err)
	raw, err = os.ReadFile(filepath.Join(dir, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(raw))

	entries, err := p.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.txt", entries[0].Name)
	assert.Equal(t, int64(2), entries[0].Size)
}

func TestUpload_VetoRemovesTemp(t *testing.T) {
	ctx := context.Background()
	p, dir := newPipeProvider(t)

	_, err := p.Upload(ctx, "x.bin", strings.NewReader("abcdef"), 6, func(total, done int64) bool {
		return done == 0
	})
	assert.True(t, provider.IsAborted(err))

	des, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, des)
}

func TestStat_NotFound(t *testing.T) {
	p, _ := newPipeProvider(t)
	_, err := p.Stat(context.Background(), "nope")
	assert.True(t, provider.IsNotFound(err))
}

func TestDirectoriesAndRename(t *testing.T) {
	ctx := context.Background()
	p, _ := newPipeProvider(t)

	require.NoError(t, p.MakeDir(ctx, "d/e"))
	require.NoError(t, p.MakeDir(ctx, "d/e"))
	_, err := p.Upload(ctx, "d/e/f", strings.NewReader("x"), 1, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, p.RemoveDir(ctx, "d/e"), provider.ErrNotEmpty)
	assert.True(t, provider.IsDirectory(p.Remove(ctx, "d/e")))
	assert.True(t, provider.IsAlreadyExists(p.MakeDir(ctx, "d/e/f")))

	require.NoError(t, p.Rename(ctx, "d/e/f", "g/f"))
	_, err = p.Stat(ctx, "d/e/f")
	assert.True(t, provider.IsNotFound(err))

	_, err = p.Upload(ctx, "h", strings.NewReader("y"), 1, nil)
	require.NoError(t, err)
	assert.True(t, provider.IsAlreadyExists(p.Rename(ctx, "h", "g/f")))

	require.NoError(t, p.RemoveDir(ctx, "d/e"))
	assert.True(t, provider.IsAccessDenied(p.RemoveDir(ctx, "/")))
}

func TestFullPath_StaysUnderBase(t *testing.T) {
	p := newWithClient(nil, nil, Config{BasePath: "/srv/data"})
	assert.Equal(t, "/srv/data", p.fullPath(""))
	assert.Equal(t, "/srv/data/a/b", p.fullPath("a/b"))
	assert.Equal(t, "/srv/data/etc/passwd", p.fullPath("../../etc/passwd"))
}
