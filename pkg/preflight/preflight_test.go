package preflight

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusfs/pkg/location"
	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/provider"
	"github.com/3leaps/nimbusfs/pkg/transfer"
)

// readOnly hides every optional capability of the wrapped provider.
type readOnly struct {
	provider.Provider
}

type readOnlyFactory struct {
	location.MemFactory
}

func (f readOnlyFactory) Open(ctx context.Context, conn provider.ConnInfo) (provider.Provider, error) {
	p, err := f.MemFactory.Open(ctx, conn)
	if err != nil {
		return nil, err
	}
	return readOnly{p}, nil
}

func newRegistry(t *testing.T, f location.Factory) *location.Registry {
	t.Helper()
	reg := location.NewRegistry(location.WithFactory(provider.ProviderMem, f))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func seed(t *testing.T, reg *location.Registry, uri, content string) {
	t.Helper()
	ep, p, err := reg.Resolve(context.Background(), uri)
	require.NoError(t, err)
	_, err = ep.Provider.Upload(context.Background(), p, strings.NewReader(content), int64(len(content)), nil)
	require.NoError(t, err)
}

func capabilities(rec *output.PreflightRecord) []string {
	var caps []string
	for _, r := range rec.Results {
		caps = append(caps, r.Capability)
	}
	return caps
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"plan-only", "read-safe", "write-probe"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("yolo")
	assert.Error(t, err)
}

func TestRun_PlanOnlyChecksNothing(t *testing.T) {
	reg := newRegistry(t, location.MemFactory{})
	rec, err := Run(context.Background(), reg, transfer.OpCopy,
		[]transfer.Item{{Src: "mem://a/missing", Dst: "mem://a/out"}}, ModePlanOnly)
	require.NoError(t, err)
	assert.Equal(t, "plan-only", rec.Mode)
	assert.Empty(t, rec.Results)
}

func TestRun_ReadSafeCopy(t *testing.T) {
	reg := newRegistry(t, location.MemFactory{})
	seed(t, reg, "mem://a/src/one.txt", "1")
	seed(t, reg, "mem://a/src/two.txt", "2")

	rec, err := Run(context.Background(), reg, transfer.OpCopy, []transfer.Item{
		{Src: "mem://a/src", Dst: "mem://b/deep/new/dir"},
		{Src: "mem://a/src", Dst: "mem://b/deep/other"},
	}, ModeReadSafe)
	require.NoError(t, err)

	// The second item repeats every check of the first.
	assert.Equal(t, []string{CapSourceStat, CapSourceList, CapTargetStat}, capabilities(rec))
	for _, r := range rec.Results {
		assert.True(t, r.Allowed, r.Method)
	}
	assert.Equal(t, "Stat(/)", rec.Results[2].Method)
}

func TestRun_MissingSource(t *testing.T) {
	reg := newRegistry(t, location.MemFactory{})
	rec, err := Run(context.Background(), reg, transfer.OpMove,
		[]transfer.Item{{Src: "mem://a/nope", Dst: "mem://a/out"}}, ModeReadSafe)
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))

	require.Len(t, rec.Results, 1)
	assert.False(t, rec.Results[0].Allowed)
	assert.Equal(t, output.ErrCodeNotFound, rec.Results[0].ErrorCode)
}

func TestRun_DeleteNeedsRemover(t *testing.T) {
	reg := newRegistry(t, readOnlyFactory{})
	seed(t, reg, "mem://ro/file.txt", "x")

	rec, err := Run(context.Background(), reg, transfer.OpDelete,
		[]transfer.Item{{Src: "mem://ro/file.txt"}}, ModeReadSafe)
	require.Error(t, err)
	assert.True(t, provider.IsUnsupported(err))

	last := rec.Results[len(rec.Results)-1]
	assert.Equal(t, CapSourceDelete, last.Capability)
	assert.False(t, last.Allowed)
	assert.Equal(t, output.ErrCodeUnsupported, last.ErrorCode)
}

func TestRun_RenameBareName(t *testing.T) {
	reg := newRegistry(t, location.MemFactory{})
	seed(t, reg, "mem://a/dir/old.txt", "x")

	rec, err := Run(context.Background(), reg, transfer.OpRename,
		[]transfer.Item{{Src: "mem://a/dir/old.txt", Dst: "new.txt"}}, ModeReadSafe)
	require.NoError(t, err)

	assert.Equal(t, []string{CapSourceStat, CapSourceDelete, CapTargetStat}, capabilities(rec))
	assert.Equal(t, "Renamer", rec.Results[1].Method)
	assert.Equal(t, "Stat(/dir)", rec.Results[2].Method)
}

func TestRun_WriteProbeLeavesNothing(t *testing.T) {
	reg := newRegistry(t, location.MemFactory{})
	seed(t, reg, "mem://a/src.txt", "x")
	seed(t, reg, "mem://b/target/keep.txt", "k")

	rec, err := Run(context.Background(), reg, transfer.OpCopy,
		[]transfer.Item{{Src: "mem://a/src.txt", Dst: "mem://b/target"}}, ModeWriteProbe)
	require.NoError(t, err)

	assert.Equal(t, "put-delete", rec.ProbeStrategy)
	assert.Equal(t, []string{CapSourceStat, CapTargetStat, CapTargetWrite}, capabilities(rec))
	assert.True(t, rec.Results[2].Allowed)

	ep, _, err := reg.Resolve(context.Background(), "mem://b/target")
	require.NoError(t, err)
	entries, err := ep.Provider.List(context.Background(), "/target")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.txt", entries[0].Name)
}

func TestRun_WriteProbeDeniedWithoutRemover(t *testing.T) {
	reg := newRegistry(t, readOnlyFactory{})
	seed(t, reg, "mem://ro/src.txt", "x")

	rec, err := Run(context.Background(), reg, transfer.OpCopy,
		[]transfer.Item{{Src: "mem://ro/src.txt", Dst: "mem://ro/out.txt"}}, ModeWriteProbe)
	require.Error(t, err)

	last := rec.Results[len(rec.Results)-1]
	assert.Equal(t, CapTargetWrite, last.Capability)
	assert.False(t, last.Allowed)
	assert.Contains(t, last.Detail, "not removed")
}
