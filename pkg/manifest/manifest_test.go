package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusfs/pkg/transfer"
)

// validManifestYAML returns a minimal valid manifest in YAML format.
func validManifestYAML() string {
	return `version: "1.0"
operation: copy
items:
  - src: mem://a/one.txt
    dst: mem://b/one.txt
`
}

// validManifestJSON returns a minimal valid manifest in JSON format.
func validManifestJSON() string {
	return `{
  "version": "1.0",
  "operation": "delete",
  "items": [
    {"src": "s3://bucket/old/"},
    {"src": "s3://bucket/stale.csv"}
  ]
}`
}

// fullManifestYAML returns a manifest with every option set.
func fullManifestYAML() string {
	return `$schema: https://schemas.3leaps.dev/nimbusfs/v1.0.0/batch-manifest.schema.json
version: "1.0"
operation: move
options:
  recursive: true
  overwrite: true
  continue_on_error: true
  includes:
    - "**/*.parquet"
  excludes:
    - "**/_temporary/**"
  skip_hidden: true
  filters:
    size:
      min: 1KiB
      max: 1GiB
    modified:
      after: "2024-01-01"
    path_regex: "^data/"
items:
  - src: s3://bucket/data/
    dst: file:///srv/mirror/data/
  - src: sftp://backup@host/reports/
    dst: mem://scratch/reports/
`
}

func TestLoadFromBytes_YAML(t *testing.T) {
	m, err := LoadFromBytes([]byte(validManifestYAML()), "batch.yaml")
	require.NoError(t, err)

	assert.Equal(t, DefaultVersion, m.Version)
	assert.Equal(t, transfer.OpCopy, m.Op())
	require.Len(t, m.Items, 1)
	assert.Equal(t, transfer.Item{Src: "mem://a/one.txt", Dst: "mem://b/one.txt"}, m.Items[0])

	opts := m.TransferOptions(nil)
	assert.False(t, opts.Recursive)
	assert.False(t, opts.Overwrite)
	assert.Nil(t, opts.Filter)
}

func TestLoadFromBytes_JSON(t *testing.T) {
	m, err := LoadFromBytes([]byte(validManifestJSON()), "batch.json")
	require.NoError(t, err)

	assert.Equal(t, transfer.OpDelete, m.Op())
	require.Len(t, m.Items, 2)
	assert.Empty(t, m.Items[0].Dst)
}

func TestLoadFromBytes_UnknownExtensionTriesBoth(t *testing.T) {
	for _, data := range []string{validManifestYAML(), validManifestJSON()} {
		_, err := LoadFromBytes([]byte(data), "")
		assert.NoError(t, err)
	}
}

func TestLoadFromBytes_FullOptions(t *testing.T) {
	m, err := LoadFromBytes([]byte(fullManifestYAML()), "batch.yml")
	require.NoError(t, err)

	host := transfer.NopHost{}
	opts := m.TransferOptions(host)
	assert.True(t, opts.Recursive)
	assert.True(t, opts.Overwrite)
	assert.True(t, opts.ContinueOnError)
	assert.True(t, opts.SkipHidden)
	assert.Equal(t, []string{"**/*.parquet"}, opts.Includes)
	assert.Equal(t, []string{"**/_temporary/**"}, opts.Excludes)
	assert.Equal(t, host, opts.Host)

	require.NotNil(t, opts.Filter)
	require.NotNil(t, opts.Filter.Size)
	assert.Equal(t, "1KiB", opts.Filter.Size.Min)
	assert.Equal(t, "1GiB", opts.Filter.Size.Max)
	require.NotNil(t, opts.Filter.Modified)
	assert.Equal(t, "2024-01-01", opts.Filter.Modified.After)
	assert.Equal(t, "^data/", opts.Filter.PathRegex)
}

func TestLoadFromBytes_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown top-level field", validManifestYAML() + "extra: true\n"},
		{"unknown operation", strings.Replace(validManifestYAML(), "operation: copy", "operation: sync", 1)},
		{"wrong version", strings.Replace(validManifestYAML(), `"1.0"`, `"2.0"`, 1)},
		{"missing items", "version: \"1.0\"\noperation: copy\n"},
		{"empty items", "version: \"1.0\"\noperation: copy\nitems: []\n"},
		{"item without src", "version: \"1.0\"\noperation: delete\nitems:\n  - dst: mem://a/x\n"},
		{"unknown option", "version: \"1.0\"\noperation: delete\noptions:\n  dry_run: true\nitems:\n  - src: mem://a/x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data), "batch.yaml")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)

			var me *ManifestError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, "batch.yaml", me.Path)
		})
	}
}

func TestLoadFromBytes_DestinationRequired(t *testing.T) {
	data := "version: \"1.0\"\noperation: rename\nitems:\n  - src: mem://a/x\n    dst: y\n  - src: mem://a/z\n"
	_, err := LoadFromBytes([]byte(data), "batch.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "/items/1/dst")
}

func TestLoadFromBytes_Malformed(t *testing.T) {
	_, err := LoadFromBytes(nil, "batch.yaml")
	assert.Error(t, err)

	_, err = LoadFromBytes([]byte("{not json"), "batch.json")
	var me *ManifestError
	require.True(t, errors.As(err, &me))
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validManifestYAML()), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Items, 1)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadFromReader(t *testing.T) {
	m, err := LoadFromReader(strings.NewReader(validManifestJSON()), "batch.json")
	require.NoError(t, err)
	assert.Equal(t, transfer.OpDelete, m.Op())
}
