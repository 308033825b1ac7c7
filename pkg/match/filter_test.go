package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		// Raw bytes
		{name: "raw bytes", input: "1024", want: 1024},
		{name: "zero bytes", input: "0", want: 0},
		{name: "large bytes", input: "104857600", want: 104857600},

		// Base-10 (SI) units
		{name: "KB lowercase", input: "1kb", want: 1000},
		{name: "KB uppercase", input: "1KB", want: 1000},
		{name: "MB", input: "100MB", want: 100 * 1000 * 1000},
		{name: "GB", input: "1GB", want: 1000 * 1000 * 1000},

		// Base-2 (IEC) units
		{name: "KiB", input: "1KiB", want: 1024},
		{name: "MiB", input: "100MiB", want: 100 * 1024 * 1024},
		{name: "GiB", input: "1GiB", want: 1024 * 1024 * 1024},

		// Decimal values
		{name: "decimal KB", input: "1.5KB", want: 1500},
		{name: "decimal MiB", input: "2.5MiB", want: int64(2.5 * 1024 * 1024)},

		// With spaces
		{name: "space before unit", input: "100 MB", want: 100 * 1000 * 1000},
		{name: "leading space", input: " 100MB", want: 100 * 1000 * 1000},

		// Error cases
		{name: "empty string", input: "", wantErr: true},
		{name: "negative", input: "-100", wantErr: true},
		{name: "negative with unit", input: "-1KB", wantErr: true},
		{name: "overflow raw bytes", input: "9223372036854775808", wantErr: true},
		{name: "invalid unit", input: "100XB", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "100 B", FormatSize(100))
	assert.Equal(t, "1.0 KiB", FormatSize(1024))
	assert.Equal(t, "1.5 KiB", FormatSize(1536))
	assert.Equal(t, "1.0 MiB", FormatSize(1024*1024))
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "date only", input: "2024-01-15", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "datetime UTC", input: "2024-01-15T10:30:00Z", want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{name: "datetime with offset", input: "2024-01-15T10:30:00+05:00", want: time.Date(2024, 1, 15, 5, 30, 0, 0, time.UTC)},
		{name: "with leading space", input: " 2024-01-15", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "empty string", input: "", wantErr: true},
		{name: "invalid format", input: "01-15-2024", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}

func TestSizeFilter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *SizeFilterConfig
		size    int64
		want    bool
		wantErr bool
	}{
		{name: "min only - pass", cfg: &SizeFilterConfig{Min: "1KB"}, size: 2000, want: true},
		{name: "min only - fail", cfg: &SizeFilterConfig{Min: "1KB"}, size: 500, want: false},
		{name: "max only - fail", cfg: &SizeFilterConfig{Max: "100KB"}, size: 200000, want: false},
		{name: "range - pass", cfg: &SizeFilterConfig{Min: "1KB", Max: "100KB"}, size: 50000, want: true},
		{name: "exact min boundary", cfg: &SizeFilterConfig{Min: "1000"}, size: 1000, want: true},
		{name: "exact max boundary", cfg: &SizeFilterConfig{Max: "1000"}, size: 1000, want: true},
		{name: "min > max error", cfg: &SizeFilterConfig{Min: "100KB", Max: "1KB"}, wantErr: true},
		{name: "invalid min", cfg: &SizeFilterConfig{Min: "invalid"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewSizeFilter(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.Match("f", &provider.Entry{Size: tt.size}))
		})
	}
}

func TestSizeFilter_Nil(t *testing.T) {
	f, err := NewSizeFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = NewSizeFilter(&SizeFilterConfig{})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestDateFilter(t *testing.T) {
	mod := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cfg     *DateFilterConfig
		modTime time.Time
		want    bool
		wantErr bool
	}{
		{name: "after - pass", cfg: &DateFilterConfig{After: "2024-01-01"}, modTime: mod, want: true},
		{name: "after - fail", cfg: &DateFilterConfig{After: "2024-12-01"}, modTime: mod, want: false},
		{name: "before - fail", cfg: &DateFilterConfig{Before: "2024-01-01"}, modTime: mod, want: false},
		{name: "before is exclusive", cfg: &DateFilterConfig{Before: "2024-06-15T12:00:00Z"}, modTime: mod, want: false},
		{name: "no mod time", cfg: &DateFilterConfig{After: "2024-01-01"}, want: false},
		{name: "empty range", cfg: &DateFilterConfig{After: "2024-06-01", Before: "2024-01-01"}, wantErr: true},
		{name: "bad date", cfg: &DateFilterConfig{After: "yesterday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewDateFilter(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match("f", &provider.Entry{ModTime: tt.modTime}))
		})
	}
}

func TestRegexFilter(t *testing.T) {
	f, err := NewRegexFilter(`^logs/.*\.gz$`)
	require.NoError(t, err)

	assert.True(t, f.Match("logs/a.gz", &provider.Entry{}))
	assert.False(t, f.Match("data/logs/a.gz", &provider.Entry{}))

	f, err = NewRegexFilter("")
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = NewRegexFilter("[invalid")
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestCompositeFilter(t *testing.T) {
	good := &provider.Entry{Size: 50000, ModTime: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
	small := &provider.Entry{Size: 100, ModTime: good.ModTime}
	old := &provider.Entry{Size: 50000, ModTime: time.Date(2023, 1, 15, 12, 0, 0, 0, time.UTC)}

	f, err := NewFilterFromConfig(&FilterConfig{
		Size:      &SizeFilterConfig{Min: "1KB"},
		Modified:  &DateFilterConfig{After: "2024-01-01"},
		PathRegex: `TXN-\d{8}`,
	})
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.True(t, f.Match("data/TXN-20240615.json", good))
	assert.False(t, f.Match("data/TXN-20240615.json", small))
	assert.False(t, f.Match("data/TXN-20240615.json", old))
	assert.False(t, f.Match("data/other.json", good))

	s := f.String()
	assert.Contains(t, s, "size")
	assert.Contains(t, s, "modified")
	assert.Contains(t, s, "path")
}

func TestCompositeFilter_NilMatchesEverything(t *testing.T) {
	assert.Nil(t, NewCompositeFilter(nil, nil))

	f, err := NewFilterFromConfig(&FilterConfig{})
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match("anything", &provider.Entry{}))
	assert.Equal(t, "no filters", f.String())
}

func TestNewFilterFromConfig_Errors(t *testing.T) {
	_, err := NewFilterFromConfig(&FilterConfig{Size: &SizeFilterConfig{Min: "invalid"}})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = NewFilterFromConfig(&FilterConfig{Modified: &DateFilterConfig{After: "not-a-date"}})
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = NewFilterFromConfig(&FilterConfig{PathRegex: "[invalid"})
	assert.ErrorIs(t, err, ErrInvalidRegex)
}
