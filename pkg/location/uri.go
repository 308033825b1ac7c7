// Package location maps user-facing URIs onto provider endpoints.
package location

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/3leaps/nimbusfs/pkg/match"
	"github.com/3leaps/nimbusfs/pkg/provider"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedScheme indicates no backend handles the URI scheme.
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrMissingHost indicates the URI is missing its bucket, host, or instance name.
	ErrMissingHost = errors.New("missing host")
)

// URI is a parsed location.
//
// Example URIs:
//   - /var/data/file.txt (bare local path)
//   - file:///var/data/file.txt
//   - mem://scratch/dir/file.txt
//   - s3://bucket/prefix/key.txt
//   - s3://bucket/data/**/*.parquet
//   - sftp://alice@host:2222/home/alice/file.txt
type URI struct {
	// Scheme is the backend type.
	Scheme provider.ProviderType

	// Host is the bucket (s3), instance name (mem), or server (sftp).
	// Empty for file URIs.
	Host string

	// Port is the server port (sftp only). Zero means the default.
	Port int

	// User is the login name from the URI userinfo.
	User string

	// Password is the password from the URI userinfo, if given.
	Password string

	// Path is the slash-separated path inside the endpoint, always rooted.
	// When Pattern is set, Path is the literal prefix before the first glob
	// character.
	Path string

	// Pattern is the full glob path when the URI contains glob characters.
	Pattern string
}

// String returns the URI in canonical form without the password.
func (u *URI) String() string {
	p := u.Path
	if u.Pattern != "" {
		p = u.Pattern
	}
	if u.Scheme == provider.ProviderFile {
		return "file://" + p
	}
	host := u.Host
	if u.Port != 0 {
		host += ":" + strconv.Itoa(u.Port)
	}
	if u.User != "" {
		host = u.User + "@" + host
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, host, p)
}

// IsPattern returns true if the URI contains glob pattern characters.
func (u *URI) IsPattern() bool {
	return u.Pattern != ""
}

// RelativePattern returns Pattern relative to Path, for matching entries
// found below Path during a recursive walk.
func (u *URI) RelativePattern() string {
	rel := strings.TrimPrefix(u.Pattern, u.Path)
	return strings.TrimPrefix(rel, "/")
}

// ParseURI parses a location string into its components.
//
// Strings without a scheme are treated as local paths and made absolute.
// Glob characters are detected with escape awareness, so "file\*.txt" is a
// literal name.
func ParseURI(raw string) (*URI, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	// Parse manually so glob characters like ? are not taken as a query.
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd == -1 {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
		}
		return withPath(&URI{Scheme: provider.ProviderFile}, filepath.ToSlash(abs)), nil
	}

	scheme := provider.ProviderType(strings.ToLower(raw[:schemeEnd]))
	remainder := raw[schemeEnd+3:]

	if scheme == provider.ProviderFile {
		if !strings.HasPrefix(remainder, "/") {
			return nil, fmt.Errorf("%w: file URIs must be absolute (file:///path)", ErrInvalidURI)
		}
		return withPath(&URI{Scheme: scheme}, remainder), nil
	}

	switch scheme {
	case provider.ProviderMem, provider.ProviderS3, provider.ProviderSFTP:
	default:
		return nil, fmt.Errorf("%w: %s (supported: file, mem, s3, sftp)", ErrUnsupportedScheme, scheme)
	}

	authority, p := remainder, "/"
	if i := strings.Index(remainder, "/"); i != -1 {
		authority, p = remainder[:i], remainder[i:]
	}
	if authority == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingHost, raw)
	}

	u := &URI{Scheme: scheme}
	if scheme != provider.ProviderSFTP {
		if strings.ContainsAny(authority, "@:") {
			return nil, fmt.Errorf("%w: %s URIs take no user or port", ErrInvalidURI, scheme)
		}
		u.Host = authority
		return withPath(u, p), nil
	}

	parsed, err := url.Parse("sftp://" + authority + "/")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	u.Host = parsed.Hostname()
	if u.Host == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingHost, raw)
	}
	if port := parsed.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrInvalidURI, port)
		}
		u.Port = n
	}
	if parsed.User != nil {
		u.User = parsed.User.Username()
		u.Password, _ = parsed.User.Password()
	}
	return withPath(u, p), nil
}

func withPath(u *URI, p string) *URI {
	if match.IsGlobPattern(p) {
		u.Pattern = p
		u.Path = cleanPath(match.DerivePrefix(p))
		return u
	}
	u.Path = cleanPath(match.DerivePrefix(p))
	return u
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}
