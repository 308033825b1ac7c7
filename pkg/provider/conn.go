package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ConnInfo identifies the connection a Provider talks over.
//
// Two endpoints are the same only when every field matches, including the
// credential material. The transfer layer relies on this to decide whether a
// server-side rename or copy is possible.
type ConnInfo struct {
	// Scheme is the backend type.
	Scheme ProviderType

	// Host is the server host name (or service endpoint, or memfs instance name).
	Host string

	// Port is the server port. Zero means the scheme default.
	Port int

	// User is the login name, if any.
	User string

	// Secret is the password or secret key. Only its fingerprint is ever
	// exposed through Key and String.
	Secret string

	// KeyFile is the private key path used for authentication, if any.
	KeyFile string

	// BasePath is the root inside the backend (directory, bucket, ...).
	BasePath string
}

// Key returns a stable identity string for caching and comparison.
func (c ConnInfo) Key() string {
	var b strings.Builder
	b.WriteString(string(c.Scheme))
	b.WriteString("://")
	if c.User != "" {
		b.WriteString(c.User)
		b.WriteByte('@')
	}
	b.WriteString(strings.ToLower(c.Host))
	if c.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(c.Port))
	}
	b.WriteByte('/')
	b.WriteString(strings.Trim(c.BasePath, "/"))
	b.WriteString("#")
	b.WriteString(fingerprint(c.Secret))
	b.WriteString("#")
	b.WriteString(c.KeyFile)
	return b.String()
}

// SameEndpoint reports whether c and other share every connection parameter.
func (c ConnInfo) SameEndpoint(other ConnInfo) bool {
	return c.Key() == other.Key()
}

// String returns a redacted, human-readable form suitable for logs.
func (c ConnInfo) String() string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	if c.User != "" {
		host = c.User + "@" + host
	}
	return fmt.Sprintf("%s://%s/%s", c.Scheme, host, strings.Trim(c.BasePath, "/"))
}

func fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
