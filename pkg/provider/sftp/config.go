// Package sftp implements the provider interface for SSH file transfer servers.
package sftp

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPort is the standard SSH port.
const DefaultPort = 22

// DefaultDialTimeout bounds the TCP connect and SSH handshake.
const DefaultDialTimeout = 30 * time.Second

// Config configures an SFTP provider.
//
// Authentication uses Password, KeyFile, or both (the server picks). Host keys
// are verified against KnownHostsFile unless InsecureIgnoreHostKey is set.
type Config struct {
	// Host is the server host name (required).
	Host string

	// Port is the server port. Zero means DefaultPort.
	Port int

	// User is the login name (required).
	User string

	// Password is used for SSH password auth.
	Password string

	// KeyFile is a PEM private key path for public key auth.
	KeyFile string

	// KeyPassphrase decrypts KeyFile when it is encrypted.
	KeyPassphrase string

	// KnownHostsFile is an OpenSSH known_hosts file.
	// Empty means ~/.ssh/known_hosts.
	KnownHostsFile string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	// BasePath is the remote directory that acts as the endpoint root.
	BasePath string

	// DialTimeout bounds connection setup. Zero means DefaultDialTimeout.
	DialTimeout time.Duration

	// BandwidthLimit caps transfer throughput in bytes per second (0 = unlimited).
	BandwidthLimit int64

	// ChunkSize overrides the copy granularity (0 = provider.DefaultChunkSize).
	ChunkSize int
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return &ConfigError{Field: "Host", Message: "host is required"}
	}
	if strings.TrimSpace(c.User) == "" {
		return &ConfigError{Field: "User", Message: "user is required"}
	}
	if c.Password == "" && c.KeyFile == "" {
		return &ConfigError{Field: "Password/KeyFile", Message: "a password or a key file is required"}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Field: "Port", Message: "port must be between 0 and 65535"}
	}
	return nil
}

// Addr returns host:port for dialing.
func (c *Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return c.Host + ":" + strconv.Itoa(port)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "sftp config: " + e.Field + ": " + e.Message
}

func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		signer, err := loadSigner(c.KeyFile, c.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-in
	}
	file := c.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", file, err)
	}
	return cb, nil
}

func loadSigner(keyFile, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	return signer, nil
}
