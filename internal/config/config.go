// Package config loads nimbusfs settings from defaults, an optional config
// file, NIMBUSFS_* environment variables, and runtime overrides, in
// increasing order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "NIMBUSFS"

// ConfigName is the config file base name searched for on disk.
const ConfigName = "nimbusfs"

// Config is the resolved configuration.
type Config struct {
	// Workers sizes the shared scheduler pool (0 = by CPU count, at most 4).
	Workers int `mapstructure:"workers"`

	// BatchConcurrency caps concurrent items per operation.
	BatchConcurrency int `mapstructure:"batch_concurrency"`

	// BufferSize is the ring capacity of read and write streams.
	BufferSize ByteSize `mapstructure:"buffer_size"`

	// ChunkSize is the copy granularity of every backend.
	ChunkSize ByteSize `mapstructure:"chunk_size"`

	// BandwidthLimit caps throughput per endpoint in bytes per second (0 = unlimited).
	BandwidthLimit ByteSize `mapstructure:"bandwidth_limit"`

	// TempDir holds relay files. Empty means the system temp directory.
	TempDir string `mapstructure:"temp_dir"`

	// ProgressInterval spaces progress records.
	ProgressInterval time.Duration `mapstructure:"progress_interval"`

	Logging LoggingConfig `mapstructure:"logging"`
	S3      S3Config      `mapstructure:"s3"`
	SFTP    SFTPConfig    `mapstructure:"sftp"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `mapstructure:"level"`

	// Format is console or json.
	Format string `mapstructure:"format"`
}

// S3Config holds defaults for every s3:// endpoint.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// SFTPConfig holds defaults for every sftp:// endpoint.
type SFTPConfig struct {
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	KeyFile               string        `mapstructure:"key_file"`
	KeyPassphrase         string        `mapstructure:"key_passphrase"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
}

// ByteSize is a byte count that decodes from integers or human strings
// such as "1MiB" and "64KB".
type ByteSize int64

// ConfigError reports a configuration that could not be loaded.
type ConfigError struct {
	// Key is the offending setting, or the config file path.
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	configMu  sync.RWMutex
	appConfig *Config

	// configFile overrides the search path when set.
	configFile string
)

// SetConfigFile makes Load read path instead of searching for a config file.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load resolves the configuration and makes it available through GetConfig.
// Later overrides win over earlier ones.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	configMu.Lock()
	defer configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, &ConfigError{Key: spec.Path, Err: err}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, dir := range getUserConfigPaths() {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, &ConfigError{Key: v.ConfigFileUsed(), Err: err}
		}
	}

	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, &ConfigError{Key: "decode", Err: err}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return appConfig, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 0)
	v.SetDefault("batch_concurrency", 4)
	v.SetDefault("buffer_size", "1MiB")
	v.SetDefault("chunk_size", "256KiB")
	v.SetDefault("bandwidth_limit", 0)
	v.SetDefault("temp_dir", "")
	v.SetDefault("progress_interval", "500ms")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", false)

	v.SetDefault("sftp.user", "")
	v.SetDefault("sftp.password", "")
	v.SetDefault("sftp.key_file", "")
	v.SetDefault("sftp.key_passphrase", "")
	v.SetDefault("sftp.known_hosts_file", "")
	v.SetDefault("sftp.insecure_ignore_host_key", false)
	v.SetDefault("sftp.dial_timeout", "30s")
}

// envSpec maps a short environment variable onto a config path. Every
// path is also reachable as NIMBUSFS_<PATH> with dots replaced by underscores.
type envSpec struct {
	Name string
	Path string
}

func getEnvSpecs() []envSpec {
	return []envSpec{
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_LOG_FORMAT", Path: "logging.format"},
		{Name: EnvPrefix + "_WORKERS", Path: "workers"},
		{Name: EnvPrefix + "_CONCURRENCY", Path: "batch_concurrency"},
		{Name: EnvPrefix + "_BANDWIDTH", Path: "bandwidth_limit"},
		{Name: EnvPrefix + "_TEMP_DIR", Path: "temp_dir"},
	}
}

// applyOverrides sets every leaf of o so it outranks env and file values.
// Nested maps address dotted keys.
func applyOverrides(v *viper.Viper, prefix string, o map[string]any) {
	for k, val := range o {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

// getUserConfigPaths lists the directories searched for nimbusfs.yaml.
func getUserConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigName))
	}
	return paths
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

var byteSizeType = reflect.TypeOf(ByteSize(0))

// byteSizeHook decodes human byte strings into ByteSize.
func byteSizeHook(from, to reflect.Type, data any) (any, error) {
	if to != byteSizeType || from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return ByteSize(0), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return nil, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	if n > 1<<62 {
		return nil, fmt.Errorf("byte size %q too large", s)
	}
	return ByteSize(n), nil
}

func (c *Config) validate() error {
	switch {
	case c.Workers < 0:
		return &ConfigError{Key: "workers", Err: errors.New("must be >= 0")}
	case c.BatchConcurrency < 1:
		return &ConfigError{Key: "batch_concurrency", Err: errors.New("must be >= 1")}
	case c.BufferSize < 0, c.ChunkSize < 0, c.BandwidthLimit < 0:
		return &ConfigError{Key: "sizes", Err: errors.New("must not be negative")}
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return &ConfigError{Key: "logging.format", Err: fmt.Errorf("unknown format %q (console or json)", c.Logging.Format)}
	}
	return nil
}
