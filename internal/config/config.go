// Package config loads censusctl settings from an optional config file,
// FORESTCENSUS_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"forestcensus/internal/blob"
	"forestcensus/internal/core"
)

// EnvPrefix is prepended to every environment override, with dots in the key
// replaced by underscores: store.driver is read from FORESTCENSUS_STORE_DRIVER.
const EnvPrefix = "FORESTCENSUS"

// Config is the resolved process configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StoreConfig selects the entity store backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// BlobConfig selects the photo blob backend.
type BlobConfig struct {
	Driver    string   `mapstructure:"driver"`
	FSRoot    string   `mapstructure:"fs_root"`
	FSBaseURL string   `mapstructure:"fs_base_url"`
	S3        S3Config `mapstructure:"s3"`
}

// S3Config holds S3 connection settings. Empty credentials fall back to the
// default AWS credentials chain.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// MetricsConfig controls Prometheus export. Addr is where `metrics serve`
// listens; when PushURL is set, one-shot commands push their operation
// metrics to that Pushgateway before exiting.
type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	PushURL string `mapstructure:"push_url"`
}

var defaults = map[string]any{
	"store.driver":              string(core.StorageMemory),
	"store.sqlite_path":         "forestcensus.db",
	"store.postgres_dsn":        "",
	"blob.driver":               string(blob.DriverFilesystem),
	"blob.fs_root":              "./blobdata",
	"blob.fs_base_url":          "",
	"blob.s3.bucket":            "",
	"blob.s3.region":            "",
	"blob.s3.endpoint":          "",
	"blob.s3.access_key_id":     "",
	"blob.s3.secret_access_key": "",
	"blob.s3.session_token":     "",
	"blob.s3.path_style":        false,
	"log.level":                 "info",
	"log.format":                "text",
	"log.file":                  "",
	"log.max_size_mb":           100,
	"log.max_backups":           3,
	"metrics.addr":              ":9464",
	"metrics.push_url":          "",
}

// New returns a viper instance with defaults and environment binding applied.
// Every key has a default so AutomaticEnv overrides reach Unmarshal.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (yaml, toml or json, by extension) when non-empty, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Blob.Driver = strings.ToLower(strings.TrimSpace(c.Blob.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch core.StorageDriver(c.Store.Driver) {
	case core.StorageMemory:
	case core.StorageSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case core.StoragePostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Storage maps the store settings onto the core storage factory.
func (c Config) Storage() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Store.Driver),
		SQLitePath:  c.Store.SQLitePath,
		PostgresDSN: c.Store.PostgresDSN,
	}
}

// Blobs maps the blob settings onto the blob factory.
func (c Config) Blobs() blob.Config {
	return blob.Config{
		Driver:    blob.Driver(c.Blob.Driver),
		FSRoot:    c.Blob.FSRoot,
		FSBaseURL: c.Blob.FSBaseURL,
		S3: blob.S3Config{
			Region:          c.Blob.S3.Region,
			Bucket:          c.Blob.S3.Bucket,
			Endpoint:        c.Blob.S3.Endpoint,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
			SessionToken:    c.Blob.S3.SessionToken,
			PathStyle:       c.Blob.S3.PathStyle,
		},
	}
}
