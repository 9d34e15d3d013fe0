package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestcensus/internal/blob"
	"forestcensus/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "forestcensus.db", cfg.Store.SQLitePath)
	assert.Equal(t, "fs", cfg.Blob.Driver)
	assert.Equal(t, "./blobdata", cfg.Blob.FSRoot)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, core.StorageMemory, cfg.Storage().Driver)
	assert.Equal(t, blob.DriverFilesystem, cfg.Blobs().Driver)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "censusctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: sqlite
  sqlite_path: /var/lib/census/state.db
blob:
  driver: s3
  s3:
    bucket: census-photos
    region: eu-central-1
    path_style: true
log:
  format: json
`), 0o600))
	t.Setenv("FORESTCENSUS_LOG_LEVEL", "debug")
	t.Setenv("FORESTCENSUS_BLOB_S3_ENDPOINT", "http://minio:9000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: "/var/lib/census/state.db"}, cfg.Storage())
	b := cfg.Blobs()
	assert.Equal(t, blob.DriverS3, b.Driver)
	assert.Equal(t, "census-photos", b.S3.Bucket)
	assert.Equal(t, "eu-central-1", b.S3.Region)
	assert.Equal(t, "http://minio:9000", b.S3.Endpoint)
	assert.True(t, b.S3.PathStyle)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvSelectsDriver(t *testing.T) {
	t.Setenv("FORESTCENSUS_STORE_DRIVER", "Postgres")
	t.Setenv("FORESTCENSUS_STORE_POSTGRES_DSN", "postgres://census@db/census")
	t.Setenv("FORESTCENSUS_BLOB_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, core.StoragePostgres, cfg.Storage().Driver)
	assert.Equal(t, "postgres://census@db/census", cfg.Storage().PostgresDSN)
	assert.Equal(t, blob.DriverMemory, cfg.Blobs().Driver)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, `unknown store driver "mongo"`},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.postgres_dsn is required"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite"; c.Store.SQLitePath = "" }, "store.sqlite_path is required"},
		{"unknown blob", func(c *Config) { c.Blob.Driver = "gcs" }, `unknown blob driver "gcs"`},
		{"s3 without bucket", func(c *Config) { c.Blob.Driver = "s3" }, "blob.s3.bucket is required"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, `unknown log level "trace"`},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, `unknown log format "xml"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := valid()
	cfg.Store.Driver = "mongo"
	cfg.Blob.Driver = "gcs"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongo")
	assert.Contains(t, err.Error(), "gcs")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
