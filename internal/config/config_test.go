package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := fromLookup(lookup(nil))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StorageDriver)
	assert.Equal(t, defaultSQLitePath, cfg.SQLitePath)
	assert.Equal(t, "fs", cfg.ArchiveDriver)
	assert.Equal(t, defaultArchiveRoot, cfg.ArchiveFSRoot)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestFromLookupOverrides(t *testing.T) {
	cfg, err := fromLookup(lookup(map[string]string{
		EnvStorageDriver: "postgres",
		EnvPostgresDSN:   "postgres://localhost/shift2me",
		EnvArchiveDriver: "s3",
		EnvS3Bucket:      "steps",
		EnvS3PathStyle:   "TRUE",
		EnvLogLevel:      "debug",
		EnvLogFormat:     "JSON",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StorageDriver)
	assert.Equal(t, "postgres://localhost/shift2me", cfg.PostgresDSN)
	assert.Equal(t, "steps", cfg.S3.Bucket)
	assert.True(t, cfg.S3.PathStyle)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFromLookupRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"storage driver": {EnvStorageDriver: "bolt"},
		"archive driver": {EnvArchiveDriver: "ftp"},
		"s3 bucket":      {EnvArchiveDriver: "s3"},
		"log level":      {EnvLogLevel: "loud"},
		"log format":     {EnvLogFormat: "xml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fromLookup(lookup(env))
			assert.Error(t, err)
		})
	}
}
