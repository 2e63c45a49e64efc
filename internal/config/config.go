// Package config resolves runtime configuration from the environment and
// decodes protocol init files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Environment variables recognised by FromEnv.
const (
	EnvStorageDriver   = "SHIFT2ME_STORAGE_DRIVER"
	EnvSQLitePath      = "SHIFT2ME_SQLITE_PATH"
	EnvPostgresDSN     = "SHIFT2ME_POSTGRES_DSN"
	EnvArchiveDriver   = "SHIFT2ME_ARCHIVE_DRIVER"
	EnvArchiveFSRoot   = "SHIFT2ME_ARCHIVE_FS_ROOT"
	EnvS3Bucket        = "SHIFT2ME_ARCHIVE_S3_BUCKET"
	EnvS3Region        = "SHIFT2ME_ARCHIVE_S3_REGION"
	EnvS3Endpoint      = "SHIFT2ME_ARCHIVE_S3_ENDPOINT"
	EnvS3PathStyle     = "SHIFT2ME_ARCHIVE_S3_PATH_STYLE"
	EnvLogLevel        = "SHIFT2ME_LOG_LEVEL"
	EnvLogFormat       = "SHIFT2ME_LOG_FORMAT"
	defaultSQLitePath  = "shift2me.db"
	defaultArchiveRoot = "./stepdata"
)

// Config is the process level configuration.
type Config struct {
	StorageDriver string
	SQLitePath    string
	PostgresDSN   string

	ArchiveDriver string
	ArchiveFSRoot string
	S3            S3Config

	LogLevel  slog.Level
	LogFormat string
}

// S3Config addresses the step archive bucket.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// FromEnv reads Config from the process environment.
func FromEnv() (Config, error) {
	return fromLookup(os.Getenv)
}

func fromLookup(get func(string) string) (Config, error) {
	cfg := Config{
		StorageDriver: orDefault(get(EnvStorageDriver), "sqlite"),
		SQLitePath:    orDefault(get(EnvSQLitePath), defaultSQLitePath),
		PostgresDSN:   get(EnvPostgresDSN),
		ArchiveDriver: orDefault(get(EnvArchiveDriver), "fs"),
		ArchiveFSRoot: orDefault(get(EnvArchiveFSRoot), defaultArchiveRoot),
		S3: S3Config{
			Bucket:    get(EnvS3Bucket),
			Region:    get(EnvS3Region),
			Endpoint:  get(EnvS3Endpoint),
			PathStyle: strings.EqualFold(get(EnvS3PathStyle), "true"),
		},
		LogFormat: strings.ToLower(orDefault(get(EnvLogFormat), "text")),
	}
	level, err := ParseLevel(orDefault(get(EnvLogLevel), "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level
	switch cfg.StorageDriver {
	case "memory", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}
	switch cfg.ArchiveDriver {
	case "none", "fs", "memory":
	case "s3":
		if cfg.S3.Bucket == "" {
			return Config{}, fmt.Errorf("%s required for s3 archive driver", EnvS3Bucket)
		}
	default:
		return Config{}, fmt.Errorf("unknown archive driver %s", cfg.ArchiveDriver)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("unknown log format %s", cfg.LogFormat)
	}
	return cfg, nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
