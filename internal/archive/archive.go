// Package archive keeps the raw step files of each titration so a titration
// can be replayed from its sources. It re-exports the core abstractions and
// selects a backend from configuration.
package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"

	"shift2me/internal/archive/core"
	"shift2me/internal/config"
	"shift2me/internal/infra/archive/fs"
	"shift2me/internal/infra/archive/memory"
	"shift2me/internal/infra/archive/s3"
)

type (
	// Driver identifies an archive backend.
	Driver = core.Driver
	// PutOptions configures an archive write.
	PutOptions = core.PutOptions
	// Info describes an archived object.
	Info = core.Info
	// Store is the interface for archive backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// Metadata keys attached to archived step files.
const (
	MetaStep      = "step"
	MetaTitration = "titration"
)

// Open selects a Store from cfg. It returns (nil, nil) for the "none" driver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.ArchiveDriver {
	case "none":
		return nil, nil
	case string(DriverFilesystem):
		return fs.New(cfg.ArchiveFSRoot)
	case string(DriverMemory):
		return memory.New(), nil
	case string(DriverS3):
		return s3.New(ctx, s3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.ArchiveDriver)
	}
}

// Prefix returns the key prefix holding a titration's step files.
func Prefix(titrationID string) string {
	return path.Join("titrations", titrationID) + "/"
}

// StepKey is where the step file source is archived for titrationID.
func StepKey(titrationID, source string) string {
	return Prefix(titrationID) + filepath.Base(source)
}

// StepOptions builds the put options for an archived step file.
func StepOptions(titrationID string, step int) PutOptions {
	return PutOptions{
		ContentType: "text/plain",
		Metadata: map[string]string{
			MetaStep:      strconv.Itoa(step),
			MetaTitration: titrationID,
		},
	}
}

// StepOf reads the step number recorded on an archived object.
func StepOf(info Info) (int, bool) {
	raw, ok := info.Metadata[MetaStep]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
