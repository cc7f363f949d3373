package blob

import (
	"clinicflow/internal/infra/blob/fs"
	memorystore "clinicflow/internal/infra/blob/memory"
	infraS3 "clinicflow/internal/infra/blob/s3"
	"context"
	"fmt"
	"strings"
)

// S3Config re-exports the S3 backend configuration.
type S3Config = infraS3.Config

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the configured store. An empty driver selects the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(string(cfg.Driver))))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewS3 constructs an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMemory returns an in-memory store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewMockS3ForTests exposes the in-memory S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
