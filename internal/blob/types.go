// Package blob is the entry point for the archive used by the sync blob
// publisher and the register export.
package blob

import (
	"clinicflow/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Sentinel errors shared by every backend.
var (
	ErrUnsupported = core.ErrUnsupported
	ErrExists      = core.ErrExists
	ErrNotFound    = core.ErrNotFound
)
