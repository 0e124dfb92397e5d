// Package blob is the artifact store used by the pipeline to read inputs and
// write reconstructed models. It re-exports the core abstractions and selects
// a driver from the environment; callers depend on Store, never on the infra
// packages.
package blob

import (
	"context"
	"fmt"
	"os"

	"reconstructor/internal/blob/core"
	fsstore "reconstructor/internal/infra/blob/fs"
	memorystore "reconstructor/internal/infra/blob/memory"
	s3store "reconstructor/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = s3store.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// Open selects a Store implementation using environment variables.
//
//	RECONSTRUCTOR_BLOB_DRIVER: fs|s3|memory (default fs)
//	RECONSTRUCTOR_BLOB_FS_ROOT: directory root when driver=fs (default ./artifacts)
//	(S3 variables are documented in internal/infra/blob/s3)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("RECONSTRUCTOR_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("RECONSTRUCTOR_BLOB_FS_ROOT"))
	case DriverS3:
		store, err := s3store.OpenFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	store, err := fsstore.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := s3store.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMockS3ForTests exposes the in-memory S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }
