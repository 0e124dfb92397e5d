// Package refdata loads the reference bundle (gene to reaction table, gene
// names, universal reaction bag) from the backend selected by the
// environment. Callers depend on Source, never on the infra packages.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"reconstructor/internal/infra/refdata/file"
	"reconstructor/internal/infra/refdata/postgres"
	"reconstructor/internal/infra/refdata/sqlite"
	"reconstructor/internal/refdata/core"
)

type (
	// Driver identifies a reference data backend.
	Driver = core.Driver
	// Bundle is the loaded reference data.
	Bundle = core.Bundle
	// Manifest describes a bundle's provenance.
	Manifest = core.Manifest
	// Source loads a Bundle.
	Source = core.Source
	// Sink persists a Bundle.
	Sink = core.Sink
)

const (
	DriverFile     = core.DriverFile
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
)

// ErrEmpty is returned by database backends that hold no bundle yet.
var ErrEmpty = core.ErrEmpty

// DiamondDatabaseFile is the DIAMOND database expected inside the file
// driver's directory.
const DiamondDatabaseFile = "screened_kegg_prokaryotes_pep_db.dmnd"

// Settings selects and configures a backend.
type Settings struct {
	Driver      Driver
	Dir         string
	SQLitePath  string
	PostgresDSN string
}

// SettingsFromEnv reads:
//
//	RECONSTRUCTOR_REFDATA_DRIVER: file|sqlite|postgres (default file)
//	RECONSTRUCTOR_REFDATA_DIR: directory for the file driver (default ./refdata)
//	RECONSTRUCTOR_SQLITE_PATH: database path for the sqlite driver
//	RECONSTRUCTOR_POSTGRES_DSN: DSN for the postgres driver
func SettingsFromEnv() Settings {
	driver := os.Getenv("RECONSTRUCTOR_REFDATA_DRIVER")
	if driver == "" {
		driver = string(DriverFile)
	}
	return Settings{
		Driver:      Driver(driver),
		Dir:         os.Getenv("RECONSTRUCTOR_REFDATA_DIR"),
		SQLitePath:  os.Getenv("RECONSTRUCTOR_SQLITE_PATH"),
		PostgresDSN: os.Getenv("RECONSTRUCTOR_POSTGRES_DSN"),
	}
}

// Open returns the Source described by the environment.
func Open(ctx context.Context) (Source, error) {
	return OpenWith(ctx, SettingsFromEnv())
}

// OpenWith returns the Source described by s. Database sources also
// implement Sink and io.Closer.
func OpenWith(ctx context.Context, s Settings) (Source, error) {
	switch s.Driver {
	case DriverFile, "":
		return file.New(s.Dir), nil
	case DriverSQLite:
		store, err := sqlite.NewStore(s.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		store, err := postgres.NewStore(ctx, s.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown refdata driver %s", s.Driver)
	}
}

// WriteDir stores b in the file driver's directory layout.
func WriteDir(dir string, b Bundle) error { return file.Write(dir, b) }

// Import copies the bundle from src into dst, stamping the manifest with the
// import time.
func Import(ctx context.Context, src Source, dst Sink, now time.Time) (Manifest, error) {
	b, err := src.Load(ctx)
	if err != nil {
		return Manifest{}, fmt.Errorf("load %s bundle: %w", src.Driver(), err)
	}
	b.Manifest.ImportedAt = now.UTC()
	if b.Manifest.Source == "" {
		b.Manifest.Source = string(src.Driver())
	}
	if err := dst.Save(ctx, b); err != nil {
		return Manifest{}, fmt.Errorf("save bundle: %w", err)
	}
	return b.Manifest, nil
}

// Close releases src when it holds resources.
func Close(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IsEmpty reports whether err means the backend has no bundle yet.
func IsEmpty(err error) bool { return errors.Is(err, ErrEmpty) }
