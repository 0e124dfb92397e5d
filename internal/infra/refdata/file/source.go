// Package file loads the reference bundle from a directory of JSON files,
// each optionally gzip-compressed:
//
//	gene_modelseed.json[.gz]  KEGG gene id -> ModelSEED reaction ids
//	gene_names.json[.gz]      KEGG gene id -> display name
//	universal.json[.gz]       universal reaction bag (COBRA JSON)
//	manifest.json             optional {"version": "..."}
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"reconstructor/internal/modelio"
	"reconstructor/internal/refdata/core"
)

// File stems inside the reference directory.
const (
	GeneReactionsFile = "gene_modelseed.json"
	GeneNamesFile     = "gene_names.json"
	UniversalFile     = "universal.json"
	ManifestFile      = "manifest.json"
	gzipSuffix        = ".gz"
	defaultDir        = "./refdata"
)

// Source reads a bundle from Dir.
type Source struct {
	dir string
}

// New returns a directory-backed source.
func New(dir string) *Source {
	if dir == "" {
		dir = defaultDir
	}
	return &Source{dir: dir}
}

// Dir returns the directory the source reads from.
func (s *Source) Dir() string { return s.dir }

// Driver returns the refdata driver identifier.
func (s *Source) Driver() core.Driver { return core.DriverFile }

// Load decodes the three reference files concurrently.
func (s *Source) Load(ctx context.Context) (core.Bundle, error) {
	b := core.Bundle{Manifest: core.Manifest{Version: "unversioned", Source: s.dir}}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.decode(ctx, GeneReactionsFile, true, func(r io.Reader) error {
			return json.NewDecoder(r).Decode(&b.GeneReactions)
		})
	})
	g.Go(func() error {
		return s.decode(ctx, GeneNamesFile, false, func(r io.Reader) error {
			return json.NewDecoder(r).Decode(&b.GeneNames)
		})
	})
	g.Go(func() error {
		return s.decode(ctx, UniversalFile, true, func(r io.Reader) error {
			u, err := modelio.Read(r)
			if err != nil {
				return err
			}
			b.Universal = u
			return nil
		})
	})
	g.Go(func() error {
		return s.decode(ctx, ManifestFile, false, func(r io.Reader) error {
			return json.NewDecoder(r).Decode(&b.Manifest)
		})
	})
	if err := g.Wait(); err != nil {
		return core.Bundle{}, err
	}
	if b.GeneNames == nil {
		b.GeneNames = map[string]string{}
	}
	if err := b.Validate(); err != nil {
		return core.Bundle{}, err
	}
	return b, nil
}

// decode opens name (preferring the .gz variant) and hands the decompressed
// stream to fn. Missing optional files are skipped.
func (s *Source) decode(ctx context.Context, name string, required bool, fn func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, compressed, err := s.resolve(name)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("refdata: %s: %w", name, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("refdata: %w", err)
	}
	defer func() { _ = f.Close() }()
	var r io.Reader = f
	if compressed {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("refdata: %s: %w", path, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	if err := fn(r); err != nil {
		return fmt.Errorf("refdata: decode %s: %w", path, err)
	}
	return nil
}

func (s *Source) resolve(name string) (string, bool, error) {
	gz := filepath.Join(s.dir, name+gzipSuffix)
	if _, err := os.Stat(gz); err == nil {
		return gz, true, nil
	}
	plain := filepath.Join(s.dir, name)
	if _, err := os.Stat(plain); err != nil {
		return "", false, err
	}
	return plain, false, nil
}

// Write stores a bundle as gzip-compressed files under dir, the layout Load
// reads back.
func Write(dir string, b core.Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	writers := map[string]func(io.Writer) error{
		GeneReactionsFile: func(w io.Writer) error { return json.NewEncoder(w).Encode(b.GeneReactions) },
		GeneNamesFile:     func(w io.Writer) error { return json.NewEncoder(w).Encode(b.GeneNames) },
		UniversalFile:     func(w io.Writer) error { return modelio.Write(w, b.Universal) },
	}
	for name, write := range writers {
		if err := writeGzip(filepath.Join(dir, name+gzipSuffix), write); err != nil {
			return fmt.Errorf("refdata: write %s: %w", name, err)
		}
	}
	manifest, err := json.MarshalIndent(b.Manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), manifest, 0o644)
}

func writeGzip(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	zw := gzip.NewWriter(f)
	if err := write(zw); err != nil {
		return err
	}
	return zw.Close()
}
