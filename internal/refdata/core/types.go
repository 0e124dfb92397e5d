// Package core defines the reference data bundle and the source abstraction
// implemented by the drivers under internal/infra/refdata.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reconstructor/internal/modelio"
	"reconstructor/internal/network"
)

// Driver identifies a reference data backend.
type Driver string

const (
	// DriverFile reads gzip or plain JSON files from a directory.
	DriverFile Driver = "file"
	// DriverSQLite reads a bundle snapshot from an embedded sqlite database.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres reads a bundle snapshot shared through PostgreSQL.
	DriverPostgres Driver = "postgres"
)

// Bucket names of the snapshot table, in persist order.
const (
	BucketManifest      = "manifest"
	BucketGeneReactions = "gene_reactions"
	BucketGeneNames     = "gene_names"
	BucketUniversal     = "universal"
)

// Buckets lists every bucket written by Encode.
var Buckets = []string{BucketManifest, BucketGeneReactions, BucketGeneNames, BucketUniversal}

// Manifest describes where a bundle came from.
type Manifest struct {
	Version    string    `json:"version"`
	Source     string    `json:"source,omitempty"`
	ImportedAt time.Time `json:"imported_at,omitempty"`
}

// Bundle is the read-only reference data a reconstruction needs: the KEGG
// gene to ModelSEED reaction table, the gene display names and the universal
// reaction bag.
type Bundle struct {
	Manifest      Manifest
	GeneReactions map[string][]string
	GeneNames     map[string]string
	Universal     *network.Network
}

// Source loads a Bundle.
type Source interface {
	Load(ctx context.Context) (Bundle, error)
	Driver() Driver
}

// Sink persists a Bundle so later runs can Load it.
type Sink interface {
	Save(ctx context.Context, b Bundle) error
}

// ErrEmpty is returned when a backend holds no bundle yet.
var ErrEmpty = errors.New("refdata: no reference bundle stored")

// Validate reports bundles missing a required part.
func (b Bundle) Validate() error {
	switch {
	case b.Universal == nil:
		return fmt.Errorf("refdata: universal reaction bag missing")
	case b.Universal.ReactionCount() == 0:
		return fmt.Errorf("refdata: universal reaction bag is empty")
	case b.GeneReactions == nil:
		return fmt.Errorf("refdata: gene reaction table missing")
	}
	return nil
}

// Encode serializes a bundle into one JSON payload per bucket. The universal
// bag uses the COBRA JSON model format.
func Encode(b Bundle) (map[string][]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(Buckets))
	var err error
	if out[BucketManifest], err = json.Marshal(b.Manifest); err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketManifest, err)
	}
	if out[BucketGeneReactions], err = json.Marshal(b.GeneReactions); err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketGeneReactions, err)
	}
	names := b.GeneNames
	if names == nil {
		names = map[string]string{}
	}
	if out[BucketGeneNames], err = json.Marshal(names); err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketGeneNames, err)
	}
	var buf bytes.Buffer
	if err := modelio.Write(&buf, b.Universal); err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketUniversal, err)
	}
	out[BucketUniversal] = buf.Bytes()
	return out, nil
}

// Decode rebuilds a bundle from bucket payloads. Unknown buckets are ignored;
// an empty map yields ErrEmpty.
func Decode(raw map[string][]byte) (Bundle, error) {
	if len(raw) == 0 {
		return Bundle{}, ErrEmpty
	}
	var b Bundle
	if p, ok := raw[BucketManifest]; ok && len(p) > 0 {
		if err := json.Unmarshal(p, &b.Manifest); err != nil {
			return Bundle{}, fmt.Errorf("decode %s: %w", BucketManifest, err)
		}
	}
	if p, ok := raw[BucketGeneReactions]; ok && len(p) > 0 {
		if err := json.Unmarshal(p, &b.GeneReactions); err != nil {
			return Bundle{}, fmt.Errorf("decode %s: %w", BucketGeneReactions, err)
		}
	}
	if p, ok := raw[BucketGeneNames]; ok && len(p) > 0 {
		if err := json.Unmarshal(p, &b.GeneNames); err != nil {
			return Bundle{}, fmt.Errorf("decode %s: %w", BucketGeneNames, err)
		}
	}
	if p, ok := raw[BucketUniversal]; ok && len(p) > 0 {
		u, err := modelio.Read(bytes.NewReader(p))
		if err != nil {
			return Bundle{}, fmt.Errorf("decode %s: %w", BucketUniversal, err)
		}
		b.Universal = u
	}
	if err := b.Validate(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}
