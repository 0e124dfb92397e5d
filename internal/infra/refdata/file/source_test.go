package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"reconstructor/internal/network"
	"reconstructor/internal/refdata/core"
)

func sampleBundle() core.Bundle {
	u := network.New("universal")
	u.AddReactions(
		network.Reaction{ID: "rxn00001_c", Metabolites: map[string]float64{"cpd00001_c": -1, "cpd00002_c": 1}, LowerBound: 0, UpperBound: 1000},
		network.Reaction{ID: "EX_cpd00001_e", Metabolites: map[string]float64{"cpd00001_e": -1}, LowerBound: -1000, UpperBound: 1000},
	)
	return core.Bundle{
		Manifest:      core.Manifest{Version: "2024.1"},
		GeneReactions: map[string][]string{"eco:b0001": {"rxn00001"}},
		GeneNames:     map[string]string{"eco:b0001": "thrL"},
		Universal:     u,
	}
}

func TestWriteThenLoad(t *testing.T) {
	dir := t.TempDir()
	want := sampleBundle()
	if err := Write(dir, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, name := range []string{GeneReactionsFile, GeneNamesFile, UniversalFile} {
		if _, err := os.Stat(filepath.Join(dir, name+".gz")); err != nil {
			t.Fatalf("expected compressed %s: %v", name, err)
		}
	}
	src := New(dir)
	if src.Driver() != core.DriverFile || src.Dir() != dir {
		t.Fatalf("unexpected source %+v", src)
	}
	got, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Manifest.Version != "2024.1" || got.GeneNames["eco:b0001"] != "thrL" {
		t.Fatalf("unexpected bundle %+v", got)
	}
	if got.Universal.Fingerprint() != want.Universal.Fingerprint() {
		t.Fatalf("universal bag changed across write/load")
	}
}

func TestLoadPlainFilesAndOptionalParts(t *testing.T) {
	dir := t.TempDir()
	writePlain(t, dir, GeneReactionsFile, `{"eco:b0001": ["rxn00001"]}`)
	writeUniversal(t, dir, sampleBundle())

	got, err := New(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.GeneNames == nil || len(got.GeneNames) != 0 {
		t.Fatalf("expected empty name table when file absent, got %v", got.GeneNames)
	}
	if got.Manifest.Version != "unversioned" || got.Manifest.Source != dir {
		t.Fatalf("unexpected default manifest %+v", got.Manifest)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir).Load(context.Background()); err == nil {
		t.Fatalf("expected error for empty directory")
	}
	writePlain(t, dir, GeneReactionsFile, `{"eco:b0001": ["rxn00001"]}`)
	if err := os.WriteFile(filepath.Join(dir, UniversalFile+".gz"), []byte("not gzip"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := New(dir).Load(context.Background()); err == nil {
		t.Fatalf("expected gzip error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(dir).Load(ctx); err == nil {
		t.Fatalf("expected cancelled load to fail")
	}
}

func writePlain(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func writeUniversal(t *testing.T, dir string, b core.Bundle) {
	t.Helper()
	raw, err := core.Encode(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	_, _ = zw.Write(raw[core.BucketUniversal])
	_ = zw.Close()
	if err := os.WriteFile(filepath.Join(dir, UniversalFile+".gz"), zbuf.Bytes(), 0o600); err != nil {
		t.Fatalf("write universal: %v", err)
	}
}
