package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reconstructor/internal/blob/core"
)

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "models/ecoli.json", strings.NewReader(`{"id":"ecoli"}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"run_id": "abc"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 14 || info.ETag == "" || info.Metadata["run_id"] != "abc" {
		t.Fatalf("unexpected put info %+v", info)
	}

	got, rc, err := s.Get(ctx, "models/ecoli.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"id":"ecoli"}` || got.ContentType != "application/json" || got.ETag != info.ETag {
		t.Fatalf("unexpected get %q %+v", body, got)
	}

	head, err := s.Head(ctx, "models/ecoli.json")
	if err != nil || head.Size != info.Size {
		t.Fatalf("head = %+v, %v", head, err)
	}

	list, err := s.List(ctx, "models/")
	if err != nil || len(list) != 1 || list[0].Key != "models/ecoli.json" {
		t.Fatalf("list = %+v, %v", list, err)
	}

	deleted, err := s.Delete(ctx, "models/ecoli.json")
	if err != nil || !deleted {
		t.Fatalf("delete = %v, %v", deleted, err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "models", "ecoli.json.meta")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected sidecar removed, got %v", err)
	}
	if deleted, _ := s.Delete(ctx, "models/ecoli.json"); deleted {
		t.Fatalf("expected second delete to report false")
	}
	if _, _, err := s.Get(ctx, "models/ecoli.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := New(t.TempDir())
	first, err := s.Put(ctx, "out.json", strings.NewReader("one"), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "out.json", strings.NewReader("two"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	second, err := s.Put(ctx, "out.json", strings.NewReader("three"), core.PutOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if second.Size != 5 || second.ETag == first.ETag {
		t.Fatalf("expected replaced content, got %+v", second)
	}
}

func TestStoreServesFilesWithoutSidecar(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "genome.hits.tsv"), []byte("q1\tK00001\n"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, _ := New(root)
	info, rc, err := s.Get(ctx, "genome.hits.tsv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = rc.Close()
	if info.Size != 10 || info.ETag != "" {
		t.Fatalf("unexpected derived info %+v", info)
	}
	if _, err := s.Put(ctx, "genome.hits.tsv", strings.NewReader(""), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists for unmanaged file, got %v", err)
	}
	list, _ := s.List(ctx, "")
	if len(list) != 1 {
		t.Fatalf("expected unmanaged file in listing, got %+v", list)
	}
}

func TestSanitizeKeyErrors(t *testing.T) {
	for _, key := range []string{"", "  ", "../escape", "/abs/path", "a/b.meta"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if got, err := sanitizeKey("a//b/./c.json"); err != nil || got != "a/b/c.json" {
		t.Fatalf("sanitizeKey = %q, %v", got, err)
	}
}

func TestReadMetaCorrupt(t *testing.T) {
	ctx := context.Background()
	s, _ := New(t.TempDir())
	if _, err := s.Put(ctx, "x.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Root(), "x.json.meta"), []byte("{"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := s.Head(ctx, "x.json"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := s.List(ctx, ""); err == nil {
		t.Fatalf("expected list to surface corrupt sidecar")
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := New(file); err == nil {
		t.Fatalf("expected error for file root")
	}
}
