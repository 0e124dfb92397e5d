package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"reconstructor/internal/blob/core"
)

func TestStoreMockedFlow(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if store.Driver() != core.DriverS3 {
		t.Fatalf("expected DriverS3")
	}
	info, err := store.Put(ctx, "models/a.json", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "models/a.json" || info.ContentType != "application/json" || info.Size != 5 {
		t.Fatalf("unexpected info %#v", info)
	}
	if _, err := store.Put(ctx, "models/a.json", bytes.NewReader([]byte("again")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := store.Put(ctx, "models/a.json", bytes.NewReader([]byte("replaced")), core.PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rc, err := store.Get(ctx, "models/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "replaced" {
		t.Fatalf("get mismatch: %q", data)
	}
	if ok, err := store.Delete(ctx, "models/a.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "models/a.json"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestStoreListPaginates(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	for _, k := range []string{"run/b.json", "run/a.json", "run/c.json", "other.json"} {
		if _, err := store.Put(ctx, k, bytes.NewReader([]byte(k)), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "run/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Key != "run/a.json" || list[2].Key != "run/c.json" {
		t.Fatalf("unexpected listing %+v", list)
	}
	if empty, err := store.List(ctx, "missing/"); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty listing: %v %+v", err, empty)
	}
}

func TestStorePrefix(t *testing.T) {
	store := NewMockForTests()
	store.prefix = "tenant/"
	ctx := context.Background()
	if _, err := store.Put(ctx, "m.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := store.List(ctx, "")
	if err != nil || len(list) != 1 || list[0].Key != "m.json" {
		t.Fatalf("expected prefix stripped from listing: %v %+v", err, list)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "SECRET")
	s, err := New(context.Background(), Config{Bucket: "bkt", Endpoint: "https://mock.s3.local", PathStyle: true})
	if err != nil || s.bucket != "bkt" {
		t.Fatalf("New: %v", err)
	}
}

func TestOpenFromEnv(t *testing.T) {
	t.Setenv("RECONSTRUCTOR_BLOB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected error without bucket")
	}
	t.Setenv("RECONSTRUCTOR_BLOB_S3_BUCKET", "env-bucket")
	t.Setenv("RECONSTRUCTOR_BLOB_S3_PREFIX", "p/")
	s, err := OpenFromEnv(context.Background())
	if err != nil || s.prefix != "p/" {
		t.Fatalf("OpenFromEnv: %v", err)
	}
}

func TestDecodeChunked(t *testing.T) {
	if _, ok := decodeChunked([]byte("not-chunked")); ok {
		t.Fatalf("expected failure for plain body")
	}
	if _, ok := decodeChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("expected failure for size mismatch")
	}
	b, ok := decodeChunked([]byte("5\r\nhello\r\n3;sig=x\r\n!!!\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	if !ok || string(b) != "hello!!!" {
		t.Fatalf("decodeChunked = %q, %v", b, ok)
	}
}

func TestMockTransportUnsupported(t *testing.T) {
	rt := &mockTransport{objects: make(map[string]mockObject)}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, _ := rt.RoundTrip(req)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}
