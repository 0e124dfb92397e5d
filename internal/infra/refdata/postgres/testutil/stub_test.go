package testutil

import (
	"testing"
)

func TestStubUpsertAndSelect(t *testing.T) {
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()
	for _, payload := range []string{"one", "two"} {
		if _, err := db.Exec(`INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, "b", []byte(payload)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if len(conn.Tables["state"]) != 1 {
		t.Fatalf("expected upsert to replace row, got %v", conn.Tables["state"])
	}
	var bucket string
	var payload []byte
	if err := db.QueryRow(`SELECT bucket, payload FROM state`).Scan(&bucket, &payload); err != nil {
		t.Fatalf("select: %v", err)
	}
	if bucket != "b" || string(payload) != "two" {
		t.Fatalf("unexpected row %s=%s", bucket, payload)
	}
}

func TestStubParseErrors(t *testing.T) {
	if _, _, err := parseInsert("INSERT state"); err == nil {
		t.Fatalf("expected insert parse error")
	}
	if _, _, err := parseSelect("UPDATE state"); err == nil {
		t.Fatalf("expected select parse error")
	}
	table, cols, err := parseSelect("SELECT a, B FROM Things WHERE x")
	if err != nil || table != "things" || len(cols) != 2 || cols[1] != "b" {
		t.Fatalf("parseSelect = %s %v %v", table, cols, err)
	}
}
