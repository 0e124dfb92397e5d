package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPipelineImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"reconstructor/internal/blob", true},
		{"reconstructor/internal/infra/refdata/sqlite", true},
		{"reconstructor/internal/refdata/core", true},
		{"reconstructor/internal/core", true},
		{"reconstructor/internal/aligner", true},
		{"reconstructor/internal/network", false},
		{"reconstructor/internal/corelib", false},
		{"github.com/example/blob", false},
	}
	for _, c := range cases {
		if got := PipelineImportForbidden(c.in); got != c.want {
			t.Fatalf("PipelineImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDriverImportForbidden(t *testing.T) {
	for in, want := range map[string]bool{
		"database/sql":                            true,
		"os/exec":                                 true,
		"github.com/aws/aws-sdk-go-v2/service/s3": true,
		"github.com/jackc/pgx/v5/stdlib":          true,
		"modernc.org/sqlite":                      true,
		"gonum.org/v1/gonum/mat":                  false,
	} {
		if got := DriverImportForbidden(in); got != want {
			t.Fatalf("DriverImportForbidden(%q)=%v want %v", in, got, want)
		}
	}
}

func writeSource(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.go", "package tmp\nimport \"reconstructor/internal/blob\"\n")
	writeSource(t, dir, "b.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println() }\n")
	writeSource(t, dir, "b_test.go", "package tmp\nimport \"reconstructor/internal/core\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeSource(t, filepath.Join(dir, "sub"), "c.go", "package sub\nimport \"reconstructor/internal/refdata\"\n")

	viols, err := directImportViolations(dir, PipelineImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "reconstructor/internal/blob (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestDirectImportViolationsErrors(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), PipelineImportForbidden); err == nil {
		t.Fatalf("expected missing dir error")
	}
	dir := t.TempDir()
	writeSource(t, dir, "bad.go", "package tmp\nimport (\n")
	if _, err := directImportViolations(dir, PipelineImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	old := goListDeps
	defer func() { goListDeps = old }()

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nreconstructor/internal/network\n\ndatabase/sql\n"), nil
	}
	viols, _, err := transitiveDependencyViolations(".", DriverImportForbidden)
	if err != nil || len(viols) != 1 || viols[0] != "database/sql" {
		t.Fatalf("unexpected result %v %v", viols, err)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations(".", DriverImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list error")
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfViolations(t *testing.T) {
	var r recordingFatal
	failIfViolations(&r, "direct imports", "reason", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure %q", r.msg)
	}
	failIfViolations(&r, "direct imports", "reason", []string{"x"})
	if !strings.Contains(r.msg, "forbidden direct imports detected (reason)") {
		t.Fatalf("unexpected message %q", r.msg)
	}
}
