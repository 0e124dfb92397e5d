// Package aligner runs the DIAMOND protein aligner that turns a protein FASTA
// into the tabular hits consumed by the evidence mapper.
package aligner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// ErrNotFound reports that no DIAMOND executable could be located.
var ErrNotFound = errors.New("aligner: diamond executable not found")

// PlatformError reports an operating system DIAMOND does not ship for.
type PlatformError struct {
	OS string
}

func (e PlatformError) Error() string {
	return fmt.Sprintf("aligner: unsupported platform %q", e.OS)
}

// ProcessError wraps a non-zero DIAMOND exit.
type ProcessError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("aligner: diamond exited with status %d", e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Err }

var supportedPlatforms = map[string]struct{}{"linux": {}, "darwin": {}, "windows": {}}

// CheckPlatform returns a PlatformError when goos has no DIAMOND build.
func CheckPlatform(goos string) error {
	if _, ok := supportedPlatforms[goos]; !ok {
		return PlatformError{OS: goos}
	}
	return nil
}

// ExecutableName returns the DIAMOND binary name for goos.
func ExecutableName(goos string) string {
	if goos == "windows" {
		return "diamond.exe"
	}
	return "diamond"
}

// Locate resolves the DIAMOND executable: an explicit path wins, then binDir,
// then PATH.
func Locate(explicit, binDir string) (string, error) {
	if err := CheckPlatform(runtime.GOOS); err != nil {
		return "", err
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrNotFound, explicit, err)
		}
		return explicit, nil
	}
	name := ExecutableName(runtime.GOOS)
	if binDir != "" {
		candidate := filepath.Join(binDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return path, nil
}

// ClampThreads limits a requested worker count to [1, available]. The bool
// reports whether the request was changed.
func ClampThreads(requested, available int) (int, bool) {
	if available < 1 {
		available = 1
	}
	switch {
	case requested < 1:
		return 1, true
	case requested > available:
		return available, true
	default:
		return requested, false
	}
}

// Diamond invokes a DIAMOND executable against a fixed reference database.
type Diamond struct {
	Path     string
	Database string
	Threads  int
}

// Blastp aligns query against the database, writing tabular hits to out.
func (d *Diamond) Blastp(ctx context.Context, query, out string) error {
	threads := d.Threads
	if threads < 1 {
		threads = 1
	}
	_, err := d.run(ctx,
		"blastp",
		"--threads", strconv.Itoa(threads),
		"--db", d.Database,
		"--query", query,
		"--out", out,
		"--more-sensitive",
		"--max-target-seqs", "1",
		"--quiet",
	)
	return err
}

var versionPattern = regexp.MustCompile(`diamond version (\d+\.\d+\.\d+)`)

// Version reports the DIAMOND version string.
func (d *Diamond) Version(ctx context.Context) (string, error) {
	out, err := d.run(ctx, "version")
	if err != nil {
		return "", err
	}
	if m := versionPattern.FindStringSubmatch(out); m != nil {
		return m[1], nil
	}
	return strings.TrimSpace(out), nil
}

func (d *Diamond) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ProcessError{Args: args, ExitCode: exitErr.ExitCode(), Stderr: stderr.String(), Err: err}
		}
		return "", fmt.Errorf("aligner: run diamond: %w", err)
	}
	return stdout.String(), nil
}
