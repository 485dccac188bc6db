package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultBinaryName is looked up in PATH when no explicit path is given.
const DefaultBinaryName = "stream"

// ResolveExecutable turns a configured path into an absolute path to an
// executable regular file.
//
// Bare names (no path separator) are searched in PATH. A file that exists but
// lacks the execute bit gets chmod 0755; if that fails the result is
// ErrExecutableNotExecutable.
func ResolveExecutable(path string) (string, error) {
	if path == "" {
		path = DefaultBinaryName
	}

	if !strings.ContainsRune(path, filepath.Separator) {
		found, err := exec.LookPath(path)
		if err != nil {
			return "", fmt.Errorf("%w: %s not in PATH", ErrExecutableNotFound, path)
		}
		path = found
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, abs)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, abs, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrExecutableNotFound, abs)
	}

	if info.Mode().Perm()&0o111 == 0 {
		if err := os.Chmod(abs, 0o755); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrExecutableNotExecutable, abs, err)
		}
	}

	return abs, nil
}

// BuildExecutable rebuilds the benchmark from source by running
// "make clean" and "make" in sourceDir.
func BuildExecutable(ctx context.Context, sourceDir string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source directory: %s is not a directory", sourceDir)
	}
	if _, err := os.Stat(filepath.Join(sourceDir, "stream.c")); err != nil {
		return fmt.Errorf("stream.c not found in %s: %w", sourceDir, err)
	}

	for _, target := range [][]string{{"clean"}, nil} {
		cmd := exec.CommandContext(ctx, "make", target...)
		cmd.Dir = sourceDir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("make %s failed: %w: %s", strings.Join(target, " "), err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
