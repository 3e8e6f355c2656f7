package platform

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestEnsureExecutable(t *testing.T) {
	if runtime.GOOS == OSWindows {
		t.Skip("execute bits are not used on windows")
	}

	path := filepath.Join(t.TempDir(), "cwebp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if err := EnsureExecutable(path); err != nil {
		t.Fatalf("EnsureExecutable returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat file: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("Expected mode 0755, got %o", info.Mode().Perm())
	}

	// Second call should not fail
	if err := EnsureExecutable(path); err != nil {
		t.Fatalf("EnsureExecutable failed on executable file: %v", err)
	}
}

func TestEnsureExecutableMissingFile(t *testing.T) {
	err := EnsureExecutable(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestEnsureExecutableDirectory(t *testing.T) {
	if err := EnsureExecutable(t.TempDir()); err == nil {
		t.Fatal("Expected error for directory")
	}
}
