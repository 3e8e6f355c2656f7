package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Tool identifies one of the vendored codec executables.
type Tool string

const (
	Encoder Tool = "cwebp"
	Decoder Tool = "dwebp"
)

// Operating system constants
const (
	OSWindows = "windows"
	OSLinux   = "linux"
	OSDarwin  = "darwin"
)

// Vendored platform subdirectories
const (
	WindowsDir = "windows-x64"
	LinuxDir   = "linux-x86-64"
	MacDir     = "mac-x86-64"
)

// DefaultBinDirName is the directory next to the executable that holds the
// per-platform binaries.
const DefaultBinDirName = "bin"

// UnsupportedPlatformError is returned when no vendored binary exists for the
// operating system.
type UnsupportedPlatformError struct {
	GOOS string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s", e.GOOS)
}

// PlatformDir returns the vendored subdirectory for goos.
func PlatformDir(goos string) (string, error) {
	switch goos {
	case OSWindows:
		return WindowsDir, nil
	case OSLinux:
		return LinuxDir, nil
	case OSDarwin:
		return MacDir, nil
	default:
		return "", &UnsupportedPlatformError{GOOS: goos}
	}
}

// Resolver maps a Tool to the vendored executable for one operating system.
type Resolver struct {
	BaseDir string
	GOOS    string
}

// NewResolver returns a Resolver for the running operating system.
func NewResolver(baseDir string) *Resolver {
	return &Resolver{
		BaseDir: baseDir,
		GOOS:    runtime.GOOS,
	}
}

// Resolve returns the absolute path of the executable for tool.
// It does not touch the filesystem.
func (r *Resolver) Resolve(tool Tool) (string, error) {
	dir, err := PlatformDir(r.GOOS)
	if err != nil {
		return "", err
	}

	name := string(tool)
	if r.GOOS == OSWindows {
		name += ".exe"
	}

	base, err := filepath.Abs(r.BaseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	return filepath.Join(base, dir, name), nil
}

// ResolveAll returns the paths of both vendored tools, encoder first.
func (r *Resolver) ResolveAll() (map[Tool]string, error) {
	paths := make(map[Tool]string, 2)
	for _, tool := range []Tool{Encoder, Decoder} {
		p, err := r.Resolve(tool)
		if err != nil {
			return nil, err
		}
		paths[tool] = p
	}
	return paths, nil
}

// DefaultBaseDir returns the bin directory next to the running executable,
// falling back to ./bin when the executable path is unknown.
func DefaultBaseDir() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultBinDirName
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), DefaultBinDirName)
}
