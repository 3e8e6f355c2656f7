package platform

import (
	"fmt"
	"os"
	"runtime"
)

// ExecutableBits are added to a vendored binary's mode.
const ExecutableBits os.FileMode = 0o111

// EnsureExecutable adds the execute bits to the file at path. It is a no-op on
// Windows, where executability is not a mode bit. Calling it repeatedly is safe.
func EnsureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS == OSWindows {
		return nil
	}

	mode := info.Mode().Perm()
	if mode&ExecutableBits == ExecutableBits {
		return nil
	}
	if err := os.Chmod(path, mode|ExecutableBits); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
