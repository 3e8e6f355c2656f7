package platform

import (
	"path/filepath"
	"strings"
)

// OutputExtension is the extension given to encoder output.
const OutputExtension = ".webp"

// DeriveOutputPath replaces the extension of the final path segment with
// OutputExtension. Only the last segment is inspected, so dots in directory
// names are left alone. Names without an extension, including dot-files,
// get the extension appended.
func DeriveOutputPath(input string) string {
	dir, base := filepath.Split(input)

	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return dir + base + OutputExtension
}
