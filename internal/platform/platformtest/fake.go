// Package platformtest installs stand-in codec executables for tests.
package platformtest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"cwebp-go/internal/platform"
)

// FailMarker makes the fake encoder write a partial output and exit non-zero
// when it appears in the input file name.
const FailMarker = "corrupt"

// ArgPrefix prefixes every argv entry echoed to stderr by the fake encoder.
const ArgPrefix = "arg:"

// fakeEncoder mimics cwebp closely enough for the wrapper: it echoes its
// arguments to stderr, fails on unreadable input and copies input to -o.
const fakeEncoder = `#!/bin/sh
for a in "$@"; do
  echo "` + ArgPrefix + `$a" >&2
done
in="$1"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then
    shift
    out="$1"
  fi
  shift
done
if [ ! -f "$in" ]; then
  echo "Error! Could not process file $in" >&2
  exit 255
fi
case "$in" in
  *` + FailMarker + `*)
    printf 'RIFF' > "$out"
    echo "Error! Cannot encode picture as WebP" >&2
    exit 1
    ;;
esac
cp "$in" "$out" || exit 1
echo "Saving file '$out'" >&2
`

const fakeDecoder = `#!/bin/sh
echo "dwebp stub" >&2
`

// Install writes fake cwebp and dwebp scripts under baseDir for the running
// platform and returns a Resolver pointing at them. The scripts are written
// without execute bits so tests can observe permission granting. Tests are
// skipped where POSIX shell scripts cannot run.
func Install(t *testing.T, baseDir string) *platform.Resolver {
	t.Helper()

	if runtime.GOOS == platform.OSWindows {
		t.Skip("fake codec scripts require a POSIX shell")
	}
	dir, err := platform.PlatformDir(runtime.GOOS)
	if err != nil {
		t.Skipf("no vendored layout for %s", runtime.GOOS)
	}

	toolDir := filepath.Join(baseDir, dir)
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		t.Fatalf("create tool dir: %v", err)
	}
	scripts := map[platform.Tool]string{
		platform.Encoder: fakeEncoder,
		platform.Decoder: fakeDecoder,
	}
	for tool, body := range scripts {
		if err := os.WriteFile(filepath.Join(toolDir, string(tool)), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", tool, err)
		}
	}
	return platform.NewResolver(baseDir)
}
