package inspector

import (
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// 1x1 lossless WebP.
const tinyWebP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writePNG(t *testing.T, path string, w, h int, alpha uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: alpha})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
}

func TestInspectPNG(t *testing.T) {
	dir := t.TempDir()
	opaque := filepath.Join(dir, "opaque.png")
	translucent := filepath.Join(dir, "translucent.png")
	writePNG(t, opaque, 32, 16, 255)
	writePNG(t, translucent, 8, 8, 128)

	i := NewImageInspector(quietLogger(), false)
	defer i.Close()

	info, err := i.Inspect(opaque)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if info.Format != "png" || info.Width != 32 || info.Height != 16 {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.Dimensions() != "32x16" {
		t.Errorf("Dimensions() = %s", info.Dimensions())
	}
	if info.HasAlpha || info.HasEXIF {
		t.Errorf("Expected opaque image without EXIF: %+v", info)
	}
	if info.Size <= 0 {
		t.Errorf("Expected file size, got %d", info.Size)
	}

	info, err = i.Inspect(translucent)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if !info.HasAlpha {
		t.Errorf("Expected alpha for translucent image: %+v", info)
	}
}

func TestInspectJPEGWithoutEXIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, 10, 20)), nil); err != nil {
		t.Fatalf("Failed to encode jpeg: %v", err)
	}
	f.Close()

	info, err := NewImageInspector(quietLogger(), false).Inspect(path)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if info.Format != "jpeg" || info.Width != 10 || info.Height != 20 {
		t.Errorf("Unexpected info: %+v", info)
	}
	if info.HasEXIF || info.Orientation != 0 || info.DateTaken != nil {
		t.Errorf("Expected no EXIF data: %+v", info)
	}
}

func TestInspectWebP(t *testing.T) {
	data, err := base64.StdEncoding.DecodeString(tinyWebP)
	if err != nil {
		t.Fatalf("Failed to decode fixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tiny.webp")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	info, err := NewImageInspector(quietLogger(), false).Inspect(path)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if info.Format != "webp" || info.Width != 1 || info.Height != 1 {
		t.Errorf("Unexpected info: %+v", info)
	}
}

func TestInspectErrors(t *testing.T) {
	i := NewImageInspector(quietLogger(), false)
	dir := t.TempDir()

	if _, err := i.Inspect(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}

	garbage := filepath.Join(dir, "garbage.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := i.Inspect(garbage); err == nil {
		t.Error("Expected error for undecodable file")
	}
}

func TestInspectCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, 4, 4, 255)

	i := NewImageInspector(quietLogger(), false)
	for n := 0; n < 3; n++ {
		if _, err := i.Inspect(path); err != nil {
			t.Fatalf("Inspect returned error: %v", err)
		}
	}

	stats := i.GetCacheStats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.TotalQueries != 3 {
		t.Errorf("Unexpected cache stats: %+v", stats)
	}

	i.ClearCache()
	if i.GetCacheStats().TotalQueries != 0 {
		t.Error("Expected cleared stats")
	}
	if _, err := i.Inspect(path); err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if stats := i.GetCacheStats(); stats.Misses != 1 || stats.Hits != 0 {
		t.Errorf("Expected a miss after ClearCache, got %+v", stats)
	}
}

func TestClearCacheConcurrentWithInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, 4, 4, 255)

	i := NewImageInspector(quietLogger(), false)
	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := i.Inspect(path); err != nil {
				t.Errorf("Inspect returned error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			i.ClearCache()
		}()
	}
	wg.Wait()
}

func TestSupportsFile(t *testing.T) {
	i := NewImageInspector(quietLogger(), false)
	for _, name := range []string{"a.PNG", "b.jpeg", "c.webp", "d.tif"} {
		if !i.SupportsFile(name) {
			t.Errorf("Expected %s to be supported", name)
		}
	}
	if i.SupportsFile("e.txt") {
		t.Error("Expected .txt to be unsupported")
	}
}
