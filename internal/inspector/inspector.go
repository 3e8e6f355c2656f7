package inspector

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedExtensions lists the formats the inspector can decode.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".tiff", ".tif", ".bmp", ".webp"}

// ImageInspector decodes image headers and metadata. Results are cached per
// path, size and modification time.
type ImageInspector struct {
	logger   *logrus.Logger
	exiftool *exiftool.Exiftool
	cache    sync.Map
	stats    CacheStats
	mutex    sync.RWMutex
}

// NewImageInspector returns a new ImageInspector. With useExiftool set it
// starts an exiftool process for metadata goexif cannot read; if exiftool is
// not installed it carries on without it.
func NewImageInspector(logger *logrus.Logger, useExiftool bool) *ImageInspector {
	i := &ImageInspector{
		logger: logger,
	}
	if useExiftool {
		et, err := exiftool.NewExiftool()
		if err != nil {
			logger.Debugf("exiftool unavailable, using goexif only: %v", err)
		} else {
			i.exiftool = et
		}
	}
	return i
}

// Close stops the exiftool process, if any.
func (i *ImageInspector) Close() error {
	if i.exiftool == nil {
		return nil
	}
	return i.exiftool.Close()
}

// SupportsFile reports whether the file extension can be decoded.
func (i *ImageInspector) SupportsFile(filePath string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(filePath)))
}

// Inspect returns the dimensions, format, alpha and metadata of filePath.
func (i *ImageInspector) Inspect(filePath string) (*ImageInfo, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	key := cacheKey(filePath, fileInfo)
	if value, ok := i.cache.Load(key); ok {
		i.recordQuery(true)
		info := value.(ImageInfo)
		return &info, nil
	}
	i.recordQuery(false)

	info, err := i.decode(filePath)
	if err != nil {
		return nil, err
	}
	info.Size = fileInfo.Size()

	if info.Format == "jpeg" {
		i.readEXIF(filePath, info)
	}
	if i.exiftool != nil {
		i.readExiftool(filePath, info)
	}

	i.cache.Store(key, *info)
	return info, nil
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (i *ImageInspector) ClearCache() {
	i.cache.Range(func(key, _ interface{}) bool {
		i.cache.Delete(key)
		return true
	})
	i.mutex.Lock()
	i.stats = CacheStats{}
	i.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this inspector.
func (i *ImageInspector) GetCacheStats() CacheStats {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	stats := i.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

// decode reads the header for format and size, then the full image through
// imaging to find out whether any pixel is translucent.
func (i *ImageInspector) decode(filePath string) (*ImageInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	cfg, format, err := image.DecodeConfig(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	info := &ImageInfo{
		Path:   filePath,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}

	img, err := imaging.Open(filePath)
	if err != nil {
		i.logger.Debugf("Could not decode pixels of %s: %v", filePath, err)
		return info, nil
	}
	if opaque, ok := img.(interface{ Opaque() bool }); ok {
		info.HasAlpha = !opaque.Opaque()
	}
	return info, nil
}

// readEXIF fills orientation and capture date from JPEG EXIF data.
func (i *ImageInspector) readEXIF(filePath string, info *ImageInfo) {
	file, err := os.Open(filePath)
	if err != nil {
		return
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		i.logger.Debugf("No EXIF in %s: %v", filePath, err)
		return
	}
	info.HasEXIF = true

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			info.Orientation = v
		}
	}
	if tm, err := x.DateTime(); err == nil {
		info.DateTaken = &tm
	}
	if tag, err := x.Get(exif.Software); err == nil {
		if v, err := tag.StringVal(); err == nil {
			info.Software = strings.TrimSpace(v)
		}
	}
}

// readExiftool fills fields goexif left empty.
func (i *ImageInspector) readExiftool(filePath string, info *ImageInfo) {
	files := i.exiftool.ExtractMetadata(filePath)
	if len(files) == 0 || files[0].Err != nil {
		return
	}
	fields := files[0].Fields

	if info.Software == "" {
		if sw, ok := fields["Software"].(string); ok {
			info.Software = sw
		}
	}
	if info.DateTaken == nil {
		for _, name := range []string{"DateTimeOriginal", "CreateDate"} {
			if s, ok := fields[name].(string); ok {
				if tm, err := time.Parse("2006:01:02 15:04:05", s); err == nil {
					info.DateTaken = &tm
					break
				}
			}
		}
	}
	if info.Orientation == 0 {
		if v, ok := fields["Orientation"].(float64); ok {
			info.Orientation = int(v)
		}
	}
}

func (i *ImageInspector) recordQuery(hit bool) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if hit {
		i.stats.Hits++
	} else {
		i.stats.Misses++
	}
	i.stats.TotalQueries++
}

func cacheKey(filePath string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", filePath, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
