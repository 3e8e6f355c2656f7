package inspector

import (
	"time"
)

// Inspector reads basic facts about an image file.
type Inspector interface {
	Inspect(filePath string) (*ImageInfo, error)
	SupportsFile(filePath string) bool
}

// ImageInfo describes a source or encoded image.
type ImageInfo struct {
	Path        string     `json:"path"`
	Format      string     `json:"format"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Size        int64      `json:"size"`
	HasAlpha    bool       `json:"has_alpha"`
	HasEXIF     bool       `json:"has_exif"`
	Orientation int        `json:"orientation,omitempty"`
	Software    string     `json:"software,omitempty"`
	DateTaken   *time.Time `json:"date_taken,omitempty"`
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	HitRate      float64 `json:"hit_rate"`
	TotalQueries int64   `json:"total_queries"`
}

// Dimensions returns "WxH".
func (i *ImageInfo) Dimensions() string {
	return itoa(i.Width) + "x" + itoa(i.Height)
}
