package compressor

import (
	"fmt"
	"strconv"
)

// Preset is a named bundle of encoder parameters.
type Preset string

const (
	PresetDefault Preset = "default"
	PresetPhoto   Preset = "photo"
	PresetPicture Preset = "picture"
	PresetDrawing Preset = "drawing"
	PresetIcon    Preset = "icon"
	PresetText    Preset = "text"
)

// Presets lists every preset the encoder accepts.
var Presets = []Preset{PresetDefault, PresetPhoto, PresetPicture, PresetDrawing, PresetIcon, PresetText}

// IsValid reports whether p is one of Presets.
func (p Preset) IsValid() bool {
	for _, preset := range Presets {
		if p == preset {
			return true
		}
	}
	return false
}

// Encoder flags
const (
	FlagOutput       = "-o"
	FlagQuality      = "-q"
	FlagResize       = "-resize"
	FlagCrop         = "-crop"
	FlagLosslessZ    = "-z"
	FlagLossless     = "-lossless"
	FlagExact        = "-exact"
	FlagNearLossless = "-near_lossless"
	FlagAlphaQuality = "-alpha_q"
	FlagPreset       = "-preset"
	FlagMethod       = "-m"
	FlagMultiThread  = "-mt"
	FlagLowMemory    = "-low_memory"
)

// Resize scales the output. A zero dimension is derived from the aspect ratio.
type Resize struct {
	Width  int `mapstructure:"width" json:"width"`
	Height int `mapstructure:"height" json:"height"`
}

// Crop selects a rectangle of the source. Bounds are checked by the encoder.
type Crop struct {
	X      int `mapstructure:"x" json:"x"`
	Y      int `mapstructure:"y" json:"y"`
	Width  int `mapstructure:"width" json:"width"`
	Height int `mapstructure:"height" json:"height"`
}

// Lossless enables lossless encoding. With Level set only the level flag is
// emitted and PreserveTransparency is ignored.
type Lossless struct {
	Level                *int `mapstructure:"level" json:"level,omitempty"`
	PreserveTransparency bool `mapstructure:"preserve_transparency" json:"preserveTransparency,omitempty"`
}

// Options maps onto optional encoder flags. A nil field is not passed at all,
// so the encoder's own default applies; zero values are passed as given.
type Options struct {
	Quality          *int      `mapstructure:"quality" json:"quality,omitempty"`
	Resize           *Resize   `mapstructure:"resize" json:"resize,omitempty"`
	Crop             *Crop     `mapstructure:"crop" json:"crop,omitempty"`
	Lossless         *Lossless `mapstructure:"lossless" json:"lossless,omitempty"`
	NearLossless     *int      `mapstructure:"near_lossless" json:"nearLossless,omitempty"`
	AlphaQuality     *int      `mapstructure:"alpha_quality" json:"alphaQuality,omitempty"`
	Preset           Preset    `mapstructure:"preset" json:"preset,omitempty"`
	CompressionLevel *int      `mapstructure:"compression_level" json:"compressionLevel,omitempty"`
	MultiThreaded    bool      `mapstructure:"multi_threaded" json:"multiThreaded,omitempty"`
	LowMemory        bool      `mapstructure:"low_memory" json:"lowMemory,omitempty"`
}

// Int returns a pointer to v, for filling optional fields.
func Int(v int) *int {
	return &v
}

// BuildArgs returns the encoder argument vector. Each flag and each value is a
// separate entry.
func BuildArgs(inputPath, outputPath string, opts *Options) []string {
	args := []string{inputPath, FlagOutput, outputPath}
	if opts == nil {
		return args
	}

	if opts.Quality != nil {
		args = append(args, FlagQuality, itoa(*opts.Quality))
	}
	if opts.Resize != nil {
		args = append(args, FlagResize, itoa(opts.Resize.Width), itoa(opts.Resize.Height))
	}
	if c := opts.Crop; c != nil {
		args = append(args, FlagCrop, itoa(c.X), itoa(c.Y), itoa(c.Width), itoa(c.Height))
	}
	if l := opts.Lossless; l != nil {
		if l.Level != nil {
			args = append(args, FlagLosslessZ, itoa(*l.Level))
		} else {
			args = append(args, FlagLossless)
			if l.PreserveTransparency {
				args = append(args, FlagExact)
			}
		}
	}
	if opts.NearLossless != nil {
		args = append(args, FlagNearLossless, itoa(*opts.NearLossless))
	}
	if opts.AlphaQuality != nil {
		args = append(args, FlagAlphaQuality, itoa(*opts.AlphaQuality))
	}
	if opts.Preset != "" {
		args = append(args, FlagPreset, string(opts.Preset))
	}
	if opts.CompressionLevel != nil {
		args = append(args, FlagMethod, itoa(*opts.CompressionLevel))
	}
	if opts.MultiThreaded {
		args = append(args, FlagMultiThread)
	}
	if opts.LowMemory {
		args = append(args, FlagLowMemory)
	}
	return args
}

// Validate checks ranges and the preset name. Compress does not call it; the
// encoder has the final say.
func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	if err := checkRange("quality", o.Quality, 0, 100); err != nil {
		return err
	}
	if r := o.Resize; r != nil {
		if r.Width < 0 || r.Height < 0 {
			return fmt.Errorf("resize dimensions must not be negative: %dx%d", r.Width, r.Height)
		}
		if r.Width == 0 && r.Height == 0 {
			return fmt.Errorf("resize needs at least one non-zero dimension")
		}
	}
	if c := o.Crop; c != nil {
		if c.X < 0 || c.Y < 0 {
			return fmt.Errorf("crop origin must not be negative: %d,%d", c.X, c.Y)
		}
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("crop size must be positive: %dx%d", c.Width, c.Height)
		}
	}
	if o.Lossless != nil {
		if err := checkRange("lossless level", o.Lossless.Level, 0, 9); err != nil {
			return err
		}
	}
	if err := checkRange("near_lossless", o.NearLossless, 0, 100); err != nil {
		return err
	}
	if err := checkRange("alpha_quality", o.AlphaQuality, 0, 100); err != nil {
		return err
	}
	if o.Preset != "" && !o.Preset.IsValid() {
		return fmt.Errorf("invalid preset: %s (valid: %v)", o.Preset, Presets)
	}
	if err := checkRange("compression_level", o.CompressionLevel, 0, 6); err != nil {
		return err
	}
	return nil
}

// Merge returns a copy of o with every field set in override replacing o's.
// Boolean flags are enabled if either side enables them.
func (o *Options) Merge(override *Options) *Options {
	merged := &Options{}
	if o != nil {
		*merged = *o
	}
	if override == nil {
		return merged
	}

	if override.Quality != nil {
		merged.Quality = override.Quality
	}
	if override.Resize != nil {
		merged.Resize = override.Resize
	}
	if override.Crop != nil {
		merged.Crop = override.Crop
	}
	if override.Lossless != nil {
		merged.Lossless = override.Lossless
	}
	if override.NearLossless != nil {
		merged.NearLossless = override.NearLossless
	}
	if override.AlphaQuality != nil {
		merged.AlphaQuality = override.AlphaQuality
	}
	if override.Preset != "" {
		merged.Preset = override.Preset
	}
	if override.CompressionLevel != nil {
		merged.CompressionLevel = override.CompressionLevel
	}
	merged.MultiThreaded = merged.MultiThreaded || override.MultiThreaded
	merged.LowMemory = merged.LowMemory || override.LowMemory
	return merged
}

func checkRange(name string, v *int, lo, hi int) error {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, *v)
	}
	return nil
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
