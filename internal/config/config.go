package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cwebp-go/internal/compressor"
	"cwebp-go/internal/platform"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
const EnvPrefix = "CWEBP_GO"

// envKeys are the settings that can be overridden with CWEBP_GO_<KEY>, dots
// replaced by underscores (CWEBP_GO_COMPRESS_QUALITY).
var envKeys = []string{
	"bin_directory",
	"compress.quality",
	"compress.lossless.level",
	"compress.lossless.preserve_transparency",
	"compress.near_lossless",
	"compress.alpha_quality",
	"compress.preset",
	"compress.compression_level",
	"compress.multi_threaded",
	"compress.low_memory",
	"batch.worker_threads",
	"batch.recursive",
	"batch.skip_existing",
	"batch.max_files_per_run",
	"batch.dry_run",
	"batch.verify_output",
	"server.port",
	"logging.level",
	"logging.format",
	"logging.file_path",
}

// Config represents the main configuration structure
type Config struct {
	BinDirectory string             `mapstructure:"bin_directory"`
	Compress     compressor.Options `mapstructure:"compress"`
	Batch        BatchConfig        `mapstructure:"batch"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// BatchConfig contains directory compression settings
type BatchConfig struct {
	Extensions     []string `mapstructure:"extensions"`
	WorkerThreads  int      `mapstructure:"worker_threads"`
	Recursive      bool     `mapstructure:"recursive"`
	SkipExisting   bool     `mapstructure:"skip_existing"`
	MaxFilesPerRun int      `mapstructure:"max_files_per_run"`
	DryRun         bool     `mapstructure:"dry_run"`
	VerifyOutput   bool     `mapstructure:"verify_output"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		BinDirectory: platform.DefaultBaseDir(),
		Batch: BatchConfig{
			Extensions:     []string{".png", ".jpg", ".jpeg", ".tiff", ".tif"},
			WorkerThreads:  4,
			Recursive:      true,
			SkipExisting:   false,
			MaxFilesPerRun: 0, // 0 means no limit
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from a .env file, a YAML file and
// environment variables, in increasing order of precedence.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	config := DefaultConfig()
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cwebp-go")
		v.AddConfigPath("/etc/cwebp-go")
	}

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// A configured list replaces the defaults instead of overlaying them.
	if v.IsSet("batch.extensions") {
		config.Batch.Extensions = nil
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	if c.BinDirectory == "" {
		c.BinDirectory = platform.DefaultBaseDir()
	}
	c.BinDirectory = expandPath(c.BinDirectory)

	if err := c.Compress.Validate(); err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	c.Batch.Extensions = normalizeExtensions(c.Batch.Extensions)
	for _, ext := range c.Batch.Extensions {
		if ext == platform.OutputExtension {
			return fmt.Errorf("batch extensions must not include %s", platform.OutputExtension)
		}
	}
	if c.Batch.WorkerThreads <= 0 {
		c.Batch.WorkerThreads = 4
	}
	if c.Batch.MaxFilesPerRun < 0 {
		return fmt.Errorf("max_files_per_run must not be negative: %d", c.Batch.MaxFilesPerRun)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// IsSupportedExtension checks if ext is picked up by batch runs
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.Batch.Extensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = home + expanded[1:]
		}
	}
	return expanded
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
