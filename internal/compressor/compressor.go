package compressor

import (
	"context"
	"fmt"
	"strings"

	"cwebp-go/internal/platform"
)

// Result describes one encoder invocation.
type Result struct {
	Log            string `json:"log"`
	OutputFilepath string `json:"outputFilepath"`
}

// Compressor defines the interface for image compression.
type Compressor interface {
	// Compress encodes imageFilepath next to itself with a .webp extension.
	// A nil opts passes no optional flags.
	Compress(ctx context.Context, imageFilepath string, opts *Options) (*Result, error)
}

// ExecutionError is returned when the encoder exits non-zero or cannot be
// started. Log holds the process's diagnostic output.
type ExecutionError struct {
	Path string
	Args []string
	Log  string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v: %s", e.Path, e.Err, strings.TrimSpace(e.Log))
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// InitError is returned when a vendored tool cannot be resolved or made
// executable.
type InitError struct {
	Tool platform.Tool
	Path string
	Err  error
}

func (e *InitError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("initialize %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("initialize %s (%s): %v", e.Tool, e.Path, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
