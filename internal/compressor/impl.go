package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"cwebp-go/internal/logger"
	"cwebp-go/internal/platform"

	"github.com/sirupsen/logrus"
)

// CWebPCompressor runs the vendored cwebp encoder.
type CWebPCompressor struct {
	resolver *platform.Resolver
	logger   *logrus.Logger

	readyMutex  sync.Mutex
	ready       bool
	encoderPath string
}

// NewCWebPCompressor returns a compressor that resolves its binaries through
// resolver. A nil logger discards log output.
func NewCWebPCompressor(resolver *platform.Resolver, logger *logrus.Logger) *CWebPCompressor {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &CWebPCompressor{
		resolver: resolver,
		logger:   logger,
	}
}

var (
	defaultOnce       sync.Once
	defaultCompressor *CWebPCompressor
	defaultBaseDir    = platform.DefaultBaseDir
)

// Default returns the process-wide compressor using platform.DefaultBaseDir.
func Default() *CWebPCompressor {
	defaultOnce.Do(func() {
		defaultCompressor = NewCWebPCompressor(platform.NewResolver(defaultBaseDir()), nil)
	})
	return defaultCompressor
}

// Compress encodes imageFilepath with the default compressor.
func Compress(ctx context.Context, imageFilepath string, opts *Options) (*Result, error) {
	return Default().Compress(ctx, imageFilepath, opts)
}

// EnsureReady resolves both vendored tools and marks them executable. Success
// is remembered; a failure is returned and retried on the next call.
func (c *CWebPCompressor) EnsureReady() error {
	c.readyMutex.Lock()
	defer c.readyMutex.Unlock()

	if c.ready {
		return nil
	}

	var encoderPath string
	for _, tool := range []platform.Tool{platform.Encoder, platform.Decoder} {
		path, err := c.resolver.Resolve(tool)
		if err != nil {
			return &InitError{Tool: tool, Err: err}
		}
		if err := platform.EnsureExecutable(path); err != nil {
			return &InitError{Tool: tool, Path: path, Err: err}
		}
		if tool == platform.Encoder {
			encoderPath = path
		}
		c.logger.WithFields(logrus.Fields{
			"tool": tool,
			"path": path,
		}).Debug("Vendored tool ready")
	}

	c.encoderPath = encoderPath
	c.ready = true
	return nil
}

// EncoderPath returns the resolved encoder path, or "" before EnsureReady
// has succeeded.
func (c *CWebPCompressor) EncoderPath() string {
	c.readyMutex.Lock()
	defer c.readyMutex.Unlock()
	return c.encoderPath
}

// Compress runs the encoder on imageFilepath and returns the derived output
// path with the encoder's stderr. The output file's existence is not checked.
func (c *CWebPCompressor) Compress(ctx context.Context, imageFilepath string, opts *Options) (*Result, error) {
	if err := c.EnsureReady(); err != nil {
		return nil, err
	}
	encoderPath := c.EncoderPath()

	outputPath := platform.DeriveOutputPath(imageFilepath)
	args := BuildArgs(imageFilepath, outputPath, opts)
	entry := logger.WithFileOperation(c.logger, imageFilepath, "compress").WithField("output", outputPath)

	before := statOutput(outputPath)

	var stderr, stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, encoderPath, args...)
	cmd.Stderr = &stderr
	cmd.Stdout = &stdout

	entry.WithField("args", args).Debug("Running encoder")
	start := time.Now()
	err := cmd.Run()
	if err != nil {
		log := stderr.String()
		if log == "" {
			log = err.Error()
		}
		// A .webp input derives to itself and is never removed.
		if outputPath != imageFilepath {
			c.removePartialOutput(outputPath, before, entry)
		}
		entry.WithError(err).Warn("Encoder failed")
		return nil, &ExecutionError{
			Path: encoderPath,
			Args: args,
			Log:  log,
			Err:  err,
		}
	}

	if stdout.Len() > 0 {
		entry.Debugf("Encoder stdout: %s", stdout.String())
	}
	entry.WithField("duration", time.Since(start)).Info("Image compressed")

	return &Result{
		Log:            stderr.String(),
		OutputFilepath: outputPath,
	}, nil
}

// outputState records what was at the output path before the encoder ran.
type outputState struct {
	existed bool
	modTime time.Time
	size    int64
}

func statOutput(path string) outputState {
	info, err := os.Stat(path)
	if err != nil {
		return outputState{}
	}
	return outputState{existed: true, modTime: info.ModTime(), size: info.Size()}
}

// removePartialOutput deletes the output file if the failed run created or
// changed it. A file left untouched is kept.
func (c *CWebPCompressor) removePartialOutput(path string, before outputState, entry *logrus.Entry) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if before.existed && info.ModTime().Equal(before.modTime) && info.Size() == before.size {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		entry.WithError(err).Warn("Failed to remove partial output")
		return
	}
	entry.Debug("Removed partial output")
}

// String returns a short description of the compressor state.
func (c *CWebPCompressor) String() string {
	if path := c.EncoderPath(); path != "" {
		return fmt.Sprintf("cwebp at %s", path)
	}
	return "cwebp (not initialized)"
}
