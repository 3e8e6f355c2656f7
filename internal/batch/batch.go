package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cwebp-go/internal/compressor"
	"cwebp-go/internal/config"
	"cwebp-go/internal/inspector"
	"cwebp-go/internal/logger"
	"cwebp-go/internal/platform"
	"cwebp-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// LogHookFunc receives every per-file message, for example to stream it to
// websocket clients.
type LogHookFunc func(level, message string)

// Action values reported in FileResult.
const (
	ActionCompressed = "compressed"
	ActionSkipped    = "skipped"
	ActionDryRun     = "dry-run"
	ActionError      = "error"
)

// FileInfo contains information about a file to be compressed.
type FileInfo struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Extension string

	// DuplicateOf names the earlier input that derives the same output
	// path. Such a file is reported as an error and never compressed.
	DuplicateOf string
}

// FileResult describes the outcome for one file.
type FileResult struct {
	InputPath  string               `json:"input_path"`
	OutputPath string               `json:"output_path"`
	Action     string               `json:"action"`
	InputSize  int64                `json:"input_size"`
	OutputSize int64                `json:"output_size"`
	Log        string               `json:"log,omitempty"`
	Error      string               `json:"error,omitempty"`
	Output     *inspector.ImageInfo `json:"output,omitempty"`
}

// Runner compresses every matching file under a directory through a bounded
// pool of workers. The compressor itself places no limit on concurrent
// processes, so the pool size is the limit.
type Runner struct {
	config     config.BatchConfig
	options    *compressor.Options
	compressor compressor.Compressor
	inspector  inspector.Inspector
	logger     *logrus.Logger
	stats      *statistics.Statistics
	workers    int

	logHook LogHookFunc
}

// NewRunner returns a new Runner. The inspector is only used when
// VerifyOutput is enabled and may be nil otherwise.
func NewRunner(
	cfg config.BatchConfig,
	opts *compressor.Options,
	comp compressor.Compressor,
	insp inspector.Inspector,
	logger *logrus.Logger,
	stats *statistics.Statistics,
) *Runner {
	return NewRunnerWithLogHook(cfg, opts, comp, insp, logger, stats, nil)
}

// NewRunnerWithLogHook is NewRunner with a hook receiving per-file messages.
func NewRunnerWithLogHook(
	cfg config.BatchConfig,
	opts *compressor.Options,
	comp compressor.Compressor,
	insp inspector.Inspector,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	logHook LogHookFunc,
) *Runner {
	workers := cfg.WorkerThreads
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		config:     cfg,
		options:    opts,
		compressor: comp,
		inspector:  insp,
		logger:     logger,
		stats:      stats,
		workers:    workers,
		logHook:    logHook,
	}
}

// Run compresses all supported files under sourceDir. Per-file failures are
// recorded in the results and statistics; the returned error covers only
// discovery failures and cancellation.
func (r *Runner) Run(ctx context.Context, sourceDir string) ([]FileResult, error) {
	r.logger.WithField("directory", sourceDir).Info("Starting batch compression")
	r.stats.StartTime = time.Now()

	files, err := r.discoverFiles(ctx, sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	if len(files) == 0 {
		r.logger.Info("No images found to compress")
		r.stats.Finalize()
		return nil, nil
	}
	r.logger.Infof("Found %d images to compress", len(files))

	results := r.processFiles(ctx, files)

	r.stats.Finalize()
	r.logger.Info("Batch compression completed")
	return results, ctx.Err()
}

// discoverFiles finds all supported images in sourceDir.
func (r *Runner) discoverFiles(ctx context.Context, sourceDir string) ([]FileInfo, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", sourceDir)
	}

	var files []FileInfo
	outputs := make(map[string]string)
	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			r.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}

		if info.IsDir() {
			if path != sourceDir && !r.config.Recursive {
				return filepath.SkipDir
			}
			r.stats.IncrementDirectoriesScanned()
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext == platform.OutputExtension || !r.isSupported(ext) {
			return nil
		}

		file := FileInfo{
			Path:      path,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Extension: ext,
		}
		output := platform.DeriveOutputPath(path)
		if first, ok := outputs[output]; ok {
			file.DuplicateOf = first
		} else {
			outputs[output] = path
		}
		files = append(files, file)
		r.stats.IncrementFilesFound()
		r.stats.IncrementFileType(strings.ToUpper(strings.TrimPrefix(ext, ".")))

		if r.config.MaxFilesPerRun > 0 && len(files) >= r.config.MaxFilesPerRun {
			r.logger.Infof("Reached maximum files limit (%d), stopping discovery", r.config.MaxFilesPerRun)
			return filepath.SkipAll
		}
		return nil
	})

	return files, err
}

// processFiles fans files out to the worker pool and keeps results in
// discovery order.
func (r *Runner) processFiles(ctx context.Context, files []FileInfo) []FileResult {
	type job struct {
		index int
		file  FileInfo
	}

	results := make([]FileResult, len(files))
	jobs := make(chan job)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = r.processFile(ctx, j.file)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, file := range files {
			select {
			case jobs <- job{index: i, file: file}:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	// Files never handed to a worker because of cancellation.
	for i, res := range results {
		if res.Action == "" {
			results[i] = FileResult{
				InputPath:  files[i].Path,
				OutputPath: platform.DeriveOutputPath(files[i].Path),
				Action:     ActionSkipped,
				InputSize:  files[i].Size,
				Error:      context.Canceled.Error(),
			}
		}
	}
	return results
}

// processFile compresses a single file.
func (r *Runner) processFile(ctx context.Context, file FileInfo) FileResult {
	logger.WithOperation(r.logger, "compress").Debugf("Processing file: %s", file.Path)
	r.stats.IncrementFilesProcessed()

	res := FileResult{
		InputPath:  file.Path,
		OutputPath: platform.DeriveOutputPath(file.Path),
		InputSize:  file.Size,
	}

	if file.DuplicateOf != "" {
		res.Action = ActionError
		res.Error = fmt.Sprintf("duplicate output path %s, already produced from %s", res.OutputPath, file.DuplicateOf)
		r.stats.AddError(file.Path, "compress", res.Error)
		r.emit(logrus.ErrorLevel, file.Path, fmt.Sprintf("Not compressing %s: %s", file.Path, res.Error))
		return res
	}

	if r.config.SkipExisting && isUpToDate(res.OutputPath, file.ModTime) {
		res.Action = ActionSkipped
		r.stats.IncrementFilesSkipped()
		r.emit(logrus.InfoLevel, file.Path, fmt.Sprintf("Skipping up-to-date output: %s", res.OutputPath))
		return res
	}

	if r.config.DryRun {
		res.Action = ActionDryRun
		r.emit(logrus.InfoLevel, file.Path, fmt.Sprintf("DRY-RUN: Would compress %s -> %s", file.Path, res.OutputPath))
		return res
	}

	result, err := r.compressor.Compress(ctx, file.Path, r.options)
	if err != nil {
		res.Action = ActionError
		res.Error = err.Error()
		var execErr *compressor.ExecutionError
		if errors.As(err, &execErr) {
			res.Log = execErr.Log
		}
		r.stats.AddError(file.Path, "compress", err.Error())
		r.emit(logrus.ErrorLevel, file.Path, fmt.Sprintf("Could not compress %s: %v", file.Path, err))
		return res
	}

	res.Action = ActionCompressed
	res.Log = result.Log
	res.OutputPath = result.OutputFilepath
	if info, err := os.Stat(result.OutputFilepath); err == nil {
		res.OutputSize = info.Size()
	}
	r.stats.RecordCompressed(file.Size, res.OutputSize)

	if r.config.VerifyOutput && r.inspector != nil {
		info, err := r.inspector.Inspect(result.OutputFilepath)
		if err != nil {
			r.emit(logrus.WarnLevel, file.Path, fmt.Sprintf("Could not verify %s: %v", result.OutputFilepath, err))
		} else {
			res.Output = info
		}
	}

	r.emit(logrus.InfoLevel, file.Path, fmt.Sprintf("Compressed %s -> %s", file.Path, res.OutputPath))
	return res
}

func (r *Runner) isSupported(ext string) bool {
	for _, supported := range r.config.Extensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// emit logs message for filePath and forwards it to the hook.
func (r *Runner) emit(level logrus.Level, filePath, message string) {
	logger.WithFile(r.logger, filePath).Log(level, message)
	if r.logHook != nil {
		r.logHook(level.String(), message)
	}
}

// isUpToDate reports whether outputPath exists and is not older than the source.
func isUpToDate(outputPath string, sourceModTime time.Time) bool {
	info, err := os.Stat(outputPath)
	if err != nil {
		return false
	}
	return !info.ModTime().Before(sourceModTime)
}
