package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cwebp-go/internal/batch"
	"cwebp-go/internal/compressor"
	"cwebp-go/internal/config"
	"cwebp-go/internal/inspector"
	"cwebp-go/internal/logger"
	"cwebp-go/internal/platform"
	"cwebp-go/internal/statistics"
	"cwebp-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	binDir     string
	verbose    bool
	quiet      bool
	jsonOutput bool
	dryRun     bool
	port       int
	version    = "dev"
	buildTime  string
)

// Encoder option flags, applied only when set on the command line.
var (
	flagQuality          int
	flagResize           []int
	flagCrop             []int
	flagLossless         bool
	flagLosslessLevel    int
	flagExact            bool
	flagNearLossless     int
	flagAlphaQuality     int
	flagPreset           string
	flagCompressionLevel int
	flagMultiThreaded    bool
	flagLowMemory        bool
	flagVerify           bool
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "cwebp-go",
	Short: "Convert images to WebP with the vendored cwebp encoder",
	Long: `cwebp-go runs the cwebp encoder shipped next to it (bin/<platform>/cwebp)
and writes <name>.webp beside each input image.

Features:
- Every encoder option as a typed flag, passed without a shell
- Batch conversion of whole directories with a bounded worker pool
- Image inspection (dimensions, alpha, EXIF)
- HTTP API with WebSocket progress for batch jobs`,
	SilenceUsage: true,
}

// compressCmd converts a single image.
var compressCmd = &cobra.Command{
	Use:   "compress <file>",
	Short: "Convert one image to WebP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args[0])
	},
}

// batchCmd converts every supported image in a directory.
var batchCmd = &cobra.Command{
	Use:   "batch [directory]",
	Short: "Convert every supported image in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return runBatch(cmd, dir)
	},
}

// inspectCmd prints facts about an image file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show dimensions, alpha and metadata of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// platformCmd reports the resolved encoder and decoder.
var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Show the vendored binaries for this platform and make them executable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlatform()
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP API exposing single-image compression, directory batches,
image inspection and a WebSocket stream of batch progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&binDir, "bin-dir", "", "directory holding the per-platform binaries")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	for _, cmd := range []*cobra.Command{compressCmd, batchCmd} {
		addEncoderFlags(cmd)
	}
	batchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be converted without running the encoder")
	batchCmd.Flags().BoolVar(&flagVerify, "verify", false, "decode every output to check it")
	compressCmd.Flags().BoolVar(&flagVerify, "verify", false, "decode the output to check it")
	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the API server on (default from config)")

	rootCmd.AddCommand(compressCmd, batchCmd, inspectCmd, platformCmd, serveCmd)
	rootCmd.Version = version
	if buildTime != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}
}

func addEncoderFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVarP(&flagQuality, "quality", "q", 75, "quality factor 0-100")
	f.IntSliceVar(&flagResize, "resize", nil, "resize to WIDTH,HEIGHT (0 keeps aspect ratio)")
	f.IntSliceVar(&flagCrop, "crop", nil, "crop X,Y,WIDTH,HEIGHT before encoding")
	f.BoolVar(&flagLossless, "lossless", false, "encode losslessly")
	f.IntVarP(&flagLosslessLevel, "lossless-level", "z", 6, "lossless preset level 0-9 (implies --lossless)")
	f.BoolVar(&flagExact, "exact", false, "keep RGB values under transparent areas (with --lossless)")
	f.IntVar(&flagNearLossless, "near-lossless", 100, "near-lossless preprocessing 0-100")
	f.IntVar(&flagAlphaQuality, "alpha-quality", 100, "alpha plane quality 0-100")
	f.StringVar(&flagPreset, "preset", "", "preset: default, photo, picture, drawing, icon, text")
	f.IntVarP(&flagCompressionLevel, "method", "m", 4, "compression method 0-6 (slower is smaller)")
	f.BoolVar(&flagMultiThreaded, "mt", false, "use multi-threading")
	f.BoolVar(&flagLowMemory, "low-memory", false, "reduce memory usage")
}

// optionsFromFlags builds Options from the flags the user actually set, so an
// untouched flag never overrides the encoder default.
func optionsFromFlags(cmd *cobra.Command) (*compressor.Options, error) {
	f := cmd.Flags()
	opts := &compressor.Options{}

	if f.Changed("quality") {
		opts.Quality = compressor.Int(flagQuality)
	}
	if f.Changed("resize") {
		if len(flagResize) != 2 {
			return nil, fmt.Errorf("--resize needs WIDTH,HEIGHT")
		}
		opts.Resize = &compressor.Resize{Width: flagResize[0], Height: flagResize[1]}
	}
	if f.Changed("crop") {
		if len(flagCrop) != 4 {
			return nil, fmt.Errorf("--crop needs X,Y,WIDTH,HEIGHT")
		}
		opts.Crop = &compressor.Crop{X: flagCrop[0], Y: flagCrop[1], Width: flagCrop[2], Height: flagCrop[3]}
	}
	if f.Changed("lossless-level") {
		opts.Lossless = &compressor.Lossless{Level: compressor.Int(flagLosslessLevel)}
	} else if flagLossless || f.Changed("exact") {
		opts.Lossless = &compressor.Lossless{PreserveTransparency: flagExact}
	}
	if f.Changed("near-lossless") {
		opts.NearLossless = compressor.Int(flagNearLossless)
	}
	if f.Changed("alpha-quality") {
		opts.AlphaQuality = compressor.Int(flagAlphaQuality)
	}
	if f.Changed("preset") {
		opts.Preset = compressor.Preset(flagPreset)
	}
	if f.Changed("method") {
		opts.CompressionLevel = compressor.Int(flagCompressionLevel)
	}
	opts.MultiThreaded = flagMultiThreaded
	opts.LowMemory = flagLowMemory

	return opts, nil
}

// runCompress converts a single file.
func runCompress(cmd *cobra.Command, input string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	flagOpts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	opts := cfg.Compress.Merge(flagOpts)
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	comp := compressor.NewCWebPCompressor(platform.NewResolver(cfg.BinDirectory), log)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := comp.Compress(ctx, input, opts)
	if err != nil {
		var execErr *compressor.ExecutionError
		if errors.As(err, &execErr) {
			fmt.Fprint(os.Stderr, execErr.Log)
		}
		return err
	}

	output := map[string]interface{}{
		"log":            result.Log,
		"outputFilepath": result.OutputFilepath,
	}
	if flagVerify {
		insp := inspector.NewImageInspector(log, false)
		defer insp.Close()
		info, err := insp.Inspect(result.OutputFilepath)
		if err != nil {
			return fmt.Errorf("verify output: %w", err)
		}
		output["output"] = info
	}

	if jsonOutput {
		return printJSON(output)
	}
	if !quiet {
		fmt.Fprint(os.Stderr, result.Log)
		fmt.Println(result.OutputFilepath)
	}
	return nil
}

// runBatch converts a directory.
func runBatch(cmd *cobra.Command, dir string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	flagOpts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	opts := cfg.Compress.Merge(flagOpts)
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	batchCfg := cfg.Batch
	batchCfg.DryRun = batchCfg.DryRun || dryRun
	batchCfg.VerifyOutput = batchCfg.VerifyOutput || flagVerify

	insp := inspector.NewImageInspector(log, false)
	defer insp.Close()

	stats := statistics.NewStatistics()
	comp := compressor.NewCWebPCompressor(platform.NewResolver(cfg.BinDirectory), log)
	runner := batch.NewRunner(batchCfg, opts, comp, insp, log, stats)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := runner.Run(ctx, dir)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{
			"results":    results,
			"statistics": stats.Snapshot(),
		})
	}
	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		fmt.Println("\n" + stats.GetFileTypeBreakdown())
		fmt.Println(stats.GetErrorSummary())
	}
	if stats.Snapshot().FilesWithErrors > 0 {
		return fmt.Errorf("%d files failed", stats.Snapshot().FilesWithErrors)
	}
	return nil
}

// runInspect prints image facts.
func runInspect(path string) error {
	_, log, err := setup()
	if err != nil {
		return err
	}

	insp := inspector.NewImageInspector(log, true)
	defer insp.Close()

	info, err := insp.Inspect(path)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(info)
	}
	fmt.Printf("File:        %s\n", info.Path)
	fmt.Printf("Format:      %s\n", info.Format)
	fmt.Printf("Dimensions:  %s\n", info.Dimensions())
	fmt.Printf("Size:        %d bytes\n", info.Size)
	fmt.Printf("Alpha:       %t\n", info.HasAlpha)
	if info.Orientation != 0 {
		fmt.Printf("Orientation: %d\n", info.Orientation)
	}
	if info.DateTaken != nil {
		fmt.Printf("Taken:       %s\n", info.DateTaken.Format("2006-01-02 15:04:05"))
	}
	if info.Software != "" {
		fmt.Printf("Software:    %s\n", info.Software)
	}
	return nil
}

// runPlatform resolves the binaries and grants execute permission.
func runPlatform() error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	resolver := platform.NewResolver(cfg.BinDirectory)
	paths, err := resolver.ResolveAll()
	if err != nil {
		return err
	}

	comp := compressor.NewCWebPCompressor(resolver, log)
	readyErr := comp.EnsureReady()

	if jsonOutput {
		out := map[string]interface{}{
			"goos":    resolver.GOOS,
			"encoder": paths[platform.Encoder],
			"decoder": paths[platform.Decoder],
			"ready":   readyErr == nil,
		}
		if readyErr != nil {
			out["error"] = readyErr.Error()
		}
		if err := printJSON(out); err != nil {
			return err
		}
		return readyErr
	}

	fmt.Printf("Platform: %s\n", resolver.GOOS)
	fmt.Printf("Encoder:  %s\n", paths[platform.Encoder])
	fmt.Printf("Decoder:  %s\n", paths[platform.Decoder])
	if readyErr != nil {
		return readyErr
	}
	fmt.Println("Ready:    yes")
	return nil
}

// runServe starts the API server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	resolver := platform.NewResolver(cfg.BinDirectory)
	comp := compressor.NewCWebPCompressor(resolver, log)
	if err := comp.EnsureReady(); err != nil {
		return err
	}

	insp := inspector.NewImageInspector(log, true)
	defer insp.Close()

	server := web.NewServer(cfg, log, resolver, comp, insp)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	fmt.Printf("cwebp-go API listening on http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	}
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// setup loads configuration, applies CLI overrides and builds the logger.
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if binDir != "" {
		cfg.BinDirectory = binDir
	}
	return cfg, setupLogger(cfg), nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
