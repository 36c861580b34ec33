// Sentinel-2 data downloader entry point
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/fernlab/s2downloader/internal/catalog"
	"github.com/fernlab/s2downloader/internal/config"
	"github.com/fernlab/s2downloader/internal/pipeline"
	"github.com/fernlab/s2downloader/internal/raster"
)

// version is set at build time via -ldflags.
var version = "dev"

const logFileName = "s2DataDownloader.log"

func main() {
	// A missing .env file is fine, environment overrides are optional.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "s2downloader",
		Usage:   "download and mosaic Sentinel-2 L2A imagery for an area of interest",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "download",
				Usage: "run the download pipeline for the configured date range",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "path to the JSON configuration file",
						Required: true,
					},
				},
				Action: runDownload,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runDownload(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	outDir, err := cfg.ResultsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	logger, closeLog, err := setupLogger(cfg, outDir)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("starting s2downloader",
		"version", version,
		"catalog", cfg.S2Settings.StacCatalogURL,
		"results_dir", outDir,
		"concurrency", cfg.Runtime.Concurrency,
	)

	raster.RegisterDrivers()

	client := catalog.NewClient(cfg.S2Settings.StacCatalogURL, cfg.Runtime.CatalogTimeout).WithLogger(logger)
	source := raster.NewGDALSource(logger)
	writer := raster.NewGDALWriter(logger)
	fetcher := pipeline.NewHTTPFetcher(cfg.Runtime.FetchTimeout).WithLogger(logger)

	orch, err := pipeline.New(cfg, client, source, writer, fetcher, source, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	available := 0
	for _, outcome := range summary {
		if outcome.DataAvailable {
			available++
		}
	}
	logger.Info("download finished",
		"dates", len(summary),
		"dates_with_data", available,
	)
	return nil
}

// setupLogger builds a logger writing to both stderr and the run log in the
// results directory.
func setupLogger(cfg *config.Config, outDir string) (*slog.Logger, func(), error) {
	var level slog.Level
	switch cfg.UserSettings.ResultSettings.LoggingLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logFile, err := os.OpenFile(filepath.Join(outDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run log: %w", err)
	}
	out := io.MultiWriter(os.Stderr, logFile)

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Runtime.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), func() { logFile.Close() }, nil
}
