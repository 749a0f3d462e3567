package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/config"
	"github.com/maltedev/places-scraper/internal/export"
	"github.com/maltedev/places-scraper/internal/geocode"
	"github.com/maltedev/places-scraper/internal/models"
	"github.com/maltedev/places-scraper/internal/parser"
	"github.com/maltedev/places-scraper/internal/runner"
	"github.com/maltedev/places-scraper/internal/scraper"
	"github.com/maltedev/places-scraper/pkg/logger"
)

func main() {
	var (
		linksFile = flag.String("links", "", "CSV file with an href column")
		output    = flag.String("output", "results.csv", "Output CSV file")
		fieldList = flag.String("fields", "", "Comma separated fields (default: all standard fields)")
		limit     = flag.Int("limit", 0, "Maximum pages open at once (default: SCRAPER_CONCURRENT_LIMIT)")
		images    = flag.String("images", "", "Image mode: single or multi (default: SCRAPER_IMAGE_MODE)")
		headless  = flag.Bool("headless", false, "Run browser in headless mode")
	)
	flag.Parse()

	if *linksFile == "" {
		fmt.Println("Please provide a links file with -links")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	links, err := export.ReadLinks(*linksFile)
	if err != nil {
		logger.Error("failed to read links", "error", err)
		os.Exit(1)
	}
	links = parser.Dedupe(links)
	fields := models.ParseFields(*fieldList)

	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = *headless || cfg.Browser.Headless
	browserOpts.UserDataDir = cfg.Browser.UserDataDir
	browserOpts.DefaultTimeout = cfg.Browser.Timeout
	if cfg.Browser.Extension != "" {
		path, err := browser.ResolveExtensionPath(cfg.Browser.ExtensionDir, cfg.Browser.Extension)
		if err != nil {
			logger.Error("failed to locate extension", "error", err)
			os.Exit(1)
		}
		browserOpts.ExtensionPath = path
	}

	session := browser.NewManager(browser.NewPlaywrightLauncher(browserOpts), logger)
	if err := session.Initialize(ctx); err != nil {
		logger.Error("failed to start browser", "error", err)
		os.Exit(1)
	}

	imageMode := cfg.Scraper.ImageMode
	if *images != "" {
		imageMode = *images
	}
	pipelineOpts := scraper.DefaultOptions()
	pipelineOpts.NavigationTimeout = cfg.Scraper.NavigationTimeout
	pipelineOpts.Images.Mode = scraper.ParseImageMode(imageMode)
	pipeline := scraper.New(pipelineOpts,
		scraper.WithGeocoder(geocode.NewPostcodeResolver(cfg.Scraper.GeocoderURL, cfg.Scraper.GeocoderTimeout, logger).WithRateLimit(cfg.Scraper.GeocoderRate)),
		scraper.WithScroller(browser.NewFeedScroller(logger)),
		scraper.WithLogger(logger),
	)

	runnerOpts := runner.DefaultOptions()
	runnerOpts.Limit = cfg.Scraper.ConcurrentLimit
	runnerOpts.StartDelayMin = cfg.Scraper.StartDelayMin
	runnerOpts.StartDelayMax = cfg.Scraper.StartDelayMax
	batch := runner.New(session, pipeline, runnerOpts, logger)

	records, summary := batch.Execute(ctx, models.TasksFromLinks(links, fields), *limit)

	if err := session.Close(); err != nil {
		logger.Error("failed to close browser", "error", err)
	}

	if err := export.WriteRecords(*output, records, fields); err != nil {
		logger.Error("failed to write results", "error", err)
		os.Exit(1)
	}

	stats := pipeline.NavigationStats()
	logger.Info("extraction finished",
		"output", *output,
		"rows", len(records),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
		"navigation_success_rate", stats.SuccessRate())
}
