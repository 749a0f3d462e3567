package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/places-scraper/internal/api"
	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/config"
	"github.com/maltedev/places-scraper/internal/database"
	"github.com/maltedev/places-scraper/internal/events"
	"github.com/maltedev/places-scraper/internal/geocode"
	"github.com/maltedev/places-scraper/internal/jobs"
	"github.com/maltedev/places-scraper/internal/queue"
	"github.com/maltedev/places-scraper/internal/runner"
	"github.com/maltedev/places-scraper/internal/scraper"
	"github.com/maltedev/places-scraper/internal/search"
	"github.com/maltedev/places-scraper/internal/storage"
	"github.com/maltedev/places-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var publisher jobs.StatusPublisher = events.NopPublisher{}
	if cfg.Redis.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		publisher = events.NewPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.StreamMax, logger)
	}

	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.UserDataDir = cfg.Browser.UserDataDir
	browserOpts.DefaultTimeout = cfg.Browser.Timeout
	browserOpts.AcceptLanguage = cfg.Browser.AcceptLanguage
	if cfg.Browser.UserAgent != "" {
		browserOpts.UserAgent = cfg.Browser.UserAgent
	}
	if cfg.Browser.Extension != "" {
		path, err := browser.ResolveExtensionPath(cfg.Browser.ExtensionDir, cfg.Browser.Extension)
		if err != nil {
			logger.Error("failed to locate extension", "error", err)
			os.Exit(1)
		}
		browserOpts.ExtensionPath = path
	}

	session := browser.NewManager(browser.NewPlaywrightLauncher(browserOpts), logger)
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error("failed to close browser", "error", err)
		}
	}()

	scroller := browser.NewFeedScroller(logger)

	pipelineOpts := scraper.DefaultOptions()
	pipelineOpts.NavigationTimeout = cfg.Scraper.NavigationTimeout
	pipelineOpts.Navigation.MaxAttempts = cfg.Scraper.MaxRetries
	pipelineOpts.Navigation.InitialDelay = cfg.Scraper.RetryDelay
	pipelineOpts.Images.Mode = scraper.ParseImageMode(cfg.Scraper.ImageMode)
	pipeline := scraper.New(pipelineOpts,
		scraper.WithGeocoder(geocode.NewPostcodeResolver(cfg.Scraper.GeocoderURL, cfg.Scraper.GeocoderTimeout, logger).WithRateLimit(cfg.Scraper.GeocoderRate)),
		scraper.WithScroller(scroller),
		scraper.WithLogger(logger),
	)

	runnerOpts := runner.DefaultOptions()
	runnerOpts.Limit = cfg.Scraper.ConcurrentLimit
	runnerOpts.StartDelayMin = cfg.Scraper.StartDelayMin
	runnerOpts.StartDelayMax = cfg.Scraper.StartDelayMax
	batch := runner.New(session, pipeline, runnerOpts, logger)

	searchOpts := search.DefaultOptions()
	searchOpts.NavigationTimeout = cfg.Scraper.NavigationTimeout
	crawler := search.NewCrawler(session, scroller, searchOpts, logger)

	jobQueue := queue.NewInMemoryQueue()
	defer jobQueue.Close()

	jobManager := jobs.NewManager(store, crawler, batch, jobQueue, publisher, jobs.Config{
		OutputDir:     cfg.Storage.OutputDir,
		BaseURL:       cfg.Server.BaseURL,
		SearchWorkers: cfg.Scraper.SearchWorkers,
		ExtractLimit:  cfg.Scraper.ConcurrentLimit,
	}, logger)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		jobManager.StartWorker(ctx)
	}()

	handlers := api.NewHandlers(jobManager, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr, "storage", cfg.Storage.Type)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		stop()
	}

	<-workerDone
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (jobs.Store, func(), error) {
	if cfg.Storage.Type != "postgres" {
		store, err := storage.NewRequestStorage(cfg.Storage.File)
		return store, func() {}, err
	}

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, err
	}

	repo := database.NewRequestRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, db.Close, nil
}
