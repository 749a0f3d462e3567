// Package runner executes extraction tasks over one shared browser session
// with a bounded number of pages open at once.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maltedev/places-scraper/internal/backoff"
	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/models"
	"github.com/maltedev/places-scraper/internal/ratelimit"
)

var ErrPageAcquisition = errors.New("failed to acquire page")

// PageSource is the session the runner draws pages from.
type PageSource interface {
	Initialize(ctx context.Context) error
	Alive() bool
	NewPage(ctx context.Context) (browser.Page, error)
}

// Extractor fills a record from a page.
type Extractor interface {
	Extract(ctx context.Context, page browser.Page, task models.Task) (models.Record, error)
}

type Options struct {
	Limit         int
	StartDelayMin time.Duration
	StartDelayMax time.Duration
	PageRetry     backoff.Policy
}

func DefaultOptions() Options {
	retry := backoff.DefaultPolicy()
	retry.RetryIf = retryPage
	return Options{
		Limit:         5,
		StartDelayMin: 500 * time.Millisecond,
		StartDelayMax: 500 * time.Millisecond,
		PageRetry:     retry,
	}
}

func retryPage(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Summary describes one batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

type Runner struct {
	pages     PageSource
	extractor Extractor
	pacer     ratelimit.RateLimiter
	pageRetry *backoff.Executor
	opts      Options
	logger    *slog.Logger
}

func New(pages PageSource, extractor Extractor, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultOptions().Limit
	}
	if opts.PageRetry.RetryIf == nil {
		opts.PageRetry.RetryIf = retryPage
	}
	logger = logger.With("component", "runner")

	var pacer ratelimit.RateLimiter = ratelimit.Unlimited{}
	if opts.StartDelayMax > 0 {
		pacer = ratelimit.NewSimpleRateLimiter(opts.StartDelayMin, opts.StartDelayMax)
	}

	return &Runner{
		pages:     pages,
		extractor: extractor,
		pacer:     pacer,
		pageRetry: backoff.New(opts.PageRetry, backoff.WithLogger(logger)),
		opts:      opts,
		logger:    logger,
	}
}

// Run returns one record per task, in task order. A task that fails for
// any reason yields a record with every requested field empty.
func (r *Runner) Run(ctx context.Context, tasks []models.Task, limit int) []models.Record {
	records, _ := r.Execute(ctx, tasks, limit)
	return records
}

// RunLinks runs one task per link with a shared field list.
func (r *Runner) RunLinks(ctx context.Context, links []string, fields []string, limit int) []models.Record {
	return r.Run(ctx, models.TasksFromLinks(links, fields), limit)
}

// Execute is Run that also reports a batch summary.
func (r *Runner) Execute(ctx context.Context, tasks []models.Task, limit int) ([]models.Record, Summary) {
	if limit <= 0 {
		limit = r.opts.Limit
	}

	start := time.Now()
	records := make([]models.Record, len(tasks))
	failed := make([]bool, len(tasks))
	gate := semaphore.NewWeighted(int64(limit))

	r.logger.Info("starting batch", "tasks", len(tasks), "limit", limit)

	var wg sync.WaitGroup
	started := 0
	for i, task := range tasks {
		if err := r.pacer.Wait(ctx); err != nil {
			break
		}
		if err := gate.Acquire(ctx, 1); err != nil {
			break
		}
		started++

		wg.Add(1)
		go func(i int, task models.Task) {
			defer wg.Done()
			defer gate.Release(1)

			record, err := r.runTask(ctx, task)
			if err != nil {
				r.logger.Warn("task failed", "url", task.URL, "error", err)
				failed[i] = true
			}
			records[i] = record.Project(task.Fields)
		}(i, task)
	}
	wg.Wait()

	summary := Summary{Total: len(tasks), Skipped: len(tasks) - started}
	for i, task := range tasks {
		if records[i] == nil {
			records[i] = models.NewRecord(task.Fields)
			continue
		}
		if failed[i] {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}
	summary.Duration = time.Since(start)

	r.logger.Info("batch finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration)

	return records, summary
}

func (r *Runner) runTask(ctx context.Context, task models.Task) (record models.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked", "url", task.URL, "panic", p, "stack", string(debug.Stack()))
			record = models.NewRecord(task.Fields)
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()

	page, err := r.acquirePage(ctx)
	if err != nil {
		return models.NewRecord(task.Fields), err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.logger.Debug("failed to close page", "url", task.URL, "error", cerr)
		}
	}()

	record, err = r.extractor.Extract(ctx, page, task)
	if record == nil {
		record = models.NewRecord(task.Fields)
	}
	return record, err
}

func (r *Runner) acquirePage(ctx context.Context) (browser.Page, error) {
	page, err := backoff.Do(ctx, r.pageRetry, func(ctx context.Context, attempt int) (browser.Page, error) {
		if !r.pages.Alive() {
			r.logger.Info("browser session not alive, initializing", "attempt", attempt)
			if err := r.pages.Initialize(ctx); err != nil {
				return nil, err
			}
		}
		return r.pages.NewPage(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageAcquisition, err)
	}
	return page, nil
}
