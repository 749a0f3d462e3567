package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/places-scraper/internal/backoff"
	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/models"
)

// Pipeline extracts records from detail pages. It holds no per-task state
// and is safe for concurrent use with distinct pages.
type Pipeline struct {
	opts       Options
	fields     map[string]FieldExtractor
	geocoder   Geocoder
	scroller   Scroller
	navigation *backoff.Executor
	imageRetry *backoff.Executor
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
}

type Option func(*Pipeline)

func WithGeocoder(g Geocoder) Option {
	return func(p *Pipeline) { p.geocoder = g }
}

func WithScroller(s Scroller) Option {
	return func(p *Pipeline) { p.scroller = s }
}

// WithFields replaces the extractor table.
func WithFields(fields map[string]FieldExtractor) Option {
	return func(p *Pipeline) { p.fields = fields }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func New(opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		opts:   opts,
		fields: DefaultFields(),
		sleep:  backoff.Sleep,
		logger: slog.Default(),
	}
	for _, o := range options {
		o(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	p.navigation = backoff.New(opts.Navigation, backoff.WithLogger(p.logger))
	p.imageRetry = backoff.New(opts.Images.Retry, backoff.WithLogger(p.logger))
	return p
}

// NavigationStats exposes the cumulative navigation attempt counters.
func (p *Pipeline) NavigationStats() backoff.Stats {
	return p.navigation.Stats()
}

// Extract navigates page to the task URL and fills a record with every
// requested field. The returned record always carries exactly the requested
// keys. A non-nil error means the page never became usable.
func (p *Pipeline) Extract(ctx context.Context, page browser.Page, task models.Task) (models.Record, error) {
	record := models.NewRecord(task.Fields)
	logger := p.logger.With("url", task.URL)

	if err := p.navigate(ctx, page, task.URL); err != nil {
		logger.Warn("navigation failed", "error", err)
		return record, err
	}

	if err := page.WaitFor(p.opts.ReadySelector, browser.WaitOptions{Timeout: p.opts.ReadyTimeout}); err != nil {
		logger.Warn("page did not become ready", "selector", p.opts.ReadySelector, "error", err)
		return record, fmt.Errorf("%w: %s: %v", ErrReadinessTimeout, task.URL, err)
	}

	for _, field := range task.Fields {
		if err := ctx.Err(); err != nil {
			return record, err
		}
		extractor, ok := p.fields[field]
		if !ok {
			continue
		}
		value, err := extractor.Extract(ctx, page)
		if err != nil {
			logger.Debug("field not extracted", "field", field, "error", err)
			continue
		}
		record[field] = value
	}

	p.resolveLocation(ctx, page, task, record, logger)

	if task.Wants(models.FieldImages) {
		images, err := p.Images(ctx, page)
		if err != nil {
			logger.Warn("image extraction failed", "error", err)
		} else if images == "" {
			logger.Warn("no images found, result inconclusive")
		}
		record[models.FieldImages] = images
	}

	return record, nil
}

func (p *Pipeline) navigate(ctx context.Context, page browser.Page, url string) error {
	err := p.navigation.Execute(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			p.logger.Info("retrying navigation", "attempt", attempt, "url", url)
		}
		return page.Goto(url, p.opts.NavigationTimeout)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	return nil
}

func (p *Pipeline) resolveLocation(ctx context.Context, page browser.Page, task models.Task, record models.Record, logger *slog.Logger) {
	wantCity, wantArea := task.Wants(models.FieldCity), task.Wants(models.FieldArea)
	if p.geocoder == nil || (!wantCity && !wantArea) {
		return
	}

	address := record[models.FieldAddress]
	if !task.Wants(models.FieldAddress) {
		if extractor, ok := p.fields[models.FieldAddress]; ok {
			address, _ = extractor.Extract(ctx, page)
		}
	}
	if address == "" {
		return
	}

	loc, err := p.geocoder.Resolve(ctx, address)
	if err != nil {
		logger.Debug("location lookup failed", "error", err)
		return
	}
	if wantCity {
		record[models.FieldCity] = loc.City
	}
	if wantArea {
		record[models.FieldArea] = loc.Area
	}
}
