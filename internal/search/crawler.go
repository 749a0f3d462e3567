// Package search collects detail page links from map search results.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/places-scraper/internal/backoff"
	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/parser"
)

var ErrFeedNotFound = errors.New("results feed not found")

// ratingOptions maps a minimum rating to its index in the rating filter menu.
var ratingOptions = map[string]string{
	"4.5+": "6",
	"4":    "5",
	"3.5":  "4",
	"3":    "3",
	"2.5":  "2",
	"2":    "1",
}

// RatingOption returns the filter menu index for rating.
func RatingOption(rating string) (string, bool) {
	idx, ok := ratingOptions[strings.TrimSpace(rating)]
	return idx, ok
}

// Query builds the search phrase for one state.
func Query(keywords, state, country string) string {
	return fmt.Sprintf("%s+in+%s+%s", strings.TrimSpace(keywords), strings.TrimSpace(state), strings.TrimSpace(country))
}

type PageSource interface {
	Initialize(ctx context.Context) error
	Alive() bool
	NewPage(ctx context.Context) (browser.Page, error)
}

type Scroller interface {
	Scroll(ctx context.Context, page browser.Page, container string) (int, error)
}

type Options struct {
	BaseURL           string
	NavigationTimeout time.Duration
	Navigation        backoff.Policy
	FeedSelector      string
	FeedTimeout       time.Duration
	RatingButton      string
	RatingMenu        string
	RatingOpenSettle  time.Duration
	RatingApplySettle time.Duration
	ClickTimeout      time.Duration
}

func DefaultOptions() Options {
	nav := backoff.DefaultPolicy()
	nav.RetryIf = backoff.RetryAll
	return Options{
		BaseURL:           "https://www.google.com",
		NavigationTimeout: 60 * time.Second,
		Navigation:        nav,
		FeedSelector:      ".m6QErb.DxyBCb.kA9KIf.dS8AEf.XiKgde.ecceSd[aria-label]",
		FeedTimeout:       60 * time.Second,
		RatingButton:      "div.Vo5ZAe div.KNfEk.siaXSd:nth-child(1) button.e2moi",
		RatingMenu:        ".vij30.kA9KIf",
		RatingOpenSettle:  time.Second,
		RatingApplySettle: 3 * time.Second,
		ClickTimeout:      10 * time.Second,
	}
}

type Crawler struct {
	pages      PageSource
	scroller   Scroller
	opts       Options
	navigation *backoff.Executor
	sleep      func(context.Context, time.Duration) error
	logger     *slog.Logger
}

func NewCrawler(pages PageSource, scroller Scroller, opts Options, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "search_crawler")
	return &Crawler{
		pages:      pages,
		scroller:   scroller,
		opts:       opts,
		navigation: backoff.New(opts.Navigation, backoff.WithLogger(logger)),
		sleep:      backoff.Sleep,
		logger:     logger,
	}
}

// SearchURL is the results page for query.
func (c *Crawler) SearchURL(query string) string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/maps/search/" + strings.ReplaceAll(query, " ", "+")
}

// Search returns the detail links listed for query, optionally filtered by
// minimum rating. An unknown rating is ignored.
func (c *Crawler) Search(ctx context.Context, query, rating string) ([]string, error) {
	if !c.pages.Alive() {
		if err := c.pages.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	page, err := c.pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			c.logger.Debug("failed to close page", "error", err)
		}
	}()

	searchURL := c.SearchURL(query)
	c.logger.Info("starting search", "query", query, "url", searchURL)

	err = c.navigation.Execute(ctx, func(ctx context.Context, attempt int) error {
		return page.Goto(searchURL, c.opts.NavigationTimeout)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to navigate to search: %w", err)
	}

	if err := page.WaitFor(c.opts.FeedSelector, browser.WaitOptions{Timeout: c.opts.FeedTimeout}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedNotFound, err)
	}

	if rating != "" {
		c.applyRating(ctx, page, rating)
	}

	if c.scroller != nil {
		if _, err := c.scroller.Scroll(ctx, page, c.opts.FeedSelector); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("feed scroll stopped early", "error", err)
		}
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	links, err := parser.ParseListingLinks(html, page.URL())
	if err != nil {
		return nil, err
	}

	c.logger.Info("search completed", "query", query, "links", len(links))
	return links, nil
}

func (c *Crawler) applyRating(ctx context.Context, page browser.Page, rating string) {
	idx, ok := RatingOption(rating)
	if !ok {
		c.logger.Warn("unknown rating filter ignored", "rating", rating)
		return
	}

	if err := page.Click(c.opts.RatingButton, c.opts.ClickTimeout); err != nil {
		c.logger.Warn("failed to open rating filter", "error", err)
		return
	}
	if err := c.sleep(ctx, c.opts.RatingOpenSettle); err != nil {
		return
	}

	option := fmt.Sprintf(`%s div[data-index="%s"]`, c.opts.RatingMenu, idx)
	if err := page.Click(option, c.opts.ClickTimeout); err != nil {
		c.logger.Warn("failed to apply rating filter", "rating", rating, "error", err)
		return
	}
	_ = c.sleep(ctx, c.opts.RatingApplySettle)
}
