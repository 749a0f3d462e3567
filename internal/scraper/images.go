package scraper

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/maltedev/places-scraper/internal/backoff"
	"github.com/maltedev/places-scraper/internal/browser"
)

// Placeholder is the URL a lazy image carries before it loads.
const Placeholder = "//:0"

var (
	backgroundURL = regexp.MustCompile(`url\("?(.*?)"?\)`)
	sizeSuffix    = regexp.MustCompile(`=w\d+-h\d+-k-no`)
)

// BackgroundURL extracts the url(...) value of a style attribute.
func BackgroundURL(style string) string {
	m := backgroundURL.FindStringSubmatch(style)
	if m == nil {
		return ""
	}
	return m[1]
}

// HighRes rewrites the first sized thumbnail suffix to the full size one.
func HighRes(url string) string {
	loc := sizeSuffix.FindStringIndex(url)
	if loc == nil {
		return url
	}
	return url[:loc[0]] + "=s4196-v1" + url[loc[1]:]
}

func usable(url string) bool {
	url = strings.TrimSpace(url)
	return url != "" && url != Placeholder
}

// Images reveals the gallery and collects image URLs, reloading the page
// between attempts.
func (p *Pipeline) Images(ctx context.Context, page browser.Page) (string, error) {
	images, err := backoff.Do(ctx, p.imageRetry, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 1 {
			p.logger.Info("retrying image extraction after reload", "attempt", attempt)
			if err := p.refresh(ctx, page); err != nil {
				return "", backoff.Permanent(err)
			}
		}
		return p.collectImages(ctx, page)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImagesExhausted, err)
	}
	return images, nil
}

func (p *Pipeline) refresh(ctx context.Context, page browser.Page) error {
	opts := p.opts
	if err := page.Reload(opts.Images.ReloadTimeout); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	if err := page.WaitFor(opts.ReadySelector, browser.WaitOptions{Timeout: opts.ReadyTimeout}); err != nil {
		return fmt.Errorf("%w after reload: %v", ErrReadinessTimeout, err)
	}
	return p.sleep(ctx, opts.Images.ReloadSettle)
}

func (p *Pipeline) collectImages(ctx context.Context, page browser.Page) (string, error) {
	opts := p.opts.Images

	if err := p.reveal(ctx, page); err != nil {
		return "", err
	}

	if err := page.WaitFor(opts.Selector, browser.WaitOptions{Timeout: opts.Timeout}); err != nil {
		return "", fmt.Errorf("gallery images did not appear: %w", err)
	}

	urls, err := p.imageURLs(page)
	if err != nil {
		return "", err
	}

	if opts.Mode == ImagesSingle {
		for _, u := range urls {
			if usable(u) {
				return HighRes(strings.TrimSpace(u)), nil
			}
		}
		return "", nil
	}

	if p.scroller != nil {
		if _, err := p.scroller.Scroll(ctx, page, opts.ScrollContainer); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug("gallery scroll failed", "error", err)
		}
	}
	if err := p.sleep(ctx, opts.ScrollSettle); err != nil {
		return "", err
	}
	if urls, err = p.imageURLs(page); err != nil {
		return "", err
	}

	if !anyUsable(urls) {
		p.logger.Debug("only placeholders after scroll, waiting for images")
		if err := p.sleep(ctx, opts.EmptyRecheck); err != nil {
			return "", err
		}
		if urls, err = p.imageURLs(page); err != nil {
			return "", err
		}
	}

	var out []string
	for _, u := range urls {
		if usable(u) {
			out = append(out, HighRes(strings.TrimSpace(u)))
		}
	}
	return strings.Join(out, ","), nil
}

// reveal opens the photo gallery. Not finding any trigger is not an error.
func (p *Pipeline) reveal(ctx context.Context, page browser.Page) error {
	opts := p.opts.Images

	if opts.Trigger != "" {
		err := page.WaitFor(opts.Trigger, browser.WaitOptions{Timeout: opts.TriggerTimeout, Visible: true})
		if err == nil {
			err = page.Click(opts.Trigger, opts.ClickTimeout)
		}
		if err == nil {
			return p.sleep(ctx, opts.TriggerSettle)
		}
		p.logger.Debug("gallery trigger not clicked", "selector", opts.Trigger, "error", err)
	}

	for _, selector := range opts.Fallbacks {
		if err := page.Click(selector, opts.ClickTimeout); err != nil {
			p.logger.Debug("gallery fallback not clicked", "selector", selector, "error", err)
			continue
		}
		return p.sleep(ctx, opts.FallbackSettle)
	}

	p.logger.Debug("no gallery trigger found, reading images directly")
	return nil
}

func (p *Pipeline) imageURLs(page browser.Page) ([]string, error) {
	styles, err := page.Attributes(p.opts.Images.Selector, "style")
	if err != nil {
		return nil, fmt.Errorf("failed to read image styles: %w", err)
	}
	urls := make([]string, 0, len(styles))
	for _, s := range styles {
		urls = append(urls, BackgroundURL(s))
	}
	return urls, nil
}

func anyUsable(urls []string) bool {
	for _, u := range urls {
		if usable(u) {
			return true
		}
	}
	return false
}
