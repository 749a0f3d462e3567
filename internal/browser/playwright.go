package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => false });
if (window.chrome) {
	delete window.chrome.csi;
	delete window.chrome.loadTimes;
}
if (window.navigator.userAgent.includes('HeadlessChrome')) {
	const userAgent = window.navigator.userAgent
		.replace('HeadlessChrome', 'Chrome')
		.replace(/\s+\w+\/\d+\.\d+\.\d+\.\d+/, '');
	Object.defineProperty(navigator, 'userAgent', { get: () => userAgent });
}
`

type Options struct {
	Headless       bool
	UserDataDir    string
	ExtensionPath  string
	DefaultTimeout time.Duration
	UserAgent      string
	AcceptLanguage string
	Accept         string
	ExtraArgs      []string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       false,
		UserDataDir:    "user-data-dir",
		DefaultTimeout: 30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	}
}

// LaunchArgs builds the chromium command line for opts.
func LaunchArgs(opts *Options) []string {
	var args []string
	if opts.ExtensionPath != "" {
		args = append(args,
			"--disable-extensions-except="+opts.ExtensionPath,
			"--load-extension="+opts.ExtensionPath,
		)
	}
	args = append(args,
		"--disable-blink-features=AutomationControlled",
		"--no-default-browser-check",
		"--no-first-run",
	)
	return append(args, opts.ExtraArgs...)
}

// ExtraHeaders returns the HTTP headers sent with every request.
func ExtraHeaders(opts *Options) map[string]string {
	headers := map[string]string{}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}
	if opts.Accept != "" {
		headers["Accept"] = opts.Accept
	}
	return headers
}

// PlaywrightLauncher starts a persistent chromium context through playwright.
type PlaywrightLauncher struct {
	opts *Options
}

func NewPlaywrightLauncher(opts *Options) *PlaywrightLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &PlaywrightLauncher{opts: opts}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := l.opts

	if err := os.MkdirAll(opts.UserDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create user data dir: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(opts.Headless),
		Args:              LaunchArgs(opts),
		IgnoreDefaultArgs: []string{"--enable-automation"},
		ExtraHttpHeaders:  ExtraHeaders(opts),
	}
	if opts.UserAgent != "" {
		launchOpts.UserAgent = playwright.String(opts.UserAgent)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch persistent context: %w", err)
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		bctx.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to add init script: %w", err)
	}

	s := &playwrightSession{
		pw:      pw,
		context: bctx,
		timeout: opts.DefaultTimeout,
		pages:   make(map[playwright.Page]*playwrightPage),
		done:    make(chan struct{}),
	}
	bctx.OnClose(func(playwright.BrowserContext) {
		s.markDone()
	})
	return s, nil
}

type playwrightSession struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	timeout time.Duration

	mu    sync.Mutex
	pages map[playwright.Page]*playwrightPage

	done     chan struct{}
	doneOnce sync.Once
}

func (s *playwrightSession) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *playwrightSession) Done() <-chan struct{} {
	return s.done
}

func (s *playwrightSession) NewPage() (Page, error) {
	page, err := s.context.NewPage()
	if err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		page.SetDefaultTimeout(float64(s.timeout.Milliseconds()))
	}
	return s.wrap(page), nil
}

func (s *playwrightSession) Pages() []Page {
	raw := s.context.Pages()
	pages := make([]Page, 0, len(raw))
	for _, p := range raw {
		pages = append(pages, s.wrap(p))
	}
	return pages
}

func (s *playwrightSession) wrap(p playwright.Page) *playwrightPage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.pages[p]; ok {
		return w
	}
	w := &playwrightPage{page: p}
	s.pages[p] = w
	p.OnClose(func(playwright.Page) {
		s.mu.Lock()
		delete(s.pages, p)
		s.mu.Unlock()
	})
	return w
}

func (s *playwrightSession) Close() error {
	var errs []error

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	s.markDone()

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   millis(timeout),
	})
	return translate(err)
}

func (p *playwrightPage) Reload(timeout time.Duration) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   millis(timeout),
	})
	return translate(err)
}

func (p *playwrightPage) WaitFor(selector string, opts WaitOptions) error {
	state := playwright.WaitForSelectorStateAttached
	if opts.Visible {
		state = playwright.WaitForSelectorStateVisible
	}
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   state,
		Timeout: millis(opts.Timeout),
	})
	return translate(err)
}

func (p *playwrightPage) first(selector string) (playwright.Locator, error) {
	loc := p.page.Locator(selector).First()
	count, err := p.page.Locator(selector).Count()
	if err != nil {
		return nil, translate(err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return loc, nil
}

func (p *playwrightPage) Text(selector string) (string, error) {
	loc, err := p.first(selector)
	if err != nil {
		return "", err
	}
	text, err := loc.InnerText()
	return text, translate(err)
}

func (p *playwrightPage) Click(selector string, timeout time.Duration) error {
	loc, err := p.first(selector)
	if err != nil {
		return err
	}
	return translate(loc.Click(playwright.LocatorClickOptions{Timeout: millis(timeout)}))
}

func (p *playwrightPage) Attributes(selector, name string) ([]string, error) {
	locs, err := p.page.Locator(selector).All()
	if err != nil {
		return nil, translate(err)
	}
	values := make([]string, 0, len(locs))
	for _, loc := range locs {
		v, err := loc.GetAttribute(name)
		if err != nil {
			return values, translate(err)
		}
		values = append(values, v)
	}
	return values, nil
}

func (p *playwrightPage) Evaluate(expression string, args ...any) (any, error) {
	v, err := p.page.Evaluate(expression, args...)
	return v, translate(err)
}

func (p *playwrightPage) Content() (string, error) {
	html, err := p.page.Content()
	return html, translate(err)
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
