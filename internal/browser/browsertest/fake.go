// Package browsertest provides in-memory browser sessions and pages for
// tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maltedev/places-scraper/internal/browser"
)

// AttrKey builds the Attrs key for an attribute lookup.
func AttrKey(selector, name string) string {
	return selector + " @" + name
}

// Page is a scriptable browser.Page.
type Page struct {
	mu sync.Mutex

	Texts   map[string]string
	Attrs   map[string][]string
	Present map[string]bool
	HTML    string

	// GotoErr is consulted on every Goto with the 1-based call count.
	GotoErr func(url string, call int) error
	// ReloadErr is returned by Reload.
	ReloadErr error
	// GotoDelay blocks Goto to simulate slow pages.
	GotoDelay time.Duration
	// OnGoto runs after a successful navigation.
	OnGoto func(p *Page, url string)
	// OnClick runs after a successful click.
	OnClick func(p *Page, selector string)
	// OnReload runs after a successful reload.
	OnReload func(p *Page)
	// EvaluateFunc answers Evaluate. Nil returns nil, nil.
	EvaluateFunc func(expression string, args ...any) (any, error)
	// Panic makes Goto panic with this value when non-nil.
	Panic any

	url     string
	gotos   int
	reloads int
	clicks  []string
	closed  bool
	closes  int
}

func NewPage() *Page {
	return &Page{
		Texts:   map[string]string{},
		Attrs:   map[string][]string{},
		Present: map[string]bool{},
		url:     "about:blank",
	}
}

// SetAttrs replaces the values of an attribute lookup.
func (p *Page) SetAttrs(selector, name string, values ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Attrs[AttrKey(selector, name)] = values
}

func (p *Page) SetText(selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts[selector] = text
}

// SetPresent marks a selector as present for WaitFor and Click.
func (p *Page) SetPresent(selector string, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Present[selector] = present
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) present(selector string) bool {
	if p.Present[selector] {
		return true
	}
	if _, ok := p.Texts[selector]; ok {
		return true
	}
	prefix := selector + " @"
	for k, v := range p.Attrs {
		if strings.HasPrefix(k, prefix) && len(v) > 0 {
			return true
		}
	}
	return false
}

func (p *Page) Goto(url string, timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("page closed")
	}
	p.gotos++
	call := p.gotos
	fn, delay, pv, hook := p.GotoErr, p.GotoDelay, p.Panic, p.OnGoto
	p.mu.Unlock()

	if pv != nil {
		panic(pv)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if fn != nil {
		if err := fn(url, call); err != nil {
			return err
		}
	}
	p.SetURL(url)
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) Reload(timeout time.Duration) error {
	p.mu.Lock()
	p.reloads++
	err, hook := p.ReloadErr, p.OnReload
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) WaitFor(selector string, opts browser.WaitOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.present(selector) {
		return nil
	}
	return fmt.Errorf("%w: waiting for %s", browser.ErrTimeout, selector)
}

func (p *Page) Text(selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.Texts[selector]
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return text, nil
}

func (p *Page) Click(selector string, timeout time.Duration) error {
	p.mu.Lock()
	if !p.present(selector) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	p.clicks = append(p.clicks, selector)
	hook := p.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *Page) Attributes(selector, name string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Attrs[AttrKey(selector, name)]...), nil
}

func (p *Page) Evaluate(expression string, args ...any) (any, error) {
	p.mu.Lock()
	fn := p.EvaluateFunc
	p.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(expression, args...)
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closes++
	return nil
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Closes returns how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Page) Gotos() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gotos
}

func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Session is an in-memory browser.Session.
type Session struct {
	mu       sync.Mutex
	pages    []*Page
	factory  func() *Page
	pageErr  error
	done     chan struct{}
	doneOnce sync.Once
	closed   bool
}

func NewSession(factory func() *Page) *Session {
	if factory == nil {
		factory = NewPage
	}
	return &Session{factory: factory, done: make(chan struct{})}
}

// AddPage adds an already open tab.
func (s *Session) AddPage(p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, p)
}

// FailPages makes NewPage return err. Nil restores normal behavior.
func (s *Session) FailPages(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageErr = err
}

// Lose simulates the browser context going away.
func (s *Session) Lose() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) NewPage() (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pageErr != nil {
		return nil, s.pageErr
	}
	p := s.factory()
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *Session) Pages() []browser.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]browser.Page, 0, len(s.pages))
	for _, p := range s.pages {
		if !p.Closed() {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Lose()
	return nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Launcher hands out Sessions and counts launches.
type Launcher struct {
	// Factory creates pages for every launched session.
	Factory func() *Page
	// InitialBlank opens each session with one about:blank tab.
	InitialBlank bool
	// Delay blocks each launch.
	Delay time.Duration
	// FailFirst makes the first n launches fail.
	FailFirst int32

	launches atomic.Int32
	mu       sync.Mutex
	sessions []*Session
}

var ErrLaunch = errors.New("launch failed")

func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	n := l.launches.Add(1)
	if l.Delay > 0 {
		time.Sleep(l.Delay)
	}
	if n <= l.FailFirst {
		return nil, ErrLaunch
	}

	s := NewSession(l.Factory)
	if l.InitialBlank {
		s.AddPage(NewPage())
	}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Launches returns the number of Launch calls.
func (l *Launcher) Launches() int {
	return int(l.launches.Load())
}

// Last returns the most recently launched session.
func (l *Launcher) Last() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sessions) == 0 {
		return nil
	}
	return l.sessions[len(l.sessions)-1]
}
