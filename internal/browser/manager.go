package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Session is a launched browser context.
type Session interface {
	NewPage() (Page, error)

	// Pages returns the open pages in creation order. The same underlying
	// tab is always returned as the same Page value.
	Pages() []Page

	// Done is closed when the browser context goes away.
	Done() <-chan struct{}
	Close() error
}

// Launcher starts a browser session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Manager owns the single shared browser session and hands out pages.
type Manager struct {
	launcher Launcher
	logger   *slog.Logger
	group    singleflight.Group

	mu       sync.RWMutex
	session  Session
	launched bool
	// pages that existed right after launch, candidates for stray tab cleanup
	initial map[Page]struct{}
}

func NewManager(launcher Launcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		launcher: launcher,
		logger:   logger.With("component", "browser"),
	}
}

// Initialize launches the session unless a live one exists. Concurrent
// callers share a single launch. A failed launch is not remembered, so the
// next call tries again.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.Alive() {
		return nil
	}

	ch := m.group.DoChan("session", func() (any, error) {
		if m.Alive() {
			return nil, nil
		}
		return nil, m.launch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) launch(ctx context.Context) error {
	m.mu.Lock()
	old := m.session
	m.session = nil
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.Debug("closing lost session", "error", err)
		}
	}

	m.logger.Info("launching browser session")
	s, err := m.launcher.Launch(ctx)
	if err != nil {
		m.logger.Error("browser launch failed", "error", err)
		return fmt.Errorf("failed to launch browser session: %w", err)
	}

	initial := make(map[Page]struct{})
	for _, p := range s.Pages() {
		initial[p] = struct{}{}
	}

	m.mu.Lock()
	m.session = s
	m.launched = true
	m.initial = initial
	m.mu.Unlock()

	m.logger.Info("browser session ready", "initial_pages", len(initial))
	return nil
}

// Alive reports whether a launched session is still usable.
func (m *Manager) Alive() bool {
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()
	return s != nil && !isDone(s)
}

// NewPage opens a fresh tab.
func (m *Manager) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	s, launched := m.session, m.launched
	m.mu.RUnlock()

	if s == nil {
		if !launched {
			return nil, ErrNotInitialized
		}
		return nil, ErrSessionClosed
	}
	if isDone(s) {
		return nil, ErrSessionClosed
	}

	page, err := s.NewPage()
	if err != nil {
		if isDone(s) {
			return nil, fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	m.closeStrayPage(s)
	return page, nil
}

// closeStrayPage closes the blank tab a persistent context opens with, once
// other tabs exist. Only tabs present at launch are considered.
func (m *Manager) closeStrayPage(s Session) {
	pages := s.Pages()
	if len(pages) <= 1 {
		return
	}
	first := pages[0]

	m.mu.Lock()
	_, stray := m.initial[first]
	delete(m.initial, first)
	m.mu.Unlock()

	if !stray {
		return
	}
	if url := first.URL(); url != "about:blank" && url != "" {
		return
	}
	if err := first.Close(); err != nil {
		m.logger.Debug("failed to close initial blank page", "error", err)
		return
	}
	m.logger.Debug("closed initial blank page")
}

// Close shuts the session down. It is a no-op without a session.
func (m *Manager) Close() error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.initial = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	m.logger.Info("closing browser session")
	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to close browser session: %w", err)
	}
	return nil
}

func isDone(s Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
