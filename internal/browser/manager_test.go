package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/places-scraper/internal/browser"
	"github.com/maltedev/places-scraper/internal/browser/browsertest"
)

func TestNewPageBeforeInitialize(t *testing.T) {
	m := browser.NewManager(&browsertest.Launcher{}, nil)

	_, err := m.NewPage(context.Background())
	assert.ErrorIs(t, err, browser.ErrNotInitialized)
	assert.False(t, m.Alive())
}

func TestConcurrentInitializeLaunchesOnce(t *testing.T) {
	launcher := &browsertest.Launcher{Delay: 50 * time.Millisecond}
	m := browser.NewManager(launcher, nil)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, launcher.Launches())
	assert.True(t, m.Alive())

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, 1, launcher.Launches())
}

func TestFailedLaunchIsRetried(t *testing.T) {
	launcher := &browsertest.Launcher{FailFirst: 1}
	m := browser.NewManager(launcher, nil)

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, browsertest.ErrLaunch)
	assert.False(t, m.Alive())

	_, err = m.NewPage(context.Background())
	assert.ErrorIs(t, err, browser.ErrNotInitialized)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, 2, launcher.Launches())
	assert.True(t, m.Alive())
}

func TestLostSessionIsRelaunched(t *testing.T) {
	launcher := &browsertest.Launcher{}
	m := browser.NewManager(launcher, nil)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	first := launcher.Last()
	first.Lose()

	assert.False(t, m.Alive())
	_, err := m.NewPage(ctx)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)

	require.NoError(t, m.Initialize(ctx))
	assert.Equal(t, 2, launcher.Launches())
	assert.NotSame(t, first, launcher.Last())

	page, err := m.NewPage(ctx)
	require.NoError(t, err)
	assert.NotNil(t, page)
}

func TestCloseThenInitialize(t *testing.T) {
	launcher := &browsertest.Launcher{}
	m := browser.NewManager(launcher, nil)
	ctx := context.Background()

	assert.NoError(t, m.Close(), "close without session is a no-op")

	require.NoError(t, m.Initialize(ctx))
	s := launcher.Last()
	require.NoError(t, m.Close())
	assert.True(t, s.Closed())
	assert.NoError(t, m.Close())

	_, err := m.NewPage(ctx)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)

	require.NoError(t, m.Initialize(ctx))
	assert.Equal(t, 2, launcher.Launches())
}

func TestNewPageClosesInitialBlankTab(t *testing.T) {
	launcher := &browsertest.Launcher{InitialBlank: true}
	m := browser.NewManager(launcher, nil)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	initial := launcher.Last().Pages()[0].(*browsertest.Page)

	p1, err := m.NewPage(ctx)
	require.NoError(t, err)
	assert.True(t, initial.Closed())
	assert.False(t, p1.(*browsertest.Page).Closed())

	// fresh task pages are blank too and must survive later acquisitions
	p2, err := m.NewPage(ctx)
	require.NoError(t, err)
	assert.False(t, p1.(*browsertest.Page).Closed())
	assert.False(t, p2.(*browsertest.Page).Closed())
}

func TestNewPageKeepsNavigatedInitialTab(t *testing.T) {
	launcher := &browsertest.Launcher{InitialBlank: true}
	m := browser.NewManager(launcher, nil)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	initial := launcher.Last().Pages()[0].(*browsertest.Page)
	initial.SetURL("https://example.com")

	_, err := m.NewPage(ctx)
	require.NoError(t, err)
	assert.False(t, initial.Closed())
}

func TestNewPageSessionErrors(t *testing.T) {
	launcher := &browsertest.Launcher{}
	m := browser.NewManager(launcher, nil)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	boom := errors.New("boom")
	launcher.Last().FailPages(boom)
	_, err := m.NewPage(ctx)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, browser.ErrSessionClosed)
}

func TestInitializeHonoursContext(t *testing.T) {
	launcher := &browsertest.Launcher{Delay: 200 * time.Millisecond}
	m := browser.NewManager(launcher, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.Initialize(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the shared launch still completes for later callers
	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, 1, launcher.Launches())
}
