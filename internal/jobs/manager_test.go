package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/places-scraper/internal/events"
	"github.com/maltedev/places-scraper/internal/export"
	"github.com/maltedev/places-scraper/internal/models"
	"github.com/maltedev/places-scraper/internal/queue"
	"github.com/maltedev/places-scraper/internal/runner"
	"github.com/maltedev/places-scraper/internal/storage"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, query, rating string) ([]string, error) {
	args := m.Called(ctx, query, rating)
	links, _ := args.Get(0).([]string)
	return links, args.Error(1)
}

// echoRunner fills the title of every record with the task link.
type echoRunner struct {
	mu    sync.Mutex
	tasks []models.Task
	limit int
}

func (r *echoRunner) Execute(ctx context.Context, tasks []models.Task, limit int) ([]models.Record, runner.Summary) {
	r.mu.Lock()
	r.tasks = tasks
	r.limit = limit
	r.mu.Unlock()

	records := make([]models.Record, len(tasks))
	for i, task := range tasks {
		records[i] = models.NewRecord(task.Fields)
		if task.Wants(models.FieldTitle) {
			records[i][models.FieldTitle] = task.URL
		}
	}
	return records, runner.Summary{Total: len(tasks), Succeeded: len(tasks)}
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []string
	err      error
}

func (p *recordingPublisher) PublishStatus(ctx context.Context, payload *events.StatusChangedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, payload.Status)
	return p.err
}

func (p *recordingPublisher) Statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statuses...)
}

type fixture struct {
	manager   *Manager
	store     *storage.RequestStorage
	searcher  *MockSearcher
	runner    *echoRunner
	queue     *queue.InMemoryQueue
	publisher *recordingPublisher
	outDir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewRequestStorage(filepath.Join(dir, "requests.json"))
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		searcher:  &MockSearcher{},
		runner:    &echoRunner{},
		queue:     queue.NewInMemoryQueue(),
		publisher: &recordingPublisher{},
		outDir:    filepath.Join(dir, "public"),
	}
	cfg := DefaultConfig()
	cfg.OutputDir = f.outDir
	cfg.BaseURL = "https://scraper.example.com/"
	f.manager = NewManager(store, f.searcher, f.runner, f.queue, f.publisher, cfg, nil)
	return f
}

func testRequest() *models.ScrapeRequest {
	return &models.ScrapeRequest{
		UserID:   "u1",
		TaskID:   "t1",
		Keywords: "cafe",
		Country:  "USA",
		States:   []string{"Ohio", " Texas "},
		Fields:   []string{"title", "phone"},
		Rating:   "4",
	}
}

func (f *fixture) save(t *testing.T, req *models.ScrapeRequest) {
	t.Helper()
	require.NoError(t, f.store.SaveRequest(context.Background(), req))
}

func TestProcess(t *testing.T) {
	f := newFixture(t)
	f.save(t, testRequest())

	f.searcher.On("Search", mock.Anything, "cafe+in+Ohio+USA", "4").Return([]string{"https://m/A", "https://m/B"}, nil)
	f.searcher.On("Search", mock.Anything, "cafe+in+Texas+USA", "4").Return([]string{"https://m/B", "https://m/C"}, nil)

	require.NoError(t, f.manager.Process(context.Background(), "u1", "t1"))
	f.searcher.AssertExpectations(t)

	req, err := f.store.GetRequest(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.Equal(t, "https://scraper.example.com/download/u1/t1", req.ResultURL)
	assert.Equal(t, 3, req.RowCount)
	assert.Empty(t, req.Error)
	assert.Equal(t, []string{models.StatusRunning, models.StatusCompleted}, f.publisher.Statuses())

	assert.Equal(t, 5, f.runner.limit)
	require.Len(t, f.runner.tasks, 3)
	assert.Equal(t, []string{"title", "phone"}, f.runner.tasks[0].Fields)

	links, err := export.ReadLinks(filepath.Join(f.outDir, "links_u1_t1_cafe_in_USA.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://m/A", "https://m/B", "https://m/C"}, links)

	data, err := os.ReadFile(f.manager.ResultsPath("u1", "t1"))
	require.NoError(t, err)
	assert.Equal(t, "\"title\",\"phone\"\n\"https://m/A\",\"\"\n\"https://m/B\",\"\"\n\"https://m/C\",\"\"\n", string(data))
}

func TestProcessStateFailureIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.save(t, testRequest())

	f.searcher.On("Search", mock.Anything, "cafe+in+Ohio+USA", "4").Return(nil, errors.New("feed not found"))
	f.searcher.On("Search", mock.Anything, "cafe+in+Texas+USA", "4").Return([]string{"https://m/C"}, nil)

	require.NoError(t, f.manager.Process(context.Background(), "u1", "t1"))

	req, err := f.store.GetRequest(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.Equal(t, 1, req.RowCount)
}

func TestProcessDefaultFields(t *testing.T) {
	f := newFixture(t)
	req := testRequest()
	req.Fields = nil
	req.States = []string{"Ohio"}
	f.save(t, req)

	f.searcher.On("Search", mock.Anything, "cafe+in+Ohio+USA", "4").Return([]string{"https://m/A"}, nil)

	require.NoError(t, f.manager.Process(context.Background(), "u1", "t1"))
	require.Len(t, f.runner.tasks, 1)
	assert.Equal(t, models.DefaultFields, f.runner.tasks[0].Fields)
}

func TestProcessWriteFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.save(t, testRequest())
	require.NoError(t, os.WriteFile(f.outDir, []byte("not a dir"), 0644))

	f.searcher.On("Search", mock.Anything, mock.Anything, "4").Return([]string{"https://m/A"}, nil)

	err := f.manager.Process(context.Background(), "u1", "t1")
	require.Error(t, err)

	req, gerr := f.store.GetRequest(context.Background(), "u1", "t1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusFailed, req.Status)
	assert.NotEmpty(t, req.Error)
	assert.Equal(t, []string{models.StatusRunning, models.StatusFailed}, f.publisher.Statuses())
}

func TestProcessCancelledMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.save(t, testRequest())

	ctx, cancel := context.WithCancel(context.Background())
	f.searcher.On("Search", mock.Anything, mock.Anything, "4").
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	err := f.manager.Process(ctx, "u1", "t1")
	assert.ErrorIs(t, err, context.Canceled)

	req, gerr := f.store.GetRequest(context.Background(), "u1", "t1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusFailed, req.Status)
}

func TestProcessMissingRequest(t *testing.T) {
	f := newFixture(t)
	err := f.manager.Process(context.Background(), "nobody", "t1")
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
	assert.Empty(t, f.publisher.Statuses())
}

func TestSearchStatesBounded(t *testing.T) {
	f := newFixture(t)
	f.manager.cfg.SearchWorkers = 2

	var active, peak atomic.Int32
	f.searcher.On("Search", mock.Anything, mock.Anything, "").
		Run(func(mock.Arguments) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
		}).
		Return([]string{"https://m/A"}, nil)

	req := testRequest()
	req.Rating = ""
	req.States = []string{"A", "B", "C", "D", "E", ""}
	links, err := f.manager.searchStates(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://m/A"}, links)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	f.searcher.AssertNumberOfCalls(t, "Search", 5)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	req := testRequest()
	req.Fields = []string{" title ", "title", ""}

	require.NoError(t, f.manager.Submit(context.Background(), req))

	stored, err := f.manager.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, stored.Status)
	assert.Equal(t, []string{"title"}, stored.Fields)
	assert.Equal(t, 1, f.queue.Size())
	assert.Equal(t, []string{models.StatusQueued}, f.publisher.Statuses())

	job, err := f.queue.TryPop()
	require.NoError(t, err)
	assert.Equal(t, "u1", job.UserID)
	assert.Equal(t, "t1", job.TaskID)
}

func TestSubmitInvalid(t *testing.T) {
	f := newFixture(t)
	err := f.manager.Submit(context.Background(), &models.ScrapeRequest{UserID: "u1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "task_id is required")
	assert.Zero(t, f.queue.Size())

	_, err = f.manager.Get(context.Background(), "u1", "")
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestSubmitClosedQueue(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.Close())

	err := f.manager.Submit(context.Background(), testRequest())
	require.ErrorIs(t, err, queue.ErrQueueClosed)

	stored, gerr := f.manager.Get(context.Background(), "u1", "t1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusFailed, stored.Status)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	f.save(t, testRequest())
	f.publisher.err = errors.New("redis down")

	err := f.manager.UpdateStatus(context.Background(), "u1", "t1", models.StatusUpdate{Status: models.StatusCompleted, ResultURL: "https://x", RowCount: 4})
	require.NoError(t, err)

	stored, err := f.manager.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "https://x", stored.ResultURL)
	assert.Equal(t, 4, stored.RowCount)

	err = f.manager.UpdateStatus(context.Background(), "u1", "t1", models.StatusUpdate{Status: "done"})
	assert.ErrorIs(t, err, ErrUnknownStatus)

	err = f.manager.UpdateStatus(context.Background(), "u2", "t1", models.StatusUpdate{Status: models.StatusRunning})
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.save(t, testRequest())
	require.NoError(t, f.queue.Push(queue.NewJob("u1", "t1")))

	stats, err := f.manager.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, map[string]int{models.StatusPending: 1}, stats.Requests)
}

func TestStartWorker(t *testing.T) {
	f := newFixture(t)
	f.searcher.On("Search", mock.Anything, mock.Anything, "4").Return([]string{"https://m/A"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.manager.StartWorker(ctx)
		close(done)
	}()

	require.NoError(t, f.manager.Submit(context.Background(), testRequest()))

	require.Eventually(t, func() bool {
		req, err := f.manager.Get(context.Background(), "u1", "t1")
		return err == nil && req.Status == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestStartWorkerStopsOnClosedQueue(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.queue.Close())

	done := make(chan struct{})
	go func() {
		f.manager.StartWorker(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
