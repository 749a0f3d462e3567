package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/places-scraper/internal/events"
	"github.com/maltedev/places-scraper/internal/export"
	"github.com/maltedev/places-scraper/internal/models"
	"github.com/maltedev/places-scraper/internal/parser"
	"github.com/maltedev/places-scraper/internal/queue"
	"github.com/maltedev/places-scraper/internal/runner"
	"github.com/maltedev/places-scraper/internal/search"
)

var (
	ErrInvalidRequest = errors.New("invalid scrape request")
	ErrUnknownStatus  = errors.New("unknown status")
)

// Store persists scrape requests.
type Store interface {
	SaveRequest(ctx context.Context, req *models.ScrapeRequest) error
	GetRequest(ctx context.Context, userID, taskID string) (*models.ScrapeRequest, error)
	UpdateStatus(ctx context.Context, userID, taskID string, upd models.StatusUpdate) error
}

// StatusCounter is implemented by stores that can summarize requests.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, payload *events.StatusChangedPayload) error
}

// Searcher returns the detail links listed for one search query.
type Searcher interface {
	Search(ctx context.Context, query, rating string) ([]string, error)
}

// BatchRunner extracts one record per task.
type BatchRunner interface {
	Execute(ctx context.Context, tasks []models.Task, limit int) ([]models.Record, runner.Summary)
}

type Config struct {
	OutputDir     string
	BaseURL       string
	SearchWorkers int
	ExtractLimit  int
}

func DefaultConfig() Config {
	return Config{
		OutputDir:     "public",
		BaseURL:       "http://localhost:3001",
		SearchWorkers: 7,
		ExtractLimit:  5,
	}
}

type Manager struct {
	store     Store
	searcher  Searcher
	runner    BatchRunner
	queue     queue.Queue
	publisher StatusPublisher
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

func NewManager(store Store, searcher Searcher, batch BatchRunner, q queue.Queue, publisher StatusPublisher, cfg Config, logger *slog.Logger) *Manager {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.SearchWorkers <= 0 {
		cfg.SearchWorkers = DefaultConfig().SearchWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		searcher:  searcher,
		runner:    batch,
		queue:     q,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "job_manager"),
	}
}

// Submit validates and stores a request and queues it for processing.
func (m *Manager) Submit(ctx context.Context, req *models.ScrapeRequest) error {
	if problems := req.Validate(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}

	req.Fields = fieldsOf(req)
	req.Status = models.StatusQueued
	req.ResultURL = ""
	req.RowCount = 0
	req.Error = ""
	if err := m.store.SaveRequest(ctx, req); err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	m.publish(ctx, req.UserID, req.TaskID, models.StatusUpdate{Status: models.StatusQueued})

	if err := m.queue.Push(queue.NewJob(req.UserID, req.TaskID)); err != nil {
		m.UpdateStatus(context.WithoutCancel(ctx), req.UserID, req.TaskID, models.StatusUpdate{Status: models.StatusFailed, Error: err.Error()})
		return fmt.Errorf("failed to queue request: %w", err)
	}

	m.logger.Info("request queued", "user_id", req.UserID, "task_id", req.TaskID, "states", len(req.States))
	return nil
}

// Get returns a stored request.
func (m *Manager) Get(ctx context.Context, userID, taskID string) (*models.ScrapeRequest, error) {
	return m.store.GetRequest(ctx, userID, taskID)
}

// UpdateStatus stores a status transition and publishes it.
func (m *Manager) UpdateStatus(ctx context.Context, userID, taskID string, upd models.StatusUpdate) error {
	if !knownStatus(upd.Status) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, upd.Status)
	}
	if err := m.store.UpdateStatus(ctx, userID, taskID, upd); err != nil {
		return err
	}
	m.publish(ctx, userID, taskID, upd)
	return nil
}

func (m *Manager) publish(ctx context.Context, userID, taskID string, upd models.StatusUpdate) {
	err := m.publisher.PublishStatus(ctx, &events.StatusChangedPayload{
		UserID:    userID,
		TaskID:    taskID,
		Status:    upd.Status,
		ResultURL: upd.ResultURL,
		RowCount:  upd.RowCount,
		Error:     upd.Error,
	})
	if err != nil {
		m.logger.Warn("failed to publish status", "user_id", userID, "task_id", taskID, "status", upd.Status, "error", err)
	}
}

type Stats struct {
	Requests map[string]int `json:"requests,omitempty"`
	Queued   int            `json:"queued"`
}

// Stats reports queue depth and, when the store supports it, request counts
// per status.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Queued: m.queue.Size()}
	if counter, ok := m.store.(StatusCounter); ok {
		counts, err := counter.CountByStatus(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get stats: %w", err)
		}
		stats.Requests = counts
	}
	return stats, nil
}

// DownloadURL is where the results of a job are served.
func (m *Manager) DownloadURL(userID, taskID string) string {
	return fmt.Sprintf("%s/download/%s/%s", strings.TrimRight(m.cfg.BaseURL, "/"), userID, taskID)
}

// ResultsPath is the results file of a job.
func (m *Manager) ResultsPath(userID, taskID string) string {
	return filepath.Join(m.cfg.OutputDir, export.ResultsFileName(userID, taskID))
}

// Process runs a stored request end to end: search every state, extract
// every distinct link, write the results file. The request ends completed
// or failed.
func (m *Manager) Process(ctx context.Context, userID, taskID string) (err error) {
	logger := m.logger.With("user_id", userID, "task_id", taskID)

	req, err := m.store.GetRequest(ctx, userID, taskID)
	if err != nil {
		return fmt.Errorf("failed to load request: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		logger.Error("job failed", "error", err)
		upd := models.StatusUpdate{Status: models.StatusFailed, Error: err.Error()}
		if uerr := m.UpdateStatus(context.WithoutCancel(ctx), userID, taskID, upd); uerr != nil {
			logger.Error("failed to mark job as failed", "error", uerr)
		}
	}()

	if err := m.UpdateStatus(ctx, userID, taskID, models.StatusUpdate{Status: models.StatusRunning}); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	start := m.now()
	fields := fieldsOf(req)

	links, err := m.searchStates(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("search finished", "links", len(links))

	linksPath := filepath.Join(m.cfg.OutputDir, export.LinksFileName(userID, taskID, req.Keywords, req.Country))
	if err := export.WriteLinks(linksPath, links); err != nil {
		return fmt.Errorf("failed to save links: %w", err)
	}

	records, summary := m.runner.Execute(ctx, models.TasksFromLinks(links, fields), m.cfg.ExtractLimit)
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := export.WriteRecords(m.ResultsPath(userID, taskID), records, fields); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	upd := models.StatusUpdate{
		Status:    models.StatusCompleted,
		ResultURL: m.DownloadURL(userID, taskID),
		RowCount:  len(records),
	}
	if err := m.UpdateStatus(ctx, userID, taskID, upd); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	logger.Info("job completed",
		"rows", len(records),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", m.now().Sub(start))
	return nil
}

// searchStates searches every state of a request concurrently and merges
// the links in state order. A state that fails contributes no links.
func (m *Manager) searchStates(ctx context.Context, req *models.ScrapeRequest) ([]string, error) {
	results := make([][]string, len(req.States))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.SearchWorkers)
	for i, state := range req.States {
		i, state := i, state
		state = strings.TrimSpace(state)
		if state == "" {
			continue
		}
		g.Go(func() error {
			query := search.Query(req.Keywords, state, req.Country)
			links, err := m.searcher.Search(gctx, query, req.Rating)
			if err != nil {
				m.logger.Error("state search failed", "state", state, "query", query, "error", err)
				return nil
			}
			results[i] = links
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return parser.Dedupe(results...), nil
}

func fieldsOf(req *models.ScrapeRequest) []string {
	fields := models.NormalizeFields(req.Fields)
	if len(fields) == 0 {
		return append([]string(nil), models.DefaultFields...)
	}
	return fields
}

func knownStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusQueued, models.StatusRunning, models.StatusCompleted, models.StatusFailed:
		return true
	}
	return false
}
