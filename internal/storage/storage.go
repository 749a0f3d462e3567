package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maltedev/places-scraper/internal/models"
)

// RequestStorage keeps scrape requests in a single JSON file.
type RequestStorage struct {
	mu       sync.RWMutex
	requests map[string]*models.ScrapeRequest
	filename string
	now      func() time.Time
}

func NewRequestStorage(filename string) (*RequestStorage, error) {
	rs := &RequestStorage{
		requests: make(map[string]*models.ScrapeRequest),
		filename: filename,
		now:      time.Now,
	}

	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}

	// Load existing data if file exists
	if err := rs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return rs, nil
}

func (rs *RequestStorage) SaveRequest(ctx context.Context, req *models.ScrapeRequest) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if req.UserID == "" || req.TaskID == "" {
		return fmt.Errorf("user_id and task_id are required")
	}

	now := rs.now()
	stored := *req
	if existing, ok := rs.requests[req.Key()]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Status == "" {
		stored.Status = models.StatusPending
	}

	rs.requests[req.Key()] = &stored
	*req = stored
	return rs.save()
}

func (rs *RequestStorage) GetRequest(ctx context.Context, userID, taskID string) (*models.ScrapeRequest, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	req, exists := rs.requests[models.RequestKey(userID, taskID)]
	if !exists {
		return nil, models.ErrRequestNotFound
	}
	out := *req
	return &out, nil
}

func (rs *RequestStorage) UpdateStatus(ctx context.Context, userID, taskID string, upd models.StatusUpdate) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	req, exists := rs.requests[models.RequestKey(userID, taskID)]
	if !exists {
		return fmt.Errorf("%w: %s/%s", models.ErrRequestNotFound, userID, taskID)
	}

	req.Apply(upd, rs.now())
	return rs.save()
}

// CountByStatus returns the number of requests per status.
func (rs *RequestStorage) CountByStatus(ctx context.Context) (map[string]int, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	counts := make(map[string]int)
	for _, req := range rs.requests {
		counts[req.Status]++
	}
	return counts, nil
}

func (rs *RequestStorage) save() error {
	data, err := json.MarshalIndent(rs.requests, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := rs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, rs.filename)
}

func (rs *RequestStorage) Load() error {
	data, err := os.ReadFile(rs.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &rs.requests)
}
