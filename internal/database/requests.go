package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/places-scraper/internal/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scraping_requests (
		user_id     TEXT        NOT NULL,
		task_id     TEXT        NOT NULL,
		keywords    TEXT        NOT NULL,
		country     TEXT        NOT NULL DEFAULT '',
		states      TEXT[]      NOT NULL DEFAULT '{}',
		fields      TEXT[]      NOT NULL DEFAULT '{}',
		rating      TEXT        NOT NULL DEFAULT '',
		status      TEXT        NOT NULL DEFAULT 'pending',
		result_url  TEXT        NOT NULL DEFAULT '',
		row_count   INTEGER     NOT NULL DEFAULT 0,
		error       TEXT        NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, task_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scraping_requests_status ON scraping_requests (status)`,
}

// RequestRepository stores scrape requests in the scraping_requests table.
type RequestRepository struct {
	db *DB
}

func NewRequestRepository(db *DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// EnsureSchema creates the table and its indexes in one transaction.
func (r *RequestRepository) EnsureSchema(ctx context.Context) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create scraping_requests schema: %w", err)
			}
		}
		return nil
	})
}

func (r *RequestRepository) SaveRequest(ctx context.Context, req *models.ScrapeRequest) error {
	if req.Status == "" {
		req.Status = models.StatusPending
	}

	query := `
		INSERT INTO scraping_requests
			(user_id, task_id, keywords, country, states, fields, rating, status, result_url, row_count, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, task_id) DO UPDATE SET
			keywords   = EXCLUDED.keywords,
			country    = EXCLUDED.country,
			states     = EXCLUDED.states,
			fields     = EXCLUDED.fields,
			rating     = EXCLUDED.rating,
			status     = EXCLUDED.status,
			result_url = EXCLUDED.result_url,
			row_count  = EXCLUDED.row_count,
			error      = EXCLUDED.error,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		req.UserID, req.TaskID, req.Keywords, req.Country, nonNil(req.States), nonNil(req.Fields),
		req.Rating, req.Status, req.ResultURL, req.RowCount, req.Error,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (r *RequestRepository) GetRequest(ctx context.Context, userID, taskID string) (*models.ScrapeRequest, error) {
	query := `
		SELECT user_id, task_id, keywords, country, states, fields, rating, status,
		       result_url, row_count, error, created_at, updated_at
		FROM scraping_requests
		WHERE user_id = $1 AND task_id = $2`

	var req models.ScrapeRequest
	err := r.db.QueryRow(ctx, query, userID, taskID).Scan(
		&req.UserID, &req.TaskID, &req.Keywords, &req.Country, &req.States, &req.Fields,
		&req.Rating, &req.Status, &req.ResultURL, &req.RowCount, &req.Error,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return &req, nil
}

func (r *RequestRepository) UpdateStatus(ctx context.Context, userID, taskID string, upd models.StatusUpdate) error {
	query := `
		UPDATE scraping_requests
		SET status     = $3,
		    result_url = CASE WHEN $4 = '' THEN result_url ELSE $4 END,
		    row_count  = CASE WHEN $5 = 0 THEN row_count ELSE $5 END,
		    error      = $6,
		    updated_at = $7
		WHERE user_id = $1 AND task_id = $2`

	tag, err := r.db.Exec(ctx, query, userID, taskID, upd.Status, upd.ResultURL, upd.RowCount, upd.Error, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", models.ErrRequestNotFound, userID, taskID)
	}
	return nil
}

// CountByStatus returns the number of requests per status.
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM scraping_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
