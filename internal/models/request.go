package models

import (
	"errors"
	"time"
)

var ErrRequestNotFound = errors.New("scrape request not found")

// Job statuses stored with a scrape request.
const (
	StatusPending   = "pending"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScrapeRequest is a submitted scraping job: a keyword search run across a
// list of states, followed by detail extraction of every link found.
type ScrapeRequest struct {
	UserID    string    `json:"user_id"`
	TaskID    string    `json:"task_id"`
	Keywords  string    `json:"keywords"`
	Country   string    `json:"country"`
	States    []string  `json:"states"`
	Fields    []string  `json:"fields"`
	Rating    string    `json:"rating,omitempty"`
	Status    string    `json:"status"`
	ResultURL string    `json:"result_url,omitempty"`
	RowCount  int       `json:"row_count,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusUpdate carries a status transition. Empty ResultURL and zero RowCount
// leave the stored values untouched.
type StatusUpdate struct {
	Status    string
	ResultURL string
	RowCount  int
	Error     string
}

// Key identifies a request by owner and task.
func (r *ScrapeRequest) Key() string {
	return RequestKey(r.UserID, r.TaskID)
}

// RequestKey joins a user and task id.
func RequestKey(userID, taskID string) string {
	return userID + "/" + taskID
}

// Validate lists missing required values.
func (r *ScrapeRequest) Validate() []string {
	var errors []string

	if r.UserID == "" {
		errors = append(errors, "user_id is required")
	}
	if r.TaskID == "" {
		errors = append(errors, "task_id is required")
	}
	if r.Keywords == "" {
		errors = append(errors, "keywords is required")
	}
	if len(r.States) == 0 {
		errors = append(errors, "at least one state is required")
	}

	return errors
}

// IsTerminal reports whether a status ends a job.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Apply merges an update into the request.
func (r *ScrapeRequest) Apply(upd StatusUpdate, now time.Time) {
	r.Status = upd.Status
	if upd.ResultURL != "" {
		r.ResultURL = upd.ResultURL
	}
	if upd.RowCount != 0 {
		r.RowCount = upd.RowCount
	}
	r.Error = upd.Error
	r.UpdatedAt = now
}
