package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/places-scraper/internal/jobs"
	"github.com/maltedev/places-scraper/internal/models"
)

// JobService is the job manager as seen by the API.
type JobService interface {
	Submit(ctx context.Context, req *models.ScrapeRequest) error
	Get(ctx context.Context, userID, taskID string) (*models.ScrapeRequest, error)
	UpdateStatus(ctx context.Context, userID, taskID string, upd models.StatusUpdate) error
	ResultsPath(userID, taskID string) string
	Stats(ctx context.Context) (*jobs.Stats, error)
}

type Handlers struct {
	jobs   JobService
	logger *slog.Logger
}

func NewHandlers(jobs JobService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:   jobs,
		logger: logger.With("component", "api"),
	}
}

// CheckRequest starts a scraping job. States and fields are comma separated.
type CheckRequest struct {
	UserID   string `json:"user_id"`
	TaskID   string `json:"task_id"`
	Keywords string `json:"keywords"`
	Country  string `json:"country"`
	States   string `json:"states"`
	Fields   string `json:"fields"`
	Rating   string `json:"rating"`
}

type CheckResponse struct {
	UserID  string `json:"user_id"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CheckRequest handles new scraping job submissions
func (h *Handlers) CheckRequest(w http.ResponseWriter, r *http.Request) {
	var body CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := &models.ScrapeRequest{
		UserID:   strings.TrimSpace(body.UserID),
		TaskID:   strings.TrimSpace(body.TaskID),
		Keywords: strings.TrimSpace(body.Keywords),
		Country:  strings.TrimSpace(body.Country),
		States:   splitList(body.States),
		Fields:   models.ParseFields(body.Fields),
		Rating:   strings.TrimSpace(body.Rating),
	}

	if err := h.jobs.Submit(r.Context(), req); err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to submit request", "user_id", req.UserID, "task_id", req.TaskID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start scraping")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CheckResponse{
		UserID:  req.UserID,
		TaskID:  req.TaskID,
		Status:  req.Status,
		Message: "Scraping started",
	})
}

// GetStatus returns the stored state of a job
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, taskID := chi.URLParam(r, "userID"), chi.URLParam(r, "taskID")

	req, err := h.jobs.Get(r.Context(), userID, taskID)
	if err != nil {
		if errors.Is(err, models.ErrRequestNotFound) {
			h.respondError(w, http.StatusNotFound, "request not found")
			return
		}
		h.logger.Error("failed to get request", "user_id", userID, "task_id", taskID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get status")
		return
	}

	h.respondJSON(w, http.StatusOK, req)
}

// Download serves the results file of a job
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	userID, taskID := chi.URLParam(r, "userID"), chi.URLParam(r, "taskID")
	if strings.ContainsAny(userID+taskID, `/\`) || strings.Contains(userID+taskID, "..") {
		h.respondError(w, http.StatusBadRequest, "invalid id")
		return
	}

	path := h.jobs.ResultsPath(userID, taskID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			h.respondError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logger.Error("failed to open results", "path", path, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// UpdateStatusRequest sets the status of a job from outside the worker.
type UpdateStatusRequest struct {
	UserID    string `json:"user_id"`
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	RowCount  int    `json:"row_count"`
	Error     string `json:"error"`
}

func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" || body.TaskID == "" || body.Status == "" {
		h.respondError(w, http.StatusBadRequest, "user_id, task_id and status are required")
		return
	}

	err := h.jobs.UpdateStatus(r.Context(), body.UserID, body.TaskID, models.StatusUpdate{
		Status:    body.Status,
		ResultURL: body.ResultURL,
		RowCount:  body.RowCount,
		Error:     body.Error,
	})
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusOK, map[string]string{"message": "Status updated"})
	case errors.Is(err, jobs.ErrUnknownStatus):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrRequestNotFound):
		h.respondError(w, http.StatusNotFound, "request not found")
	default:
		h.logger.Error("failed to update status", "user_id", body.UserID, "task_id", body.TaskID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to update status")
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		h.logger.Error("health check failed", "error", err)
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"queued":   stats.Queued,
		"requests": stats.Requests,
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
