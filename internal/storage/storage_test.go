package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/places-scraper/internal/models"
)

func TestRequestStorageRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "data", "requests.json")
	ctx := context.Background()

	rs, err := NewRequestStorage(file)
	require.NoError(t, err)

	req := &models.ScrapeRequest{
		UserID:   "u1",
		TaskID:   "t1",
		Keywords: "bakery",
		Country:  "USA",
		States:   []string{"Texas", "Ohio"},
		Fields:   []string{models.FieldTitle},
	}
	require.NoError(t, rs.SaveRequest(ctx, req))
	assert.Equal(t, models.StatusPending, req.Status)
	assert.False(t, req.CreatedAt.IsZero())

	require.NoError(t, rs.UpdateStatus(ctx, "u1", "t1", models.StatusUpdate{
		Status:    models.StatusCompleted,
		ResultURL: "http://host/download/u1/t1",
		RowCount:  12,
	}))

	reopened, err := NewRequestStorage(file)
	require.NoError(t, err)

	got, err := reopened.GetRequest(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "http://host/download/u1/t1", got.ResultURL)
	assert.Equal(t, 12, got.RowCount)
	assert.Equal(t, []string{"Texas", "Ohio"}, got.States)

	counts, err := reopened.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{models.StatusCompleted: 1}, counts)
}

func TestRequestStorageNotFound(t *testing.T) {
	rs, err := NewRequestStorage(filepath.Join(t.TempDir(), "requests.json"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = rs.GetRequest(ctx, "nobody", "nothing")
	assert.ErrorIs(t, err, models.ErrRequestNotFound)

	err = rs.UpdateStatus(ctx, "nobody", "nothing", models.StatusUpdate{Status: models.StatusFailed})
	assert.ErrorIs(t, err, models.ErrRequestNotFound)
}

func TestRequestStorageRejectsMissingKeys(t *testing.T) {
	rs, err := NewRequestStorage(filepath.Join(t.TempDir(), "requests.json"))
	require.NoError(t, err)

	assert.Error(t, rs.SaveRequest(context.Background(), &models.ScrapeRequest{UserID: "u"}))
}

func TestGetRequestReturnsCopy(t *testing.T) {
	rs, err := NewRequestStorage(filepath.Join(t.TempDir(), "requests.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, rs.SaveRequest(ctx, &models.ScrapeRequest{UserID: "u", TaskID: "t"}))
	got, err := rs.GetRequest(ctx, "u", "t")
	require.NoError(t, err)
	got.Status = "tampered"

	again, err := rs.GetRequest(ctx, "u", "t")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)
}
