package jobs

import (
	"context"
	"errors"

	"github.com/maltedev/places-scraper/internal/queue"
)

// StartWorker processes queued jobs one at a time until ctx is done or the
// queue is closed.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		job, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				m.logger.Info("job worker stopping")
				return
			}
			m.logger.Error("failed to take job", "error", err)
			continue
		}

		m.logger.Info("processing job", "id", job.ID, "user_id", job.UserID, "task_id", job.TaskID)
		if err := m.Process(ctx, job.UserID, job.TaskID); err != nil && ctx.Err() != nil {
			m.logger.Info("job worker stopping")
			return
		}
	}
}
