package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Job references a stored scrape request waiting to be processed.
type Job struct {
	ID        string
	UserID    string
	TaskID    string
	Priority  int
	Retries   int
	CreatedAt time.Time
}

func NewJob(userID, taskID string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		TaskID:    taskID,
		CreatedAt: time.Now(),
	}
}

type Queue interface {
	Push(job *Job) error
	Pop(ctx context.Context) (*Job, error)
	Size() int
	Close() error
}

// InMemoryQueue pops the highest priority job first, oldest first within a
// priority.
type InMemoryQueue struct {
	jobs   []*Job
	mu     sync.Mutex
	notify chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		jobs:   make([]*Job, 0),
		notify: make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	q.jobs = append(q.jobs, job)
	q.sortByPriority()
	q.wake()

	return nil
}

// wake releases every waiting Pop. Callers hold q.mu.
func (q *InMemoryQueue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Pop blocks until a job is available, the queue is closed or ctx is done.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		notify := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		}
	}
}

// TryPop returns ErrQueueEmpty instead of blocking.
func (q *InMemoryQueue) TryPop() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.wake()

	return nil
}

func (q *InMemoryQueue) sortByPriority() {
	sort.SliceStable(q.jobs, func(i, j int) bool {
		return q.jobs[i].Priority > q.jobs[j].Priority
	})
}
