package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopPriority(t *testing.T) {
	q := NewInMemoryQueue()

	low := &Job{UserID: "u", TaskID: "low"}
	high := &Job{UserID: "u", TaskID: "high", Priority: 10}
	low2 := &Job{UserID: "u", TaskID: "low2"}
	require.NoError(t, q.Push(low))
	require.NoError(t, q.Push(high))
	require.NoError(t, q.Push(low2))
	assert.Equal(t, 3, q.Size())

	ctx := context.Background()
	var order []string
	for i := 0; i < 3; i++ {
		job, err := q.Pop(ctx)
		require.NoError(t, err)
		order = append(order, job.TaskID)
	}
	assert.Equal(t, []string{"high", "low", "low2"}, order)
	assert.NotEmpty(t, low.ID)
	assert.False(t, low.CreatedAt.IsZero())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := NewInMemoryQueue()

	got := make(chan *Job, 1)
	go func() {
		job, err := q.Pop(context.Background())
		if err == nil {
			got <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(NewJob("u", "t")))

	select {
	case job := <-got:
		assert.Equal(t, "t", job.TaskID)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestPopContextCancel(t *testing.T) {
	q := NewInMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(NewJob("u", "t")))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(NewJob("u", "x")), ErrQueueClosed)

	job, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t", job.TaskID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestTryPop(t *testing.T) {
	q := NewInMemoryQueue()
	_, err := q.TryPop()
	assert.ErrorIs(t, err, ErrQueueEmpty)

	require.NoError(t, q.Push(NewJob("u", "t")))
	job, err := q.TryPop()
	require.NoError(t, err)
	assert.Equal(t, "t", job.TaskID)
}
