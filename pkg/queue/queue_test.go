package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr
}

func TestQueue_EnqueueDequeueResult(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := ResultPayload{
		QuizID:        "capitals",
		ParticipantID: "42",
		ChannelID:     "-100",
		Answers:       map[int]int{0: 1, 2: 3},
		CorrectCount:  1,
		GradedCount:   3,
		LatenciesMs:   map[int]int64{0: 1200},
		FinishedAt:    finished,
	}
	require.NoError(t, q.EnqueueResult(ctx, in))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeResult, job.Type)
	assert.NotEmpty(t, job.ID)

	out, err := DecodeResult(job)
	require.NoError(t, err)
	assert.Equal(t, in.Answers, out.Answers)
	assert.Equal(t, in.LatenciesMs, out.LatenciesMs)
	assert.True(t, finished.Equal(out.FinishedAt))
}

func TestQueue_RetryThenDeadLetter(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.EnqueueResult(ctx, ResultPayload{QuizID: "q", ParticipantID: "p"}))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		assert.Equal(t, i, job.Attempt)
		queued, err := mr.List(QueueResults)
		require.NoError(t, err)
		assert.Len(t, queued, 1)

		job, err = q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
	}

	require.NoError(t, q.Retry(ctx, job))
	assert.False(t, mr.Exists(QueueResults))
	dead, err := mr.List(QueueDLQ)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestQueue_WithMaxRetries(t *testing.T) {
	q, mr := newTestQueue(t)
	q.WithMaxRetries(1)
	job := &Job{ID: "j", Type: JobTypeResult}
	require.NoError(t, q.Retry(context.Background(), job))
	dead, err := mr.List(QueueDLQ)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestDecodeResult_WrongType(t *testing.T) {
	_, err := DecodeResult(&Job{Type: "email"})
	assert.Error(t, err)
}
