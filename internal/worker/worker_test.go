package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/quiz"
	"github.com/aura-quiz/backend/pkg/queue"
)

type fakeSink struct {
	mu      sync.Mutex
	err     error
	results []quiz.Result
}

func (s *fakeSink) InsertResult(_ context.Context, res quiz.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, res)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func newQueue(t *testing.T) (*miniredis.Miniredis, *queue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, queue.NewQueue(client, zap.NewNop())
}

func TestResultProcessor_Run(t *testing.T) {
	_, q := newQueue(t)
	sink := &fakeSink{}
	p := NewResultProcessor(sink, q, time.Millisecond, zap.NewNop())

	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, q.EnqueueResult(context.Background(), queue.ResultPayload{
		QuizID:        "q1",
		ParticipantID: "alice",
		ChannelID:     "room",
		Answers:       map[int]int{0: 1},
		CorrectCount:  1,
		GradedCount:   1,
		LatenciesMs:   map[int]int64{0: 1200},
		FinishedAt:    finished,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	got := sink.results[0]
	sink.mu.Unlock()
	assert.Equal(t, "alice", got.ParticipantID)
	assert.Equal(t, map[int]int{0: 1}, got.Answers)
	assert.True(t, finished.Equal(got.FinishedAt))
}

func TestResultProcessor_FailedJobsReachDeadLetter(t *testing.T) {
	mr, q := newQueue(t)
	q.WithMaxRetries(2)
	sink := &fakeSink{err: errors.New("db down")}
	p := NewResultProcessor(sink, q, time.Millisecond, zap.NewNop())

	require.NoError(t, q.EnqueueResult(context.Background(), queue.ResultPayload{QuizID: "q1", ParticipantID: "bob"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		dlq, err := mr.List(queue.QueueDLQ)
		return err == nil && len(dlq) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestResultProcessor_ProcessRejectsUnknownType(t *testing.T) {
	_, q := newQueue(t)
	p := NewResultProcessor(&fakeSink{}, q, 0, nil)
	err := p.Process(context.Background(), &queue.Job{ID: "j1", Type: "recording_upload"})
	assert.Error(t, err)
}
