package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueResults is the Redis list key for quiz result persistence jobs.
	QueueResults = "worker:results"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PopTimeout bounds a single blocking dequeue so the consumer notices cancellation.
	PopTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeResult JobType = "quiz_result"
)

// ResultPayload is one participant's finished quiz outcome.
type ResultPayload struct {
	QuizID        string        `json:"quiz_id"`
	ParticipantID string        `json:"participant_id"`
	ChannelID     string        `json:"channel_id"`
	Answers       map[int]int   `json:"answers"`
	CorrectCount  int           `json:"correct_count"`
	GradedCount   int           `json:"graded_count"`
	LatenciesMs   map[int]int64 `json:"latencies_ms"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client     *redis.Client
	logger     *zap.Logger
	maxRetries int
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, maxRetries: MaxRetries}
}

// WithMaxRetries overrides MaxRetries; values below 1 are ignored.
func (q *Queue) WithMaxRetries(n int) *Queue {
	if n > 0 {
		q.maxRetries = n
	}
	return q
}

// EnqueueResult enqueues a result persistence job.
func (q *Queue) EnqueueResult(ctx context.Context, payload ResultPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeResult,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueResults, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued result job",
		zap.String("job_id", job.ID),
		zap.String("quiz_id", payload.QuizID),
		zap.String("participant_id", payload.ParticipantID),
	)
	return nil
}

// Dequeue waits up to PopTimeout for a job. A nil job with nil error means nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, PopTimeout, QueueResults).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt reaches the retry limit, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= q.maxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueResults, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// DecodeResult unpacks a result job's payload.
func DecodeResult(job *Job) (ResultPayload, error) {
	var p ResultPayload
	if job.Type != JobTypeResult {
		return p, fmt.Errorf("unknown job type: %s", job.Type)
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}
