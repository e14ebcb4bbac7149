package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/quiz"
	"github.com/aura-quiz/backend/internal/quizzes"
	"github.com/aura-quiz/backend/pkg/queue"
)

// ResultSink persists finished quiz results.
type ResultSink interface {
	InsertResult(ctx context.Context, res quiz.Result) error
}

// ResultProcessor drains result jobs from the queue into the database.
type ResultProcessor struct {
	sink    ResultSink
	queue   *queue.Queue
	backoff time.Duration
	logger  *zap.Logger
}

// NewResultProcessor creates a result persistence processor.
func NewResultProcessor(sink ResultSink, q *queue.Queue, backoff time.Duration, logger *zap.Logger) *ResultProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = queue.RetryBackoff
	}
	return &ResultProcessor{sink: sink, queue: q, backoff: backoff, logger: logger}
}

// Process executes one result job.
func (p *ResultProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeResult(job)
	if err != nil {
		return err
	}
	if err := p.sink.InsertResult(ctx, quizzes.FromPayload(payload)); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	p.logger.Info("quiz result stored",
		zap.String("job_id", job.ID),
		zap.String("quiz_id", payload.QuizID),
		zap.String("participant_id", payload.ParticipantID),
		zap.Int("correct", payload.CorrectCount),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ResultProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("result worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.wait(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.wait(ctx)
		}
	}
}

func (p *ResultProcessor) wait(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
