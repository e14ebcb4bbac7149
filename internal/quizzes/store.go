package quizzes

import (
	"context"

	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/quiz"
	"github.com/aura-quiz/backend/pkg/queue"
)

// QuizSource is the read side the orchestrator needs from the database.
type QuizSource interface {
	GetQuiz(ctx context.Context, id string) (*quiz.Quiz, error)
	IsVIP(ctx context.Context, participantID string) (bool, error)
	InsertResult(ctx context.Context, res quiz.Result) error
}

// ResultQueue accepts result persistence jobs.
type ResultQueue interface {
	EnqueueResult(ctx context.Context, payload queue.ResultPayload) error
}

// Store implements quiz.Store. Results go through the job queue when one is set.
type Store struct {
	source QuizSource
	jobs   ResultQueue
	logger *zap.Logger
}

// NewStore creates the orchestrator store. jobs may be nil to write results directly.
func NewStore(source QuizSource, jobs ResultQueue, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{source: source, jobs: jobs, logger: logger}
}

// GetQuiz loads a quiz definition.
func (s *Store) GetQuiz(ctx context.Context, quizID string) (*quiz.Quiz, error) {
	return s.source.GetQuiz(ctx, quizID)
}

// IsVIP reports the participant's VIP flag.
func (s *Store) IsVIP(ctx context.Context, participantID string) (bool, error) {
	return s.source.IsVIP(ctx, participantID)
}

// SaveResult persists a result, through the queue when configured.
func (s *Store) SaveResult(ctx context.Context, r quiz.Result) error {
	if s.jobs == nil {
		return s.source.InsertResult(ctx, r)
	}
	return s.jobs.EnqueueResult(ctx, ToPayload(r))
}

// ToPayload converts a result into its queue job payload.
func ToPayload(r quiz.Result) queue.ResultPayload {
	return queue.ResultPayload{
		QuizID:        r.QuizID,
		ParticipantID: r.ParticipantID,
		ChannelID:     r.ChannelID,
		Answers:       r.Answers,
		CorrectCount:  r.CorrectCount,
		GradedCount:   r.GradedCount,
		LatenciesMs:   r.LatenciesMs,
		FinishedAt:    r.FinishedAt,
	}
}

// FromPayload converts a queue job payload back into a result.
func FromPayload(p queue.ResultPayload) quiz.Result {
	return quiz.Result{
		QuizID:        p.QuizID,
		ParticipantID: p.ParticipantID,
		ChannelID:     p.ChannelID,
		Answers:       p.Answers,
		CorrectCount:  p.CorrectCount,
		GradedCount:   p.GradedCount,
		LatenciesMs:   p.LatenciesMs,
		FinishedAt:    p.FinishedAt,
	}
}
