package quizzes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-quiz/backend/internal/models"
	"github.com/aura-quiz/backend/internal/quiz"
)

// Repository handles quiz, participant and result persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a quizzes repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a quiz and its questions in one transaction.
func (r *Repository) Create(ctx context.Context, q *quiz.Quiz, createdBy string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertQuiz = `INSERT INTO quizzes (id, title, time_budget_seconds, created_by) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertQuiz, q.ID, q.Title, int(q.TimeBudgetDefault/time.Second), createdBy); err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	const insertQuestion = `INSERT INTO quiz_questions (quiz_id, position, text, options, correct_index)
		VALUES ($1, $2, $3, $4, $5)`
	for i, question := range q.Questions {
		if _, err := tx.Exec(ctx, insertQuestion, q.ID, i, question.Text, question.Options, question.CorrectIndex); err != nil {
			return fmt.Errorf("insert question %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

// GetQuiz returns a quiz with its questions in order, or quiz.ErrQuizNotFound.
func (r *Repository) GetQuiz(ctx context.Context, id string) (*quiz.Quiz, error) {
	const query = `SELECT id, title, time_budget_seconds FROM quizzes WHERE id = $1`
	var q quiz.Quiz
	var budgetSeconds int
	err := r.pool.QueryRow(ctx, query, id).Scan(&q.ID, &q.Title, &budgetSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, quiz.ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}
	q.TimeBudgetDefault = time.Duration(budgetSeconds) * time.Second

	const questions = `SELECT text, options, correct_index FROM quiz_questions WHERE quiz_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, questions, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var question quiz.Question
		var correct *int32
		if err := rows.Scan(&question.Text, &question.Options, &correct); err != nil {
			return nil, err
		}
		if correct != nil {
			idx := int(*correct)
			question.CorrectIndex = &idx
		}
		q.Questions = append(q.Questions, question)
	}
	return &q, rows.Err()
}

// IsVIP reports whether the participant has an active VIP period.
func (r *Repository) IsVIP(ctx context.Context, participantID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM participants WHERE id = $1 AND vip_until > NOW())`
	var vip bool
	err := r.pool.QueryRow(ctx, query, participantID).Scan(&vip)
	return vip, err
}

// GetParticipant returns a participant by ID, or nil if unknown.
func (r *Repository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	const query = `SELECT id, display_name, role, vip_until, updated_at FROM participants WHERE id = $1`
	var p models.Participant
	var role string
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.DisplayName, &role, &p.VIPUntil, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Role = models.Role(role)
	return &p, nil
}

// UpsertParticipant records the latest display name seen for a participant.
func (r *Repository) UpsertParticipant(ctx context.Context, id, displayName string) error {
	const query = `INSERT INTO participants (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = NOW()
		WHERE participants.display_name IS DISTINCT FROM EXCLUDED.display_name`
	_, err := r.pool.Exec(ctx, query, id, displayName)
	return err
}

// SaveParticipant creates or replaces a participant's name, role and VIP period.
func (r *Repository) SaveParticipant(ctx context.Context, p *models.Participant) error {
	const query = `INSERT INTO participants (id, display_name, role, vip_until) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, role = EXCLUDED.role,
		vip_until = EXCLUDED.vip_until, updated_at = NOW()
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, query, p.ID, p.DisplayName, string(p.Role), p.VIPUntil).Scan(&p.UpdatedAt)
}

// InsertResult stores one result; replays of the same result are ignored.
func (r *Repository) InsertResult(ctx context.Context, res quiz.Result) error {
	answers, err := json.Marshal(res.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	latencies, err := json.Marshal(res.LatenciesMs)
	if err != nil {
		return fmt.Errorf("marshal latencies: %w", err)
	}
	const query = `INSERT INTO quiz_results
		(quiz_id, participant_id, channel_id, answers, correct_count, graded_count, latencies_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (quiz_id, participant_id, channel_id, finished_at) DO NOTHING`
	_, err = r.pool.Exec(ctx, query, res.QuizID, res.ParticipantID, res.ChannelID, answers,
		res.CorrectCount, res.GradedCount, latencies, res.FinishedAt)
	return err
}

// ListResults returns the most recent results of a quiz, best first within a run.
func (r *Repository) ListResults(ctx context.Context, quizID string, limit int) ([]models.QuizResult, error) {
	const query = `SELECT r.id::text, r.quiz_id, r.participant_id, COALESCE(p.display_name, ''), r.channel_id,
		r.answers, r.correct_count, r.graded_count, r.latencies_ms, r.finished_at
		FROM quiz_results r LEFT JOIN participants p ON p.id = r.participant_id
		WHERE r.quiz_id = $1
		ORDER BY r.finished_at DESC, r.correct_count DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, quizID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.QuizResult
	for rows.Next() {
		var res models.QuizResult
		var answers, latencies []byte
		if err := rows.Scan(&res.ID, &res.QuizID, &res.ParticipantID, &res.DisplayName, &res.ChannelID,
			&answers, &res.CorrectCount, &res.GradedCount, &latencies, &res.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(answers, &res.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		if err := json.Unmarshal(latencies, &res.LatenciesMs); err != nil {
			return nil, fmt.Errorf("decode latencies: %w", err)
		}
		list = append(list, res)
	}
	return list, rows.Err()
}
