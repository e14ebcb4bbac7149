package quiz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// canStart applies the admission rules in order: championship exclusivity, then the private
// cap, then the broadcast channel lock and caps.
func (e *Engine) canStart(channelID, participantID, quizID string, kind ChannelKind) error {
	if c, ok := e.championships[channelID]; ok && c.QuizID != quizID {
		return &AdmissionError{Reason: ReasonChampionship}
	}
	key := SessionKey{ChannelID: channelID, InitiatorID: participantID, QuizID: quizID}
	if s := e.sessions[key]; s != nil && s.Active {
		return &AdmissionError{Reason: ReasonAlreadyRunning}
	}

	if kind == ChannelPrivate {
		n := 0
		for _, s := range e.sessions {
			if s.Active && s.Kind == ChannelPrivate && s.Key.InitiatorID == participantID {
				n++
			}
		}
		if n >= e.policy.MaxPrivateSessions {
			return &AdmissionError{Reason: ReasonPrivateLimit, Limit: e.policy.MaxPrivateSessions}
		}
		return nil
	}

	if holder, ok := e.locks[channelID]; ok {
		if s := e.sessions[holder]; s != nil && s.Active {
			return &AdmissionError{Reason: ReasonChannelBusy}
		}
	}
	inChannel, mine := 0, 0
	for _, s := range e.sessions {
		if !s.Active || s.Key.ChannelID != channelID {
			continue
		}
		inChannel++
		if s.Key.InitiatorID == participantID {
			mine++
		}
	}
	if inChannel >= e.policy.MaxChannelSessions {
		return &AdmissionError{Reason: ReasonChannelLimit, Limit: e.policy.MaxChannelSessions}
	}
	if mine >= e.policy.MaxUserChannelSessions {
		return &AdmissionError{Reason: ReasonParticipantLimit, Limit: e.policy.MaxUserChannelSessions}
	}
	return nil
}

// forceStart preempts every active session in the channel (emitting their results) and
// starts the requested one. Only championship exclusivity is still enforced.
func (e *Engine) forceStart(ctx context.Context, req StartRequest, championship bool) (*Session, error) {
	if c, ok := e.championships[req.ChannelID]; ok && c.QuizID != req.QuizID {
		return nil, &AdmissionError{Reason: ReasonChampionship}
	}
	q, budget, err := e.loadQuiz(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, s := range e.activeIn(req.ChannelID, func(*Session) bool { return true }) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("force start cancelled: %w", err)
		}
		e.logger.Info("preempting session", zap.String("session", s.Key.String()))
		e.finalize(ctx, s)
	}
	delete(e.locks, req.ChannelID)
	return e.launch(ctx, req, q, budget, championship), nil
}

// start loads and validates the quiz and launches the session. Admission is the caller's job.
func (e *Engine) start(ctx context.Context, req StartRequest, championship bool) (*Session, error) {
	q, budget, err := e.loadQuiz(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.launch(ctx, req, q, budget, championship), nil
}

func (e *Engine) loadQuiz(ctx context.Context, req StartRequest) (*Quiz, time.Duration, error) {
	q, err := e.store.GetQuiz(ctx, req.QuizID)
	if err != nil {
		if errors.Is(err, ErrQuizNotFound) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("get quiz %s: %w", req.QuizID, err)
	}
	if q == nil {
		return nil, 0, ErrQuizNotFound
	}
	if !q.hasPlayable() {
		return nil, 0, ErrNoPlayableQuestions
	}
	budget := req.TimeBudget
	if budget <= 0 {
		budget = q.TimeBudgetDefault
	}
	if budget <= 0 {
		budget = e.policy.DefaultTimeBudget
	}
	return q, budget, nil
}

// launch creates the session, takes the channel lock for broadcast channels and dispatches
// the first playable question.
func (e *Engine) launch(ctx context.Context, req StartRequest, q *Quiz, budget time.Duration, championship bool) *Session {
	key := SessionKey{ChannelID: req.ChannelID, InitiatorID: req.ParticipantID, QuizID: req.QuizID}
	s := newSession(key, req.Kind, q, budget, e.clock.Now())
	s.Championship = championship
	e.sessions[key] = s
	if req.Kind == ChannelBroadcast {
		e.locks[req.ChannelID] = key
	}
	e.logger.Info("session started",
		zap.String("session", key.String()),
		zap.String("kind", req.Kind.String()),
		zap.Int("questions", len(q.Questions)),
		zap.Duration("time_budget", budget),
		zap.Bool("championship", championship),
	)
	e.next(ctx, s, 0)
	return s
}

// deactivate marks the session inactive, releases its channel lock and poll records.
func (e *Engine) deactivate(ctx context.Context, s *Session) {
	now := e.clock.Now()
	s.Active = false
	s.Paused = false
	s.FinishedAt = &now
	if holder, ok := e.locks[s.Key.ChannelID]; ok && holder == s.Key {
		delete(e.locks, s.Key.ChannelID)
	}
	for _, pollID := range s.PollIDs {
		delete(e.polls, pollID)
	}
	e.save(ctx, s)
}
