package quiz

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Trigger names the caller of the decision routine.
type Trigger int

const (
	// TriggerTimer is the deferred per-question timer; due at sent time + budget.
	TriggerTimer Trigger = iota
	// TriggerSweep is the recovery sweep; due at NextDueAt (budget + grace).
	TriggerSweep
	// TriggerAnswer is the early-advance check run right after an answer is recorded.
	TriggerAnswer
)

// Action is the outcome of a due-check.
type Action int

const (
	ActionNone Action = iota
	// ActionAdvance moves on after an answered question.
	ActionAdvance
	// ActionSkip moves on after a missed question without warning.
	ActionSkip
	// ActionWarn moves on after the first miss and tells the channel.
	ActionWarn
	// ActionPause stops auto-advancing until an explicit resume.
	ActionPause
)

func (a Action) String() string {
	switch a {
	case ActionAdvance:
		return "advance"
	case ActionSkip:
		return "skip"
	case ActionWarn:
		return "warn"
	case ActionPause:
		return "pause"
	}
	return "none"
}

// Decide is the single due-check shared by the timer, the sweep and the answer path.
// It acts only while the session still sits on lastDueIndex, which makes repeated calls
// for the same question harmless.
func Decide(s *Session, lastDueIndex int, now time.Time, trigger Trigger, p Policy) Action {
	if s == nil || !s.Active || s.Paused {
		return ActionNone
	}
	if s.QuestionIndex != lastDueIndex || s.LastSentIndex != lastDueIndex {
		return ActionNone
	}
	answered := s.answered(lastDueIndex)

	var due time.Time
	switch trigger {
	case TriggerAnswer:
		if answered && s.Kind == ChannelPrivate {
			return ActionAdvance
		}
		return ActionNone
	case TriggerTimer:
		due = s.LastQuestionSentAt.Add(s.TimeBudget)
	default:
		due = s.NextDueAt
	}
	if now.Before(due) {
		return ActionNone
	}
	if answered {
		return ActionAdvance
	}

	misses := s.ConsecutiveNoAnswer + 1
	if misses >= p.PauseAfterMisses {
		return ActionPause
	}
	if misses == 1 && p.WarnOnFirstMiss {
		return ActionWarn
	}
	return ActionSkip
}

// tryAdvance runs Decide and applies its action.
func (e *Engine) tryAdvance(ctx context.Context, s *Session, lastDueIndex int, trigger Trigger) Action {
	action := Decide(s, lastDueIndex, e.clock.Now(), trigger, e.policy)
	if action == ActionNone {
		return action
	}
	e.logger.Debug("due-check",
		zap.String("session", s.Key.String()),
		zap.Int("question", lastDueIndex),
		zap.Stringer("action", action),
	)

	switch action {
	case ActionAdvance:
		s.ConsecutiveNoAnswer = 0
		answered := lastDueIndex
		s.LastAnsweredQuestion = &answered
		if trigger == TriggerAnswer {
			e.closePoll(ctx, s, lastDueIndex)
		}
		e.next(ctx, s, lastDueIndex+1)
	case ActionSkip:
		s.ConsecutiveNoAnswer++
		e.next(ctx, s, lastDueIndex+1)
	case ActionWarn:
		s.ConsecutiveNoAnswer++
		e.notify(ctx, s.Key.ChannelID, "Nobody answered that question. The quiz moves on, but it will pause if the next one is missed too.")
		e.next(ctx, s, lastDueIndex+1)
	case ActionPause:
		s.ConsecutiveNoAnswer++
		s.Paused = true
		paused := lastDueIndex
		s.PausedAtQuestion = &paused
		e.logger.Info("session paused", zap.String("session", s.Key.String()), zap.Int("question", lastDueIndex))
		e.notify(ctx, s.Key.ChannelID, fmt.Sprintf("Quiz paused: %d questions in a row went unanswered. Use /resume to continue.", s.ConsecutiveNoAnswer))
		e.save(ctx, s)
	}
	return action
}

func (e *Engine) closePoll(ctx context.Context, s *Session, idx int) {
	pollID, ok := s.PollIDs[idx]
	if !ok {
		return
	}
	if err := e.gateway.CloseQuestion(ctx, s.Key.ChannelID, pollID); err != nil {
		e.logger.Debug("close question", zap.String("poll_id", pollID), zap.Error(err))
	}
}

// sweep purges stale state, starts due championships and advances every due session.
func (e *Engine) sweep(ctx context.Context) {
	now := e.clock.Now()

	for _, s := range e.sortedSessions() {
		switch {
		case s.Active && !s.Paused && now.Sub(s.lastActivity()) > e.policy.StuckTTL:
			e.logger.Info("deactivating stuck session",
				zap.String("session", s.Key.String()),
				zap.Time("last_activity", s.lastActivity()),
			)
			e.deactivate(ctx, s)
		case !s.Active && s.FinishedAt != nil && now.Sub(*s.FinishedAt) > e.policy.CleanupTTL:
			delete(e.sessions, s.Key)
			if err := e.cp.DeleteSession(ctx, s.Key); err != nil {
				e.logger.Warn("delete session checkpoint", zap.String("session", s.Key.String()), zap.Error(err))
			}
		}
	}
	for id, v := range e.votes {
		if now.Sub(v.CreatedAt) > e.policy.VoteTTL {
			delete(e.votes, id)
		}
	}

	e.closeOrphanedChampionships(ctx)
	e.startDueChampionships(ctx, now)

	for _, s := range e.sortedSessions() {
		if !s.Active || s.Paused || now.Before(s.NextDueAt) || s.QuestionIndex != s.LastSentIndex {
			continue
		}
		e.tryAdvance(ctx, s, s.LastSentIndex, TriggerSweep)
	}
}
