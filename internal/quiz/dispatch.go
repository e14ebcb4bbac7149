package quiz

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const transportRejectedText = "I could not post the next question here. Please check that I am allowed to send polls in this chat."

// dispatch sends the question at idx, skipping unplayable ones. It reports endOfQuiz when
// idx is past the last question.
func (e *Engine) dispatch(ctx context.Context, s *Session, idx int) (endOfQuiz bool) {
	questions := s.Quiz.Questions
	for idx < len(questions) && !questions[idx].Playable() {
		e.logger.Debug("skipping unplayable question", zap.String("session", s.Key.String()), zap.Int("question", idx))
		idx++
	}
	if idx >= len(questions) {
		return true
	}
	q := questions[idx]

	perm := e.perm(len(q.Options))
	options := make([]string, len(perm))
	var correct *int
	for shown, orig := range perm {
		options[shown] = truncate(q.Options[orig], e.policy.OptionMaxLen)
		if q.Graded() && orig == *q.CorrectIndex {
			c := shown
			correct = &c
		}
	}

	now := e.clock.Now()
	s.QuestionIndex = idx
	s.LastSentIndex = idx
	s.LastQuestionSentAt = now
	s.NextDueAt = now.Add(s.TimeBudget + e.policy.DueGrace)

	text := fmt.Sprintf("[%d/%d] %s", idx+1, len(questions), q.Text)
	pollID, err := e.gateway.SendQuestion(ctx, s.Key.ChannelID, OutgoingQuestion{
		Text:         truncate(text, e.policy.QuestionMaxLen),
		Options:      options,
		CorrectIndex: correct,
		OpenFor:      s.TimeBudget,
	})
	if err != nil {
		e.logger.Warn("dispatch rejected by transport",
			zap.String("session", s.Key.String()),
			zap.Int("question", idx),
			zap.Error(err),
		)
		if !s.TransportNotified {
			s.TransportNotified = true
			e.notify(ctx, s.Key.ChannelID, transportRejectedText)
		}
	} else {
		s.Shuffles[idx] = perm
		s.SentAt[idx] = now
		s.PollIDs[idx] = pollID
		e.polls[pollID] = PollRecord{Session: s.Key, QuestionIndex: idx}
	}

	e.armQuestionTimer(s.Key, idx, s.TimeBudget)
	e.save(ctx, s)
	return false
}

// next dispatches idx or, past the end, completes the session.
func (e *Engine) next(ctx context.Context, s *Session, idx int) {
	if e.dispatch(ctx, s, idx) {
		e.finalize(ctx, s)
	}
}

func (e *Engine) armQuestionTimer(key SessionKey, idx int, d time.Duration) {
	e.clock.AfterFunc(d, func() {
		e.post(func(ctx context.Context) {
			if s := e.sessions[key]; s != nil {
				e.tryAdvance(ctx, s, idx, TriggerTimer)
			}
		})
	})
}

// ingestAnswer records the first answer of a participant to a dispatched question.
func (e *Engine) ingestAnswer(ctx context.Context, ev AnswerEvent) {
	rec, ok := e.polls[ev.PollID]
	if !ok {
		return
	}
	s := e.sessions[rec.Session]
	if s == nil || !s.Active {
		return
	}
	perm, ok := s.Shuffles[rec.QuestionIndex]
	if !ok || ev.OptionIndex < 0 || ev.OptionIndex >= len(perm) {
		return
	}
	byQuestion := s.Answers[ev.ParticipantID]
	if byQuestion == nil {
		byQuestion = make(map[int]int)
		s.Answers[ev.ParticipantID] = byQuestion
		s.AnsweredAt[ev.ParticipantID] = make(map[int]time.Time)
	}
	if _, dup := byQuestion[rec.QuestionIndex]; dup {
		return
	}
	byQuestion[rec.QuestionIndex] = ev.OptionIndex
	s.AnsweredAt[ev.ParticipantID][rec.QuestionIndex] = e.clock.Now()
	e.save(ctx, s)

	if rec.QuestionIndex == s.QuestionIndex {
		e.tryAdvance(ctx, s, rec.QuestionIndex, TriggerAnswer)
	}
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
