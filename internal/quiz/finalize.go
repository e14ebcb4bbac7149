package quiz

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// finalize ends an active session: releases its lock, scores it, persists results and
// emits the leaderboard (or routes it to the channel's championship).
func (e *Engine) finalize(ctx context.Context, s *Session) *Leaderboard {
	if !s.Active {
		return nil
	}
	e.deactivate(ctx, s)

	finishedAt := e.clock.Now()
	standings := Standings(s)
	for i := range standings {
		st := &standings[i]
		st.DisplayName = e.displayName(ctx, st.ParticipantID)
		vip, err := e.store.IsVIP(ctx, st.ParticipantID)
		if err != nil {
			e.logger.Debug("vip lookup", zap.String("participant_id", st.ParticipantID), zap.Error(err))
		}
		st.VIP = vip
	}
	Rank(standings)

	for _, r := range Results(s, finishedAt) {
		if err := e.store.SaveResult(ctx, r); err != nil {
			e.logger.Error("save result",
				zap.String("session", s.Key.String()),
				zap.String("participant_id", r.ParticipantID),
				zap.Error(err),
			)
		}
	}

	lb := &Leaderboard{Session: s.Key, QuizTitle: s.Quiz.Title, Standings: standings}
	e.logger.Info("session finalized",
		zap.String("session", s.Key.String()),
		zap.Int("participants", len(standings)),
		zap.Int("last_question", s.QuestionIndex),
	)

	if s.Championship {
		if c, ok := e.championships[s.Key.ChannelID]; ok {
			e.absorb(ctx, c, lb)
			return lb
		}
	}
	e.notify(ctx, s.Key.ChannelID, FormatLeaderboard(lb))
	return lb
}

// Standings scores every participant who answered at least one question. Answers are
// mapped back through the question's shuffle before comparing with the correct index.
func Standings(s *Session) []Standing {
	graded := s.Quiz.GradedCount()
	out := make([]Standing, 0, len(s.Answers))
	for participantID, byQuestion := range s.Answers {
		if len(byQuestion) == 0 {
			continue
		}
		st := Standing{ParticipantID: participantID, DisplayName: participantID, Graded: graded}
		for idx, selected := range byQuestion {
			if originalOption(s, idx, selected) < 0 {
				continue
			}
			if isCorrect(s, idx, selected) {
				st.Correct++
			}
		}
		if graded > 0 {
			st.Percentage = float64(st.Correct) / float64(graded) * 100
		}
		st.MinLatency, st.AvgLatency, st.MaxLatency = latencyStats(s, participantID)
		out = append(out, st)
	}
	return out
}

// Rank orders standings by percentage, correct count, VIP flag, then name.
func Rank(standings []Standing) {
	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.Percentage != b.Percentage {
			return a.Percentage > b.Percentage
		}
		if a.Correct != b.Correct {
			return a.Correct > b.Correct
		}
		if a.VIP != b.VIP {
			return a.VIP
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.ParticipantID < b.ParticipantID
	})
}

// Results builds the per-participant records handed to the Store.
func Results(s *Session, finishedAt time.Time) []Result {
	graded := s.Quiz.GradedCount()
	ids := make([]string, 0, len(s.Answers))
	for id, byQuestion := range s.Answers {
		if len(byQuestion) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		r := Result{
			QuizID:        s.Key.QuizID,
			ParticipantID: id,
			ChannelID:     s.Key.ChannelID,
			Answers:       make(map[int]int),
			GradedCount:   graded,
			LatenciesMs:   make(map[int]int64),
			FinishedAt:    finishedAt,
		}
		for idx, selected := range s.Answers[id] {
			orig := originalOption(s, idx, selected)
			if orig < 0 {
				continue
			}
			r.Answers[idx] = orig
			if isCorrect(s, idx, selected) {
				r.CorrectCount++
			}
			if d, ok := latency(s, id, idx); ok {
				r.LatenciesMs[idx] = d.Milliseconds()
			}
		}
		out = append(out, r)
	}
	return out
}

func originalOption(s *Session, idx, selected int) int {
	perm, ok := s.Shuffles[idx]
	if !ok || selected < 0 || selected >= len(perm) {
		return -1
	}
	return perm[selected]
}

func isCorrect(s *Session, idx, selected int) bool {
	if idx < 0 || idx >= len(s.Quiz.Questions) {
		return false
	}
	q := s.Quiz.Questions[idx]
	if !q.Graded() {
		return false
	}
	return originalOption(s, idx, selected) == *q.CorrectIndex
}

func latency(s *Session, participantID string, idx int) (time.Duration, bool) {
	sent, ok := s.SentAt[idx]
	if !ok {
		return 0, false
	}
	at, ok := s.AnsweredAt[participantID][idx]
	if !ok {
		return 0, false
	}
	d := at.Sub(sent)
	if d < 0 {
		d = 0
	}
	return d, true
}

func latencyStats(s *Session, participantID string) (minD, avgD, maxD time.Duration) {
	var total time.Duration
	n := 0
	for idx := range s.Answers[participantID] {
		d, ok := latency(s, participantID, idx)
		if !ok {
			continue
		}
		if n == 0 || d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
		total += d
		n++
	}
	if n > 0 {
		avgD = total / time.Duration(n)
	}
	return minD, avgD, maxD
}

// FormatLeaderboard renders a leaderboard as chat text.
func FormatLeaderboard(lb *Leaderboard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏁 Quiz \"%s\" finished!\n", lb.QuizTitle)
	if len(lb.Standings) == 0 {
		b.WriteString("Nobody answered.")
		return b.String()
	}
	for i, st := range lb.Standings {
		fmt.Fprintf(&b, "%d. %s - %d/%d (%d%%)", i+1, st.DisplayName, st.Correct, st.Graded, int(math.Round(st.Percentage)))
		if st.AvgLatency > 0 {
			fmt.Fprintf(&b, " ⏱ %.1fs avg", st.AvgLatency.Seconds())
		}
		if i < len(lb.Standings)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
