package quiz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultPolicy()

	base := func(kind ChannelKind) *Session {
		s := newSession(SessionKey{ChannelID: "c", InitiatorID: "init", QuizID: "q"}, kind, makeQuiz("q", 3), 10*time.Second, sentAt)
		s.QuestionIndex = 1
		s.LastSentIndex = 1
		s.LastQuestionSentAt = sentAt
		s.NextDueAt = sentAt.Add(15 * time.Second)
		return s
	}
	answeredBy := func(s *Session, participantID string) *Session {
		s.Answers[participantID] = map[int]int{1: 0}
		return s
	}

	tests := []struct {
		name    string
		session *Session
		index   int
		now     time.Time
		trigger Trigger
		want    Action
	}{
		{
			name:    "timer before budget",
			session: base(ChannelBroadcast),
			index:   1,
			now:     sentAt.Add(9 * time.Second),
			trigger: TriggerTimer,
			want:    ActionNone,
		},
		{
			name:    "timer answered",
			session: answeredBy(base(ChannelBroadcast), "alice"),
			index:   1,
			now:     sentAt.Add(10 * time.Second),
			trigger: TriggerTimer,
			want:    ActionAdvance,
		},
		{
			name:    "first miss warns",
			session: base(ChannelBroadcast),
			index:   1,
			now:     sentAt.Add(10 * time.Second),
			trigger: TriggerTimer,
			want:    ActionWarn,
		},
		{
			name: "second miss pauses",
			session: func() *Session {
				s := base(ChannelBroadcast)
				s.ConsecutiveNoAnswer = 1
				return s
			}(),
			index:   1,
			now:     sentAt.Add(10 * time.Second),
			trigger: TriggerTimer,
			want:    ActionPause,
		},
		{
			name:    "sweep waits for grace",
			session: base(ChannelBroadcast),
			index:   1,
			now:     sentAt.Add(12 * time.Second),
			trigger: TriggerSweep,
			want:    ActionNone,
		},
		{
			name:    "sweep after grace",
			session: answeredBy(base(ChannelBroadcast), "alice"),
			index:   1,
			now:     sentAt.Add(15 * time.Second),
			trigger: TriggerSweep,
			want:    ActionAdvance,
		},
		{
			name:    "stale index",
			session: answeredBy(base(ChannelBroadcast), "alice"),
			index:   0,
			now:     sentAt.Add(time.Minute),
			trigger: TriggerTimer,
			want:    ActionNone,
		},
		{
			name: "paused",
			session: func() *Session {
				s := base(ChannelBroadcast)
				s.Paused = true
				return s
			}(),
			index:   1,
			now:     sentAt.Add(time.Minute),
			trigger: TriggerSweep,
			want:    ActionNone,
		},
		{
			name: "inactive",
			session: func() *Session {
				s := base(ChannelBroadcast)
				s.Active = false
				return s
			}(),
			index:   1,
			now:     sentAt.Add(time.Minute),
			trigger: TriggerSweep,
			want:    ActionNone,
		},
		{
			name:    "private initiator answer advances early",
			session: answeredBy(base(ChannelPrivate), "init"),
			index:   1,
			now:     sentAt.Add(time.Second),
			trigger: TriggerAnswer,
			want:    ActionAdvance,
		},
		{
			name:    "private stranger answer is ignored",
			session: answeredBy(base(ChannelPrivate), "stranger"),
			index:   1,
			now:     sentAt.Add(10 * time.Second),
			trigger: TriggerTimer,
			want:    ActionWarn,
		},
		{
			name:    "broadcast answer never advances early",
			session: answeredBy(base(ChannelBroadcast), "alice"),
			index:   1,
			now:     sentAt.Add(time.Second),
			trigger: TriggerAnswer,
			want:    ActionNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.session, tt.index, tt.now, tt.trigger, p))
		})
	}
}

func TestDecide_WithoutWarning(t *testing.T) {
	p := DefaultPolicy()
	p.WarnOnFirstMiss = false
	p.PauseAfterMisses = 3

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newSession(SessionKey{ChannelID: "c", InitiatorID: "i", QuizID: "q"}, ChannelBroadcast, makeQuiz("q", 3), time.Second, now)
	s.QuestionIndex, s.LastSentIndex, s.LastQuestionSentAt = 0, 0, now

	assert.Equal(t, ActionSkip, Decide(s, 0, now.Add(time.Second), TriggerTimer, p))
	s.ConsecutiveNoAnswer = 1
	assert.Equal(t, ActionSkip, Decide(s, 0, now.Add(time.Second), TriggerTimer, p))
	s.ConsecutiveNoAnswer = 2
	assert.Equal(t, ActionPause, Decide(s, 0, now.Add(time.Second), TriggerTimer, p))
}

func TestDecide_NilSession(t *testing.T) {
	assert.Equal(t, ActionNone, Decide(nil, 0, time.Now(), TriggerSweep, DefaultPolicy()))
}
