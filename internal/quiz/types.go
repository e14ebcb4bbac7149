package quiz

import (
	"strings"
	"time"
)

// ChannelKind tells whether a channel is shared or belongs to a single participant.
type ChannelKind int

const (
	// ChannelBroadcast is a channel shared among many participants (group chat, webinar room).
	ChannelBroadcast ChannelKind = iota
	// ChannelPrivate is a one-to-one channel with the initiating participant.
	ChannelPrivate
)

func (k ChannelKind) String() string {
	if k == ChannelPrivate {
		return "private"
	}
	return "broadcast"
}

// ParseChannelKind maps "private" to ChannelPrivate and anything else to ChannelBroadcast.
func ParseChannelKind(s string) ChannelKind {
	if strings.EqualFold(strings.TrimSpace(s), "private") {
		return ChannelPrivate
	}
	return ChannelBroadcast
}

// SessionKey identifies a session: one quiz run started by one participant in one channel.
type SessionKey struct {
	ChannelID   string `json:"channel_id"`
	InitiatorID string `json:"initiator_id"`
	QuizID      string `json:"quiz_id"`
}

func (k SessionKey) String() string {
	return k.ChannelID + ":" + k.InitiatorID + ":" + k.QuizID
}

// Question is a multiple-choice question. CorrectIndex is nil for ungraded questions.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index,omitempty"`
}

// Graded reports whether the question counts toward scoring.
func (q Question) Graded() bool {
	return q.CorrectIndex != nil && *q.CorrectIndex >= 0 && *q.CorrectIndex < len(q.Options)
}

// Playable reports whether the question can be dispatched at all.
func (q Question) Playable() bool {
	return len(q.Options) >= 2
}

// Quiz is the read-only definition loaded from the Store.
type Quiz struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Questions         []Question    `json:"questions"`
	TimeBudgetDefault time.Duration `json:"time_budget_default"`
}

// GradedCount is the scoring denominator: playable questions with a defined correct answer.
func (q *Quiz) GradedCount() int {
	n := 0
	for _, question := range q.Questions {
		if question.Playable() && question.Graded() {
			n++
		}
	}
	return n
}

func (q *Quiz) hasPlayable() bool {
	for _, question := range q.Questions {
		if question.Playable() {
			return true
		}
	}
	return false
}

// Session is one running instance of a quiz. All mutation happens on the engine loop.
type Session struct {
	Key        SessionKey    `json:"key"`
	Kind       ChannelKind   `json:"kind"`
	Quiz       *Quiz         `json:"quiz"`
	TimeBudget time.Duration `json:"time_budget"`

	QuestionIndex int `json:"question_index"`
	// LastSentIndex is the index captured at the most recent dispatch; -1 before the first one.
	LastSentIndex int `json:"last_sent_index"`

	// participant -> question index -> selected (shuffled) option index
	Answers    map[string]map[int]int       `json:"answers"`
	AnsweredAt map[string]map[int]time.Time `json:"answered_at"`
	// question index -> permutation mapping shown index to original index
	Shuffles map[int][]int     `json:"shuffles"`
	SentAt   map[int]time.Time `json:"sent_at"`
	PollIDs  map[int]string    `json:"poll_ids"`

	StartedAt          time.Time  `json:"started_at"`
	LastQuestionSentAt time.Time  `json:"last_question_sent_at"`
	NextDueAt          time.Time  `json:"next_due_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`

	Active           bool `json:"active"`
	Paused           bool `json:"paused"`
	PausedAtQuestion *int `json:"paused_at_question,omitempty"`

	ConsecutiveNoAnswer  int  `json:"consecutive_no_answer"`
	LastAnsweredQuestion *int `json:"last_answered_question,omitempty"`

	Championship      bool `json:"championship"`
	TransportNotified bool `json:"transport_notified"`
}

func newSession(key SessionKey, kind ChannelKind, q *Quiz, budget time.Duration, now time.Time) *Session {
	return &Session{
		Key:           key,
		Kind:          kind,
		Quiz:          q,
		TimeBudget:    budget,
		LastSentIndex: -1,
		Answers:       make(map[string]map[int]int),
		AnsweredAt:    make(map[string]map[int]time.Time),
		Shuffles:      make(map[int][]int),
		SentAt:        make(map[int]time.Time),
		PollIDs:       make(map[int]string),
		StartedAt:     now,
		Active:        true,
	}
}

// answered reports whether the question at idx counts as answered for this session.
// In private channels only the initiator's answer counts.
func (s *Session) answered(idx int) bool {
	if s.Kind == ChannelPrivate {
		_, ok := s.Answers[s.Key.InitiatorID][idx]
		return ok
	}
	for _, byQuestion := range s.Answers {
		if _, ok := byQuestion[idx]; ok {
			return true
		}
	}
	return false
}

func (s *Session) lastActivity() time.Time {
	last := s.StartedAt
	if s.LastQuestionSentAt.After(last) {
		last = s.LastQuestionSentAt
	}
	return last
}

// PollRecord correlates an external poll id with the question it carries.
type PollRecord struct {
	Session       SessionKey
	QuestionIndex int
}

// AnswerEvent is an inbound answer from the messaging transport.
type AnswerEvent struct {
	PollID        string
	ParticipantID string
	DisplayName   string
	OptionIndex   int
}

// SessionView is a read-only snapshot handed to callers outside the engine loop.
type SessionView struct {
	Key                 SessionKey `json:"key"`
	Kind                string     `json:"kind"`
	QuizTitle           string     `json:"quiz_title"`
	QuestionIndex       int        `json:"question_index"`
	QuestionCount       int        `json:"question_count"`
	Active              bool       `json:"active"`
	Paused              bool       `json:"paused"`
	ConsecutiveNoAnswer int        `json:"consecutive_no_answer"`
	Participants        int        `json:"participants"`
	StartedAt           time.Time  `json:"started_at"`
	NextDueAt           time.Time  `json:"next_due_at"`
	Championship        bool       `json:"championship"`
	HoldsChannelLock    bool       `json:"holds_channel_lock"`
}

func (s *Session) view(holdsLock bool) SessionView {
	return SessionView{
		Key:                 s.Key,
		Kind:                s.Kind.String(),
		QuizTitle:           s.Quiz.Title,
		QuestionIndex:       s.QuestionIndex,
		QuestionCount:       len(s.Quiz.Questions),
		Active:              s.Active,
		Paused:              s.Paused,
		ConsecutiveNoAnswer: s.ConsecutiveNoAnswer,
		Participants:        len(s.Answers),
		StartedAt:           s.StartedAt,
		NextDueAt:           s.NextDueAt,
		Championship:        s.Championship,
		HoldsChannelLock:    holdsLock,
	}
}

// Result is one participant's outcome, handed to the Store for persistence.
type Result struct {
	QuizID        string        `json:"quiz_id"`
	ParticipantID string        `json:"participant_id"`
	ChannelID     string        `json:"channel_id"`
	Answers       map[int]int   `json:"answers"` // question index -> original option index
	CorrectCount  int           `json:"correct_count"`
	GradedCount   int           `json:"graded_count"`
	LatenciesMs   map[int]int64 `json:"latencies_ms"` // question index -> dispatch-to-answer delay
	FinishedAt    time.Time     `json:"finished_at"`
}

// Standing is one ranked leaderboard row.
type Standing struct {
	ParticipantID string        `json:"participant_id"`
	DisplayName   string        `json:"display_name"`
	Correct       int           `json:"correct"`
	Graded        int           `json:"graded"`
	Percentage    float64       `json:"percentage"`
	VIP           bool          `json:"vip"`
	MinLatency    time.Duration `json:"min_latency"`
	AvgLatency    time.Duration `json:"avg_latency"`
	MaxLatency    time.Duration `json:"max_latency"`
}

// Leaderboard is the ranked outcome of a finalized session.
type Leaderboard struct {
	Session   SessionKey `json:"session"`
	QuizTitle string     `json:"quiz_title"`
	Standings []Standing `json:"standings"`
}
