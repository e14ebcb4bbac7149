package quiz

import (
	"context"
	"time"
)

// OutgoingQuestion is what the Gateway renders as a timed poll.
// CorrectIndex is nil for ungraded questions and for vote polls.
type OutgoingQuestion struct {
	Text         string
	Options      []string
	CorrectIndex *int
	OpenFor      time.Duration
}

// Gateway is the messaging transport. SendQuestion returns the external poll id that
// later AnswerEvents carry.
type Gateway interface {
	SendQuestion(ctx context.Context, channelID string, q OutgoingQuestion) (pollID string, err error)
	CloseQuestion(ctx context.Context, channelID, pollID string) error
	SendMessage(ctx context.Context, channelID, text string) error
}

// Store loads quizzes, persists results and answers VIP lookups.
type Store interface {
	GetQuiz(ctx context.Context, quizID string) (*Quiz, error)
	SaveResult(ctx context.Context, r Result) error
	IsVIP(ctx context.Context, participantID string) (bool, error)
}

// Directory resolves participant display names for leaderboards.
type Directory interface {
	DisplayName(ctx context.Context, participantID string) (string, error)
}

// Checkpointer mirrors sessions and championships outside the process so Restore can
// rebuild them after a restart.
type Checkpointer interface {
	SaveSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, key SessionKey) error
	SaveChampionship(ctx context.Context, c *Championship) error
	DeleteChampionship(ctx context.Context, channelID string) error
	Load(ctx context.Context) ([]*Session, []*Championship, error)
}

// Clock abstracts wall time and deferred callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) func() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type nopCheckpointer struct{}

func (nopCheckpointer) SaveSession(context.Context, *Session) error           { return nil }
func (nopCheckpointer) DeleteSession(context.Context, SessionKey) error       { return nil }
func (nopCheckpointer) SaveChampionship(context.Context, *Championship) error { return nil }
func (nopCheckpointer) DeleteChampionship(context.Context, string) error      { return nil }
func (nopCheckpointer) Load(context.Context) ([]*Session, []*Championship, error) {
	return nil, nil, nil
}
