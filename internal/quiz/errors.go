package quiz

import (
	"errors"
	"fmt"
)

var (
	ErrQuizNotFound         = errors.New("quiz not found")
	ErrNoPlayableQuestions  = errors.New("quiz has no question with at least two options")
	ErrNoActiveSession      = errors.New("no active session")
	ErrNotPaused            = errors.New("session is not paused")
	ErrVoteNotFound         = errors.New("vote not found")
	ErrChampionshipNotFound = errors.New("championship not found")
	ErrChampionshipExists   = errors.New("championship already scheduled in channel")
	ErrInvalidQuorum        = errors.New("quorum must be at least 1")
	ErrEngineStopped        = errors.New("engine stopped")
)

// Reason explains an admission rejection to the requester.
type Reason string

const (
	ReasonChampionship     Reason = "championship_active"
	ReasonAlreadyRunning   Reason = "already_running"
	ReasonPrivateLimit     Reason = "private_session_limit"
	ReasonChannelBusy      Reason = "channel_busy"
	ReasonChannelLimit     Reason = "channel_session_limit"
	ReasonParticipantLimit Reason = "participant_session_limit"
)

// AdmissionError is a policy decision, not a failure. It is never logged as an error.
type AdmissionError struct {
	Reason Reason
	Limit  int
}

func (e *AdmissionError) Error() string {
	switch e.Reason {
	case ReasonChampionship:
		return "a championship is running in this channel; only its quiz can be started"
	case ReasonAlreadyRunning:
		return "this quiz is already running here"
	case ReasonPrivateLimit:
		return fmt.Sprintf("you already have %d quizzes running in private chats", e.Limit)
	case ReasonChannelBusy:
		return "another quiz is already running in this channel"
	case ReasonChannelLimit:
		return fmt.Sprintf("this channel already runs %d quizzes", e.Limit)
	case ReasonParticipantLimit:
		return fmt.Sprintf("you already run %d quiz in this channel", e.Limit)
	}
	return "quiz start rejected"
}

// IsAdmission reports whether err is a policy rejection.
func IsAdmission(err error) bool {
	var ae *AdmissionError
	return errors.As(err, &ae)
}
