package quiz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// VoteKind is what a quorum vote decides.
type VoteKind int

const (
	VoteStart VoteKind = iota
	VoteStop
)

func (k VoteKind) String() string {
	if k == VoteStop {
		return "stop"
	}
	return "start"
}

// ParseVoteKind accepts "start" and "stop".
func ParseVoteKind(s string) (VoteKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return VoteStart, nil
	case "stop":
		return VoteStop, nil
	}
	return 0, fmt.Errorf("unknown vote kind %q", s)
}

// Vote option indexes as rendered by the Gateway.
const (
	VoteYes = 0
	VoteNo  = 1
)

// Vote is an open quorum poll, keyed by its external poll id.
type Vote struct {
	ID         string
	ChannelID  string
	Kind       VoteKind
	QuizID     string
	TimeBudget time.Duration
	Quorum     int
	Yes        int
	No         int
	Voters     map[string]bool
	CreatedBy  string
	CreatedAt  time.Time
}

// VoteRequest asks for a quorum vote in a broadcast channel.
type VoteRequest struct {
	ChannelID     string
	ParticipantID string
	Kind          VoteKind
	QuizID        string
	TimeBudget    time.Duration
	Quorum        int
}

// CreateVote posts a yes/no poll and returns its id.
func (e *Engine) CreateVote(ctx context.Context, req VoteRequest) (string, error) {
	var id string
	err := e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		var err error
		id, err = e.createVote(ctx, req)
		return err
	})
	return id, err
}

// RecordVote counts a participant's vote once and resolves the vote at quorum.
func (e *Engine) RecordVote(ctx context.Context, voteID, participantID string, option int) (bool, error) {
	var resolved bool
	err := e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		var err error
		resolved, err = e.recordVote(ctx, voteID, participantID, option)
		return err
	})
	return resolved, err
}

func (e *Engine) createVote(ctx context.Context, req VoteRequest) (string, error) {
	if req.Quorum < 1 {
		return "", ErrInvalidQuorum
	}
	var question string
	switch req.Kind {
	case VoteStart:
		q, err := e.store.GetQuiz(ctx, req.QuizID)
		if err != nil {
			return "", fmt.Errorf("get quiz %s: %w", req.QuizID, err)
		}
		if q == nil {
			return "", ErrQuizNotFound
		}
		question = fmt.Sprintf("Start quiz \"%s\"? %d yes votes needed.", q.Title, req.Quorum)
	case VoteStop:
		if len(e.activeIn(req.ChannelID, func(*Session) bool { return true })) == 0 {
			return "", ErrNoActiveSession
		}
		question = fmt.Sprintf("Stop the running quiz? %d yes votes needed.", req.Quorum)
	}

	pollID, err := e.gateway.SendQuestion(ctx, req.ChannelID, OutgoingQuestion{
		Text:    truncate(question, e.policy.QuestionMaxLen),
		Options: []string{"Yes", "No"},
		OpenFor: e.policy.VoteTTL,
	})
	if err != nil {
		return "", fmt.Errorf("send vote poll: %w", err)
	}
	e.votes[pollID] = &Vote{
		ID:         pollID,
		ChannelID:  req.ChannelID,
		Kind:       req.Kind,
		QuizID:     req.QuizID,
		TimeBudget: req.TimeBudget,
		Quorum:     req.Quorum,
		Voters:     make(map[string]bool),
		CreatedBy:  req.ParticipantID,
		CreatedAt:  e.clock.Now(),
	}
	e.logger.Info("vote created",
		zap.String("vote_id", pollID),
		zap.String("channel_id", req.ChannelID),
		zap.Stringer("kind", req.Kind),
		zap.Int("quorum", req.Quorum),
	)
	return pollID, nil
}

func (e *Engine) recordVote(ctx context.Context, voteID, participantID string, option int) (bool, error) {
	v, ok := e.votes[voteID]
	if !ok {
		return false, ErrVoteNotFound
	}
	if v.Voters[participantID] || (option != VoteYes && option != VoteNo) {
		return false, nil
	}
	v.Voters[participantID] = true
	if option == VoteYes {
		v.Yes++
	} else {
		v.No++
	}
	if v.Yes < v.Quorum {
		return false, nil
	}

	delete(e.votes, voteID)
	if err := e.gateway.CloseQuestion(ctx, v.ChannelID, voteID); err != nil {
		e.logger.Debug("close vote poll", zap.String("vote_id", voteID), zap.Error(err))
	}
	e.logger.Info("vote reached quorum", zap.String("vote_id", voteID), zap.Stringer("kind", v.Kind), zap.Int("yes", v.Yes))

	switch v.Kind {
	case VoteStart:
		_, err := e.forceStart(ctx, StartRequest{
			ChannelID:     v.ChannelID,
			Kind:          ChannelBroadcast,
			ParticipantID: v.CreatedBy,
			QuizID:        v.QuizID,
			TimeBudget:    v.TimeBudget,
		}, false)
		if err != nil {
			e.notify(ctx, v.ChannelID, "The vote passed but the quiz could not start: "+err.Error())
			return true, err
		}
	case VoteStop:
		stopped := 0
		for _, s := range e.activeIn(v.ChannelID, func(*Session) bool { return true }) {
			e.finalize(ctx, s)
			stopped++
		}
		if stopped == 0 {
			e.notify(ctx, v.ChannelID, "The vote passed, but no quiz is running anymore.")
		}
	}
	return true, nil
}
