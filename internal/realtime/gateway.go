package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-quiz/backend/internal/quiz"
)

// Outbound websocket events.
const (
	EventQuestion       = "quiz_question"
	EventQuestionClosed = "quiz_question_closed"
	EventMessage        = "quiz_message"
)

// ErrNoListeners is returned when a single-instance hub has nobody in the channel.
var ErrNoListeners = errors.New("no clients connected to channel")

// QuestionEvent is the data of a quiz_question event.
type QuestionEvent struct {
	PollID         string    `json:"poll_id"`
	Text           string    `json:"text"`
	Options        []string  `json:"options"`
	OpenForSeconds int       `json:"open_for_seconds"`
	ClosesAt       time.Time `json:"closes_at"`
}

// ClosedEvent is the data of a quiz_question_closed event.
type ClosedEvent struct {
	PollID string `json:"poll_id"`
}

// MessageEvent is the data of a quiz_message event.
type MessageEvent struct {
	Text string `json:"text"`
}

// Gateway implements quiz.Gateway over the websocket hub. Poll ids are generated here
// and echoed back by clients in their answer events.
type Gateway struct {
	hub       *Hub
	clustered bool
}

// NewGateway creates a websocket messaging gateway. clustered reports whether the hub
// publishes through Redis, in which case remote instances may hold the listeners.
func NewGateway(hub *Hub, clustered bool) *Gateway {
	return &Gateway{hub: hub, clustered: clustered}
}

// SendQuestion publishes a question and returns its poll id.
func (g *Gateway) SendQuestion(_ context.Context, channelID string, q quiz.OutgoingQuestion) (string, error) {
	if err := g.reachable(channelID); err != nil {
		return "", err
	}
	pollID := uuid.New().String()
	ev := QuestionEvent{
		PollID:         pollID,
		Text:           q.Text,
		Options:        q.Options,
		OpenForSeconds: int(q.OpenFor / time.Second),
		ClosesAt:       time.Now().Add(q.OpenFor).UTC(),
	}
	if err := g.hub.Publish(channelID, EventQuestion, ev); err != nil {
		return "", fmt.Errorf("publish question: %w", err)
	}
	return pollID, nil
}

// CloseQuestion tells clients the poll no longer accepts answers.
func (g *Gateway) CloseQuestion(_ context.Context, channelID, pollID string) error {
	return g.hub.Publish(channelID, EventQuestionClosed, ClosedEvent{PollID: pollID})
}

// SendMessage publishes a text message to the channel.
func (g *Gateway) SendMessage(_ context.Context, channelID, text string) error {
	if err := g.reachable(channelID); err != nil {
		return err
	}
	return g.hub.Publish(channelID, EventMessage, MessageEvent{Text: text})
}

func (g *Gateway) reachable(channelID string) error {
	if !g.clustered && g.hub.ChannelSize(channelID) == 0 {
		return ErrNoListeners
	}
	return nil
}
