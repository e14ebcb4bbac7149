package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/quiz"
)

// Telegram accepts open_period between 5 and 600 seconds.
const (
	minOpenPeriod = 5
	maxOpenPeriod = 600

	trackedPolls = 4096
)

// MessageSender is the part of *tgbotapi.BotAPI the transport uses.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type pollRef struct {
	chatID    int64
	messageID int
}

// Gateway implements quiz.Gateway with native Telegram polls. Channel ids are chat ids.
type Gateway struct {
	bot    MessageSender
	polls  *lru.Cache[string, pollRef]
	logger *zap.Logger
}

// NewGateway creates a Telegram messaging gateway.
func NewGateway(bot MessageSender, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	polls, err := lru.New[string, pollRef](trackedPolls)
	if err != nil {
		return nil, err
	}
	return &Gateway{bot: bot, polls: polls, logger: logger}, nil
}

// SendQuestion posts a non-anonymous poll. Graded questions become quiz polls so Telegram
// shows the correct option when the poll closes.
func (g *Gateway) SendQuestion(_ context.Context, channelID string, q quiz.OutgoingQuestion) (string, error) {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return "", err
	}
	cfg := tgbotapi.NewPoll(chatID, q.Text, q.Options...)
	cfg.IsAnonymous = false
	if q.CorrectIndex != nil {
		cfg.Type = "quiz"
		cfg.CorrectOptionID = int64(*q.CorrectIndex)
	}
	cfg.OpenPeriod = openPeriod(q.OpenFor)

	msg, err := g.bot.Send(cfg)
	if err != nil {
		return "", fmt.Errorf("send poll: %w", err)
	}
	if msg.Poll == nil {
		return "", errors.New("send poll: response carries no poll")
	}
	g.polls.Add(msg.Poll.ID, pollRef{chatID: chatID, messageID: msg.MessageID})
	return msg.Poll.ID, nil
}

// CloseQuestion stops a poll this gateway sent. Unknown poll ids are ignored.
func (g *Gateway) CloseQuestion(_ context.Context, _ string, pollID string) error {
	ref, ok := g.polls.Get(pollID)
	if !ok {
		return nil
	}
	g.polls.Remove(pollID)
	if _, err := g.bot.Request(tgbotapi.NewStopPoll(ref.chatID, ref.messageID)); err != nil {
		return fmt.Errorf("stop poll: %w", err)
	}
	return nil
}

// SendMessage posts a plain text message.
func (g *Gateway) SendMessage(_ context.Context, channelID, text string) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	if _, err := g.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func openPeriod(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < minOpenPeriod {
		return minOpenPeriod
	}
	if secs > maxOpenPeriod {
		return maxOpenPeriod
	}
	return secs
}

func parseChatID(channelID string) (int64, error) {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", channelID, err)
	}
	return id, nil
}

// ChannelID renders a chat id as an orchestrator channel id.
func ChannelID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
