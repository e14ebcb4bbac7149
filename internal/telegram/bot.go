package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/quiz"
)

const updateTimeout = 10 * time.Second

const helpText = `Quiz bot commands:
/quiz <quiz_id> [seconds] - start a quiz
/stop - stop the running quiz
/resume - resume a paused quiz
/votestart <quiz_id> [seconds] [quorum] - vote to start a quiz
/votestop [quorum] - vote to stop the running quiz
/championship <quiz_id> <start> [seconds] - schedule a championship (admins)
/stopchampionship - stop the championship (admins)`

// Orchestrator is the part of the quiz engine the bot drives.
type Orchestrator interface {
	Start(ctx context.Context, req quiz.StartRequest) (quiz.SessionView, error)
	Stop(ctx context.Context, channelID, participantID string) ([]quiz.Leaderboard, error)
	Resume(ctx context.Context, channelID, participantID string) error
	CreateVote(ctx context.Context, req quiz.VoteRequest) (string, error)
	ScheduleChampionship(ctx context.Context, req quiz.ChampionshipRequest) (string, error)
	StopChampionship(ctx context.Context, channelID string) error
	HandleAnswer(ctx context.Context, ev quiz.AnswerEvent) error
	Touch(ctx context.Context) error
}

// Roster records the display names of the users the bot sees.
type Roster interface {
	Remember(ctx context.Context, participantID, displayName string) error
}

// Handler routes Telegram updates to the quiz engine.
type Handler struct {
	Bot           MessageSender
	engine        Orchestrator
	roster        Roster
	defaultQuorum int
	now           func() time.Time
	logger        *zap.Logger
}

// NewHandler creates an update handler. roster may be nil.
func NewHandler(bot MessageSender, engine Orchestrator, roster Roster, defaultQuorum int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Bot:           bot,
		engine:        engine,
		roster:        roster,
		defaultQuorum: defaultQuorum,
		now:           time.Now,
		logger:        logger,
	}
}

// Run consumes updates until ctx is done or the channel closes.
func (h *Handler) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	h.logger.Info("telegram update loop started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("telegram update loop stopping")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes a single update.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	switch {
	case update.PollAnswer != nil:
		h.handlePollAnswer(ctx, update.PollAnswer)
	case update.Message != nil && update.Message.IsCommand():
		h.remember(ctx, update.Message.From)
		h.handleCommand(ctx, update.Message)
	default:
		if err := h.engine.Touch(ctx); err != nil {
			h.logger.Debug("touch", zap.Error(err))
		}
	}
}

func (h *Handler) handlePollAnswer(ctx context.Context, answer *tgbotapi.PollAnswer) {
	h.remember(ctx, &answer.User)
	if len(answer.OptionIDs) == 0 {
		// retracted vote
		if err := h.engine.Touch(ctx); err != nil {
			h.logger.Debug("touch", zap.Error(err))
		}
		return
	}
	err := h.engine.HandleAnswer(ctx, quiz.AnswerEvent{
		PollID:        answer.PollID,
		ParticipantID: participantID(&answer.User),
		DisplayName:   displayName(&answer.User),
		OptionIndex:   answer.OptionIDs[0],
	})
	if err != nil {
		h.logger.Warn("handle poll answer", zap.String("poll_id", answer.PollID), zap.Error(err))
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	channelID := ChannelID(chatID)
	args := strings.Fields(msg.CommandArguments())
	var from string
	if msg.From != nil {
		from = participantID(msg.From)
	}

	switch msg.Command() {
	case "start", "help":
		h.reply(chatID, helpText)
	case "quiz":
		if len(args) < 1 {
			h.reply(chatID, "Usage: /quiz <quiz_id> [seconds]")
			return
		}
		budget, ok := h.seconds(chatID, args, 1)
		if !ok {
			return
		}
		kind := quiz.ChannelBroadcast
		if msg.Chat.IsPrivate() {
			kind = quiz.ChannelPrivate
		}
		_, err := h.engine.Start(ctx, quiz.StartRequest{
			ChannelID:     channelID,
			Kind:          kind,
			ParticipantID: from,
			QuizID:        args[0],
			TimeBudget:    budget,
		})
		h.replyError(chatID, err)
	case "stop":
		_, err := h.engine.Stop(ctx, channelID, from)
		h.replyError(chatID, err)
	case "resume":
		h.replyError(chatID, h.engine.Resume(ctx, channelID, from))
	case "votestart":
		if len(args) < 1 {
			h.reply(chatID, "Usage: /votestart <quiz_id> [seconds] [quorum]")
			return
		}
		budget, ok := h.seconds(chatID, args, 1)
		if !ok {
			return
		}
		quorum, ok := h.quorum(chatID, args, 2)
		if !ok {
			return
		}
		_, err := h.engine.CreateVote(ctx, quiz.VoteRequest{
			ChannelID:     channelID,
			ParticipantID: from,
			Kind:          quiz.VoteStart,
			QuizID:        args[0],
			TimeBudget:    budget,
			Quorum:        quorum,
		})
		h.replyError(chatID, err)
	case "votestop":
		quorum, ok := h.quorum(chatID, args, 0)
		if !ok {
			return
		}
		_, err := h.engine.CreateVote(ctx, quiz.VoteRequest{
			ChannelID:     channelID,
			ParticipantID: from,
			Kind:          quiz.VoteStop,
			Quorum:        quorum,
		})
		h.replyError(chatID, err)
	case "championship":
		if !h.requireAdmin(msg) {
			return
		}
		h.scheduleChampionship(ctx, msg, from)
	case "stopchampionship":
		if !h.requireAdmin(msg) {
			return
		}
		h.replyError(chatID, h.engine.StopChampionship(ctx, channelID))
	default:
		if err := h.engine.Touch(ctx); err != nil {
			h.logger.Debug("touch", zap.Error(err))
		}
	}
}

// scheduleChampionship parses "<quiz_id> <start> [seconds]" where start is "now", an RFC3339
// timestamp, or a quoted five-field cron expression.
func (h *Handler) scheduleChampionship(ctx context.Context, msg *tgbotapi.Message, from string) {
	chatID := msg.Chat.ID
	quizID, startExpr, rest, ok := splitChampionshipArgs(msg.CommandArguments())
	if !ok {
		h.reply(chatID, "Usage: /championship <quiz_id> <now|RFC3339|\"cron\"> [seconds]")
		return
	}
	budget, ok := h.seconds(chatID, rest, 0)
	if !ok {
		return
	}
	startAt, err := quiz.ParseStartAt(startExpr, h.now())
	if err != nil {
		h.reply(chatID, err.Error())
		return
	}
	_, err = h.engine.ScheduleChampionship(ctx, quiz.ChampionshipRequest{
		ChannelID:     ChannelID(chatID),
		ParticipantID: from,
		QuizID:        quizID,
		TimeBudget:    budget,
		StartAt:       startAt,
	})
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	if startAt.After(h.now()) {
		h.reply(chatID, fmt.Sprintf("🏆 Championship scheduled for %s.", startAt.Format("2006-01-02 15:04 MST")))
	}
}

func splitChampionshipArgs(raw string) (quizID, start string, rest []string, ok bool) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return "", "", nil, false
	}
	quizID = fields[0]
	after := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), quizID))
	if strings.HasPrefix(after, `"`) {
		end := strings.Index(after[1:], `"`)
		if end < 0 {
			return "", "", nil, false
		}
		return quizID, after[1 : end+1], strings.Fields(after[end+2:]), true
	}
	return quizID, fields[1], fields[2:], true
}

func (h *Handler) seconds(chatID int64, args []string, at int) (time.Duration, bool) {
	if len(args) <= at {
		return 0, true
	}
	n, err := strconv.Atoi(args[at])
	if err != nil || n <= 0 {
		h.reply(chatID, "Seconds must be a positive number.")
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func (h *Handler) quorum(chatID int64, args []string, at int) (int, bool) {
	if len(args) <= at {
		return h.defaultQuorum, true
	}
	n, err := strconv.Atoi(args[at])
	if err != nil || n < 1 {
		h.reply(chatID, "Quorum must be a positive number.")
		return 0, false
	}
	return n, true
}

// requireAdmin allows everyone in private chats and chat administrators elsewhere.
func (h *Handler) requireAdmin(msg *tgbotapi.Message) bool {
	if msg.Chat.IsPrivate() {
		return true
	}
	if msg.From != nil && h.isChatAdmin(msg.Chat.ID, msg.From.ID) {
		return true
	}
	h.reply(msg.Chat.ID, "Only chat administrators can manage championships.")
	return false
}

func (h *Handler) isChatAdmin(chatID, userID int64) bool {
	resp, err := h.Bot.Request(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil || resp == nil {
		h.logger.Warn("get chat member", zap.Int64("chat_id", chatID), zap.Error(err))
		return false
	}
	var member tgbotapi.ChatMember
	if err := json.Unmarshal(resp.Result, &member); err != nil {
		return false
	}
	return member.IsCreator() || member.IsAdministrator()
}

func (h *Handler) replyError(chatID int64, err error) {
	if err == nil {
		return
	}
	var ae *quiz.AdmissionError
	switch {
	case errors.As(err, &ae):
		h.reply(chatID, "⛔ "+ae.Error())
	case errors.Is(err, quiz.ErrQuizNotFound):
		h.reply(chatID, "Quiz not found.")
	case errors.Is(err, quiz.ErrNoPlayableQuestions):
		h.reply(chatID, "This quiz has no playable questions.")
	case errors.Is(err, quiz.ErrNoActiveSession):
		h.reply(chatID, "No quiz is running here.")
	case errors.Is(err, quiz.ErrNotPaused):
		h.reply(chatID, "The quiz is not paused.")
	case errors.Is(err, quiz.ErrChampionshipExists):
		h.reply(chatID, "A championship is already scheduled here.")
	case errors.Is(err, quiz.ErrChampionshipNotFound):
		h.reply(chatID, "No championship is scheduled here.")
	case errors.Is(err, quiz.ErrInvalidQuorum):
		h.reply(chatID, "Quorum must be at least 1.")
	default:
		h.logger.Error("quiz command failed", zap.Int64("chat_id", chatID), zap.Error(err))
		h.reply(chatID, "Something went wrong, please try again.")
	}
}

func (h *Handler) reply(chatID int64, text string) {
	if _, err := h.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.Warn("send reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handler) remember(ctx context.Context, u *tgbotapi.User) {
	if h.roster == nil || u == nil {
		return
	}
	if err := h.roster.Remember(ctx, participantID(u), displayName(u)); err != nil {
		h.logger.Debug("remember participant", zap.Int64("user_id", u.ID), zap.Error(err))
	}
}

func participantID(u *tgbotapi.User) string {
	return strconv.FormatInt(u.ID, 10)
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}
