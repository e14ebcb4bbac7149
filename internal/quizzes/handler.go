package quizzes

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/middleware"
	"github.com/aura-quiz/backend/internal/models"
	"github.com/aura-quiz/backend/internal/quiz"
	"github.com/aura-quiz/backend/pkg/response"
)

// Orchestrator is the part of the quiz engine the HTTP API drives.
type Orchestrator interface {
	Start(ctx context.Context, req quiz.StartRequest) (quiz.SessionView, error)
	Stop(ctx context.Context, channelID, participantID string) ([]quiz.Leaderboard, error)
	Resume(ctx context.Context, channelID, participantID string) error
	Sessions(ctx context.Context, channelID string) ([]quiz.SessionView, error)
	CreateVote(ctx context.Context, req quiz.VoteRequest) (string, error)
	RecordVote(ctx context.Context, voteID, participantID string, option int) (bool, error)
	ScheduleChampionship(ctx context.Context, req quiz.ChampionshipRequest) (string, error)
	StopChampionship(ctx context.Context, channelID string) error
}

// QuizRepository is the quiz catalogue the handler reads and writes.
type QuizRepository interface {
	Create(ctx context.Context, q *quiz.Quiz, createdBy string) error
	GetQuiz(ctx context.Context, id string) (*quiz.Quiz, error)
	ListResults(ctx context.Context, quizID string, limit int) ([]models.QuizResult, error)
}

// QuestionRequest is one question of a CreateRequest.
type QuestionRequest struct {
	Text         string   `json:"text" binding:"required"`
	Options      []string `json:"options" binding:"required,min=2"`
	CorrectIndex *int     `json:"correct_index"`
}

// CreateRequest is the body for POST /quizzes.
type CreateRequest struct {
	Title             string            `json:"title" binding:"required"`
	TimeBudgetSeconds int               `json:"time_budget_seconds" binding:"min=0"`
	Questions         []QuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// StartRequest is the body for POST /channels/:id/quizzes.
type StartRequest struct {
	QuizID            string `json:"quiz_id" binding:"required"`
	Kind              string `json:"kind" binding:"omitempty,oneof=private broadcast"`
	TimeBudgetSeconds int    `json:"time_budget_seconds" binding:"min=0"`
}

// VoteRequest is the body for POST /channels/:id/votes.
type VoteRequest struct {
	Kind              string `json:"kind" binding:"required"`
	QuizID            string `json:"quiz_id"`
	TimeBudgetSeconds int    `json:"time_budget_seconds" binding:"min=0"`
	Quorum            int    `json:"quorum" binding:"min=0"`
}

// BallotRequest is the body for POST /channels/:id/votes/:voteId.
type BallotRequest struct {
	Option *int `json:"option" binding:"required,min=0,max=1"`
}

// ChampionshipRequest is the body for POST /channels/:id/championship.
type ChampionshipRequest struct {
	QuizID            string `json:"quiz_id" binding:"required"`
	Start             string `json:"start"`
	TimeBudgetSeconds int    `json:"time_budget_seconds" binding:"min=0"`
}

// Handler handles quiz HTTP endpoints.
type Handler struct {
	repo          QuizRepository
	engine        Orchestrator
	defaultQuorum int
	logger        *zap.Logger
}

// NewHandler creates a quizzes handler.
func NewHandler(repo QuizRepository, engine Orchestrator, defaultQuorum int, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, engine: engine, defaultQuorum: defaultQuorum, logger: logger}
}

// Create handles POST /quizzes (admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q := &quiz.Quiz{
		ID:                uuid.New().String(),
		Title:             req.Title,
		TimeBudgetDefault: time.Duration(req.TimeBudgetSeconds) * time.Second,
	}
	for _, qr := range req.Questions {
		q.Questions = append(q.Questions, quiz.Question{Text: qr.Text, Options: qr.Options, CorrectIndex: qr.CorrectIndex})
	}
	if err := h.repo.Create(c.Request.Context(), q, middleware.ParticipantID(c)); err != nil {
		h.logger.Error("create quiz", zap.Error(err))
		response.Internal(c, "failed to create quiz")
		return
	}
	response.Created(c, q)
}

// Get handles GET /quizzes/:id.
func (h *Handler) Get(c *gin.Context) {
	q, err := h.repo.GetQuiz(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, q)
}

// Results handles GET /quizzes/:id/results?limit=.
func (h *Handler) Results(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			response.BadRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	list, err := h.repo.ListResults(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("list results", zap.String("quiz_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to list results")
		return
	}
	if list == nil {
		list = []models.QuizResult{}
	}
	response.OK(c, list)
}

// Start handles POST /channels/:id/quizzes.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	view, err := h.engine.Start(c.Request.Context(), quiz.StartRequest{
		ChannelID:     c.Param("id"),
		Kind:          quiz.ParseChannelKind(req.Kind),
		ParticipantID: middleware.ParticipantID(c),
		QuizID:        req.QuizID,
		TimeBudget:    time.Duration(req.TimeBudgetSeconds) * time.Second,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, view)
}

// Stop handles POST /channels/:id/stop.
func (h *Handler) Stop(c *gin.Context) {
	boards, err := h.engine.Stop(c.Request.Context(), c.Param("id"), middleware.ParticipantID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if boards == nil {
		boards = []quiz.Leaderboard{}
	}
	response.OK(c, boards)
}

// Resume handles POST /channels/:id/resume.
func (h *Handler) Resume(c *gin.Context) {
	if err := h.engine.Resume(c.Request.Context(), c.Param("id"), middleware.ParticipantID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"channel_id": c.Param("id"), "resumed": true})
}

// Sessions handles GET /channels/:id/sessions.
func (h *Handler) Sessions(c *gin.Context) {
	views, err := h.engine.Sessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if views == nil {
		views = []quiz.SessionView{}
	}
	response.OK(c, views)
}

// CreateVote handles POST /channels/:id/votes.
func (h *Handler) CreateVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	kind, err := quiz.ParseVoteKind(req.Kind)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if kind == quiz.VoteStart && req.QuizID == "" {
		response.BadRequest(c, "quiz_id is required to vote on a start")
		return
	}
	quorum := req.Quorum
	if quorum == 0 {
		quorum = h.defaultQuorum
	}
	id, err := h.engine.CreateVote(c.Request.Context(), quiz.VoteRequest{
		ChannelID:     c.Param("id"),
		ParticipantID: middleware.ParticipantID(c),
		Kind:          kind,
		QuizID:        req.QuizID,
		TimeBudget:    time.Duration(req.TimeBudgetSeconds) * time.Second,
		Quorum:        quorum,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, gin.H{"id": id, "kind": kind.String(), "quorum": quorum})
}

// Ballot handles POST /channels/:id/votes/:voteId.
func (h *Handler) Ballot(c *gin.Context) {
	var req BallotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	resolved, err := h.engine.RecordVote(c.Request.Context(), c.Param("voteId"), middleware.ParticipantID(c), *req.Option)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"id": c.Param("voteId"), "resolved": resolved})
}

// ScheduleChampionship handles POST /channels/:id/championship (admin).
func (h *Handler) ScheduleChampionship(c *gin.Context) {
	var req ChampionshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	startAt, err := quiz.ParseStartAt(req.Start, time.Now())
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	id, err := h.engine.ScheduleChampionship(c.Request.Context(), quiz.ChampionshipRequest{
		ChannelID:     c.Param("id"),
		ParticipantID: middleware.ParticipantID(c),
		QuizID:        req.QuizID,
		TimeBudget:    time.Duration(req.TimeBudgetSeconds) * time.Second,
		StartAt:       startAt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, gin.H{"id": id, "start_at": startAt})
}

// StopChampionship handles DELETE /channels/:id/championship (admin).
func (h *Handler) StopChampionship(c *gin.Context) {
	if err := h.engine.StopChampionship(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var ae *quiz.AdmissionError
	switch {
	case errors.As(err, &ae):
		response.Conflict(c, ae.Error())
	case errors.Is(err, quiz.ErrQuizNotFound),
		errors.Is(err, quiz.ErrNoActiveSession),
		errors.Is(err, quiz.ErrVoteNotFound),
		errors.Is(err, quiz.ErrChampionshipNotFound):
		response.NotFound(c, rootMessage(err))
	case errors.Is(err, quiz.ErrNoPlayableQuestions),
		errors.Is(err, quiz.ErrNotPaused),
		errors.Is(err, quiz.ErrInvalidQuorum):
		response.BadRequest(c, rootMessage(err))
	case errors.Is(err, quiz.ErrChampionshipExists):
		response.Conflict(c, err.Error())
	case errors.Is(err, quiz.ErrEngineStopped):
		response.ServiceUnavailable(c, err.Error())
	default:
		h.logger.Error("quiz request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Internal(c, "internal error")
	}
}

// rootMessage returns the innermost error text so clients never see internal wrapping.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
