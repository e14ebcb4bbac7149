package auth

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/models"
	"github.com/aura-quiz/backend/pkg/response"
)

// ContextParticipantID is the gin context key the JWT middleware stores the participant ID under.
const ContextParticipantID = "participant_id"

// ParticipantRepository reads and writes participant records.
type ParticipantRepository interface {
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	SaveParticipant(ctx context.Context, p *models.Participant) error
}

// IssueRequest is the body for POST /auth/tokens.
type IssueRequest struct {
	ParticipantID string     `json:"participant_id" binding:"required"`
	DisplayName   string     `json:"display_name" binding:"required"`
	Role          string     `json:"role" binding:"omitempty,oneof=admin participant"`
	VIPUntil      *time.Time `json:"vip_until"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token       string             `json:"token"`
	Participant models.Participant `json:"participant"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   ParticipantRepository
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo ParticipantRepository, jwt *JWTService, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// Issue handles POST /auth/tokens (admin only). Registers or updates the participant and
// returns a token for it.
func (h *Handler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role := models.RoleParticipant
	if req.Role == string(models.RoleAdmin) {
		role = models.RoleAdmin
	}
	p := &models.Participant{
		ID:          req.ParticipantID,
		DisplayName: req.DisplayName,
		Role:        role,
		VIPUntil:    req.VIPUntil,
	}
	if err := h.repo.SaveParticipant(c.Request.Context(), p); err != nil {
		h.logger.Error("save participant", zap.String("participant_id", p.ID), zap.Error(err))
		response.Internal(c, "failed to save participant")
		return
	}
	token, err := h.jwt.Generate(p.ID, p.DisplayName, string(p.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, TokenResponse{Token: token, Participant: *p})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	id := c.GetString(ContextParticipantID)
	p, err := h.repo.GetParticipant(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load participant")
		return
	}
	if p == nil {
		response.NotFound(c, "participant not found")
		return
	}
	response.OK(c, p)
}
