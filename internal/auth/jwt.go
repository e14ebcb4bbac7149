package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aura-quiz/backend/internal/models"
)

const issuer = "aura-quiz"

var ErrInvalidToken = errors.New("invalid token")

// Claims identify a participant. Websocket clients and the HTTP API share them.
type Claims struct {
	ParticipantID string      `json:"participant_id"`
	Name          string      `json:"name"`
	Role          models.Role `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token grants quiz administration.
func (c *Claims) IsAdmin() bool { return c.Role == models.RoleAdmin }

// JWTService signs and checks HS256 participant tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

// NewJWTService creates a JWT service whose tokens live for expireHours.
func NewJWTService(secret string, expireHours int) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		ttl:    time.Duration(expireHours) * time.Hour,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Generate signs a token for the participant. An unknown role is downgraded to participant.
func (s *JWTService) Generate(participantID, name, role string) (string, error) {
	r := models.Role(role)
	if r != models.RoleAdmin {
		r = models.RoleParticipant
	}
	now := time.Now()
	claims := Claims{
		ParticipantID: participantID,
		Name:          name,
		Role:          r,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   participantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate returns the claims of a well-formed, unexpired token naming a participant.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.ParticipantID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
