package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/auth"
	"github.com/aura-quiz/backend/internal/models"
	"github.com/aura-quiz/backend/internal/quiz"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

const inboundTimeout = 5 * time.Second

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AnswerMessage is the data of an inbound "answer" event.
type AnswerMessage struct {
	PollID string `json:"poll_id"`
	Option int    `json:"option"`
}

// Inbound receives participant activity from websocket clients.
type Inbound interface {
	HandleAnswer(ctx context.Context, ev quiz.AnswerEvent) error
	Touch(ctx context.Context) error
}

// Roster records the display names participants connect with.
type Roster interface {
	Remember(ctx context.Context, participantID, displayName string) error
}

// TokenValidator validates the token passed on the upgrade request.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Client represents a single WebSocket connection in a quiz channel.
type Client struct {
	ID            string
	ChannelID     string
	ParticipantID string
	DisplayName   string
	Role          models.Role
	JoinedAt      time.Time
	hub           *Hub
	inbound       Inbound
	conn          *websocket.Conn
	send          chan WSMessage
	logger        *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. roster may be nil.
func ServeWs(hub *Hub, inbound Inbound, roster Roster, tokens TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		channelID := c.Query("channel_id")
		token := c.Query("token")
		if channelID == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel_id and token required"})
			return
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		if roster != nil && claims.Name != "" {
			if err := roster.Remember(c.Request.Context(), claims.ParticipantID, claims.Name); err != nil {
				logger.Warn("remember participant", zap.String("participant_id", claims.ParticipantID), zap.Error(err))
			}
		}

		client := &Client{
			ID:            uuid.New().String(),
			ChannelID:     channelID,
			ParticipantID: claims.ParticipantID,
			DisplayName:   claims.Name,
			Role:          claims.Role,
			JoinedAt:      time.Now(),
			hub:           hub,
			inbound:       inbound,
			conn:          conn,
			send:          make(chan WSMessage, 256),
			logger:        logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handle(msg)
	}
}

// handle forwards one inbound message: answers go to the engine, anything else counts as activity.
func (c *Client) handle(msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	switch msg.Event {
	case "answer":
		var a AnswerMessage
		if err := json.Unmarshal(msg.Data, &a); err != nil || a.PollID == "" {
			c.hub.SendToClient(c.ChannelID, c.ID, "error", map[string]string{"error": "invalid answer"})
			return
		}
		err := c.inbound.HandleAnswer(ctx, quiz.AnswerEvent{
			PollID:        a.PollID,
			ParticipantID: c.ParticipantID,
			DisplayName:   c.DisplayName,
			OptionIndex:   a.Option,
		})
		if err != nil {
			c.logger.Warn("handle answer", zap.String("poll_id", a.PollID), zap.Error(err))
		}
	case "join":
		c.hub.SendToClient(c.ChannelID, c.ID, "presence", map[string]int{
			"count": c.hub.ChannelSize(c.ChannelID),
		})
		fallthrough
	default:
		if err := c.inbound.Touch(ctx); err != nil {
			c.logger.Debug("touch", zap.Error(err))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
