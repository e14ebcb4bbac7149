package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains channel_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// channelID -> map[clientID]*Client
	channels map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per channel
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishChannelEvent(channelID string, event string, payload []byte) error
}

// RedisSubscriber subscribes to quiz channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeChannel(channelID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. Either Redis side may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a channel. Starts Redis subscription for this channel if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.channels[c.ChannelID] == nil {
		h.channels[c.ChannelID] = make(map[string]*Client)
		if h.redisSub != nil {
			channelID := c.ChannelID
			cancel, err := h.redisSub.SubscribeChannel(channelID, func(event string, payload []byte) {
				h.Broadcast(channelID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.String("channel_id", channelID), zap.Error(err))
			} else {
				h.subs[channelID] = cancel
			}
		}
	}
	h.channels[c.ChannelID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined channel", zap.String("client_id", c.ID), zap.String("channel_id", c.ChannelID))
}

// Unregister removes a client from a channel. Cancels Redis subscription when last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.channels[c.ChannelID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.channels, c.ChannelID)
			if cancel, ok := h.subs[c.ChannelID]; ok {
				cancel()
				delete(h.subs, c.ChannelID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left channel", zap.String("client_id", c.ID), zap.String("channel_id", c.ChannelID))
}

// Broadcast sends a message to all clients in a channel (local only).
func (h *Hub) Broadcast(channelID string, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.channels[channelID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers an event to every instance. With Redis the subscriber callback performs the
// local broadcast, so local clients receive the event exactly once.
func (h *Hub) Publish(channelID string, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if h.redis != nil {
		return h.redis.PublishChannelEvent(channelID, event, data)
	}
	h.Broadcast(channelID, event, json.RawMessage(data))
	return nil
}

// ChannelSize returns the number of connected clients in a channel on this instance.
func (h *Hub) ChannelSize(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelID])
}

// SendToClient sends a message to a single client in a channel.
func (h *Hub) SendToClient(channelID, clientID string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	c, ok := h.channels[channelID][clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
