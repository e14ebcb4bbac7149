package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "quiz:channel:"
	publishTTL    = 5 * time.Second
)

// redisPayload is the envelope carried between instances.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

type channelHandler func(event string, payload []byte)

// RedisPubSub bridges quiz channel events across instances. All channels share one
// pattern subscription, started with the first SubscribeChannel call.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[string]map[uint64]channelHandler
	nextID   uint64
	stop     context.CancelFunc
}

// NewRedisPubSub creates a Redis pub/sub bridge for channel events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{
		client:   client,
		logger:   logger,
		handlers: make(map[string]map[uint64]channelHandler),
	}
}

// PublishChannelEvent publishes an event to the channel's topic.
func (r *RedisPubSub) PublishChannelEvent(channelID string, event string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+channelID, body).Err()
}

// SubscribeChannel registers handler for events on channelID. The returned cancel removes it.
func (r *RedisPubSub) SubscribeChannel(channelID string, handler func(event string, payload []byte)) (cancel func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		if err := r.listen(); err != nil {
			return nil, err
		}
	}
	r.nextID++
	id := r.nextID
	if r.handlers[channelID] == nil {
		r.handlers[channelID] = make(map[uint64]channelHandler)
	}
	r.handlers[channelID][id] = handler

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[channelID], id)
		if len(r.handlers[channelID]) == 0 {
			delete(r.handlers, channelID)
		}
	}, nil
}

// Close ends the shared subscription.
func (r *RedisPubSub) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
}

// listen starts the pattern subscription. Callers hold r.mu.
func (r *RedisPubSub) listen() error {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	r.stop = cancel

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliver(strings.TrimPrefix(msg.Channel, channelPrefix), msg.Payload)
			}
		}
	}()
	return nil
}

func (r *RedisPubSub) deliver(channelID, raw string) {
	var p redisPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		r.logger.Debug("drop malformed channel event", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	r.mu.Lock()
	targets := make([]channelHandler, 0, len(r.handlers[channelID]))
	for _, h := range r.handlers[channelID] {
		targets = append(targets, h)
	}
	r.mu.Unlock()
	for _, h := range targets {
		h(p.Event, p.Data)
	}
}
