// Package checkpoint mirrors quiz sessions and championships to Redis so a restarted
// process can pick them up again.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/quiz"
)

const (
	sessionPrefix      = "quiz:session:"
	championshipPrefix = "quiz:championship:"
	scanCount          = 100
)

// Redis implements quiz.Checkpointer with one JSON value per session and per championship.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis creates a checkpoint store. Keys expire after ttl unless rewritten; ttl <= 0 keeps them.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

func sessionKey(key quiz.SessionKey) string { return sessionPrefix + key.String() }

func championshipKey(channelID string) string { return championshipPrefix + channelID }

// SaveSession stores the full session record.
func (r *Redis) SaveSession(ctx context.Context, s *quiz.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.client.Set(ctx, sessionKey(s.Key), data, r.expiry()).Err()
}

// DeleteSession removes a session record.
func (r *Redis) DeleteSession(ctx context.Context, key quiz.SessionKey) error {
	return r.client.Del(ctx, sessionKey(key)).Err()
}

// SaveChampionship stores a championship record.
func (r *Redis) SaveChampionship(ctx context.Context, c *quiz.Championship) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal championship: %w", err)
	}
	// championships may be scheduled further out than the cleanup TTL
	return r.client.Set(ctx, championshipKey(c.ChannelID), data, 0).Err()
}

// DeleteChampionship removes a championship record.
func (r *Redis) DeleteChampionship(ctx context.Context, channelID string) error {
	return r.client.Del(ctx, championshipKey(channelID)).Err()
}

// Load returns every stored session and championship. Malformed records are skipped.
func (r *Redis) Load(ctx context.Context) ([]*quiz.Session, []*quiz.Championship, error) {
	var sessions []*quiz.Session
	err := r.scan(ctx, sessionPrefix+"*", func(key string, raw []byte) {
		var s quiz.Session
		if err := json.Unmarshal(raw, &s); err != nil || s.Quiz == nil {
			r.logger.Warn("skipping malformed session checkpoint", zap.String("key", key), zap.Error(err))
			return
		}
		sessions = append(sessions, &s)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load sessions: %w", err)
	}

	var championships []*quiz.Championship
	err = r.scan(ctx, championshipPrefix+"*", func(key string, raw []byte) {
		var c quiz.Championship
		if err := json.Unmarshal(raw, &c); err != nil {
			r.logger.Warn("skipping malformed championship checkpoint", zap.String("key", key), zap.Error(err))
			return
		}
		if c.Scores == nil {
			c.Scores = make(map[string]int)
		}
		if c.Names == nil {
			c.Names = make(map[string]string)
		}
		championships = append(championships, &c)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load championships: %w", err)
	}
	return sessions, championships, nil
}

func (r *Redis) scan(ctx context.Context, pattern string, fn func(key string, raw []byte)) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			raw, err := r.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			if err != nil {
				return err
			}
			fn(key, raw)
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *Redis) expiry() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	return r.ttl
}
