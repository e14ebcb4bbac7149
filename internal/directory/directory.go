package directory

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/models"
)

const defaultSize = 10000

// ParticipantStore is the persistent side of the directory.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	UpsertParticipant(ctx context.Context, id, displayName string) error
}

// Directory resolves display names, caching them in memory.
type Directory struct {
	store  ParticipantStore
	cache  *lru.Cache[string, string]
	logger *zap.Logger
}

// New creates a directory with an LRU of the given size (0 uses the default).
func New(store ParticipantStore, size int, logger *zap.Logger) (*Directory, error) {
	if size <= 0 {
		size = defaultSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Directory{store: store, cache: cache, logger: logger}, nil
}

// DisplayName returns the known name of a participant, or "" when unknown.
func (d *Directory) DisplayName(ctx context.Context, participantID string) (string, error) {
	if name, ok := d.cache.Get(participantID); ok {
		return name, nil
	}
	p, err := d.store.GetParticipant(ctx, participantID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}
	d.cache.Add(participantID, p.DisplayName)
	return p.DisplayName, nil
}

// Remember records the latest name a participant was seen with. Unchanged names skip the store.
func (d *Directory) Remember(ctx context.Context, participantID, displayName string) error {
	if participantID == "" || displayName == "" {
		return nil
	}
	if name, ok := d.cache.Get(participantID); ok && name == displayName {
		return nil
	}
	if err := d.store.UpsertParticipant(ctx, participantID, displayName); err != nil {
		return err
	}
	d.cache.Add(participantID, displayName)
	d.logger.Debug("participant remembered", zap.String("participant_id", participantID))
	return nil
}
