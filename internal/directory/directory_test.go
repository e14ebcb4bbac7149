package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-quiz/backend/internal/models"
)

type countingStore struct {
	names   map[string]string
	gets    int
	upserts int
	err     error
}

func (s *countingStore) GetParticipant(_ context.Context, id string) (*models.Participant, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	name, ok := s.names[id]
	if !ok {
		return nil, nil
	}
	return &models.Participant{ID: id, DisplayName: name}, nil
}

func (s *countingStore) UpsertParticipant(_ context.Context, id, name string) error {
	s.upserts++
	if s.err != nil {
		return s.err
	}
	s.names[id] = name
	return nil
}

func TestDirectory_CachesLookups(t *testing.T) {
	store := &countingStore{names: map[string]string{"42": "Alice"}}
	d, err := New(store, 2, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name, err := d.DisplayName(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
	}
	assert.Equal(t, 1, store.gets)

	name, err := d.DisplayName(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestDirectory_Remember(t *testing.T) {
	store := &countingStore{names: map[string]string{}}
	d, err := New(store, 0, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.Remember(ctx, "7", "bob"))
	require.NoError(t, d.Remember(ctx, "7", "bob"))
	assert.Equal(t, 1, store.upserts)

	require.NoError(t, d.Remember(ctx, "7", "Bobby"))
	assert.Equal(t, 2, store.upserts)

	name, err := d.DisplayName(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "Bobby", name)
	assert.Zero(t, store.gets)

	require.NoError(t, d.Remember(ctx, "", "ghost"))
	assert.Equal(t, 2, store.upserts)
}

func TestDirectory_StoreErrors(t *testing.T) {
	store := &countingStore{names: map[string]string{}, err: errors.New("db down")}
	d, err := New(store, 0, nil)
	require.NoError(t, err)

	_, err = d.DisplayName(context.Background(), "1")
	assert.Error(t, err)
	assert.Error(t, d.Remember(context.Background(), "1", "x"))
}
