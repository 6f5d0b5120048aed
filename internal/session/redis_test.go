package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afterwon/internal/models"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisGuard_SingleFlight(t *testing.T) {
	mr, client := newRedis(t)
	guard := NewRedisGuard(client, time.Minute)
	ctx := context.Background()

	release, err := guard.Acquire(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("gen:inflight:s-1"))
	assert.Equal(t, time.Minute, mr.TTL("gen:inflight:s-1"))

	_, err = guard.Acquire(ctx, "s-1")
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	other, err := guard.Acquire(ctx, "s-2")
	require.NoError(t, err, "sessions are guarded independently")
	other()

	release()
	release()
	assert.False(t, mr.Exists("gen:inflight:s-1"))

	again, err := guard.Acquire(ctx, "s-1")
	require.NoError(t, err)
	again()
}

func TestRedisGuard_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr, client := newRedis(t)
	guard := NewRedisGuard(client, time.Second)
	ctx := context.Background()

	stale, err := guard.Acquire(ctx, "s-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("gen:inflight:s-1"))

	current, err := guard.Acquire(ctx, "s-1")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("gen:inflight:s-1"), "an expired holder must not free someone else's marker")

	_, err = guard.Acquire(ctx, "s-1")
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	current()
	assert.False(t, mr.Exists("gen:inflight:s-1"))
}

func TestRedisGuard_BackendError(t *testing.T) {
	mr, client := newRedis(t)
	mr.SetError("LOADING")

	_, err := NewRedisGuard(client, time.Minute).Acquire(context.Background(), "s-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyInProgress))
}

func TestRedisStore_GetUnknownIsIdle(t *testing.T) {
	_, client := newRedis(t)
	sess, err := NewRedisStore(client, time.Hour).Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", sess.ID)
	assert.Equal(t, models.SessionStatusIdle, sess.Status)
}

func TestRedisStore_UpdatePersistsWithTTL(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	_, err := store.Update(ctx, "s-1", func(s *models.GenerationSession) error {
		s.Status = models.SessionStatusCompleted
		s.CurrentAsset = &models.GeneratedAsset{ID: "g-1", Ephemeral: models.RemoteRef("https://provider.test/a.png")}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("session:s-1"))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
	require.NotNil(t, got.CurrentAsset)
	assert.Equal(t, "https://provider.test/a.png", got.CurrentAsset.Ephemeral.Href)
}

func TestRedisStore_MutatorErrorWritesNothing(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisStore(client, time.Hour)

	boom := errors.New("boom")
	_, err := store.Update(context.Background(), "s-1", func(s *models.GenerationSession) error {
		s.Status = models.SessionStatusFailed
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("session:s-1"))
}

func TestRedisStore_RetriesOnConcurrentWrite(t *testing.T) {
	_, client := newRedis(t)
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	rival, err := json.Marshal(models.GenerationSession{ID: "s-1", Status: models.SessionStatusGenerating, LastError: "rival"})
	require.NoError(t, err)

	calls := 0
	got, err := store.Update(ctx, "s-1", func(s *models.GenerationSession) error {
		calls++
		if calls == 1 {
			// Another writer lands between our read and our commit.
			require.NoError(t, client.Set(ctx, "session:s-1", rival, time.Hour).Err())
		}
		s.Status = models.SessionStatusCompleted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "rival", got.LastError, "the retry sees the rival write")
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
}

func TestRedisStore_GivesUpAfterRepeatedConflicts(t *testing.T) {
	_, client := newRedis(t)
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	calls := 0
	_, err := store.Update(ctx, "s-1", func(s *models.GenerationSession) error {
		calls++
		require.NoError(t, client.Set(ctx, "session:s-1", `{"id":"s-1","status":"generating"}`, time.Hour).Err())
		return nil
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, maxUpdateRetries, calls)
}
