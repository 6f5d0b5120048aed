package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afterwon/internal/models"
	"afterwon/internal/persistence"
)

type syncerFunc func(ctx context.Context, job persistence.Job) (models.DurableRef, error)

func (f syncerFunc) Sync(ctx context.Context, job persistence.Job) (models.DurableRef, error) {
	return f(ctx, job)
}

func persistMessage(t *testing.T) redis.XMessage {
	t.Helper()
	values, err := persistence.EncodeJob(persistence.Job{
		SessionID: "s1",
		UserID:    "u1",
		Asset: models.GeneratedAsset{
			ID:        "g1",
			Ephemeral: models.RemoteRef("https://provider.test/a.png"),
		},
	})
	require.NoError(t, err)
	return redis.XMessage{ID: "1-0", Values: values}
}

func TestProcessor_RunsPersistJobs(t *testing.T) {
	var got persistence.Job
	p := NewProcessor(syncerFunc(func(ctx context.Context, job persistence.Job) (models.DurableRef, error) {
		got = job
		return models.DurableRef{URL: "https://cdn.test/x"}, nil
	}), zerolog.Nop())

	require.NoError(t, p.Handle(context.Background(), persistMessage(t)))
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "g1", got.Asset.ID)
	assert.Equal(t, "https://provider.test/a.png", got.Asset.Ephemeral.Href)
}

func TestProcessor_AcksDegradedJobs(t *testing.T) {
	p := NewProcessor(syncerFunc(func(ctx context.Context, job persistence.Job) (models.DurableRef, error) {
		return models.DurableRef{}, &persistence.DegradedError{GenerationID: job.Asset.ID, Attempts: 3, Err: errors.New("down")}
	}), zerolog.Nop())

	assert.NoError(t, p.Handle(context.Background(), persistMessage(t)))
}

func TestProcessor_KeepsJobPendingOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewProcessor(syncerFunc(func(ctx context.Context, job persistence.Job) (models.DurableRef, error) {
		cancel()
		return models.DurableRef{}, &persistence.DegradedError{GenerationID: job.Asset.ID, Attempts: 1, Err: ctx.Err()}
	}), zerolog.Nop())

	assert.Error(t, p.Handle(ctx, persistMessage(t)))
}

func TestProcessor_IgnoresUnknownAndMalformed(t *testing.T) {
	called := false
	p := NewProcessor(syncerFunc(func(ctx context.Context, job persistence.Job) (models.DurableRef, error) {
		called = true
		return models.DurableRef{}, nil
	}), zerolog.Nop())

	assert.NoError(t, p.Handle(context.Background(), redis.XMessage{ID: "1", Values: map[string]any{"type": "thumbnail"}}))
	assert.NoError(t, p.Handle(context.Background(), redis.XMessage{ID: "2", Values: map[string]any{"type": "persist", "asset": "{"}}))
	assert.False(t, called)
}
