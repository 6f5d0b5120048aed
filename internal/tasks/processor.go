package tasks

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"afterwon/internal/models"
	"afterwon/internal/persistence"
)

type Syncer interface {
	Sync(ctx context.Context, job persistence.Job) (models.DurableRef, error)
}

// Processor runs persistence jobs delivered through the stream.
type Processor struct {
	syncer Syncer
	logger zerolog.Logger
}

func NewProcessor(syncer Syncer, logger zerolog.Logger) *Processor {
	return &Processor{
		syncer: syncer,
		logger: logger,
	}
}

// Handle returns an error only when the message should stay pending for a
// later retry. Degraded uploads are already recorded by the syncer.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	taskType, _ := msg.Values["type"].(string)
	switch taskType {
	case persistence.TaskPersist:
		return p.handlePersist(ctx, msg)
	default:
		p.logger.Warn().Str("type", taskType).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handlePersist(ctx context.Context, msg redis.XMessage) error {
	job, err := persistence.DecodeJob(msg.Values)
	if err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("drop malformed persist task")
		return nil
	}

	_, err = p.syncer.Sync(ctx, job)
	if err == nil {
		return nil
	}

	var degraded *persistence.DegradedError
	if errors.As(err, &degraded) && ctx.Err() == nil {
		return nil
	}
	return err
}
