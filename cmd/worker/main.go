package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"afterwon/internal/cache"
	"afterwon/internal/config"
	"afterwon/internal/database"
	"afterwon/internal/log"
	"afterwon/internal/persistence"
	"afterwon/internal/queue"
	"afterwon/internal/remote"
	"afterwon/internal/repository"
	"afterwon/internal/session"
	"afterwon/internal/storage"
	"afterwon/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.NewWithLevel(cfg.Environment, cfg.Worker.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to init blob store")
	}

	opts := persistence.Options{
		MaxAttempts: cfg.Persist.MaxAttempts,
		Backoff:     cfg.Persist.Backoff,
	}
	var dbPool *pgxpool.Pool
	if database.Configured(cfg.Postgres) {
		dbPool, err = database.Open(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open postgres")
		}
		defer dbPool.Close()
		opts.Records = repository.NewGenerationRepository(dbPool)
	}

	fetcher := remote.NewFetcher(&http.Client{Timeout: cfg.Persist.FetchTimeout}, remote.Options{Timeout: cfg.Persist.FetchTimeout})
	sessions := session.NewRedisStore(client, cfg.Generation.SessionTTL)
	syncer := persistence.NewSyncer(blobs, sessions, fetcher, logger, opts)

	processor := tasks.NewProcessor(syncer, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Persist.Stream,
		cfg.Worker.Group,
		cfg.Worker.Consumer,
		cfg.Worker.ClaimInterval,
		logger,
		processor,
	)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure consumer group failed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
