package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"afterwon/internal/cache"
	"afterwon/internal/config"
	"afterwon/internal/database"
	"afterwon/internal/generation"
	"afterwon/internal/handlers"
	"afterwon/internal/jobs"
	"afterwon/internal/log"
	"afterwon/internal/metrics"
	"afterwon/internal/persistence"
	"afterwon/internal/provider"
	"afterwon/internal/remote"
	"afterwon/internal/repository"
	"afterwon/internal/server"
	"afterwon/internal/session"
	"afterwon/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)
	m := metrics.New("afterwon", prometheus.DefaultRegisterer)

	ctx := context.Background()
	checks := map[string]handlers.HealthCheck{}

	var dbPool *pgxpool.Pool
	var generations *repository.GenerationRepository
	if database.Configured(cfg.Postgres) {
		dbPool, err = database.Open(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open postgres")
		}
		generations = repository.NewGenerationRepository(dbPool)
		checks["database"] = dbPool.Ping
	}

	var redisClient *redis.Client
	if cache.Needed(cfg) {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		checks["cache"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to init blob store")
	}

	var sessions session.Store
	var guard session.Guard
	if cfg.Generation.SessionStore == config.SessionStoreRedis {
		sessions = session.NewRedisStore(redisClient, cfg.Generation.SessionTTL)
		guard = session.NewRedisGuard(redisClient, cfg.Generation.InFlightTTL)
	} else {
		sessions = session.NewMemoryStore()
		guard = session.NewMemoryGuard()
	}

	client := provider.NewOpenAIClient(
		cfg.Provider,
		&http.Client{Timeout: cfg.Provider.Timeout},
		logger,
		provider.WithBreakerObserver(func(_, to gobreaker.State) {
			m.SetBreakerState("openai", int(to))
		}),
	)

	fetchClient := &http.Client{Timeout: cfg.Persist.FetchTimeout}
	fetcher := remote.NewFetcher(fetchClient, remote.Options{Timeout: cfg.Persist.FetchTimeout})
	storageFetcher := remote.NewFetcher(fetchClient, remote.Options{Timeout: cfg.Persist.FetchTimeout, AllowPrivate: true})

	syncOpts := persistence.Options{
		MaxAttempts: cfg.Persist.MaxAttempts,
		Backoff:     cfg.Persist.Backoff,
	}
	if generations != nil {
		syncOpts.Records = generations
	}
	syncer := persistence.NewSyncer(blobs, sessions, fetcher, logger, syncOpts)
	syncer.OnComplete(persistence.MetricsListener(m))

	var dispatcher persistence.Dispatcher
	var asyncDispatcher *persistence.AsyncDispatcher
	if cfg.Persist.Mode == config.PersistModeQueue {
		dispatcher = persistence.NewStreamDispatcher(redisClient, cfg.Persist.Stream)
	} else {
		asyncDispatcher = persistence.NewAsyncDispatcher(syncer, cfg.Persist.Timeout, logger)
		dispatcher = asyncDispatcher
	}

	coordinator := generation.NewCoordinator(sessions, guard, client, logger, generation.Options{
		ForceTransparent: cfg.Provider.ForceTransparent,
		Dispatcher:       dispatcher,
		Metrics:          m,
	})
	coordinator.Subscribe(generation.ListenerFunc(func(_ context.Context, ev generation.Event) {
		e := logger.Debug().Str("event", string(ev.Type)).Str("session_id", ev.SessionID)
		if ev.Err != nil {
			e = e.Err(ev.Err)
		}
		e.Msg("generation event")
	}))

	deps := handlers.Deps{
		Log:            logger,
		Config:         cfg,
		Generator:      coordinator,
		Sessions:       sessions,
		Fetcher:        fetcher,
		StorageFetcher: storageFetcher,
		Checks:         checks,
	}
	if generations != nil {
		deps.Generations = generations
	}
	handlerSet := handlers.NewHandlerSet(deps)

	engine := server.NewRouter(cfg, logger, handlerSet, m, prometheus.DefaultGatherer)
	httpServer := server.NewHTTPServer(cfg, logger, engine)

	var lister jobs.ResyncRecords
	if generations != nil {
		lister = generations
	}
	scheduler := jobs.NewScheduler(lister, sessions, dispatcher, logger, jobs.Options{
		Spec:      cfg.Persist.ResyncCron,
		BatchSize: cfg.Persist.ResyncBatch,
		MinAge:    cfg.Persist.ResyncMinAge,
		Metrics:   m,
	})
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, asyncDispatcher, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, dispatcher *persistence.AsyncDispatcher, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	scheduler.Stop(shutdownCtx)

	if dispatcher != nil {
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("pending uploads abandoned")
		}
	}

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
