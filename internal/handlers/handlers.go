package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"afterwon/internal/config"
	"afterwon/internal/generation"
	"afterwon/internal/models"
	"afterwon/internal/remote"
)

type Generator interface {
	Generate(ctx context.Context, cmd generation.Command) (models.GeneratedAsset, error)
}

type SessionReader interface {
	Get(ctx context.Context, id string) (models.GenerationSession, error)
}

type GenerationReader interface {
	GetByID(ctx context.Context, id string) (models.Generation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Generation, error)
}

type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (remote.Image, error)
	Check(ctx context.Context, rawURL string) (remote.Info, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Log       zerolog.Logger
	Config    *config.AppConfig
	Generator Generator
	Sessions  SessionReader
	// Generations is nil when no record store is configured.
	Generations GenerationReader
	// Fetcher serves the public proxy routes. StorageFetcher may reach our
	// own (possibly private) blob storage.
	Fetcher        ImageFetcher
	StorageFetcher ImageFetcher
	Checks         map[string]HealthCheck
}

type HandlerSet struct {
	log            zerolog.Logger
	cfg            *config.AppConfig
	generator      Generator
	sessions       SessionReader
	generations    GenerationReader
	fetcher        ImageFetcher
	storageFetcher ImageFetcher
	checks         map[string]HealthCheck
}

func NewHandlerSet(d Deps) HandlerSet {
	storageFetcher := d.StorageFetcher
	if storageFetcher == nil {
		storageFetcher = d.Fetcher
	}
	return HandlerSet{
		log:            d.Log,
		cfg:            d.Config,
		generator:      d.Generator,
		sessions:       d.Sessions,
		generations:    d.Generations,
		fetcher:        d.Fetcher,
		storageFetcher: storageFetcher,
		checks:         d.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Healthz)

	router.POST("/generate", h.Generate)
	router.GET("/sessions/:id", h.GetSession)

	router.GET("/proxy-image", h.ProxyImage)
	router.GET("/proxy-storage", h.ProxyStorage)
	router.GET("/check-image", h.CheckImage)

	v1 := router.Group("/v1")
	{
		v1.GET("/generations/:id", h.GetGeneration)
		v1.GET("/users/:userId/generations", h.ListUserGenerations)
	}
}
