// Package generation sequences prompt composition and the provider call for
// a session while keeping at most one generation in flight per session.
package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"afterwon/internal/ids"
	"afterwon/internal/metrics"
	"afterwon/internal/models"
	"afterwon/internal/persistence"
	"afterwon/internal/prompt"
	"afterwon/internal/provider"
	"afterwon/internal/session"
)

const genericFailure = "generation failed"

type Command struct {
	SessionID string
	UserID    string
	Request   models.GenerationRequest
}

type Options struct {
	// ForceTransparent requests a transparent background even when the
	// request extras do not ask for one.
	ForceTransparent bool
	Dispatcher       persistence.Dispatcher
	Metrics          *metrics.Metrics
}

type Coordinator struct {
	sessions         session.Store
	guard            session.Guard
	client           provider.Client
	dispatcher       persistence.Dispatcher
	metrics          *metrics.Metrics
	forceTransparent bool
	log              zerolog.Logger
	now              func() time.Time

	mu        sync.RWMutex
	listeners []Listener
}

func NewCoordinator(sessions session.Store, guard session.Guard, client provider.Client, log zerolog.Logger, opts Options) *Coordinator {
	return &Coordinator{
		sessions:         sessions,
		guard:            guard,
		client:           client,
		dispatcher:       opts.Dispatcher,
		metrics:          opts.Metrics,
		forceTransparent: opts.ForceTransparent,
		log:              log,
		now:              time.Now,
	}
}

func (c *Coordinator) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Generate runs one generation for cmd.SessionID and returns the asset with
// its ephemeral reference. Durable persistence is handed off and never
// awaited.
func (c *Coordinator) Generate(ctx context.Context, cmd Command) (models.GeneratedAsset, error) {
	if cmd.SessionID == "" {
		c.metrics.RecordRejection("rejected")
		return models.GeneratedAsset{}, &models.ValidationError{Field: "sessionId", Reason: "is required"}
	}
	if err := cmd.Request.Validate(); err != nil {
		c.metrics.RecordRejection("rejected")
		return models.GeneratedAsset{}, err
	}

	release, err := c.guard.Acquire(ctx, cmd.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyInProgress) {
			c.metrics.RecordRejection("busy")
		}
		return models.GeneratedAsset{}, err
	}
	defer release()

	req := cmd.Request.Clone()
	logger := c.log.With().Str("session_id", cmd.SessionID).Str("user_id", cmd.UserID).Logger()

	if _, err := c.sessions.Update(ctx, cmd.SessionID, func(s *models.GenerationSession) error {
		s.Status = models.SessionStatusGenerating
		s.LastError = ""
		if cmd.UserID != "" {
			s.UserID = cmd.UserID
		}
		return nil
	}); err != nil {
		return models.GeneratedAsset{}, fmt.Errorf("mark session generating: %w", err)
	}
	c.emit(ctx, Event{Type: EventStarted, SessionID: cmd.SessionID, UserID: cmd.UserID, Request: req})

	p := prompt.Compose(req)
	transparent := c.forceTransparent || req.Transparent()

	started := c.now()
	c.metrics.GenerationStarted()
	out, err := c.client.Generate(ctx, provider.Input{
		Prompt:      p.Full(),
		Size:        req.Size,
		Transparent: transparent,
	})
	c.metrics.GenerationFinished()

	if err != nil {
		c.metrics.RecordGeneration("failed", c.now().Sub(started))
		logger.Warn().Err(err).Msg("generation failed")
		return models.GeneratedAsset{}, c.fail(ctx, cmd, req, err)
	}
	c.metrics.RecordGeneration("succeeded", c.now().Sub(started))

	asset := c.buildAsset(req, p, out, transparent)
	if _, err := c.sessions.Update(ctx, cmd.SessionID, func(s *models.GenerationSession) error {
		s.Status = models.SessionStatusCompleted
		a := asset.Clone()
		s.CurrentAsset = &a
		return nil
	}); err != nil {
		return models.GeneratedAsset{}, c.fail(ctx, cmd, req, fmt.Errorf("record completed generation: %w", err))
	}

	emitted := asset.Clone()
	c.emit(ctx, Event{Type: EventSucceeded, SessionID: cmd.SessionID, UserID: cmd.UserID, Request: req, Asset: &emitted})
	logger.Info().Str("generation_id", asset.ID).Str("model", out.Model).Msg("generation completed")

	if c.dispatcher != nil {
		job := persistence.Job{SessionID: cmd.SessionID, UserID: cmd.UserID, Asset: asset.Clone()}
		if err := c.dispatcher.Dispatch(ctx, job); err != nil {
			logger.Warn().Err(err).Str("generation_id", asset.ID).Msg("hand off asset for persistence failed")
		}
	}

	return asset, nil
}

func (c *Coordinator) fail(ctx context.Context, cmd Command, req models.GenerationRequest, cause error) error {
	msg := UserMessage(cause)
	if _, err := c.sessions.Update(ctx, cmd.SessionID, func(s *models.GenerationSession) error {
		s.Status = models.SessionStatusFailed
		s.LastError = msg
		return nil
	}); err != nil {
		c.log.Error().Err(err).Str("session_id", cmd.SessionID).Msg("mark session failed")
	}
	c.emit(ctx, Event{Type: EventFailed, SessionID: cmd.SessionID, UserID: cmd.UserID, Request: req, Err: cause})
	return cause
}

func (c *Coordinator) buildAsset(req models.GenerationRequest, p prompt.Prompt, out provider.Output, transparent bool) models.GeneratedAsset {
	model := out.Model
	if model == "" {
		model = "the image provider"
	}
	msg := fmt.Sprintf("Image generated successfully with %s", model)
	if transparent {
		msg += " (transparent background)"
	}
	return models.GeneratedAsset{
		ID:        ids.New(),
		Ephemeral: out.Ref,
		Checksum:  Checksum(out.Ref, p.Text),
		Metadata: models.AssetMetadata{
			Kind:          req.Kind,
			Style:         req.Style,
			Size:          req.Size,
			Extras:        req.Extras,
			Description:   req.Description,
			Prompt:        p.Text,
			RevisedPrompt: out.RevisedPrompt,
			Model:         out.Model,
			Message:       msg,
		},
		CreatedAt: c.now().UTC(),
	}
}

func (c *Coordinator) emit(ctx context.Context, ev Event) {
	ev.At = c.now().UTC()

	c.mu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.RUnlock()

	for _, l := range listeners {
		l.OnEvent(ctx, ev)
	}
}

// Checksum tags an image for display and dedup: the content hash for inline
// payloads, a hash of prompt and href for remote ones.
func Checksum(ref models.ImageRef, promptText string) string {
	h := sha256.New()
	switch ref.Kind {
	case models.RefInline:
		h.Write(ref.Data)
	default:
		h.Write([]byte(promptText))
		h.Write([]byte{0})
		h.Write([]byte(ref.Href))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// UserMessage is the failure text shown to end users.
func UserMessage(err error) string {
	var perr *provider.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	if errors.Is(err, session.ErrAlreadyInProgress) {
		return err.Error()
	}
	return genericFailure
}
