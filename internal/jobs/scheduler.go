package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"afterwon/internal/metrics"
	"afterwon/internal/models"
	"afterwon/internal/persistence"
	"afterwon/internal/session"
)

// ResyncRecords is the slice of the record store the resync job needs.
type ResyncRecords interface {
	ListDegraded(ctx context.Context, limit int, olderThan time.Duration) ([]models.Generation, error)
	MarkExpired(ctx context.Context, id string, reason string) error
}

const reasonEphemeralLost = "ephemeral image no longer available"

type Options struct {
	Spec      string
	BatchSize int
	MinAge    time.Duration
	Metrics   *metrics.Metrics
}

// Scheduler periodically re-dispatches generations whose upload degraded,
// narrowing the window in which only a short-lived ephemeral URL exists.
type Scheduler struct {
	cron       *cron.Cron
	records    ResyncRecords
	sessions   session.SessionReader
	dispatcher persistence.Dispatcher
	opts       Options
	log        zerolog.Logger
}

func NewScheduler(records ResyncRecords, sessions session.SessionReader, dispatcher persistence.Dispatcher, log zerolog.Logger, opts Options) *Scheduler {
	if opts.Spec == "" {
		opts.Spec = "0 */15 * * * *"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:       c,
		records:    records,
		sessions:   sessions,
		dispatcher: dispatcher,
		opts:       opts,
		log:        log,
	}
}

func (s *Scheduler) Start() error {
	if s.records == nil || s.dispatcher == nil {
		return nil
	}

	if _, err := s.cron.AddFunc(s.opts.Spec, s.resync); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for a running resync to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.Resync(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("resync degraded generations failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("re-dispatched degraded generations")
	}
}

// Resync dispatches one batch of degraded generations and reports how many
// were handed off.
func (s *Scheduler) Resync(ctx context.Context) (int, error) {
	records, err := s.records.ListDegraded(ctx, s.opts.BatchSize, s.opts.MinAge)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, rec := range records {
		job, ok, err := s.jobFor(ctx, rec)
		if err != nil {
			s.log.Warn().Err(err).Str("generation_id", rec.ID).Msg("read session for resync failed")
			continue
		}
		if !ok {
			// A row left degraded would stay at the head of every batch.
			if err := s.records.MarkExpired(ctx, rec.ID, reasonEphemeralLost); err != nil {
				s.log.Warn().Err(err).Str("generation_id", rec.ID).Msg("mark expired failed")
				continue
			}
			s.log.Info().Str("generation_id", rec.ID).Msg("degraded generation expired, no ephemeral image left")
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.log.Warn().Err(err).Str("generation_id", rec.ID).Msg("re-dispatch failed")
			continue
		}
		dispatched++
	}
	s.opts.Metrics.RecordResync(dispatched)
	return dispatched, nil
}

// jobFor rebuilds a persistence job. Remote images are refetched from their
// href; inline payloads only survive in the session that produced them.
func (s *Scheduler) jobFor(ctx context.Context, rec models.Generation) (persistence.Job, bool, error) {
	job := persistence.Job{SessionID: rec.SessionID, UserID: rec.UserID}

	if s.sessions != nil {
		sess, err := s.sessions.Get(ctx, rec.SessionID)
		if err != nil {
			return job, false, err
		}
		if sess.CurrentAsset != nil && sess.CurrentAsset.ID == rec.ID {
			job.Asset = sess.CurrentAsset.Clone()
			return job, !job.Asset.Ephemeral.IsZero(), nil
		}
	}

	if rec.EphemeralKind != models.RefRemote || rec.EphemeralHref == nil {
		return job, false, nil
	}
	job.Asset = models.GeneratedAsset{
		ID:        rec.ID,
		Ephemeral: models.RemoteRef(*rec.EphemeralHref),
		Checksum:  rec.Checksum,
		Metadata: models.AssetMetadata{
			Kind:        rec.Kind,
			Style:       rec.Style,
			Size:        rec.Size,
			Extras:      rec.Extras,
			Description: rec.Description,
			Prompt:      rec.Prompt,
		},
		CreatedAt: rec.CreatedAt,
	}
	return job, true, nil
}
