package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"afterwon/internal/media/sniffer"
	"afterwon/internal/media/svg"
	"afterwon/internal/models"
	"afterwon/internal/remote"
	"afterwon/internal/session"
	"afterwon/internal/storage"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
)

// Fetcher downloads remote ephemeral images.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (remote.Image, error)
}

type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Records     RecordStore
}

// Syncer uploads one asset at a time and reconciles the session and history
// records with the outcome.
type Syncer struct {
	blobs       storage.BlobStore
	sessions    session.Store
	fetcher     Fetcher
	records     RecordStore
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	listeners []Listener
}

func NewSyncer(blobs storage.BlobStore, sessions session.Store, fetcher Fetcher, log zerolog.Logger, opts Options) *Syncer {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Syncer{
		blobs:       blobs,
		sessions:    sessions,
		fetcher:     fetcher,
		records:     opts.Records,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		log:         log,
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// OnComplete registers l for every finished job.
func (s *Syncer) OnComplete(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Sync stores job.Asset durably. A failure after all attempts returns
// *DegradedError and leaves the ephemeral reference in place.
func (s *Syncer) Sync(ctx context.Context, job Job) (models.DurableRef, error) {
	logger := s.log.With().
		Str("generation_id", job.Asset.ID).
		Str("session_id", job.SessionID).
		Logger()

	if s.records != nil {
		if err := s.records.Create(ctx, RecordFromJob(job)); err != nil {
			logger.Warn().Err(err).Msg("record generation failed")
		}
	}

	ref, attempts, err := s.upload(ctx, job)
	if err != nil {
		derr := &DegradedError{GenerationID: job.Asset.ID, Attempts: attempts, Err: err}
		s.markDegraded(ctx, job, derr)
		logger.Warn().Err(err).Int("attempts", attempts).Msg("asset persistence degraded, keeping ephemeral reference")
		s.notify(ctx, Result{Job: job, Attempts: attempts, Err: derr})
		return models.DurableRef{}, derr
	}

	ref = s.markStored(ctx, job, ref)
	logger.Info().Str("key", ref.Key).Int("attempts", attempts).Msg("asset persisted")
	durable := ref
	s.notify(ctx, Result{Job: job, Durable: &durable, Attempts: attempts})
	return ref, nil
}

func (s *Syncer) upload(ctx context.Context, job Job) (models.DurableRef, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		ref, err := s.tryUpload(ctx, job)
		if err == nil {
			return ref, attempt, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) || ctx.Err() != nil || attempt == s.maxAttempts {
			return models.DurableRef{}, attempt, err
		}

		s.log.Debug().Err(err).Str("generation_id", job.Asset.ID).Int("attempt", attempt).Msg("upload attempt failed, retrying")
		if err := s.sleep(ctx, s.backoff); err != nil {
			return models.DurableRef{}, attempt, lastErr
		}
	}
	return models.DurableRef{}, s.maxAttempts, lastErr
}

func (s *Syncer) tryUpload(ctx context.Context, job Job) (models.DurableRef, error) {
	data, format, err := s.resolve(ctx, job.Asset.Ephemeral)
	if err != nil {
		return models.DurableRef{}, err
	}

	key := Key(job.UserID, job.Asset.ID, format.Ext)
	url, err := s.blobs.Put(ctx, key, data, format.MIME)
	if err != nil {
		return models.DurableRef{}, err
	}
	return models.DurableRef{URL: url, Key: key, StoredAt: s.now().UTC()}, nil
}

// resolve turns the ephemeral reference into bytes ready for upload.
func (s *Syncer) resolve(ctx context.Context, ref models.ImageRef) ([]byte, sniffer.Format, error) {
	var (
		data     []byte
		declared string
	)

	switch ref.Kind {
	case models.RefInline:
		if len(ref.Data) == 0 {
			return nil, sniffer.Format{}, permanent(ErrNothingToStore)
		}
		data, declared = ref.Data, ref.MIMEType
	case models.RefRemote:
		if s.fetcher == nil {
			return nil, sniffer.Format{}, permanent(errors.New("no fetcher configured for remote images"))
		}
		img, err := s.fetcher.Fetch(ctx, ref.Href)
		if err != nil {
			if isPermanentFetchError(err) {
				return nil, sniffer.Format{}, permanent(err)
			}
			return nil, sniffer.Format{}, fmt.Errorf("fetch ephemeral image: %w", err)
		}
		data, declared = img.Data, img.ContentType
	default:
		return nil, sniffer.Format{}, permanent(ErrNothingToStore)
	}

	format, err := sniffer.Detect(data)
	if err != nil {
		fallback, ok := sniffer.ByMIME(declared)
		if !ok {
			fallback = sniffer.PNG
		}
		format = fallback
	}

	if format == sniffer.SVG {
		if err := svg.Validate(data); err != nil {
			return nil, sniffer.Format{}, permanent(err)
		}
		clean, err := svg.Sanitize(data)
		if err != nil {
			return nil, sniffer.Format{}, permanent(err)
		}
		data = clean
	}
	return data, format, nil
}

var errNoChange = errors.New("session already up to date")

func (s *Syncer) markStored(ctx context.Context, job Job, ref models.DurableRef) models.DurableRef {
	_, err := s.sessions.Update(ctx, job.SessionID, func(sess *models.GenerationSession) error {
		cur := sess.CurrentAsset
		if cur == nil || cur.ID != job.Asset.ID {
			return errNoChange
		}
		if cur.Durable != nil && cur.Durable.Key != ref.Key {
			return errNoChange
		}
		if cur.Durable != nil {
			ref.StoredAt = cur.Durable.StoredAt
		}
		durable := ref
		cur.Durable = &durable
		cur.PersistenceDegraded = false
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		s.log.Warn().Err(err).Str("session_id", job.SessionID).Msg("patch session with durable reference failed")
	}

	if s.records != nil {
		if err := s.records.MarkStored(ctx, job.Asset.ID, ref); err != nil {
			s.log.Warn().Err(err).Str("generation_id", job.Asset.ID).Msg("mark generation stored failed")
		}
	}
	return ref
}

func (s *Syncer) markDegraded(ctx context.Context, job Job, derr *DegradedError) {
	_, err := s.sessions.Update(ctx, job.SessionID, func(sess *models.GenerationSession) error {
		cur := sess.CurrentAsset
		if cur == nil || cur.ID != job.Asset.ID || cur.Durable != nil {
			return errNoChange
		}
		cur.PersistenceDegraded = true
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		s.log.Warn().Err(err).Str("session_id", job.SessionID).Msg("flag session asset as degraded failed")
	}

	if s.records != nil {
		if err := s.records.MarkDegraded(ctx, job.Asset.ID, derr.Attempts, derr.Err.Error()); err != nil {
			s.log.Warn().Err(err).Str("generation_id", job.Asset.ID).Msg("mark generation degraded failed")
		}
	}
}

func (s *Syncer) notify(ctx context.Context, res Result) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, res)
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func isPermanentFetchError(err error) bool {
	if errors.Is(err, remote.ErrInvalidURL) || errors.Is(err, remote.ErrUnsafeURL) || errors.Is(err, remote.ErrTooLarge) {
		return true
	}
	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
