package generation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afterwon/internal/models"
	"afterwon/internal/persistence"
	"afterwon/internal/provider"
	"afterwon/internal/session"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake")

func appleRequest() models.GenerationRequest {
	return models.GenerationRequest{
		Kind:        models.KindIcon,
		Style:       models.StyleFlat,
		Size:        1024,
		Extras:      []string{},
		Description: "a red apple",
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []persistence.Job
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, job persistence.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

type fixture struct {
	coord      *Coordinator
	sessions   *session.MemoryStore
	guard      *session.MemoryGuard
	dispatcher *recordingDispatcher

	mu       sync.Mutex
	events   []Event
	statuses []models.SessionStatus
}

func newFixture(t *testing.T, client provider.Client) *fixture {
	t.Helper()
	f := &fixture{
		sessions:   session.NewMemoryStore(),
		guard:      session.NewMemoryGuard(),
		dispatcher: &recordingDispatcher{},
	}
	f.coord = NewCoordinator(f.sessions, f.guard, client, zerolog.Nop(), Options{
		ForceTransparent: true,
		Dispatcher:       f.dispatcher,
	})
	f.coord.Subscribe(ListenerFunc(func(ctx context.Context, ev Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
		sess, err := f.sessions.Get(ctx, ev.SessionID)
		require.NoError(t, err)
		f.statuses = append(f.statuses, sess.Status)
	}))
	return f
}

func inlineClient(calls *atomic.Int32, captured *provider.Input) provider.Client {
	return provider.ClientFunc(func(ctx context.Context, in provider.Input) (provider.Output, error) {
		if calls != nil {
			calls.Add(1)
		}
		if captured != nil {
			*captured = in
		}
		return provider.Output{Ref: models.InlineRef("image/png", pngBytes), Model: "gpt-image-1"}, nil
	})
}

func TestGenerate_RedAppleScenario(t *testing.T) {
	var in provider.Input
	f := newFixture(t, inlineClient(nil, &in))

	before, err := f.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusIdle, before.Status)

	asset, err := f.coord.Generate(context.Background(), Command{SessionID: "s1", UserID: "u1", Request: appleRequest()})
	require.NoError(t, err)

	assert.Contains(t, in.Prompt, "a red apple")
	assert.Contains(t, in.Prompt, "TYPE: Icon")
	assert.Contains(t, in.Prompt, "Flat")
	assert.Equal(t, 1024, in.Size)
	assert.True(t, in.Transparent)

	assert.NotEmpty(t, asset.ID)
	assert.Equal(t, models.RefInline, asset.Ephemeral.Kind)
	assert.Equal(t, pngBytes, asset.Ephemeral.Data)
	assert.Nil(t, asset.Durable)
	assert.Equal(t, Checksum(asset.Ephemeral, ""), asset.Checksum)
	assert.Equal(t, models.KindIcon, asset.Metadata.Kind)
	assert.Equal(t, "a red apple", asset.Metadata.Description)
	assert.Equal(t, "Image generated successfully with gpt-image-1 (transparent background)", asset.Metadata.Message)

	require.Len(t, f.events, 2)
	assert.Equal(t, EventStarted, f.events[0].Type)
	assert.Equal(t, EventSucceeded, f.events[1].Type)
	assert.Equal(t, []models.SessionStatus{models.SessionStatusGenerating, models.SessionStatusCompleted}, f.statuses)

	sess, err := f.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, sess.Status)
	assert.Equal(t, "u1", sess.UserID)
	require.NotNil(t, sess.CurrentAsset)
	assert.Equal(t, asset.ID, sess.CurrentAsset.ID)

	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, "s1", f.dispatcher.jobs[0].SessionID)
	assert.Equal(t, asset.ID, f.dispatcher.jobs[0].Asset.ID)
}

func TestGenerate_ValidationFailsBeforeAnyCall(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, inlineClient(&calls, nil))

	req := appleRequest()
	req.Description = "   "
	_, err := f.coord.Generate(context.Background(), Command{SessionID: "s1", Request: req})

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
	assert.Zero(t, calls.Load())
	assert.Empty(t, f.events)

	sess, _ := f.sessions.Get(context.Background(), "s1")
	assert.Equal(t, models.SessionStatusIdle, sess.Status)
	assert.False(t, f.guard.InFlight("s1"))
}

func TestGenerate_RequiresSessionID(t *testing.T) {
	f := newFixture(t, inlineClient(nil, nil))
	_, err := f.coord.Generate(context.Background(), Command{Request: appleRequest()})

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sessionId", verr.Field)
}

func TestGenerate_SingleFlightPerSession(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var calls atomic.Int32
	client := provider.ClientFunc(func(ctx context.Context, in provider.Input) (provider.Output, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-unblock
		}
		return provider.Output{Ref: models.InlineRef("image/png", pngBytes), Model: "gpt-image-1"}, nil
	})
	f := newFixture(t, client)

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Generate(context.Background(), Command{SessionID: "s1", Request: appleRequest()})
		done <- err
	}()
	<-entered

	_, err := f.coord.Generate(context.Background(), Command{SessionID: "s1", Request: appleRequest()})
	assert.ErrorIs(t, err, session.ErrAlreadyInProgress)

	other, err := f.coord.Generate(context.Background(), Command{SessionID: "s2", Request: appleRequest()})
	require.NoError(t, err, "other sessions are not serialized")
	assert.NotEmpty(t, other.ID)

	close(unblock)
	require.NoError(t, <-done)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerate_ReleasesGuardAfterFailure(t *testing.T) {
	var calls atomic.Int32
	client := provider.ClientFunc(func(ctx context.Context, in provider.Input) (provider.Output, error) {
		if calls.Add(1) == 1 {
			return provider.Output{}, errors.New("connection reset")
		}
		return provider.Output{Ref: models.InlineRef("image/png", pngBytes), Model: "gpt-image-1"}, nil
	})
	f := newFixture(t, client)

	_, err := f.coord.Generate(context.Background(), Command{SessionID: "s1", Request: appleRequest()})
	require.Error(t, err)
	assert.False(t, f.guard.InFlight("s1"))

	sess, _ := f.sessions.Get(context.Background(), "s1")
	assert.Equal(t, models.SessionStatusFailed, sess.Status)
	assert.Equal(t, "generation failed", sess.LastError)

	_, err = f.coord.Generate(context.Background(), Command{SessionID: "s1", Request: appleRequest()})
	require.NoError(t, err)

	sess, _ = f.sessions.Get(context.Background(), "s1")
	assert.Equal(t, models.SessionStatusCompleted, sess.Status)
	assert.Empty(t, sess.LastError)
}

func TestGenerate_ReleasesGuardAfterPanic(t *testing.T) {
	client := provider.ClientFunc(func(ctx context.Context, in provider.Input) (provider.Output, error) {
		panic("provider exploded")
	})
	f := newFixture(t, client)

	assert.Panics(t, func() {
		_, _ = f.coord.Generate(context.Background(), Command{SessionID: "s1", Request: appleRequest()})
	})
	assert.False(t, f.guard.InFlight("s1"))
}

func TestGenerate_ProviderRateLimited(t *testing.T) {
	client := provider.ClientFunc(func(ctx context.Context, in provider.Input) (provider.Output, error) {
		return provider.Output{}, &provider.ProviderError{StatusCode: http.StatusTooManyRequests, Message: "Rate limit reached"}
	})
	f := newFixture(t, client)

	_, err := f.coord.Generate(context.Background(), Command{SessionID: "s1", Request: appleRequest()})

	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)

	sess, _ := f.sessions.Get(context.Background(), "s1")
	assert.Equal(t, models.SessionStatusFailed, sess.Status)
	assert.Equal(t, "Rate limit reached", sess.LastError)

	require.Len(t, f.events, 2)
	assert.Equal(t, EventFailed, f.events[1].Type)
	assert.ErrorAs(t, f.events[1].Err, &perr)
	assert.Empty(t, f.dispatcher.jobs)
}

func TestGenerate_EmptyResponse(t *testing.T) {
	client := provider.ClientFunc(func(ctx context.Context, in provider.Input) (provider.Output, error) {
		return provider.Output{}, provider.ErrEmptyResponse
	})
	f := newFixture(t, client)

	_, err := f.coord.Generate(context.Background(), Command{SessionID: "s1", Request: appleRequest()})
	assert.ErrorIs(t, err, provider.ErrEmptyResponse)

	sess, _ := f.sessions.Get(context.Background(), "s1")
	assert.Equal(t, models.SessionStatusFailed, sess.Status)
	assert.Equal(t, "generation failed", sess.LastError)
}

func TestGenerate_DoesNotWaitForPersistence(t *testing.T) {
	blocked := make(chan struct{})
	defer close(blocked)

	sessions := session.NewMemoryStore()
	dispatcher := dispatcherFunc(func(ctx context.Context, job persistence.Job) error {
		go func() {
			<-blocked
			_, _ = sessions.Update(context.Background(), job.SessionID, func(s *models.GenerationSession) error {
				s.CurrentAsset.Durable = &models.DurableRef{URL: "https://blobs.test/x"}
				return nil
			})
		}()
		return nil
	})
	coord := NewCoordinator(sessions, session.NewMemoryGuard(), inlineClient(nil, nil), zerolog.Nop(), Options{Dispatcher: dispatcher})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	asset, err := coord.Generate(ctx, Command{SessionID: "s1", Request: appleRequest()})
	require.NoError(t, err)
	assert.Nil(t, asset.Durable)

	sess, _ := sessions.Get(context.Background(), "s1")
	assert.Equal(t, models.SessionStatusCompleted, sess.Status)
	assert.Nil(t, sess.CurrentAsset.Durable)
}

func TestGenerate_TransparentFromExtras(t *testing.T) {
	var in provider.Input
	coord := NewCoordinator(session.NewMemoryStore(), session.NewMemoryGuard(), inlineClient(nil, &in), zerolog.Nop(), Options{})

	req := appleRequest()
	asset, err := coord.Generate(context.Background(), Command{SessionID: "s1", Request: req})
	require.NoError(t, err)
	assert.False(t, in.Transparent)
	assert.Equal(t, "Image generated successfully with gpt-image-1", asset.Metadata.Message)

	req.Extras = []string{models.ExtraTransparentBackground}
	_, err = coord.Generate(context.Background(), Command{SessionID: "s1", Request: req})
	require.NoError(t, err)
	assert.True(t, in.Transparent)
}

func TestChecksum(t *testing.T) {
	inline := models.InlineRef("image/png", pngBytes)
	assert.Len(t, Checksum(inline, "p"), 64)
	assert.Equal(t, Checksum(inline, "a"), Checksum(inline, "b"), "inline checksum depends on content only")

	remote := models.RemoteRef("https://img.test/a.png")
	assert.NotEqual(t, Checksum(remote, "a"), Checksum(remote, "b"))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "bad prompt", UserMessage(&provider.ProviderError{StatusCode: 400, Message: "bad prompt"}))
	assert.Equal(t, "generation failed", UserMessage(&provider.ProviderError{StatusCode: 500}))
	assert.Equal(t, "generation failed", UserMessage(provider.ErrEmptyResponse))
	assert.Equal(t, "invalid size: must be positive", UserMessage(&models.ValidationError{Field: "size", Reason: "must be positive"}))
}

type dispatcherFunc func(ctx context.Context, job persistence.Job) error

func (f dispatcherFunc) Dispatch(ctx context.Context, job persistence.Job) error {
	return f(ctx, job)
}
