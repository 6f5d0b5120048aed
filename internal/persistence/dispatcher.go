package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskPersist = "persist"

	DefaultTimeout = 3 * time.Minute
)

var ErrDispatcherClosed = errors.New("persistence dispatcher is shut down")

// AsyncDispatcher runs each job on its own goroutine inside this process.
type AsyncDispatcher struct {
	syncer  *Syncer
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsyncDispatcher(syncer *Syncer, timeout time.Duration, log zerolog.Logger) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &AsyncDispatcher{syncer: syncer, timeout: timeout, log: log}
}

// Dispatch returns immediately. The job keeps running after ctx is canceled,
// bounded by the dispatcher's own timeout.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().Interface("panic", r).Str("generation_id", job.Asset.ID).Msg("persistence job panicked")
			}
		}()

		_, _ = d.syncer.Sync(jobCtx, job)
	}()
	return nil
}

// Shutdown stops accepting jobs and waits for running ones until ctx ends.
func (d *AsyncDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StreamDispatcher publishes jobs to a Redis stream for cmd/worker.
type StreamDispatcher struct {
	client *redis.Client
	stream string
}

func NewStreamDispatcher(client *redis.Client, stream string) *StreamDispatcher {
	return &StreamDispatcher{client: client, stream: stream}
}

func (d *StreamDispatcher) Dispatch(ctx context.Context, job Job) error {
	values, err := EncodeJob(job)
	if err != nil {
		return err
	}
	_, err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue persist job: %w", err)
	}
	return nil
}

// EncodeJob flattens a job into stream fields.
func EncodeJob(job Job) (map[string]any, error) {
	asset, err := json.Marshal(job.Asset)
	if err != nil {
		return nil, fmt.Errorf("encode asset: %w", err)
	}
	return map[string]any{
		"type":         TaskPersist,
		"generationId": job.Asset.ID,
		"sessionId":    job.SessionID,
		"userId":       job.UserID,
		"asset":        string(asset),
	}, nil
}

// DecodeJob is the inverse of EncodeJob.
func DecodeJob(values map[string]any) (Job, error) {
	field := func(name string) string {
		s, _ := values[name].(string)
		return s
	}

	var job Job
	raw := field("asset")
	if raw == "" {
		return job, errors.New("persist job without asset")
	}
	if err := json.Unmarshal([]byte(raw), &job.Asset); err != nil {
		return job, fmt.Errorf("decode asset: %w", err)
	}
	job.SessionID = field("sessionId")
	job.UserID = field("userId")
	return job, nil
}
