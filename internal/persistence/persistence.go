// Package persistence moves generated assets from their ephemeral location
// into durable blob storage after the generation has been reported.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"afterwon/internal/metrics"
	"afterwon/internal/models"
)

const AnonymousUser = "anonymous"

// Job is one asset waiting for durable storage.
type Job struct {
	SessionID string                `json:"sessionId"`
	UserID    string                `json:"userId"`
	Asset     models.GeneratedAsset `json:"asset"`
}

// Dispatcher hands a job to the background. Implementations must not wait
// for the upload itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// RecordStore keeps the history row of each generation in step with
// persistence progress.
type RecordStore interface {
	Create(ctx context.Context, g *models.Generation) error
	MarkStored(ctx context.Context, id string, ref models.DurableRef) error
	MarkDegraded(ctx context.Context, id string, attempts int, reason string) error
}

// Result is delivered to listeners once a job has finished, either way.
type Result struct {
	Job      Job
	Durable  *models.DurableRef
	Attempts int
	Err      error
}

type Listener func(ctx context.Context, res Result)

// MetricsListener counts finished jobs by outcome.
func MetricsListener(m *metrics.Metrics) Listener {
	return func(_ context.Context, res Result) {
		outcome := "stored"
		if res.Err != nil {
			outcome = "degraded"
		}
		m.RecordPersist(outcome, res.Attempts)
	}
}

// DegradedError means every upload attempt failed. The ephemeral reference
// stays authoritative for the asset.
type DegradedError struct {
	GenerationID string
	Attempts     int
	Err          error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("persist generation %s degraded after %d attempt(s): %v", e.GenerationID, e.Attempts, e.Err)
}

func (e *DegradedError) Unwrap() error {
	return e.Err
}

var ErrNothingToStore = errors.New("asset has no ephemeral image")

// Key derives the destination key of an asset. It only depends on its
// inputs, so re-uploading the same asset overwrites the same object.
func Key(userID, generationID, ext string) string {
	if userID == "" {
		userID = AnonymousUser
	}
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("generations/%s/%s/image.%s", keySegment(userID), keySegment(generationID), ext)
}

func keySegment(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '@':
			return r
		default:
			return '_'
		}
	}, s)
	if strings.Trim(cleaned, ".") == "" {
		return "_"
	}
	return cleaned
}

// RecordFromJob builds the pending history row for a job.
func RecordFromJob(job Job) *models.Generation {
	a := job.Asset
	userID := job.UserID
	if userID == "" {
		userID = AnonymousUser
	}
	g := &models.Generation{
		ID:            a.ID,
		UserID:        userID,
		SessionID:     job.SessionID,
		Kind:          a.Metadata.Kind,
		Style:         a.Metadata.Style,
		Size:          a.Metadata.Size,
		Extras:        append([]string{}, a.Metadata.Extras...),
		Description:   a.Metadata.Description,
		Prompt:        a.Metadata.Prompt,
		Checksum:      a.Checksum,
		EphemeralKind: a.Ephemeral.Kind,
		Status:        models.GenerationRecordPending,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.CreatedAt,
	}
	if a.Ephemeral.Kind == models.RefRemote {
		href := a.Ephemeral.Href
		g.EphemeralHref = &href
	}
	return g
}
