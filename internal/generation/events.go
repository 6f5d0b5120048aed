package generation

import (
	"context"
	"time"

	"afterwon/internal/models"
)

type EventType string

const (
	EventStarted   EventType = "started"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// Event describes one step of a generation. Asset is set on success, Err on
// failure.
type Event struct {
	Type      EventType
	SessionID string
	UserID    string
	Request   models.GenerationRequest
	Asset     *models.GeneratedAsset
	Err       error
	At        time.Time
}

// Listener receives lifecycle events synchronously on the generating
// goroutine, so it should return quickly.
type Listener interface {
	OnEvent(ctx context.Context, ev Event)
}

type ListenerFunc func(ctx context.Context, ev Event)

func (f ListenerFunc) OnEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}
