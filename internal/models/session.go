package models

import "time"

type SessionStatus string

const (
	SessionStatusIdle       SessionStatus = "idle"
	SessionStatusGenerating SessionStatus = "generating"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

type GenerationSession struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId,omitempty"`
	Status       SessionStatus   `json:"status"`
	CurrentAsset *GeneratedAsset `json:"currentAsset,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func NewSession(id string) GenerationSession {
	return GenerationSession{ID: id, Status: SessionStatusIdle}
}

func (s GenerationSession) Clone() GenerationSession {
	out := s
	if s.CurrentAsset != nil {
		a := s.CurrentAsset.Clone()
		out.CurrentAsset = &a
	}
	return out
}

type GenerationRecordStatus string

const (
	GenerationRecordPending  GenerationRecordStatus = "pending"
	GenerationRecordStored   GenerationRecordStatus = "stored"
	GenerationRecordDegraded GenerationRecordStatus = "degraded"
	// GenerationRecordExpired marks a degraded row whose ephemeral image can no
	// longer be recovered. It leaves the resync queue for good.
	GenerationRecordExpired GenerationRecordStatus = "expired"
)

// Generation is the persisted history row for one generated asset.
type Generation struct {
	ID            string
	UserID        string
	SessionID     string
	Kind          Kind
	Style         Style
	Size          int
	Extras        []string
	Description   string
	Prompt        string
	Checksum      string
	EphemeralKind RefKind
	EphemeralHref *string
	DurableURL    *string
	DurableKey    *string
	Status        GenerationRecordStatus
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
