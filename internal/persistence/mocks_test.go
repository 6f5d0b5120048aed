package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"afterwon/internal/models"
)

type putCall struct {
	Key         string
	Data        []byte
	ContentType string
}

type fakeBlobStore struct {
	mu       sync.Mutex
	failures int
	err      error
	block    chan struct{}
	calls    []putCall
	objects  map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{Key: key, Data: data, ContentType: contentType})
	if f.failures > 0 {
		f.failures--
		if f.err != nil {
			return "", f.err
		}
		return "", errors.New("blob store unavailable")
	}
	f.objects[key] = data
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRecordStore struct {
	mu       sync.Mutex
	created  []*models.Generation
	stored   map[string]models.DurableRef
	degraded map[string]string
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		stored:   make(map[string]models.DurableRef),
		degraded: make(map[string]string),
	}
}

func (f *fakeRecordStore) Create(ctx context.Context, g *models.Generation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, g)
	return nil
}

func (f *fakeRecordStore) MarkStored(ctx context.Context, id string, ref models.DurableRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[id] = ref
	return nil
}

func (f *fakeRecordStore) MarkDegraded(ctx context.Context, id string, attempts int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded[id] = reason
	return nil
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake")

func testAsset(id string) models.GeneratedAsset {
	return models.GeneratedAsset{
		ID:        id,
		Ephemeral: models.InlineRef("image/png", pngBytes),
		Checksum:  "abc123",
		Metadata: models.AssetMetadata{
			Kind:        models.KindIcon,
			Style:       models.StyleFlat,
			Size:        1024,
			Description: "a red apple",
		},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}
