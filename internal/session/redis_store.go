package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"afterwon/internal/models"
)

const maxUpdateRetries = 5

var ErrConflict = errors.New("session update conflicted too many times")

// RedisStore keeps sessions as JSON values and applies updates inside a
// WATCH/MULTI transaction so concurrent writers never lose an update.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (models.GenerationSession, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewSession(id), nil
	}
	if err != nil {
		return models.GenerationSession{}, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(id, raw)
}

func (s *RedisStore) Update(ctx context.Context, id string, fn func(*models.GenerationSession) error) (models.GenerationSession, error) {
	key := s.key(id)
	var result models.GenerationSession

	txf := func(tx *redis.Tx) error {
		sess := models.NewSession(id)
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if sess, err = decodeSession(id, raw); err != nil {
				return err
			}
		}

		if err := fn(&sess); err != nil {
			return err
		}
		sess.ID = id
		sess.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err == nil {
			result = sess
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return models.GenerationSession{}, err
	}
	return models.GenerationSession{}, ErrConflict
}

func decodeSession(id string, raw []byte) (models.GenerationSession, error) {
	var sess models.GenerationSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return models.GenerationSession{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, nil
}
