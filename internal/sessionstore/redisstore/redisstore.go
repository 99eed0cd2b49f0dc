// Package redisstore implements upload.SessionStore against Redis, so
// that session state can be shared across multiple server instances.
// Each session is a single JSON-encoded key; point-updates are plain SET
// operations, giving the "strong read-your-writes within a single node"
// guarantee spec.md §4.6 requires without needing a distributed lock.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyface-de/ingest/internal/uid"
	"github.com/cyface-de/ingest/internal/upload"
)

// Store is an upload.SessionStore backed by a redis.Client.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New constructs a Store. ttl bounds how long Redis retains a session key
// that is never explicitly removed; it should be set at least as large
// as the configured upload expiration so the reaper's view of abandoned
// uploads is not undercut by Redis expiring the session first.
func New(client *redis.Client, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) Get(ctx context.Context, sessionID string) (upload.UploadSession, bool, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return upload.UploadSession{}, false, nil
	}
	if err != nil {
		return upload.UploadSession{}, false, err
	}

	var session upload.UploadSession
	if err := json.Unmarshal(data, &session); err != nil {
		return upload.UploadSession{}, false, err
	}
	return session, true, nil
}

func (s *Store) Create(ctx context.Context) (upload.UploadSession, error) {
	now := time.Now()
	session := upload.UploadSession{
		SessionID:   uid.New(),
		CreatedAt:   now,
		LastTouched: now,
	}

	if err := s.put(ctx, session); err != nil {
		return upload.UploadSession{}, err
	}
	return session, nil
}

func (s *Store) Update(ctx context.Context, session upload.UploadSession) error {
	session.LastTouched = time.Now()
	return s.put(ctx, session)
}

func (s *Store) put(ctx context.Context, session upload.UploadSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(session.SessionID), data, s.ttl).Err()
}

func (s *Store) Remove(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
