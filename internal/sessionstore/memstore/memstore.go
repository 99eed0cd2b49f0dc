// Package memstore implements upload.SessionStore in process memory. It is
// the default for a single-node deployment; see redisstore for an
// externalized alternative.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/cyface-de/ingest/internal/uid"
	"github.com/cyface-de/ingest/internal/upload"
)

// Store is a mutex-protected map of session id to upload.UploadSession.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]upload.UploadSession
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]upload.UploadSession)}
}

func (s *Store) Get(ctx context.Context, sessionID string) (upload.UploadSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	return session, ok, nil
}

func (s *Store) Create(ctx context.Context) (upload.UploadSession, error) {
	now := time.Now()
	session := upload.UploadSession{
		SessionID:   uid.New(),
		CreatedAt:   now,
		LastTouched: now,
	}

	s.mu.Lock()
	s.sessions[session.SessionID] = session
	s.mu.Unlock()

	return session, nil
}

func (s *Store) Update(ctx context.Context, session upload.UploadSession) error {
	session.LastTouched = time.Now()

	s.mu.Lock()
	s.sessions[session.SessionID] = session
	s.mu.Unlock()

	return nil
}

func (s *Store) Remove(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	return nil
}
