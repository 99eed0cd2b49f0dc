package upload

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/cyface-de/ingest/internal/uid"
)

// fakeObjectStore is an in-memory ObjectStore used across this package's
// tests. It never simulates a vanished blob unless a test explicitly
// deletes one through the store's own Delete method.
type fakeObjectStore struct {
	mu   sync.Mutex
	data map[string]*bytes.Buffer
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{data: make(map[string]*bytes.Buffer)}
}

func (s *fakeObjectStore) Write(ctx context.Context, uploadID string, data []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.data[uploadID]
	if !ok {
		buf = &bytes.Buffer{}
		s.data[uploadID] = buf
	}
	n, err := buf.Write(data)
	return int64(n), err
}

func (s *fakeObjectStore) BytesUploaded(ctx context.Context, uploadID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.data[uploadID]
	if !ok {
		return 0, errNotFound
	}
	return int64(buf.Len()), nil
}

func (s *fakeObjectStore) Exists(ctx context.Context, uploadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[uploadID]
	return ok, nil
}

func (s *fakeObjectStore) Delete(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, uploadID)
	return nil
}

var errNotFound = errNotFoundErr{}

type errNotFoundErr struct{}

func (errNotFoundErr) Error() string { return "fakeObjectStore: no such upload" }

// fakeMetadataStore is an in-memory MetadataStore keyed by (deviceId,
// measurementId, attachmentId).
type fakeMetadataStore struct {
	mu   sync.Mutex
	docs []MetadataDoc
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{}
}

func (s *fakeMetadataStore) Store(ctx context.Context, doc MetadataDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return nil
}

func (s *fakeMetadataStore) Exists(ctx context.Context, deviceID, measurementID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, d := range s.docs {
		if d.DeviceID == deviceID && d.MeasurementID == measurementID && d.AttachmentID == "" {
			count++
		}
	}
	switch count {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrDuplicatesInDatabase
	}
}

func (s *fakeMetadataStore) ExistsAttachment(ctx context.Context, deviceID, measurementID, attachmentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, d := range s.docs {
		if d.DeviceID == deviceID && d.MeasurementID == measurementID && d.AttachmentID == attachmentID {
			count++
		}
	}
	switch count {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrDuplicatesInDatabase
	}
}

func (s *fakeMetadataStore) CreateIndices(ctx context.Context) error {
	return nil
}

// fakeSessionStore is an in-memory SessionStore, equivalent to memstore
// but kept local to this package's tests so they do not depend on
// another package's internals.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]UploadSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]UploadSession)}
}

func (s *fakeSessionStore) Get(ctx context.Context, sessionID string) (UploadSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	return session, ok, nil
}

func (s *fakeSessionStore) Create(ctx context.Context) (UploadSession, error) {
	now := time.Now()
	session := UploadSession{SessionID: uid.New(), CreatedAt: now, LastTouched: now}

	s.mu.Lock()
	s.sessions[session.SessionID] = session
	s.mu.Unlock()

	return session, nil
}

func (s *fakeSessionStore) Update(ctx context.Context, session UploadSession) error {
	s.mu.Lock()
	s.sessions[session.SessionID] = session
	s.mu.Unlock()
	return nil
}

func (s *fakeSessionStore) Remove(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

func newTestHandler() (*Handler, *fakeObjectStore, *fakeMetadataStore, *fakeSessionStore) {
	objectStore := newFakeObjectStore()
	metadataStore := newFakeMetadataStore()
	sessionStore := newFakeSessionStore()

	h, err := NewHandler(Config{
		ObjectStore:             objectStore,
		MetadataStore:           metadataStore,
		SessionStore:            sessionStore,
		BasePath:                "/api/v3/measurements/",
		MeasurementPayloadLimit: 10 << 20,
	})
	if err != nil {
		panic(err)
	}
	return h, objectStore, metadataStore, sessionStore
}
