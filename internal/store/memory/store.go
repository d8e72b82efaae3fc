// Package memory provides the reference in-memory UploadStore. State does
// not survive process restart; durability is the job of the sqlite and
// postgres stores.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/torrin-io/torrin/internal/models"
	"github.com/torrin-io/torrin/internal/store"
	"github.com/torrin-io/torrin/internal/utils"
)

type entry struct {
	session  *models.UploadSession
	received map[int]struct{}
}

// Store is a process-local UploadStore keyed by upload id.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) CreateSession(ctx context.Context, init store.SessionInit, chunkSize int64, ttl time.Duration) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session := &models.UploadSession{
		UploadID:    init.UploadID,
		FileName:    init.FileName,
		MimeType:    init.MimeType,
		Metadata:    init.Metadata,
		FileSize:    init.FileSize,
		ChunkSize:   chunkSize,
		TotalChunks: utils.TotalChunks(init.FileSize, chunkSize),
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		session.ExpiresAt = &exp
	}

	s.entries[init.UploadID] = &entry{
		session:  session,
		received: make(map[int]struct{}),
	}
	return session.Clone(), nil
}

func (s *Store) GetSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(uploadID)
	if e == nil {
		return nil, nil
	}
	return e.session.Clone(), nil
}

func (s *Store) UpdateSession(ctx context.Context, uploadID string, patch models.SessionPatch) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(uploadID)
	if e == nil {
		return nil, store.ErrSessionNotFound
	}
	if patch.Status != nil {
		e.session.Status = *patch.Status
	}
	if patch.MimeType != nil {
		e.session.MimeType = *patch.MimeType
	}
	if patch.Metadata != nil {
		if e.session.Metadata == nil {
			e.session.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			e.session.Metadata[k] = v
		}
	}
	e.session.UpdatedAt = s.now()
	return e.session.Clone(), nil
}

func (s *Store) MarkChunkReceived(ctx context.Context, uploadID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(uploadID)
	if e == nil {
		return store.ErrSessionNotFound
	}
	e.received[index] = struct{}{}
	e.session.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListReceivedChunks(ctx context.Context, uploadID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(uploadID)
	if e == nil {
		return nil, store.ErrSessionNotFound
	}
	indices := make([]int, 0, len(e.received))
	for i := range e.received {
		indices = append(indices, i)
	}
	return utils.SortedChunks(indices), nil
}

func (s *Store) DeleteSession(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, uploadID)
	return nil
}

// ListExpiredSessions returns sessions whose expiry has passed. Completed
// sessions are kept out of cleanup's reach.
func (s *Store) ListExpiredSessions(ctx context.Context) ([]*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []*models.UploadSession
	for _, e := range s.entries {
		if e.session.Status == models.StatusCompleted {
			continue
		}
		if e.session.ExpiresAt != nil && e.session.ExpiresAt.Before(now) {
			expired = append(expired, e.session.Clone())
		}
	}
	return expired, nil
}

// ListAllSessions returns every live session.
func (s *Store) ListAllSessions(ctx context.Context) ([]*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*models.UploadSession, 0, len(s.entries))
	for _, e := range s.entries {
		sessions = append(sessions, e.session.Clone())
	}
	return sessions, nil
}

// lookup returns the entry, treating an expired session as absent.
// Callers must hold the mutex.
func (s *Store) lookup(uploadID string) *entry {
	e, ok := s.entries[uploadID]
	if !ok {
		return nil
	}
	if e.session.ExpiresAt != nil && !e.session.ExpiresAt.After(s.now()) {
		return nil
	}
	return e
}
