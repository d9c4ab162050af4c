package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/agribot/internal/domain"
)

type memoryRecord struct {
	session domain.Session
	turns   []domain.Turn
}

// MemoryStore implements Repository in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memoryRecord)}
}

// GetSession implements Repository.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return copySession(&rec.session), nil
}

// PutSession implements Repository.
func (s *MemoryStore) PutSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.sessions[session.ID]; ok {
		rec.session = *copySession(session)
		return nil
	}
	s.sessions[session.ID] = &memoryRecord{session: *copySession(session)}
	return nil
}

// AppendTurns implements Repository.
func (s *MemoryStore) AppendTurns(_ context.Context, sessionID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return ErrNoTurns
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.turns = append(rec.turns, turns...)
	rec.session.UpdatedAt = time.Now().UTC()
	return nil
}

// History implements Repository.
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return []domain.Turn{}, nil
	}
	return domain.CloneTurns(rec.turns), nil
}

// DeleteSession implements Repository.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// CleanupExpiredSessions implements Repository.
func (s *MemoryStore) CleanupExpiredSessions(_ context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var deleted int64
	for id, rec := range s.sessions {
		if rec.session.IdleFor(now) > ttl {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping implements Repository.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Repository.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*memoryRecord)
	return nil
}

func copySession(in *domain.Session) *domain.Session {
	out := *in
	if in.LastForecast != nil {
		fc := *in.LastForecast
		out.LastForecast = &fc
	}
	return &out
}
