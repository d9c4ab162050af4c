// Package session owns per-session ordering and history for conversations.
//
// A Manager serializes exchanges within a session while letting different
// sessions proceed in parallel. Callers that hold the lock returned by Acquire
// use Open, Snapshot, Save and Commit; SetDefaultLocation and Logout take the
// lock themselves.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agribot/internal/domain"
	"github.com/ashureev/agribot/internal/store"
)

// ErrEmptySessionID is returned when a caller passes a blank session ID.
var ErrEmptySessionID = errors.New("session id is required")

type sessionLock struct {
	sem  chan struct{}
	refs int
}

// Manager coordinates access to sessions stored in a Repository.
type Manager struct {
	repo            store.Repository
	logger          *slog.Logger
	defaultLocation string

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// NewManager creates a session manager. defaultLocation seeds new sessions.
func NewManager(repo store.Repository, defaultLocation string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:            repo,
		logger:          logger,
		defaultLocation: defaultLocation,
		locks:           make(map[string]*sessionLock),
	}
}

// Acquire blocks until the caller holds the session's lock or ctx ends.
// The returned release func is safe to call more than once.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (func(), error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(sessionID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.unref(sessionID, l)
		})
	}, nil
}

func (m *Manager) unref(sessionID string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, sessionID)
	}
}

// Open returns the session, creating it on first use.
func (m *Manager) Open(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s != nil {
		// Mark the session active so the idle sweep leaves it alone
		// while the exchange runs.
		if err := m.Save(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	}

	s = domain.NewSession(sessionID, m.defaultLocation)
	if err := m.repo.PutSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("session created", "session_id", sessionID)
	return s, nil
}

// Snapshot returns a copy of the session's history.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	turns, err := m.repo.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot history: %w", err)
	}
	return turns, nil
}

// History is Snapshot for read-only front-ends that do not hold the lock.
func (m *Manager) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	return m.Snapshot(ctx, sessionID)
}

// Commit records a user turn and its assistant replies as one unit.
// A session removed mid-exchange (logout racing a sweep) is recreated first.
func (m *Manager) Commit(ctx context.Context, sessionID string, user domain.Turn, assistant ...domain.Turn) error {
	if len(assistant) == 0 {
		return fmt.Errorf("commit: %w", store.ErrNoTurns)
	}
	turns := make([]domain.Turn, 0, len(assistant)+1)
	turns = append(turns, user)
	turns = append(turns, assistant...)

	err := m.repo.AppendTurns(ctx, sessionID, turns...)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("session vanished before commit, recreating", "session_id", sessionID)
		if _, openErr := m.Open(ctx, sessionID); openErr != nil {
			return openErr
		}
		err = m.repo.AppendTurns(ctx, sessionID, turns...)
	}
	if err != nil {
		return fmt.Errorf("commit turns: %w", err)
	}
	return nil
}

// Save persists session metadata and marks the session active.
func (m *Manager) Save(ctx context.Context, s *domain.Session) error {
	s.UpdatedAt = time.Now().UTC()
	if err := m.repo.PutSession(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SetDefaultLocation stores the location used when a weather request names none.
func (m *Manager) SetDefaultLocation(ctx context.Context, sessionID, location string) error {
	release, err := m.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	s, err := m.Open(ctx, sessionID)
	if err != nil {
		return err
	}
	s.DefaultLocation = location
	return m.Save(ctx, s)
}

// Logout deletes the session and its history.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	release, err := m.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := m.repo.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	m.logger.Info("session logged out", "session_id", sessionID)
	return nil
}
