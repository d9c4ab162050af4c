// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/agribot/internal/domain"
)

// Common errors for session store operations.
var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidDriver = errors.New("invalid store driver")
	ErrInvalidConfig = errors.New("invalid store configuration")
	ErrNoTurns       = errors.New("no turns to append")
)

// Repository defines the interface for persisting sessions and their turn history.
// History is append-only: PutSession never touches turns.
type Repository interface {
	// GetSession retrieves a session by ID. Returns nil, nil if it does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// PutSession creates or updates session metadata.
	PutSession(ctx context.Context, session *domain.Session) error

	// AppendTurns appends turns to a session's history atomically: either all
	// are recorded or none are. Returns ErrNotFound for an unknown session.
	AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error

	// History returns a copy of the session's turns in insertion order.
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)

	// DeleteSession removes a session and its history. Deleting an unknown session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// CleanupExpiredSessions removes sessions idle for longer than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Driver names a store backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Driver   Driver
	DBPath   string
	RedisURL string
	// RedisTTL bounds idle session lifetime in Redis, which expires keys itself.
	RedisTTL time.Duration
}

// New creates a Repository for the configured driver.
func New(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if opts.DBPath == "" {
			return nil, fmt.Errorf("%w: sqlite requires a database path", ErrInvalidConfig)
		}
		return NewSQLite(opts.DBPath)
	case DriverRedis:
		if opts.RedisURL == "" {
			return nil, fmt.Errorf("%w: redis requires a URL", ErrInvalidConfig)
		}
		return NewRedis(ctx, opts.RedisURL, opts.RedisTTL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, opts.Driver)
	}
}
