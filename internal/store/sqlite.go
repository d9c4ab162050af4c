package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/agribot/internal/domain"
	"github.com/ashureev/agribot/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writers to avoid SQLITE_BUSY under WAL
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		default_location TEXT NOT NULL DEFAULT '',
		last_forecast_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, default_location, last_forecast_json, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	var session domain.Session
	var forecastJSON sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID, &session.DefaultLocation, &forecastJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.CreatedAt = time.Unix(0, createdAt).UTC()
	session.UpdatedAt = time.Unix(0, updatedAt).UTC()

	if forecastJSON.Valid && forecastJSON.String != "" {
		var fc domain.ForecastContext
		if err := json.Unmarshal([]byte(forecastJSON.String), &fc); err != nil {
			slog.Warn("discarding unreadable last forecast", "session_id", sessionID, "error", err)
		} else {
			session.LastForecast = &fc
		}
	}

	return &session, nil
}

// PutSession creates or updates session metadata. Turns are left untouched.
func (s *SQLiteStore) PutSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (session_id, default_location, last_forecast_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		default_location = excluded.default_location,
		last_forecast_json = excluded.last_forecast_json,
		updated_at = excluded.updated_at`

	var forecastJSON interface{}
	if session.LastForecast != nil {
		data, err := json.Marshal(session.LastForecast)
		if err != nil {
			return fmt.Errorf("marshal last forecast: %w", err)
		}
		forecastJSON = string(data)
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return shared.RetryOnConflict(ctx, "put_session", retryAttempts, retryBaseDelay, func() error {
		if _, err := s.db.ExecContext(ctx, query,
			session.ID, session.DefaultLocation, forecastJSON,
			createdAt.UnixNano(), updatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// AppendTurns appends turns inside a single transaction.
func (s *SQLiteStore) AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return ErrNoTurns
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return shared.RetryOnConflict(ctx, "append_turns", retryAttempts, retryBaseDelay, func() error {
		return s.appendTurnsOnce(ctx, sessionID, turns)
	})
}

func (s *SQLiteStore) appendTurnsOnce(ctx context.Context, sessionID string, turns []domain.Turn) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back turn append", "session_id", sessionID, "error", rbErr)
			}
		}
	}()

	result, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		time.Now().UTC().UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO turns (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare turn insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range turns {
		if _, err = stmt.ExecContext(ctx, sessionID, string(t.Role), t.Text, t.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit turns: %w", err)
	}
	return nil
}

// History returns the session's turns in insertion order.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text, created_at FROM turns WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	turns := []domain.Turn{}
	for rows.Next() {
		var role string
		var t domain.Turn
		var createdAt int64
		if err := rows.Scan(&role, &t.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = domain.Role(role)
		t.Timestamp = time.Unix(0, createdAt).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// DeleteSession removes a session and its turns.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := shared.RetryOnConflict(ctx, "delete_session", retryAttempts, retryBaseDelay, func() error {
		return s.deleteSessionsWhere(ctx, `session_id = ?`, sessionID)
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// CleanupExpiredSessions removes sessions not updated within ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id IN (SELECT session_id FROM sessions WHERE updated_at < ?)`, threshold); err != nil {
		return 0, fmt.Errorf("cleanup expired turns: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) deleteSessionsWhere(ctx context.Context, where string, args ...interface{}) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE `+where, args...); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE `+where, args...); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
