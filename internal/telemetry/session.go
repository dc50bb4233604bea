package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/phonotek/phonotek/internal/logging"
)

// Session identifies this client install to the stream-events endpoint. The
// id is minted once and reused for the lifetime of the install; when the
// store is unavailable the session falls back to an ephemeral id that lives
// only as long as the process.
type Session struct {
	id        string
	ephemeral bool
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Ephemeral() bool { return s.ephemeral }

// EphemeralSession mints a throwaway session id.
func EphemeralSession() *Session {
	return &Session{id: uuid.NewString(), ephemeral: true}
}

// EnsureSession loads the persisted session id, minting and storing one on
// first run. Storage failures degrade to an ephemeral session rather than
// blocking startup; telemetry identity is not worth dying for.
func EnsureSession(ctx context.Context, dbPath string, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	store, err := OpenSessionStore(dbPath)
	if err != nil {
		log.Warn("session store unavailable, using ephemeral id", "err", err)
		return EphemeralSession()
	}
	defer store.Close()
	id, err := store.SessionID(ctx)
	if err != nil {
		log.Warn("session id unavailable, using ephemeral id", "err", err)
		return EphemeralSession()
	}
	return &Session{id: id}
}

// SessionStore persists the session id in SQLite.
type SessionStore struct {
	db *sql.DB
}

func OpenSessionStore(dbPath string) (*SessionStore, error) {
	if dbPath == "" {
		stateDir, err := logging.StateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state dir: %w", err)
		}
		dbPath = filepath.Join(stateDir, "telemetry.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	store := &SessionStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SessionStore) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			session_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate telemetry schema: %w", err)
		}
	}
	return nil
}

// SessionID returns the stored id, minting one on first call.
func (s *SessionStore) SessionID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM session WHERE id = 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("load session id: %w", err)
	}
	id = uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session (id, session_id, created_at) VALUES (1, ?, ?)`,
		id, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("store session id: %w", err)
	}
	return id, nil
}

// Reset discards the stored id and mints a fresh one.
func (s *SessionStore) Reset(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, session_id, created_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id, created_at = excluded.created_at`,
		id, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("reset session id: %w", err)
	}
	return id, nil
}

func (s *SessionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
