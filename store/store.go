package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"zunify/models"
)

// Store is the durable mirror of the session: the access credential and the
// play-queue snapshot. Both live in single-row tables so a write is always
// one atomic statement and a crash can never leave a partially-updated
// queue/track/index triple behind.
type Store struct {
	db *sql.DB
}

// Snapshot is the typed session snapshot record. Absence of a stored
// snapshot means "no prior session", not an error.
type Snapshot struct {
	Tracks      []models.Track
	ActiveIndex int
	ContextID   string
	Paused      bool
	UpdatedAt   time.Time
}

func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// WAL keeps the event-loop readers from blocking on snapshot writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Infof("Session store initialized at %s", dbPath)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS credential (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			access_token TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_snapshot (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			queue_json TEXT NOT NULL DEFAULT '[]',
			active_index INTEGER NOT NULL DEFAULT 0,
			context_id TEXT NOT NULL DEFAULT '',
			paused INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

// SaveCredential mirrors the in-memory credential so a restart can rehydrate
// without re-authenticating, provided the expiry has not passed.
func (s *Store) SaveCredential(accessToken string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO credential (id, access_token, expires_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET access_token = excluded.access_token, expires_at = excluded.expires_at`,
		accessToken, expiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// LoadCredential returns the mirrored credential, or ok=false when none is
// stored.
func (s *Store) LoadCredential() (accessToken string, expiresAt time.Time, ok bool, err error) {
	var expiresStr string
	row := s.db.QueryRow(`SELECT access_token, expires_at FROM credential WHERE id = 1`)
	if err := row.Scan(&accessToken, &expiresStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("failed to load credential: %w", err)
	}

	expiresAt, err = time.Parse(time.RFC3339Nano, expiresStr)
	if err != nil {
		log.Warnf("failed to parse stored credential expiry %q, discarding: %v", expiresStr, err)
		return "", time.Time{}, false, nil
	}
	return accessToken, expiresAt, true, nil
}

func (s *Store) ClearCredential() error {
	if _, err := s.db.Exec(`DELETE FROM credential WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// SaveSnapshot writes the whole snapshot in one statement.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	queueJSON, err := json.Marshal(snap.Tracks)
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}

	paused := 0
	if snap.Paused {
		paused = 1
	}

	_, err = s.db.Exec(
		`INSERT INTO session_snapshot (id, queue_json, active_index, context_id, paused, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			queue_json = excluded.queue_json,
			active_index = excluded.active_index,
			context_id = excluded.context_id,
			paused = excluded.paused,
			updated_at = excluded.updated_at`,
		string(queueJSON), snap.ActiveIndex, snap.ContextID, paused,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// SavePaused rewrites only the paused flag, leaving the queue untouched.
// State-change events fire far more often than queue rewrites.
func (s *Store) SavePaused(paused bool) error {
	p := 0
	if paused {
		p = 1
	}
	_, err := s.db.Exec(
		`UPDATE session_snapshot SET paused = ?, updated_at = ? WHERE id = 1`,
		p, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save paused flag: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot, or ok=false when no prior
// session exists.
func (s *Store) LoadSnapshot() (Snapshot, bool, error) {
	var (
		snap      Snapshot
		queueJSON string
		paused    int
		updatedAt string
	)
	row := s.db.QueryRow(
		`SELECT queue_json, active_index, context_id, paused, updated_at FROM session_snapshot WHERE id = 1`,
	)
	if err := row.Scan(&queueJSON, &snap.ActiveIndex, &snap.ContextID, &paused, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(queueJSON), &snap.Tracks); err != nil {
		log.Warnf("failed to decode stored queue, discarding snapshot: %v", err)
		return Snapshot{}, false, nil
	}
	snap.Paused = paused != 0

	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		snap.UpdatedAt = t
	}
	return snap, true, nil
}
