// Package store persists application snapshots in SQLite under a
// small set of well-known keys. It is the only durable state in the
// system: exam progress, whole-app resume state, and the user's
// credential string.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/TheInternetGod/note2exam/internal/model"

	_ "modernc.org/sqlite"
)

// Well-known snapshot keys. Progress is global: only one exam's
// progress is tracked at a time, and starting a new exam overwrites
// the previous record.
const (
	progressKey = "note2exam_exam_progress"
	appStateKey = "note2exam_app_state"
	userKeysKey = "note2exam_user_api_key"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// get returns the value for a key, or empty string when absent.
func (s *Store) get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM snapshots WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *Store) clear(key string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE key = ?`, key)
	return err
}

// SaveProgress writes the full session snapshot. Last write wins;
// there is exactly one active writer.
func (s *Store) SaveProgress(p model.SessionProgress) error {
	p.Version = model.ProgressVersion
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.set(progressKey, string(data))
}

// LoadProgress returns the stored session snapshot, or nil when none
// exists. An unreadable or version-mismatched record is discarded and
// reported as absent, never as an error: a corrupt snapshot must not
// prevent starting fresh.
func (s *Store) LoadProgress() (*model.SessionProgress, error) {
	raw, err := s.get(progressKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var p model.SessionProgress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("discarding unreadable progress snapshot", "error", err)
		return nil, s.clear(progressKey)
	}
	if p.Version != model.ProgressVersion {
		slog.Warn("discarding progress snapshot with unknown version", "version", p.Version)
		return nil, s.clear(progressKey)
	}
	return &p, nil
}

// ClearProgress removes the session snapshot.
func (s *Store) ClearProgress() error {
	return s.clear(progressKey)
}

// SaveAppState writes the whole-app resume record.
func (s *Store) SaveAppState(st model.AppState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal app state: %w", err)
	}
	return s.set(appStateKey, string(data))
}

// LoadAppState returns the whole-app resume record, or nil when none
// exists. Unreadable records are discarded, same as progress.
func (s *Store) LoadAppState() (*model.AppState, error) {
	raw, err := s.get(appStateKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var st model.AppState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		slog.Warn("discarding unreadable app state snapshot", "error", err)
		return nil, s.clear(appStateKey)
	}
	return &st, nil
}

// ClearAppState removes the whole-app resume record.
func (s *Store) ClearAppState() error {
	return s.clear(appStateKey)
}

// SaveUserKeys stores the user's raw comma-separated credential
// string.
func (s *Store) SaveUserKeys(raw string) error {
	return s.set(userKeysKey, raw)
}

// UserKeys returns the stored credential string, empty when unset.
func (s *Store) UserKeys() (string, error) {
	return s.get(userKeysKey)
}

// ClearUserKeys removes the stored credential string.
func (s *Store) ClearUserKeys() error {
	return s.clear(userKeysKey)
}
