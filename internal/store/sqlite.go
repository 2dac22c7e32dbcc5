// Package store persists slot contents in a local SQLite database.
//
// The database holds exactly six logical records, keyed by the fixed slot
// letters. An upsert replaces a record atomically, so a crash mid-write
// never leaves a partially-written payload, and saved slots survive agent
// restarts.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"slotd/internal/slot"
)

const schema = `
CREATE TABLE IF NOT EXISTS slots (
    slot_key    TEXT PRIMARY KEY,
    content     TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);
`

// Store is the SQLite-backed slot store.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the platform-specific per-user database path.
func DefaultPath() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "slotd", "slots.db")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "slotd", "slots.db")
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			home, _ := os.UserHomeDir()
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, "slotd", "slots.db")
	}
}

// Open opens or creates the database at the given path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=1000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Set replaces the payload of a slot. The upsert is a single statement, so
// the replace is atomic at the record level.
func (s *Store) Set(id slot.ID, content string) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO slots (slot_key, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(slot_key) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		id.Label(), content, now,
	)
	if err != nil {
		return fmt.Errorf("upsert slot %s: %w", id, err)
	}
	return nil
}

// Get returns the payload of a slot. The second return is false when the
// slot has never been written.
func (s *Store) Get(id slot.ID) (string, bool, error) {
	var content string
	err := s.db.QueryRow(`SELECT content FROM slots WHERE slot_key = ?`, id.Label()).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get slot %s: %w", id, err)
	}
	return content, true, nil
}

// LoadAll returns the payloads of all slots that have ever been written.
// Rows with keys outside the six fixed labels are ignored.
func (s *Store) LoadAll() (map[slot.ID]string, error) {
	rows, err := s.db.Query(`SELECT slot_key, content FROM slots`)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	out := make(map[slot.ID]string)
	for rows.Next() {
		var key, content string
		if err := rows.Scan(&key, &content); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		id, err := slot.FromLabel(key)
		if err != nil {
			continue
		}
		out[id] = content
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return out, nil
}
