package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmikh/recordio/internal/logging"
)

// activeKey is the fixed storage key for the single serialized Recording.
const activeKey = "active"

// Store persists the active Recording so a coordinator restart within the same
// browsing session can rehydrate isRecording/startTime for query callers.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStore opens (creating if needed) the session database at path.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Session store opened: %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS recording_session (
			key TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	)
	if err != nil {
		return fmt.Errorf("failed to migrate session store: %w", err)
	}
	return nil
}

// Save upserts the active session record.
func (s *Store) Save(rec Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	logging.StoreDebug("Saving session: id=%s recording=%v", rec.SessionID, rec.Recording)

	_, err = s.db.Exec(
		`INSERT INTO recording_session (key, payload, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		activeKey, string(payload),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save session %s: %v", rec.SessionID, err)
		return err
	}
	return nil
}

// Load returns the persisted session, or ok=false when none is stored.
func (s *Store) Load() (Recording, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM recording_session WHERE key = ?`, activeKey,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return Recording{}, false, nil
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to load session: %v", err)
		return Recording{}, false, err
	}

	var rec Recording
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return Recording{}, false, fmt.Errorf("failed to decode stored session: %w", err)
	}
	return rec, true, nil
}

// Clear removes the persisted session. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Clearing session record")

	_, err := s.db.Exec(`DELETE FROM recording_session WHERE key = ?`, activeKey)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to clear session: %v", err)
	}
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
