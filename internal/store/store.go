// Package store provides crash-safe persistence for agent session state
// using JSON files.
//
// The session file carries the lifetime counters (cycles run, threats
// detected, actions taken) so a restart resumes the running totals instead
// of zeroing the dashboard. Writes use atomic file replacement (write to
// .tmp, then rename) to prevent corruption from partial writes or crashes
// mid-save.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const sessionFile = "session.json"

// Session is the agent's persisted lifetime counters.
type Session struct {
	Cycles          int       `json:"cycles"`
	ThreatsDetected int       `json:"threats_detected"`
	ActionsTaken    int       `json:"actions_taken"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists session state to a JSON file in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// SaveSession atomically persists the session counters. It writes to a
// .tmp file first, then renames over the target so the file is never left
// in a partial state.
func (s *Store) SaveSession(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.UpdatedAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	path := filepath.Join(s.dir, sessionFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSession restores the session from disk. Returns nil, nil if no saved
// session exists (fresh deployment).
func (s *Store) LoadSession() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}
