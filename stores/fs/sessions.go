// Package fs keeps gateway sessions on the local file system, keyed by
// backend origin.
package fs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/panyam/courtside"
)

// SessionStore keeps gateway sessions in a single JSON file.  Changes are
// held in memory until Save.
type SessionStore struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]*courtside.Session
	dirty    bool
}

var _ courtside.SessionStore = (*SessionStore)(nil)

// fileVersion is bumped whenever the on-disk layout changes incompatibly
const fileVersion = 1

type sessionFile struct {
	Version  int                           `json:"version"`
	Sessions map[string]*courtside.Session `json:"sessions"`
}

// DefaultPath is where the CLI keeps sessions when no data directory is configured
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "courtside", "sessions.json"), nil
}

// NewSessionStore opens the sessions file at path, or DefaultPath when path
// is empty.  A missing or empty file starts an empty store.
func NewSessionStore(path string) (*SessionStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	sessions, err := readSessionFile(path)
	if err != nil {
		return nil, err
	}
	return &SessionStore{path: path, sessions: sessions}, nil
}

func readSessionFile(path string) (map[string]*courtside.Session, error) {
	sessions := make(map[string]*courtside.Session)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(bytes.TrimSpace(data)) == 0) {
		return sessions, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions file: %w", err)
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sessions file %s: %w", path, err)
	}
	if file.Version > fileVersion {
		return nil, fmt.Errorf("sessions file %s has version %d, this build reads up to %d", path, file.Version, fileVersion)
	}
	for key, session := range file.Sessions {
		if session != nil {
			sessions[key] = session
		}
	}
	return sessions, nil
}

// normalizeKey reduces backend URLs to scheme://host so every endpoint of a
// backend shares one session.  Keys that are not URLs are used as-is.
func normalizeKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("backend key is required")
	}
	u, err := url.Parse(key)
	if err != nil || u.Host == "" {
		return key, nil
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// GetSession returns the session for a backend, or nil, nil
func (s *SessionStore) GetSession(key string) (*courtside.Session, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[key], nil
}

// SetSession stores the session for a backend.  Call Save to persist it.
func (s *SessionStore) SetSession(key string, session *courtside.Session) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = session
	s.dirty = true
	return nil
}

// RemoveSession forgets the session for a backend
func (s *SessionStore) RemoveSession(key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; ok {
		delete(s.sessions, key)
		s.dirty = true
	}
	return nil
}

// ListKeys returns every backend with a stored session, sorted
func (s *SessionStore) ListKeys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.sessions)), nil
}

// Save writes the sessions file if anything changed since the last Save
func (s *SessionStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(sessionFile{Version: fileVersion, Sessions: s.sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize sessions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}
	// the file holds refresh tokens
	if err := writeAtomicFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	s.dirty = false
	return nil
}

// Path returns the path of the sessions file
func (s *SessionStore) Path() string {
	return s.path
}

// writeAtomicFile writes data to a temp file in the same directory and renames it over path
func writeAtomicFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
