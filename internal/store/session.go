// Package store provides the file-backed persistence layer: session
// snapshots, the project manifest, and task execution logs.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/barelyworkingcode/eve/internal/model"
)

// SessionStore persists session snapshots as sessions/<id>.json.
// Writes go through tmp+rename so a crash leaves either the previous
// or the new consistent version on disk, never a torn file.
type SessionStore struct {
	dir string

	mu      sync.Mutex
	idle    *sync.Cond
	pending map[string]*model.Session // queued snapshot while a write is in flight
	writing map[string]bool
}

// NewSessionStore creates the snapshot directory if needed.
func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	s := &SessionStore{
		dir:     dir,
		pending: make(map[string]*model.Session),
		writing: make(map[string]bool),
	}
	s.idle = sync.NewCond(&s.mu)
	return s, nil
}

func (s *SessionStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes one snapshot synchronously.
func (s *SessionStore) Save(snapshot *model.Session) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", snapshot.ID, err)
	}

	path := s.path(snapshot.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit session snapshot: %w", err)
	}
	return nil
}

// Schedule queues an asynchronous snapshot write. At most one write per
// session is in flight; snapshots queued behind it are coalesced so the
// newest always wins.
func (s *SessionStore) Schedule(snapshot *model.Session) {
	s.mu.Lock()
	if s.writing[snapshot.ID] {
		s.pending[snapshot.ID] = snapshot
		s.mu.Unlock()
		return
	}
	s.writing[snapshot.ID] = true
	s.mu.Unlock()

	go s.writeLoop(snapshot)
}

func (s *SessionStore) writeLoop(snapshot *model.Session) {
	for {
		if err := s.Save(snapshot); err != nil {
			fmt.Fprintf(os.Stderr, "session snapshot write failed: %v\n", err)
		}

		s.mu.Lock()
		next, ok := s.pending[snapshot.ID]
		if !ok {
			delete(s.writing, snapshot.ID)
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		delete(s.pending, snapshot.ID)
		s.mu.Unlock()
		snapshot = next
	}
}

// Flush blocks until no write is in flight for the given session.
func (s *SessionStore) Flush(id string) {
	s.mu.Lock()
	for s.writing[id] {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

// Load reads one snapshot from disk.
func (s *SessionStore) Load(id string) (*model.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session snapshot: %w", err)
	}

	var snapshot model.Session
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse session snapshot: %w", err)
	}
	return &snapshot, nil
}

// List returns every snapshot on disk, skipping malformed files.
func (s *SessionStore) List() ([]*model.Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	var sessions []*model.Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		snapshot, err := s.Load(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, snapshot)
	}
	return sessions, nil
}

// Delete removes a snapshot from disk. Deleting a missing snapshot is
// not an error.
func (s *SessionStore) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session snapshot: %w", err)
	}
	return nil
}
