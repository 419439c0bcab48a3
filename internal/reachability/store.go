// Package reachability tracks whether the last attempted real connection or
// request succeeded. The flag is process-wide, last-writer-wins, and has no
// expiry: a later successful real call always overwrites it back to available.
//
// It is modeled as an injected dependency rather than ambient global state so
// tests can run in isolation without cross-test leakage.
package reachability

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store is the shared reachability record. Both the transport client (on
// successful connect) and the fail-safe wrapper (on timeout/error) write it;
// any component may read it to short-circuit straight to synthetic behavior.
type Store interface {
	Available() bool
	SetAvailable(ok bool)
	// DemoMode is the explicit operator toggle: when set, callers skip real
	// calls entirely regardless of the reachability flag.
	DemoMode() bool
	SetDemoMode(on bool)
}

// record is the persisted shape shared by implementations.
type record struct {
	Available bool      `json:"available"`
	DemoMode  bool      `json:"demo_mode"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- IN-MEMORY IMPLEMENTATION ---

// Interface guard
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the flag in process memory only. Zero value is ready to
// use and reports available (no failure has been observed yet).
type MemoryStore struct {
	mu  sync.RWMutex
	rec record
	set bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return true
	}
	return s.rec.Available
}

func (s *MemoryStore) SetAvailable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Available = ok
	s.rec.UpdatedAt = time.Now()
	s.set = true
}

func (s *MemoryStore) DemoMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.DemoMode
}

func (s *MemoryStore) SetDemoMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.DemoMode = on
	s.rec.UpdatedAt = time.Now()
}

// --- FILE-BACKED IMPLEMENTATION ---

// Interface guard
var _ Store = (*FileStore)(nil)

// FileStore persists the record to a small JSON file local to the running
// client. Writes are atomic (temp file + rename) so a crash mid-write never
// leaves a truncated record behind.
type FileStore struct {
	path string

	mu  sync.Mutex
	rec record
	set bool
}

// NewFileStore loads any existing record at path. A missing or unreadable
// file is not an error: the store starts unset and reports available.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("reachability: empty store path")
	}

	s := &FileStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.rec); err != nil {
		return s, nil
	}
	s.set = true
	return s, nil
}

func (s *FileStore) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return true
	}
	return s.rec.Available
}

func (s *FileStore) SetAvailable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Available = ok
	s.rec.UpdatedAt = time.Now()
	s.set = true
	s.flush()
}

func (s *FileStore) DemoMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.DemoMode
}

func (s *FileStore) SetDemoMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.DemoMode = on
	s.rec.UpdatedAt = time.Now()
	s.set = true
	s.flush()
}

// flush writes the record atomically. Callers hold s.mu.
func (s *FileStore) flush() {
	data, err := json.Marshal(s.rec)
	if err != nil {
		return
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}
