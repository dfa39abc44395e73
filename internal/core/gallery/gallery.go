package gallery

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"face-attendance-go/internal/core/embedding"

	log "github.com/sirupsen/logrus"
)

// Typed outcomes for gallery mutations. The web edge translates these into
// HTTP status codes.
var (
	ErrDuplicateName    = errors.New("a student with this name is already enrolled")
	ErrIdentityNotFound = errors.New("student not found")
)

// Entry is one enrolled identity: a unique display name and its reference
// embedding.
type Entry struct {
	Name      string
	Embedding embedding.Vector
}

// Snapshot is an immutable, ordered view of the gallery. It is rebuilt in
// full after every mutation and must never be modified after publication.
type Snapshot struct {
	entries []Entry
}

// Entries returns the entries in stable order. Callers must treat the slice
// as read-only.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Len returns the number of enrolled identities.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Names returns the enrolled names in snapshot order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, s.Len())
	for _, e := range s.Entries() {
		names = append(names, e.Name)
	}
	return names
}

// Backend is the persistence boundary of the gallery: durable storage of
// (name, embedding) pairs addressable by name.
type Backend interface {
	// Load reads all persisted entries in a stable order.
	Load() ([]Entry, error)

	// Insert persists a new entry. Returns ErrDuplicateName if the name is
	// already taken.
	Insert(name string, vec embedding.Vector) error

	// Delete removes an entry. Returns ErrIdentityNotFound if absent.
	Delete(name string) error

	// Rename changes only the display name, the embedding is preserved.
	// Returns ErrIdentityNotFound / ErrDuplicateName accordingly.
	Rename(oldName, newName string) error
}

// Store owns the in-memory gallery snapshot on top of a Backend. Mutations
// serialize behind a single writer lock and rebuild the snapshot in full
// before returning; readers get the current snapshot through an atomic
// pointer and never block on I/O.
type Store struct {
	backend Backend

	mu   sync.Mutex // serializes mutate-then-reload sequences
	snap atomic.Pointer[Snapshot]
}

// NewStore creates a Store and performs the initial load from the backend.
func NewStore(backend Backend) (*Store, error) {
	s := &Store{backend: backend}
	if err := s.reload(); err != nil {
		return nil, fmt.Errorf("initial gallery load failed: %w", err)
	}
	log.Infof("Gallery loaded with %d enrolled students", s.Snapshot().Len())
	return s, nil
}

// Snapshot returns the current in-memory view. Read-only, never does I/O.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Enroll persists a new identity and rebuilds the snapshot.
func (s *Store) Enroll(name string, vec embedding.Vector) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Insert(name, vec); err != nil {
		return err
	}
	if err := s.reloadLocked(); err != nil {
		return err
	}

	log.WithField("name", name).Info("Student enrolled")
	return nil
}

// Remove deletes an identity and rebuilds the snapshot.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(name); err != nil {
		return err
	}
	if err := s.reloadLocked(); err != nil {
		return err
	}

	log.WithField("name", name).Info("Student removed")
	return nil
}

// Rename changes an identity's display name. The reference embedding is
// untouched, so match behavior is unchanged apart from the returned label.
func (s *Store) Rename(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("new name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Rename(oldName, newName); err != nil {
		return err
	}
	if err := s.reloadLocked(); err != nil {
		return err
	}

	log.WithFields(log.Fields{"old": oldName, "new": newName}).Info("Student renamed")
	return nil
}

func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

// reloadLocked rebuilds the snapshot from the backend and swaps it in
// atomically. Concurrent readers see either the old or the new complete
// snapshot, never a partial one. Caller must hold s.mu.
func (s *Store) reloadLocked() error {
	entries, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("failed to reload gallery: %w", err)
	}
	s.snap.Store(&Snapshot{entries: entries})
	return nil
}
