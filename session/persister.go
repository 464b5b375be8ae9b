package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Load when no snapshot is stored for the client.
var ErrNotFound = errors.New("snapshot not found")

// Persister stores one snapshot per client id.
type Persister interface {
	Save(ctx context.Context, clientID string, s *Snapshot) error
	Load(ctx context.Context, clientID string) (*Snapshot, error)
	// Delete is idempotent.
	Delete(ctx context.Context, clientID string) error
}

// MemoryPersister keeps encoded snapshots in process memory. Entries older
// than ttl are treated as absent; a zero ttl keeps them forever.
type MemoryPersister struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryPersister returns an empty MemoryPersister.
func NewMemoryPersister(ttl time.Duration) *MemoryPersister {
	return &MemoryPersister{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Save encodes and stores s.
func (m *MemoryPersister) Save(_ context.Context, clientID string, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	e := memoryEntry{data: data}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[clientID] = e
	m.mu.Unlock()
	return nil
}

// Load returns the stored snapshot or ErrNotFound.
func (m *MemoryPersister) Load(_ context.Context, clientID string) (*Snapshot, error) {
	m.mu.Lock()
	e, ok := m.entries[clientID]
	if ok && !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, clientID)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(e.data)
}

// Delete removes the snapshot of clientID.
func (m *MemoryPersister) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	delete(m.entries, clientID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored snapshots, expired ones included.
func (m *MemoryPersister) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
