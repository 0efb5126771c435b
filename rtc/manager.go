package rtc

import (
	"sync"

	"github.com/google/uuid"
)

// SourceFactory builds the Bridge for a newly created source. Manager calls
// it with the id about to be assigned, outside any lock, so Initialize can
// do its own (possibly slow) setup without blocking other lookups.
type SourceFactory func(id string) (Bridge, EventHandler, error)

// Manager is the process-wide registry of live Sources, keyed by stream id.
// Grounded on alxayo-rtmp-go's server.Registry.CreateStream: a read-locked
// fast path for the common case (source already exists), a write-locked,
// double-checked slow path for creation (spec §4.9's fetch_or_create).
type Manager struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

// NewManager returns an empty registry.
func NewManager() *Manager { return &Manager{sources: make(map[string]*Source)} }

// Get returns the source for id, or nil if none exists.
func (m *Manager) Get(id string) *Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sources[id]
}

// FetchOrCreate returns the existing source for id, or builds one via
// factory. id may be "" to request a freshly generated id (used by a
// publisher that doesn't carry its own correlation id).
//
// Per spec §9's open question on partial registration: if factory's bridge
// Initialize fails, the source is still registered rather than discarded,
// mirroring alxayo-rtmp-go's DestinationManager.AddDestination, which keeps
// a destination in its map even when the initial Connect fails ("don't
// return error - destination will be retried later"). A half-initialized
// source is kept and marked by returning the error to the caller alongside
// the (non-nil) *Source, instead of silently dropping state that a retrying
// caller, or a consumer that already holds a reference, would need.
func (m *Manager) FetchOrCreate(id string, factory SourceFactory) (*Source, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.RLock()
	if s, ok := m.sources[id]; ok {
		m.mu.RUnlock()
		return s, false, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if s, ok := m.sources[id]; ok {
		m.mu.Unlock()
		return s, false, nil
	}
	s := NewSource(nil, nil)
	s.SetStreamCreated(id)
	m.sources[id] = s
	m.mu.Unlock()

	bridge, handler, err := factory(id)
	s.mu.Lock()
	s.bridge = bridge
	if handler != nil {
		s.handler = handler
	}
	s.mu.Unlock()
	return s, true, err
}

// Remove deletes the source for id, if present.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, id)
}

// Len reports the number of registered sources.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}
