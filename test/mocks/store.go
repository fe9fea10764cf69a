package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/internal/repository"
)

// ErrInjected is returned by MockStore when a failure is switched on
var ErrInjected = errors.New("injected store failure")

// MockStore is an in-memory ProfileStore.
// Used for testing without a real database or document store
type MockStore struct {
	mu       sync.RWMutex
	backend  string
	data     map[string]*models.Profile
	failRead bool
	failSave bool
	writes   int
	closed   bool
}

// NewMockStore creates a new mock store reporting the given backend name
func NewMockStore(backend string) *MockStore {
	return &MockStore{
		backend: backend,
		data:    make(map[string]*models.Profile),
	}
}

// Read returns a copy of the stored profile
func (m *MockStore) Read(ctx context.Context, userID string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failRead {
		return nil, ErrInjected
	}
	p, ok := m.data[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

// Upsert stores a copy of the profile
func (m *MockStore) Upsert(ctx context.Context, userID string, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSave {
		return ErrInjected
	}
	m.data[userID] = profile.Clone()
	m.writes++
	return nil
}

// Backend returns the configured backend name
func (m *MockStore) Backend() string {
	return m.backend
}

// Close marks the store closed
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Put seeds a profile directly
func (m *MockStore) Put(userID string, profile *models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[userID] = profile.Clone()
}

// Get returns the stored profile, or nil
func (m *MockStore) Get(userID string) *models.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[userID].Clone()
}

// FailReads toggles read failures
func (m *MockStore) FailReads(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead = fail
}

// FailSaves toggles write failures
func (m *MockStore) FailSaves(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = fail
}

// Writes returns the number of successful upserts
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Closed reports whether Close was called
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
