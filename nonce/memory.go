package nonce

import (
	"sync"
	"time"
)

type memoryKey struct {
	routeKey string
	nonce    Nonce
}

// MemoryStore is a mutex-guarded in-process store, the default for a
// single facilitator instance. Horizontally scaled deployments should use
// MySQLStore so all instances share one nonce space.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[memoryKey]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[memoryKey]time.Time)}
}

func (s *MemoryStore) Put(routeKey string, n Nonce, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[memoryKey{routeKey, n}] = expiresAt
	return nil
}

func (s *MemoryStore) Delete(routeKey string, n Nonce, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{routeKey, n}
	expiresAt, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	if !now.Before(expiresAt) {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Get(routeKey string, n Nonce, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries[memoryKey{routeKey, n}]
	return ok && now.Before(expiresAt), nil
}

func (s *MemoryStore) Sweep(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
