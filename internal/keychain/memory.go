package keychain

import (
	"sort"
	"sync"

	"github.com/benaskins/biokey/internal/policy"
)

type memoryEntry struct {
	data   []byte
	policy policy.Policy
}

// MemoryStore is an in-memory implementation of Store for tests. Like the
// platform store, it refuses to update an entry in place under a different
// access-control descriptor.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates a new in-memory entry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(key string, secret []byte, p policy.Policy) error {
	if key == "" {
		return FromStatus("put", key, StatusParam)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok && existing.policy != p {
		return FromStatus("update", key, StatusInteractionNotAllowed)
	}
	s.entries[key] = memoryEntry{data: append([]byte(nil), secret...), policy: p}
	return nil
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	val, err := decode(key, e.data)
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Inject writes raw bytes for key, bypassing validation. It reproduces entries
// written out-of-band by another program.
func (s *MemoryStore) Inject(key string, data []byte, p policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{data: append([]byte(nil), data...), policy: p}
}

// Evict drops key the way the platform does when the enrolled biometry the
// entry was bound to changes.
func (s *MemoryStore) Evict(key string) {
	s.Delete(key)
}

// PolicyOf returns the descriptor key was stored under.
func (s *MemoryStore) PolicyOf(key string) (policy.Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e.policy, ok
}

// Keys returns all stored keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
