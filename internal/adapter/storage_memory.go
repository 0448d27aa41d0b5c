package adapter

import (
	"strings"
	"sync"
)

// MemoryStorage is an in-process Storage double for tests — no
// teacher analogue, a natural counterpart to FileStorage the same way
// docregistry's tests inject an in-memory CrdtDoc double instead of
// hitting the reference engine.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func joinKey(key StorageKey) string {
	return strings.Join(key, "\x00")
}

func (m *MemoryStorage) Save(key StorageKey, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[joinKey(key)] = cp
	return nil
}

func (m *MemoryStorage) Load(key StorageKey) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[joinKey(key)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemoryStorage) Remove(key StorageKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, joinKey(key))
	return nil
}

func (m *MemoryStorage) LoadRange(prefix StorageKey) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefixStr := joinKey(prefix)
	var entries []Entry
	for k, v := range m.data {
		if !keyHasPrefix(k, prefixStr) {
			continue
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		entries = append(entries, Entry{Key: splitJoinedKey(k), Data: cp})
	}
	return entries, nil
}

func (m *MemoryStorage) RemoveRange(prefix StorageKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefixStr := joinKey(prefix)
	for k := range m.data {
		if keyHasPrefix(k, prefixStr) {
			delete(m.data, k)
		}
	}
	return nil
}

// keyHasPrefix matches k against prefixStr on "\x00"-joined-component
// boundaries, so prefix ["doc"] does not also match key ["doc2"].
func keyHasPrefix(k, prefixStr string) bool {
	if prefixStr == "" {
		return true
	}
	return k == prefixStr || strings.HasPrefix(k, prefixStr+"\x00")
}

func splitJoinedKey(k string) StorageKey {
	if k == "" {
		return StorageKey{}
	}
	return strings.Split(k, "\x00")
}
