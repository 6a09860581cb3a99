package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLock is a single-process Locker for local runs without redis.
type MemoryLock struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{keys: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLock) Lock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false, nil
	}

	m.keys[key] = now.Add(ttl)

	for k, exp := range m.keys {
		if !now.Before(exp) {
			delete(m.keys, k)
		}
	}

	return true, nil
}

func (m *MemoryLock) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	return nil
}
