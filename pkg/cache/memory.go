package cache

import (
	"context"
	"sync"
	"time"
)

// SweepInterval is how often Put drops expired items from a MemoryStore.
const SweepInterval = time.Minute

type memoryItem struct {
	value     string
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is a process-local cache for single-node deployments.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]memoryItem
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return "", ErrMiss
	}
	if item.expired(s.now()) {
		delete(s.items, key)
		return "", ErrMiss
	}
	return item.value, nil
}

// Put stores value. A ttl of zero never expires.
func (s *MemoryStore) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	now := s.now()
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = item
	if !now.Before(s.nextSweep) {
		for k, it := range s.items {
			if it.expired(now) {
				delete(s.items, k)
			}
		}
		s.nextSweep = now.Add(SweepInterval)
	}
	return nil
}

func (s *MemoryStore) Forget(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.items = make(map[string]memoryItem)
	s.mu.Unlock()
	return nil
}

// Len returns the number of items held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
