package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a MemoryStore created with a non-positive limit.
const DefaultMaxEntries = 1024

type memoryItem struct {
	entry    CacheEntry
	deadline time.Time
	size     int
}

// MemoryStore is a bounded in-process Store. When full, the entry closest to
// its deadline is evicted.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]*memoryItem
	maxEntries int
	bytes      int
	now        func() time.Time
}

// NewMemoryStore creates an in-memory store holding at most maxEntries entries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		items:      make(map[string]*memoryItem),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get retrieves a copy of the entry stored under key.
func (s *MemoryStore) Get(_ context.Context, key CacheKey) (*CacheEntry, error) {
	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[k]
	if !ok || !s.now().Before(item.deadline) || !usable(&item.entry) {
		if ok {
			s.removeLocked(k)
		}
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(layerMemory).Inc()
	entry := item.entry
	return &entry, nil
}

// Set stores a copy of entry.
func (s *MemoryStore) Set(_ context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.StorageTTL()
	if ttl <= 0 {
		return nil
	}

	k := key.String()
	item := &memoryItem{
		entry:    *entry,
		deadline: s.now().Add(ttl),
		size:     len(entry.Data),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[k]; exists {
		s.removeLocked(k)
	}
	for len(s.items) >= s.maxEntries {
		s.evictLocked()
	}

	s.items[k] = item
	s.bytes += item.size
	s.updateGaugesLocked()
	return nil
}

// Delete removes a cache entry.
func (s *MemoryStore) Delete(_ context.Context, key CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(key.String())
	return nil
}

// Len returns the number of stored entries, including stale ones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// evictLocked drops the entry with the earliest deadline.
func (s *MemoryStore) evictLocked() {
	var victim string
	var earliest time.Time
	for k, item := range s.items {
		if victim == "" || item.deadline.Before(earliest) {
			victim, earliest = k, item.deadline
		}
	}
	s.removeLocked(victim)
}

func (s *MemoryStore) removeLocked(k string) {
	item, ok := s.items[k]
	if !ok {
		return
	}
	delete(s.items, k)
	s.bytes -= item.size
	s.updateGaugesLocked()
}

func (s *MemoryStore) updateGaugesLocked() {
	CacheSize.WithLabelValues(layerMemory).Set(float64(s.bytes))
	CacheEntries.WithLabelValues(layerMemory).Set(float64(len(s.items)))
}
