package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
	hasTTL    bool
}

func (e memEntry) isExpired() bool {
	return e.hasTTL && time.Now().After(e.expiresAt)
}

type memoryStore struct {
	mu      sync.Mutex
	prefix  string
	entries map[string]memEntry
}

// NewMemoryStore returns a process-local Store. It behaves like the Redis
// store, including lazy TTL expiry, which makes it usable as a shared "remote"
// store for multiple queue instances in one process (local dev, tests).
func NewMemoryStore(prefix string) Store {
	return &memoryStore{
		prefix:  prefix,
		entries: make(map[string]memEntry),
	}
}

func (s *memoryStore) key(key string) string {
	return s.prefix + key
}

// getLocked returns the live entry for a prefixed key, evicting it first if
// its TTL has passed. Callers must hold s.mu.
func (s *memoryStore) getLocked(pk string) (memEntry, bool) {
	entry, ok := s.entries[pk]
	if !ok {
		return memEntry{}, false
	}
	if entry.isExpired() {
		delete(s.entries, pk)
		return memEntry{}, false
	}
	return entry, true
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.getLocked(s.key(key))
	if !ok {
		return nil, nil
	}
	return entry.value, nil
}

func (s *memoryStore) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(keys))
	for i, k := range keys {
		if entry, ok := s.getLocked(s.key(k)); ok {
			out[i] = entry.value
		}
	}
	return out, nil
}

func (s *memoryStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memEntry{value: value}
	if ttl > 0 {
		entry.hasTTL = true
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.entries[s.key(key)] = entry
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := s.key(key)
	if _, ok := s.getLocked(pk); !ok {
		return 0, nil
	}
	delete(s.entries, pk)
	return 1, nil
}

func (s *memoryStore) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	return s.addLocked(key, n, false)
}

func (s *memoryStore) DecrByFloor(_ context.Context, key string, n int64) (int64, error) {
	return s.addLocked(key, -n, true)
}

func (s *memoryStore) addLocked(key string, delta int64, floor bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := s.key(key)
	entry, ok := s.getLocked(pk)

	var cur int64
	if ok {
		v, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer", key)
		}
		cur = v
	}

	next := cur + delta
	if floor && next < 0 {
		next = 0
	}
	// Arithmetic keeps the TTL of an existing key, same as Redis INCRBY.
	entry.value = []byte(strconv.FormatInt(next, 10))
	s.entries[pk] = entry
	return next, nil
}

func (s *memoryStore) Close() error {
	return nil
}
