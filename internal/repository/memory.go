package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotencyStore is the in-process fallback used when Redis is
// unreachable. Entries expire lazily on access.
type MemoryIdempotencyStore struct {
	keys       sync.Map
	rateLimits sync.Map
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{}
}

type keyEntry struct {
	expiresAt time.Time
}

func (r *MemoryIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	val, loaded := r.keys.LoadOrStore(key, &keyEntry{expiresAt: now.Add(ttl)})
	if !loaded {
		return true, nil
	}

	entry := val.(*keyEntry)
	if now.After(entry.expiresAt) {
		r.keys.Store(key, &keyEntry{expiresAt: now.Add(ttl)})
		return true, nil
	}

	return false, nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryIdempotencyStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(key)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(key, entry)
	return entry.count <= limit, nil
}
