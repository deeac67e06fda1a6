package store

import (
	"context"
	"sync"
	"time"

	"attendtrack/internal/clock"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is a process-local key/value store. Expiry is checked lazily
// against the clock on read.
type MemoryKV struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry
}

// NewMemoryKV creates an empty store.
func NewMemoryKV(clk clock.Clock) *MemoryKV {
	return &MemoryKV{clock: clk, entries: make(map[string]memoryEntry)}
}

func (kv *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !kv.clock.Now().Before(e.expiresAt) {
		delete(kv.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (kv *MemoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = kv.clock.Now().Add(ttl)
	}
	kv.mu.Lock()
	kv.entries[key] = e
	kv.mu.Unlock()
	return nil
}

func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.mu.Lock()
	delete(kv.entries, key)
	kv.mu.Unlock()
	return nil
}
