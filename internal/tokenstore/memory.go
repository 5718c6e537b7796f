package tokenstore

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// MemoryBackend keeps tokens in process memory keyed by scope.
// Entries untouched for ttl are dropped so abandoned visitors do not accumulate.
type MemoryBackend struct {
	mu   sync.RWMutex
	m    map[string]entry
	ttl  time.Duration
	nowF func() time.Time
}

// NewMemoryBackend returns an in-memory backend. ttl <= 0 keeps entries until cleared.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		m:    make(map[string]entry),
		ttl:  ttl,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Scoped returns the store for scope.
func (b *MemoryBackend) Scoped(scope string) Store {
	return &memoryStore{b: b, key: scope + "/" + StorageKey}
}

func (b *MemoryBackend) get(key string) (string, bool) {
	b.mu.RLock()
	e, ok := b.m[key]
	b.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(b.nowF()) {
		b.mu.Lock()
		if cur, ok := b.m[key]; ok && cur == e {
			delete(b.m, key)
		}
		b.mu.Unlock()
		return "", false
	}
	return e.token, true
}

func (b *MemoryBackend) set(key, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if token == "" {
		delete(b.m, key)
		return
	}
	e := entry{token: token}
	if b.ttl > 0 {
		e.expiresAt = b.nowF().Add(b.ttl)
	}
	b.m[key] = e
}

// Sweep drops expired entries and returns how many were removed.
func (b *MemoryBackend) Sweep() int {
	now := b.nowF()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, e := range b.m {
		if !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
			delete(b.m, k)
			n++
		}
	}
	return n
}

type memoryStore struct {
	b   *MemoryBackend
	key string
}

func (s *memoryStore) Get(ctx context.Context) (string, bool) { return s.b.get(s.key) }
func (s *memoryStore) Set(ctx context.Context, token string)  { s.b.set(s.key, token) }
