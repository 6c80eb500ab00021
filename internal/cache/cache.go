// internal/cache/cache.go
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultTTL bounds how long a composed answer may be replayed.
const DefaultTTL = 10 * time.Minute

// Cache memoizes (bot, normalized message) -> final answer text.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, value string, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
	Flush(ctx context.Context)
}

// Key normalizes the message (case, surrounding whitespace) so trivial
// variants of the same question hit the same entry.
func Key(botID, message string) string {
	return botID + "\n" + strings.ToLower(strings.TrimSpace(message))
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is a process-lifetime cache with lazy TTL eviction. There is no size
// bound; expiry is the only eviction. A mutex around the map is all the
// coordination overlapping turns need.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]entry{}, now: time.Now}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false
	}
	// Expired entries are indistinguishable from absent and evicted on sight.
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) Put(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
}

func (m *Memory) Invalidate(ctx context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) Flush(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]entry{}
}
