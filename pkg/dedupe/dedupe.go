// Package dedupe remembers recently seen keys so redelivered Telegram
// updates and repeated callback presses are handled once.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/harun/chainpilot/internal/observability"
)

const defaultTTL = 10 * time.Minute

// Deduper records keys. Seen reports whether key was already recorded
// within the TTL, recording it otherwise.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Close() error
}

// Memory is an in-process Deduper.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
	cancel  context.CancelFunc
}

// NewMemory starts a cleanup loop that runs until Close.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
		cancel:  cancel,
	}
	go m.cleanup(ctx)
	return m
}

func (m *Memory) Seen(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if at, ok := m.entries[key]; ok && now.Sub(at) <= m.ttl {
		observability.RecordDedupe(kindOf(key), true)
		return true, nil
	}
	m.entries[key] = now
	observability.RecordDedupe(kindOf(key), false)
	return false, nil
}

// Size returns the number of remembered keys, expired ones included until
// the next sweep.
func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, at := range m.entries {
		if now.Sub(at) > m.ttl {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) Close() error {
	m.cancel()
	return nil
}

// kindOf is the metric label: the key up to its first colon.
func kindOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return "other"
}
