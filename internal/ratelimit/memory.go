package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Memory is a per-process fixed-window limiter. Counters are not shared
// between instances; use Redis for that.
type Memory struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

var _ Limiter = (*Memory)(nil)

func NewMemory(p Policy) *Memory {
	return &Memory{
		max:     p.Max,
		window:  p.Window,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow never fails.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.After(w.resetAt) {
		m.windows[key] = &window{count: 1, resetAt: now.Add(m.window)}
		return true, nil
	}
	if w.count >= m.max {
		return false, nil
	}
	w.count++
	return true, nil
}

// Sweep forgets every window that has already expired and returns how many
// were dropped. Without it the map grows with every client ever seen.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for key, w := range m.windows {
		if now.After(w.resetAt) {
			delete(m.windows, key)
			dropped++
		}
	}
	return dropped
}

// Len is the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
