package kv

import (
	"context"
	"sync"
	"time"
)

type counterEntry struct {
	values    map[string]int64
	expiresAt time.Time
}

type windowEntry struct {
	members   map[string]time.Time
	expiresAt time.Time
}

type valueEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory 是进程内的 Store 实现，作为Redis不可用时的后备。
// 所有操作在同一把锁下完成，因此增量同样是原子的。
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]*counterEntry
	windows  map[string]*windowEntry
	values   map[string]*valueEntry
}

// NewMemory 创建一个空的进程内存储
func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		counters: make(map[string]*counterEntry),
		windows:  make(map[string]*windowEntry),
		values:   make(map[string]*valueEntry),
	}
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) expired(at time.Time) bool {
	return !at.IsZero() && m.now().After(at)
}

func (m *Memory) IncrCounters(_ context.Context, key string, delta map[string]int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.counters[key]
	if !ok || m.expired(entry.expiresAt) {
		entry = &counterEntry{values: make(map[string]int64)}
		m.counters[key] = entry
	}
	for field, change := range delta {
		entry.values[field] += change
	}
	if ttl > 0 {
		entry.expiresAt = m.expiry(ttl)
	}
	return nil
}

func (m *Memory) SetCounters(_ context.Context, key string, counts map[string]int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(counts) == 0 {
		delete(m.counters, key)
		return nil
	}
	values := make(map[string]int64, len(counts))
	for field, count := range counts {
		values[field] = count
	}
	m.counters[key] = &counterEntry{values: values, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) Counters(_ context.Context, key string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int64)
	entry, ok := m.counters[key]
	if !ok {
		return counts, nil
	}
	if m.expired(entry.expiresAt) {
		delete(m.counters, key)
		return counts, nil
	}
	for field, count := range entry.values {
		counts[field] = count
	}
	return counts, nil
}

// sweepLocked 必须在持有 m.mu 时调用
func (m *Memory) sweepLocked(key string, cutoff time.Time) *windowEntry {
	entry, ok := m.windows[key]
	if !ok {
		return nil
	}
	if m.expired(entry.expiresAt) {
		delete(m.windows, key)
		return nil
	}
	for member, seen := range entry.members {
		if seen.Before(cutoff) {
			delete(entry.members, member)
		}
	}
	return entry
}

func (m *Memory) Touch(_ context.Context, key, member string, at, cutoff time.Time, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.sweepLocked(key, cutoff)
	if entry == nil {
		entry = &windowEntry{members: make(map[string]time.Time)}
		m.windows[key] = entry
	}
	if !at.Before(cutoff) {
		entry.members[member] = at
	}
	entry.expiresAt = m.expiry(ttl)
	return int64(len(entry.members)), nil
}

func (m *Memory) Sweep(_ context.Context, key string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.sweepLocked(key, cutoff)
	if entry == nil {
		return 0, nil
	}
	return int64(len(entry.members)), nil
}

func (m *Memory) Remove(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.windows[key]; ok {
		delete(entry.members, member)
	}
	return nil
}

func (m *Memory) SetValue(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := append([]byte(nil), value...)
	m.values[key] = &valueEntry{value: copied, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) Value(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	if m.expired(entry.expiresAt) {
		delete(m.values, key)
		return nil, nil
	}
	return append([]byte(nil), entry.value...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	delete(m.counters, key)
	delete(m.windows, key)
	return nil
}

var _ Store = (*Memory)(nil)
