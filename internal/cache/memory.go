// SPDX-License-Identifier: MIT

// Package cache provides the in-memory store used when Redis is unreachable.
package cache

import (
	"sync"
	"time"

	"github.com/ManuGH/babybridge/internal/clock"
)

// Stats holds cache performance metrics.
type Stats struct {
	Hits      int64 // Number of successful Get operations
	Misses    int64 // Number of failed Get operations (not found or expired)
	Sets      int64 // Number of Set and Push operations
	Evictions int64 // Number of expired entries cleaned up
	Keys      int   // Current number of keys (values and lists)
}

type entry struct {
	value      []byte
	expiration time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// Memory is a thread-safe key/value and list store with TTL support. It
// mirrors the subset of Redis semantics the state layer relies on.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	lists   map[string][][]byte
	stats   Stats
	clock   clock.Clock

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a store. A positive cleanupInterval starts a janitor
// goroutine that must be stopped with Stop.
func NewMemory(cleanupInterval time.Duration, clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Memory{
		entries: make(map[string]*entry),
		lists:   make(map[string][][]byte),
		clock:   clk,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	}
	return m
}

// Get returns a copy of the value stored at key.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.clock.Now()) {
		m.stats.Misses++
		return nil, false
	}
	m.stats.Hits++
	return append([]byte(nil), e.value...), true
}

// Set stores value at key. ttl <= 0 keeps the value until deleted.
func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiration = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.stats.Sets++
	m.mu.Unlock()
}

// Delete removes key from values and lists.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	delete(m.lists, key)
	m.mu.Unlock()
}

// PushCapped prepends value to the list at key and trims it to max entries,
// like LPUSH followed by LTRIM 0 max-1.
func (m *Memory) PushCapped(key string, value []byte, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := append([][]byte{append([]byte(nil), value...)}, m.lists[key]...)
	if max > 0 && len(l) > max {
		l = l[:max]
	}
	m.lists[key] = l
	m.stats.Sets++
}

// Range returns up to n list entries, newest first. n <= 0 returns all.
func (m *Memory) Range(key string, n int) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.lists[key]
	if n > 0 && len(l) > n {
		l = l[:n]
	}
	out := make([][]byte, len(l))
	for i, v := range l {
		out[i] = append([]byte(nil), v...)
	}
	return out
}

// Stats returns a snapshot of cache statistics.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Keys = len(m.entries) + len(m.lists)
	return s
}

// DeleteExpired removes expired values and returns how many were removed.
func (m *Memory) DeleteExpired() int {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			count++
		}
	}
	m.stats.Evictions += int64(count)
	return count
}

// Stop stops the janitor. It is safe to call more than once.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.DeleteExpired()
		case <-m.stop:
			return
		}
	}
}
