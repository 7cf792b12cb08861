// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/babybridge/internal/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemory_SetGetExpire(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	m := NewMemory(0, clk)

	m.Set("k", []byte("v"), time.Minute)
	got, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clk.Advance(2 * time.Minute)
	_, ok = m.Get("k")
	assert.False(t, ok)

	assert.Equal(t, 1, m.DeleteExpired())
	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Zero(t, stats.Keys)
}

func TestMemory_NoTTL(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	m := NewMemory(0, clk)
	m.Set("k", []byte("v"), 0)
	clk.Advance(24 * time.Hour)

	_, ok := m.Get("k")
	assert.True(t, ok)
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := NewMemory(0, nil)
	buf := []byte("abc")
	m.Set("k", buf, 0)
	buf[0] = 'x'

	got, _ := m.Get("k")
	assert.Equal(t, []byte("abc"), got)
}

func TestMemory_PushCapped(t *testing.T) {
	m := NewMemory(0, nil)
	for _, v := range []string{"1", "2", "3", "4"} {
		m.PushCapped("list", []byte(v), 3)
	}

	assert.Equal(t, [][]byte{[]byte("4"), []byte("3"), []byte("2")}, m.Range("list", 0))
	assert.Equal(t, [][]byte{[]byte("4")}, m.Range("list", 1))

	m.Delete("list")
	assert.Empty(t, m.Range("list", 0))
}

func TestMemory_JanitorStops(t *testing.T) {
	m := NewMemory(time.Millisecond, nil)
	m.Set("k", []byte("v"), time.Nanosecond)

	assert.Eventually(t, func() bool { return m.Stats().Keys == 0 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}
