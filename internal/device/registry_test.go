// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/babybridge/internal/clock"
)

func TestRegistryInitialSnapshot(t *testing.T) {
	r := NewRegistry("172.25.83.227", "172.25.85.66", clock.NewFixed(time.Now()))
	s := r.Snapshot()

	assert.Equal(t, "172.25.83.227", s.ESP32.IP)
	assert.Equal(t, StatusDisconnected, s.ESP32.Status)
	assert.Nil(t, s.ESP32.LastSeen)
	assert.Nil(t, s.Overall.LastHeartbeat)
	assert.False(t, s.Overall.AnyConnected)
}

func TestRegistryMarkSeenUpdatesAddress(t *testing.T) {
	clk := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRegistry("10.0.0.1", "10.0.0.2", clk)

	r.MarkSeen(KindESP32, "10.0.0.9")
	s := r.Snapshot()

	assert.Equal(t, "10.0.0.9", s.ESP32.IP)
	assert.True(t, s.ESP32.Connected)
	require.NotNil(t, s.ESP32.LastSeen)
	assert.Equal(t, clock.KST, s.ESP32.LastSeen.Location())
	assert.True(t, s.Overall.AnyConnected)
	assert.False(t, s.Overall.BothConnected)

	r.MarkSeen(KindEye, "")
	s = r.Snapshot()
	assert.Equal(t, "10.0.0.2", s.ESPEye.IP)
	assert.True(t, s.Overall.BothConnected)
}

func TestRegistrySetStatusAndSweep(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	r := NewRegistry("10.0.0.1", "10.0.0.2", clk)

	r.MarkSeen(KindESP32, "10.0.0.1")
	r.SetStatus(KindESP32, StatusTimeout)
	assert.Equal(t, StatusTimeout, r.Status(KindESP32))

	r.MarkSeen(KindESP32, "10.0.0.1")
	r.MarkSeen(KindEye, "10.0.0.2")
	clk.Advance(90 * time.Second)
	r.MarkSeen(KindEye, "10.0.0.2")
	clk.Advance(45 * time.Second)

	stale := r.Sweep(time.Minute + 30*time.Second)
	assert.Equal(t, []Kind{KindESP32}, stale)
	assert.Equal(t, StatusDisconnected, r.Status(KindESP32))
	assert.Equal(t, StatusConnected, r.Status(KindEye))
}
