// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
)

// setupMiniRedis creates a store backed by miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewWithClient(client, Config{RecentImages: 3, CommandLog: 2}, clock.NewFixed(time.Date(2025, 3, 1, 9, 0, 0, 0, clock.KST)))
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestSaveReadingUsesRedisWithTTL(t *testing.T) {
	mr, s := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, s.SaveReading(ctx, device.Reading{DeviceType: "ESP32", Temperature: 22.5}))

	assert.True(t, mr.Exists(KeyCurrentData))
	assert.Equal(t, 300*time.Second, mr.TTL(KeyCurrentData))

	got, ok, err := s.LatestReading(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 22.5, got.Temperature)
	assert.Equal(t, "2025-03-01T09:00:00+09:00", got.StoredAt)

	mr.FastForward(301 * time.Second)
	_, ok, err = s.LatestReading(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecentImagesAreCappedAndStripped(t *testing.T) {
	_, s := setupMiniRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveImage(ctx, ImageRecord{
			ImageBase64: "aGVsbG8=",
			HasImage:    true,
			Metadata:    ImageMetadata{Width: 100 + i, Height: 80, Format: "JPEG"},
		}))
	}

	latest, ok, err := s.LatestImage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aGVsbG8=", latest.ImageBase64)
	assert.Equal(t, 104, latest.Metadata.Width)

	recent, err := s.RecentImages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, 104, recent[0].Metadata.Width)
	assert.Equal(t, 102, recent[2].Metadata.Width)
	for _, r := range recent {
		assert.Empty(t, r.ImageBase64)
	}
}

func TestCommandLogCapped(t *testing.T) {
	_, s := setupMiniRedis(t)
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendCommand(ctx, CommandEntry{Command: c, Source: "app", Success: true}))
	}
	got, err := s.RecentCommands(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Command)
	assert.Equal(t, "b", got[1].Command)
}

func TestFallsBackToMemoryWhenRedisFails(t *testing.T) {
	mr, s := setupMiniRedis(t)
	ctx := context.Background()
	require.True(t, s.Available())
	assert.Equal(t, ModeRedis, s.Mode())

	mr.Close()

	require.NoError(t, s.SaveReading(ctx, device.Reading{Temperature: 19}))
	assert.False(t, s.Available())
	assert.Equal(t, ModeMemory, s.Mode())

	got, ok, err := s.LatestReading(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 19.0, got.Temperature)

	st := s.Stats(ctx)
	assert.Equal(t, ModeMemory, st.StorageMode)
	assert.Equal(t, 1, st.MemoryItems)
	assert.Equal(t, "not_available", s.TestConnection(ctx)["status"])
}

func TestMemoryModeWithoutURL(t *testing.T) {
	s := New(context.Background(), Config{}, nil)
	defer func() { _ = s.Close() }()

	assert.False(t, s.Available())
	assert.ErrorIs(t, s.Reconnect(context.Background()), ErrNoRedis)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrNoRedis)

	require.NoError(t, s.PutJSON(context.Background(), KeyNotificationSettings, map[string]bool{"enabled": true}, 0))
	var got map[string]bool
	ok, err := s.GetJSON(context.Background(), KeyNotificationSettings, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got["enabled"])
}

func TestReconnectPromotesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s := New(context.Background(), Config{URL: "redis://" + mr.Addr()}, nil)
	defer func() { _ = s.Close() }()
	require.True(t, s.Available())

	s.demote("test", assert.AnError)
	require.False(t, s.Available())

	require.NoError(t, s.Reconnect(context.Background()))
	assert.True(t, s.Available())
	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, "connected", s.TestConnection(context.Background())["status"])
}

func TestParseInfo(t *testing.T) {
	info := "# Server\r\nredis_version:7.2.4\r\n\r\n# Clients\r\nconnected_clients:3\r\nused_memory_human:1.2M\r\n"
	got := parseInfo(info)
	assert.Equal(t, "7.2.4", got["redis_version"])
	assert.Equal(t, "3", got["connected_clients"])
	assert.Equal(t, "1.2M", got["used_memory_human"])
}
