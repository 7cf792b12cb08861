// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKoreanRendering(t *testing.T) {
	ts := time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
	k := Korean(ts)

	assert.Equal(t, "2024년 03월 10일 00:04:05", k.KoreaTime)
	assert.Equal(t, "2024-03-10 00:04:05", k.KoreaTimeSimple)
	assert.Equal(t, "00:04", k.KoreaHourMinute)
	assert.Equal(t, "2024년 03월 10일", k.KoreaDate)
	assert.Equal(t, TimezoneLabel, k.TimezoneKST)
}

func TestInfoUptimeAndHeartbeat(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)

	info := Info(now, start, time.Time{})
	assert.InDelta(t, 90.0, info.ServerUptime, 0.001)
	assert.Empty(t, info.LastHeartbeat)
	assert.Equal(t, now.Unix(), info.TimestampUnix)
	assert.Equal(t, "2024-01-01T09:01:30+09:00", info.KSTTime)

	info = Info(now, start, start)
	assert.Equal(t, "2024-01-01T09:00:00+09:00", info.LastHeartbeat)
}

func TestParseTimestamp(t *testing.T) {
	withZone, err := ParseTimestamp("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	noZone, err := ParseTimestamp("2024-05-01T10:00:00.123456")
	require.NoError(t, err)

	assert.Equal(t, time.UTC, noZone.Location())
	assert.Equal(t, 123456*time.Microsecond, noZone.Sub(withZone))

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixed(start)
	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())
}
