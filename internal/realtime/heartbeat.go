// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package realtime broadcasts periodic time updates so apps can show the
// server clock and the age of the last sensor reading.
package realtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/state"
)

// Broadcaster is the subset of the hub the heartbeat needs.
type Broadcaster interface {
	BroadcastAll(msg hub.Message) int
	Count() int
}

// LatestSource provides the last stored reading.
type LatestSource interface {
	LatestReading(ctx context.Context) (state.StoredReading, bool, error)
}

// Options configures the heartbeat.
type Options struct {
	Interval    time.Duration
	FreshWindow time.Duration
}

// Heartbeat owns the server start time and the time_update loop.
type Heartbeat struct {
	hub    Broadcaster
	source LatestSource
	opts   Options
	clock  clock.Clock
	start  time.Time
	last   atomic.Int64
	logger zerolog.Logger
}

// New creates a heartbeat. The server start time is taken from clk.
func New(b Broadcaster, source LatestSource, opts Options, clk clock.Clock) *Heartbeat {
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.FreshWindow <= 0 {
		opts.FreshWindow = 30 * time.Second
	}
	h := &Heartbeat{
		hub:    b,
		source: source,
		opts:   opts,
		clock:  clk,
		start:  clk.Now(),
		logger: log.WithComponent("realtime"),
	}
	h.last.Store(h.start.UnixNano())
	return h
}

// Started returns the server start time.
func (h *Heartbeat) Started() time.Time { return h.start }

// Uptime returns the time since start.
func (h *Heartbeat) Uptime() time.Duration { return h.clock.Now().Sub(h.start) }

// LastBeat returns the time of the last tick.
func (h *Heartbeat) LastBeat() time.Time { return time.Unix(0, h.last.Load()) }

// TimeInfo returns the GET /app/time payload.
func (h *Heartbeat) TimeInfo() clock.TimeInfo {
	return clock.Info(h.clock.Now(), h.start, h.LastBeat())
}

// Run broadcasts a time update every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	h.logger.Info().Dur("interval", h.opts.Interval).Msg("heartbeat started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("heartbeat stopped")
			return nil
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick records a beat and broadcasts one update if any client is connected.
// It returns the number of recipients.
func (h *Heartbeat) Tick(ctx context.Context) int {
	now := h.clock.Now()
	h.last.Store(now.UnixNano())
	if h.hub.Count() == 0 {
		return 0
	}
	return h.hub.BroadcastAll(h.Update(ctx, now))
}

// Update builds a time_update message for now.
func (h *Heartbeat) Update(ctx context.Context, now time.Time) hub.Message {
	utc := now.UTC().Format(time.RFC3339Nano)
	msg := hub.Message{
		"type":             "time_update",
		"server_time_utc":  utc,
		"server_timezone":  "UTC",
		"local_time":       utc,
		"uptime_seconds":   now.Sub(h.start).Seconds(),
		"latest_data_time": nil,
		"data_age_seconds": nil,
		"data_is_fresh":    false,
		"timestamp":        utc,
		"server_time_kst":  clock.ISO(now),
	}
	k := clock.Korean(now)
	msg["korea_time"] = k.KoreaTime
	msg["korea_time_simple"] = k.KoreaTimeSimple
	msg["korea_hour_minute"] = k.KoreaHourMinute
	msg["korea_date"] = k.KoreaDate
	msg["timezone_kst"] = k.TimezoneKST

	if h.source == nil {
		return msg
	}
	latest, ok, err := h.source.LatestReading(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("cannot load latest reading for heartbeat")
		return msg
	}
	if ok && !latest.Timestamp.IsZero() {
		f := NewFreshness(latest.Timestamp, now, h.opts.FreshWindow)
		msg["latest_data_time"] = clock.ISO(latest.Timestamp)
		msg["data_age_seconds"] = *f.AgeSeconds
		msg["data_is_fresh"] = f.IsFresh
	}
	return msg
}
