// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mjpeg relays the ESP Eye camera feed to browsers and apps as a
// multipart/x-mixed-replace stream.
package mjpeg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
	"github.com/ManuGH/babybridge/internal/state"
)

// Boundary separates frames in the viewer stream.
const Boundary = "frame"

// StreamPath is where viewers connect.
const StreamPath = "/mjpeg/stream"

const activeWindow = 10 * time.Second

// StatusSink stores relay status for other instances and dashboards.
type StatusSink interface {
	SaveStreamStatus(ctx context.Context, st state.StreamStatus) error
}

// AppBroadcaster notifies mobile apps.
type AppBroadcaster interface {
	BroadcastApps(msg hub.Message) int
}

// Options configures the relay.
type Options struct {
	StatsEvery    int
	ViewerQueue   int
	MaxFrameBytes int64
}

// Relay fans frames out to viewers. Slow viewers skip frames rather than
// stall the camera.
type Relay struct {
	opts   Options
	sink   StatusSink
	apps   AppBroadcaster
	clock  clock.Clock
	logger zerolog.Logger
	start  time.Time

	mu         sync.Mutex
	viewers    map[*viewer]struct{}
	lastFrame  time.Time
	lastSize   int
	closed     bool
	publishers atomic.Int32
	frames     atomic.Int64
}

type viewer struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (v *viewer) stop() { v.once.Do(func() { close(v.done) }) }

// NewRelay creates a relay. sink and apps may be nil.
func NewRelay(sink StatusSink, apps AppBroadcaster, opts Options, clk clock.Clock) *Relay {
	if clk == nil {
		clk = clock.Real{}
	}
	if opts.StatsEvery <= 0 {
		opts.StatsEvery = 30
	}
	if opts.ViewerQueue <= 0 {
		opts.ViewerQueue = 2
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 2 << 20
	}
	return &Relay{
		opts:    opts,
		sink:    sink,
		apps:    apps,
		clock:   clk,
		logger:  log.WithComponent("mjpeg"),
		start:   clk.Now(),
		viewers: make(map[*viewer]struct{}),
	}
}

// Publish relays one JPEG frame to every viewer.
func (r *Relay) Publish(ctx context.Context, frame []byte) {
	if len(frame) == 0 {
		return
	}
	now := r.clock.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.lastFrame = now
	r.lastSize = len(frame)
	targets := make([]*viewer, 0, len(r.viewers))
	for v := range r.viewers {
		targets = append(targets, v)
	}
	r.mu.Unlock()

	for _, v := range targets {
		select {
		case v.frames <- frame:
		default:
			// Viewer is behind: drop its oldest queued frame for this one.
			select {
			case <-v.frames:
			default:
			}
			select {
			case v.frames <- frame:
			default:
			}
		}
	}

	metrics.RecordStreamFrame()
	n := r.frames.Add(1)
	if n%int64(r.opts.StatsEvery) == 0 {
		r.reportStats(ctx, n, len(targets))
	}
}

func (r *Relay) reportStats(ctx context.Context, frames int64, viewers int) {
	now := r.clock.Now()
	if r.sink != nil {
		err := r.sink.SaveStreamStatus(ctx, state.StreamStatus{
			Active:     true,
			Viewers:    viewers,
			Frames:     frames,
			LastFrame:  clock.ISO(now),
			FrameBytes: r.lastFrameSize(),
		})
		if err != nil {
			r.logger.Warn().Err(err).Msg("cannot store stream status")
		}
	}
	if r.apps != nil {
		r.apps.BroadcastApps(hub.Message{
			"type": "mjpeg_stream_status",
			"data": map[string]any{
				"streaming":   true,
				"viewers":     viewers,
				"frame_count": frames,
				"stream_url":  StreamPath,
				"last_update": now.In(clock.KST).Format(clock.KoreanLong),
			},
			"timestamp": clock.ISO(now),
		})
	}
	r.logger.Debug().Int64("frames", frames).Int("viewers", viewers).Msg("stream stats")
}

func (r *Relay) lastFrameSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSize
}

func (r *Relay) subscribe() (*viewer, bool) {
	v := &viewer{frames: make(chan []byte, r.opts.ViewerQueue), done: make(chan struct{})}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, false
	}
	r.viewers[v] = struct{}{}
	n := len(r.viewers)
	r.mu.Unlock()
	metrics.SetStreamViewers(n)
	return v, true
}

func (r *Relay) unsubscribe(v *viewer) {
	r.mu.Lock()
	delete(r.viewers, v)
	n := len(r.viewers)
	r.mu.Unlock()
	v.stop()
	metrics.SetStreamViewers(n)
}

// Viewers returns the number of connected viewers.
func (r *Relay) Viewers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// Status is the GET /mjpeg/status payload.
type Status struct {
	Active        bool    `json:"active"`
	Publishing    bool    `json:"esp_eye_streaming"`
	Viewers       int     `json:"viewers"`
	FrameCount    int64   `json:"frame_count"`
	LastFrameTime *string `json:"last_frame_time"`
	Uptime        float64 `json:"uptime"`
	StreamURL     string  `json:"stream_url"`
	Timestamp     string  `json:"timestamp"`
}

// Status reports the relay state. The relay is active while the camera is
// pushing or a frame arrived recently.
func (r *Relay) Status() Status {
	now := r.clock.Now()
	r.mu.Lock()
	last := r.lastFrame
	viewers := len(r.viewers)
	r.mu.Unlock()

	publishing := r.publishers.Load() > 0
	st := Status{
		Active:     publishing || (!last.IsZero() && now.Sub(last) < activeWindow),
		Publishing: publishing,
		Viewers:    viewers,
		FrameCount: r.frames.Load(),
		Uptime:     now.Sub(r.start).Seconds(),
		StreamURL:  StreamPath,
		Timestamp:  clock.ISO(now),
	}
	if !last.IsZero() {
		ts := clock.ISO(last)
		st.LastFrameTime = &ts
	}
	return st
}

// Close disconnects all viewers. Later subscriptions are refused.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*viewer, 0, len(r.viewers))
	for v := range r.viewers {
		all = append(all, v)
	}
	r.viewers = make(map[*viewer]struct{})
	r.mu.Unlock()

	for _, v := range all {
		v.stop()
	}
	metrics.SetStreamViewers(0)
}
