// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ingest runs device payloads through normalisation, storage,
// history and fan-out.
package ingest

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/history"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/imaging"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/notify"
	"github.com/ManuGH/babybridge/internal/state"
	"github.com/ManuGH/babybridge/internal/telemetry"
)

// Apps fans payloads out to connected mobile apps.
type Apps interface {
	BroadcastApps(msg hub.Message) int
	SendImageUpdate(timestamp, alertLevel string) int
	Count() int
}

// FramePublisher relays decoded frames to live stream viewers.
type FramePublisher interface {
	Publish(ctx context.Context, frame []byte)
}

// Notifier decides whether a reading warrants an emergency alert.
type Notifier interface {
	Evaluate(ctx context.Context, r device.Reading) notify.Outcome
}

// Deps are the collaborators of a Service. History, Relay and Notifier are
// optional.
type Deps struct {
	Registry *device.Registry
	State    *state.Store
	History  *history.Store
	Images   *imaging.Processor
	Relay    FramePublisher
	Apps     Apps
	Notifier Notifier
	Clock    clock.Clock
}

// Options tune the pipeline.
type Options struct {
	Thresholds device.Thresholds
	// ArchiveFrames saves every base64 frame to the image archive.
	ArchiveFrames bool
}

// Service is the ingest pipeline shared by every device route.
type Service struct {
	deps          Deps
	thresholds    atomic.Pointer[device.Thresholds]
	archiveFrames atomic.Bool
	tracer        trace.Tracer
	logger        zerolog.Logger
}

// New wires a Service.
func New(deps Deps, opts Options) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	s := &Service{
		deps:   deps,
		tracer: telemetry.Tracer("babybridge/ingest"),
		logger: log.WithComponent("ingest"),
	}
	s.SetOptions(opts)
	return s
}

// SetOptions swaps the thresholds and archive flag, e.g. after a config reload.
func (s *Service) SetOptions(opts Options) {
	th := opts.Thresholds
	s.thresholds.Store(&th)
	s.archiveFrames.Store(opts.ArchiveFrames)
}

// Thresholds returns the active alert thresholds.
func (s *Service) Thresholds() device.Thresholds { return *s.thresholds.Load() }

func (s *Service) now() string { return clock.ISO(s.deps.Clock.Now()) }

func (s *Service) appCount() int {
	if s.deps.Apps == nil {
		return 0
	}
	return s.deps.Apps.Count()
}
