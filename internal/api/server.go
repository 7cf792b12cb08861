// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api provides the HTTP surface used by the ESP32 boards and the
// mobile apps.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/api/middleware"
	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/config"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/esp32"
	"github.com/ManuGH/babybridge/internal/health"
	"github.com/ManuGH/babybridge/internal/history"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/imaging"
	"github.com/ManuGH/babybridge/internal/ingest"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/mjpeg"
	"github.com/ManuGH/babybridge/internal/notify"
	"github.com/ManuGH/babybridge/internal/realtime"
	"github.com/ManuGH/babybridge/internal/state"
	"github.com/ManuGH/babybridge/internal/telemetry"
)

// Commander forwards commands to the ESP32.
type Commander interface {
	Send(ctx context.Context, cmd esp32.Command) error
}

// Deps are the collaborators the handlers need. Heartbeat and Relay are
// optional; everything else is required.
type Deps struct {
	Clock     clock.Clock
	Registry  *device.Registry
	State     *state.Store
	History   *history.Store
	Images    *imaging.Processor
	Ingest    *ingest.Service
	Hub       *hub.Hub
	Commander Commander
	Commands  *CommandLog
	Relay     *mjpeg.Relay
	Heartbeat *realtime.Heartbeat
	Notify    *notify.Repository
	Health    *health.Manager
}

// Server serves the HTTP API.
type Server struct {
	cfg      config.AppConfig
	deps     Deps
	trusted  []*net.IPNet
	validate *validator.Validate
	started  time.Time
	router   chi.Router
	logger   zerolog.Logger
}

var errNoCommander = errors.New("esp32 command path not configured")

// New builds the server and its router.
func New(cfg config.AppConfig, deps Deps) (*Server, error) {
	if deps.Registry == nil || deps.State == nil || deps.History == nil || deps.Images == nil || deps.Ingest == nil || deps.Hub == nil || deps.Notify == nil {
		return nil, fmt.Errorf("api: missing required dependency")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Health == nil {
		deps.Health = health.NewManager(cfg.Version)
	}
	if deps.Commands == nil {
		deps.Commands = NewCommandLog(deps.State, deps.History, deps.Clock)
	}

	var trusted []*net.IPNet
	if strings.TrimSpace(cfg.Server.TrustedProxies) != "" {
		var err error
		trusted, err = middleware.ParseCIDRs(strings.Split(cfg.Server.TrustedProxies, ","))
		if err != nil {
			return nil, fmt.Errorf("api: trusted proxies: %w", err)
		}
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		trusted:  trusted,
		validate: newValidator(),
		started:  deps.Clock.Now(),
		logger:   log.WithComponent("api"),
	}
	if deps.Heartbeat != nil {
		s.started = deps.Heartbeat.Started()
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ingestPaths are device push routes; they are limited by IngestRateLimit
// instead of the per-client API limit.
var ingestPaths = []string{"/esp32/", "/mjpeg/video"}

func (s *Server) routes() chi.Router {
	stack := middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.cfg.Server.CORSOrigins,
		EnableSecurityHeaders: true,
		TrustedProxies:        s.trusted,
		EnableMetrics:         true,
		EnableLogging:         true,
		RateLimit:             s.cfg.Server.RateLimit,
		RateLimitExempt:       ingestPaths,
	}
	if s.cfg.Telemetry.Enabled {
		stack.TracingService = telemetry.ServiceName
	}
	r := middleware.NewRouter(stack)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Get("/status", s.handleStatus)
	if s.cfg.Server.MetricsAddr == "" {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/esp32", func(r chi.Router) {
		r.Use(middleware.IngestRateLimit(s.cfg.Server.IngestRateLimit))
		r.Post("/data", s.handleESP32Data)
		r.Post("/sensor", s.handleESP32Sensor)
		r.Post("/image", s.handleESP32Image)
		r.Post("/upload", s.handleESP32Upload)
		r.Post("/command", s.handleESP32Command)
	})

	r.Route("/images", func(r chi.Router) {
		r.Get("/latest", s.handleLatestImage)
		r.Get("/latest/data", s.handleLatestImageData)
		r.Get("/debug", s.handleImageDebug)
		r.Get("/archive", s.handleArchiveList)
		r.Get("/archive/{name}", s.handleArchiveGet)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/redis/reconnect", s.handleRedisReconnect)
		r.Post("/images/cleanup", s.handleImageCleanup)
	})

	if s.deps.Relay != nil {
		r.Route("/mjpeg", func(r chi.Router) {
			r.With(middleware.IngestRateLimit(s.cfg.Server.IngestRateLimit)).Post("/video", s.deps.Relay.ServeIngest)
			r.Get("/stream", s.deps.Relay.ServeStream)
			r.Get("/status", s.deps.Relay.ServeStatus)
		})
	}

	r.Route("/app", s.registerAppRoutes)
	return r
}

// clientIP is the address a device or app is reached from.
func (s *Server) clientIP(r *http.Request) string {
	return middleware.ClientIP(r, s.trusted)
}

func (s *Server) now() time.Time { return s.deps.Clock.Now() }

func (s *Server) uptime() time.Duration { return s.now().Sub(s.started) }

// sendCommand forwards cmd to the ESP32 and records the outcome.
func (s *Server) sendCommand(ctx context.Context, cmd esp32.Command, source string) error {
	err := errNoCommander
	if s.deps.Commander != nil {
		err = s.deps.Commander.Send(ctx, cmd)
	}
	s.deps.Commands.Record(ctx, source, cmd, err)
	return err
}

// serverInfo is the service summary embedded in several app responses.
func (s *Server) serverInfo() map[string]any {
	return map[string]any{
		"redis_connected":   s.deps.State.Available(),
		"storage_mode":      s.deps.State.Mode(),
		"esp32_status":      s.deps.Registry.Status(device.KindESP32),
		"esp32_ip":          nullable(s.deps.Registry.IP(device.KindESP32)),
		"active_websockets": s.deps.Hub.Count(),
		"uptime":            s.uptime().Round(time.Second).String(),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
