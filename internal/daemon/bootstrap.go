// SPDX-License-Identifier: MIT

// Package daemon wires the bridge components together and owns their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/babybridge/internal/api"
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
	"github.com/ManuGH/babybridge/internal/persistence/sqlite"
	"github.com/ManuGH/babybridge/internal/realtime"
	"github.com/ManuGH/babybridge/internal/state"
	"github.com/ManuGH/babybridge/internal/telemetry"
)

// Runtime holds every long-lived component of a running bridge.
type Runtime struct {
	Config    config.AppConfig
	Clock     clock.Clock
	Telemetry *telemetry.Provider
	State     *state.Store
	History   *history.Store
	Archive   imaging.Archive
	Images    *imaging.Processor
	Registry  *device.Registry
	ESP32     *esp32.Client
	Hub       *hub.Hub
	Relay     *mjpeg.Relay
	Heartbeat *realtime.Heartbeat
	Ingest    *ingest.Service
	Health    *health.Manager
	API       *api.Server

	closers []namedHook
}

// Build constructs the runtime from cfg. On error everything opened so far
// is closed again.
func Build(ctx context.Context, cfg config.AppConfig, clk clock.Clock) (_ *Runtime, err error) {
	if clk == nil {
		clk = clock.Real{}
	}
	rt := &Runtime{Config: cfg, Clock: clk}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	logger := log.WithComponent("bootstrap")

	if err := health.PerformStartupChecks(cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.FromAppConfig(cfg.Telemetry, cfg.Version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.Telemetry = tp
	rt.addCloser("telemetry", tp.Shutdown)

	rt.State = state.New(ctx, state.Config{
		URL:               cfg.Redis.URL,
		InsecureTLS:       cfg.Redis.InsecureTLS,
		DataTTL:           cfg.Redis.DataTTL,
		ImageTTL:          cfg.Redis.ImageTTL,
		ConnectRetryDelay: cfg.Redis.ConnectRetryDelay,
		RecentImages:      cfg.Redis.RecentImages,
		CommandLog:        cfg.Redis.CommandLog,
	}, clk)
	rt.addCloser("state", func(context.Context) error { return rt.State.Close() })

	dbCfg := sqlite.DefaultConfig()
	if cfg.Store.BusyTimeout > 0 {
		dbCfg.BusyTimeout = cfg.Store.BusyTimeout
	}
	if cfg.Store.MaxOpenConns > 0 {
		dbCfg.MaxOpenConns = cfg.Store.MaxOpenConns
	}
	rt.History, err = history.Open(ctx, cfg.Store.SQLitePath, dbCfg, clk)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	rt.addCloser("history", func(context.Context) error { return rt.History.Close() })

	rt.Archive, err = openArchive(cfg.Images, clk)
	if err != nil {
		return nil, fmt.Errorf("image archive: %w", err)
	}
	rt.addCloser("archive", func(context.Context) error { return rt.Archive.Close() })
	rt.Images = imaging.NewProcessor(rt.Archive, imaging.Options{
		ThumbnailWidth:   cfg.Images.ThumbnailWidth,
		ThumbnailHeight:  cfg.Images.ThumbnailHeight,
		ThumbnailQuality: cfg.Images.ThumbnailQuality,
		ArchiveQuality:   cfg.Images.ArchiveQuality,
	}, clk)

	rt.Registry = device.NewRegistry(cfg.Devices.ESP32IP, cfg.Devices.EyeIP, clk)
	rt.ESP32 = esp32.New(rt.Registry, esp32.Options{
		Timeout:          cfg.Devices.CommandTimeout,
		Rate:             cfg.Devices.CommandRate,
		Burst:            cfg.Devices.CommandBurst,
		BreakerThreshold: cfg.Devices.BreakerThreshold,
		BreakerReset:     cfg.Devices.BreakerReset,
		Tracing:          cfg.Telemetry.Enabled,
	}, clk)

	commands := api.NewCommandLog(rt.State, rt.History, clk)
	rt.Hub = hub.New(hub.Options{
		IdlePing:     cfg.Realtime.IdlePing,
		WriteTimeout: cfg.Realtime.WriteTimeout,
		SendQueue:    cfg.Realtime.SendQueue,
		CheckOrigin:  originChecker(cfg.Server.CORSOrigins),
		Commander:    rt.ESP32,
		Registry:     rt.Registry,
		OnCommand:    commands.Hook(),
	}, clk)
	rt.addCloser("hub", func(context.Context) error { rt.Hub.Close(); return nil })

	rt.Relay = mjpeg.NewRelay(rt.State, rt.Hub, mjpeg.Options{
		StatsEvery:    cfg.Realtime.StreamStatsEvery,
		MaxFrameBytes: cfg.Server.MaxBodyBytes,
	}, clk)
	rt.addCloser("mjpeg", func(context.Context) error { rt.Relay.Close(); return nil })

	rt.Heartbeat = realtime.New(rt.Hub, rt.State, realtime.Options{
		Interval:    cfg.Realtime.HeartbeatInterval,
		FreshWindow: cfg.Realtime.FreshWindow,
	}, clk)

	prefs := notify.NewRepository(rt.State)
	rt.Ingest = ingest.New(ingest.Deps{
		Registry: rt.Registry,
		State:    rt.State,
		History:  rt.History,
		Images:   rt.Images,
		Relay:    rt.Relay,
		Apps:     rt.Hub,
		Notifier: notify.NewDispatcher(prefs, rt.Hub, clk),
		Clock:    clk,
	}, ingestOptions(cfg))

	rt.Health = health.NewManager(cfg.Version)
	rt.Health.RegisterChecker(health.NewStateChecker(rt.State.Mode, rt.State.Ping))
	rt.Health.RegisterChecker(health.NewPingChecker("history", false, rt.History.Ping))
	rt.Health.RegisterChecker(health.NewFreshnessChecker("esp32", cfg.Devices.StaleAfter, rt.Registry.LastHeartbeat))
	if cfg.Images.Backend == config.ImageBackendFS {
		rt.Health.RegisterChecker(health.NewDirChecker("image_archive", cfg.Images.Dir))
	}

	rt.API, err = api.New(cfg, api.Deps{
		Clock:     clk,
		Registry:  rt.Registry,
		State:     rt.State,
		History:   rt.History,
		Images:    rt.Images,
		Ingest:    rt.Ingest,
		Hub:       rt.Hub,
		Commander: rt.ESP32,
		Commands:  commands,
		Relay:     rt.Relay,
		Heartbeat: rt.Heartbeat,
		Notify:    prefs,
		Health:    rt.Health,
	})
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	logger.Info().
		Str("storage_mode", rt.State.Mode()).
		Str("image_backend", cfg.Images.Backend).
		Str("esp32_ip", cfg.Devices.ESP32IP).
		Bool("tracing", cfg.Telemetry.Enabled).
		Msg("bridge components ready")
	return rt, nil
}

// ManagerDeps returns the dependencies for NewManager.
func (rt *Runtime) ManagerDeps() Deps {
	d := Deps{
		Logger:     log.WithComponent("daemon"),
		APIHandler: rt.API.Handler(),
	}
	if rt.Config.Server.MetricsAddr != "" {
		d.MetricsHandler = promhttp.Handler()
		d.MetricsAddr = rt.Config.Server.MetricsAddr
	}
	return d
}

// RegisterHooks hands the component closers to m. They run LIFO, so the
// telemetry exporter flushes last.
func (rt *Runtime) RegisterHooks(m Manager) {
	for _, c := range rt.closers {
		m.RegisterShutdownHook(c.name, c.hook)
	}
	rt.closers = nil
}

// Close releases every component not yet handed to a manager.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt.closers[i].name, err))
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *Runtime) addCloser(name string, fn ShutdownHook) {
	rt.closers = append(rt.closers, namedHook{name: name, hook: fn})
}

func openArchive(cfg config.ImagesConfig, clk clock.Clock) (imaging.Archive, error) {
	switch cfg.Backend {
	case config.ImageBackendNone:
		return imaging.NopArchive{}, nil
	case config.ImageBackendBadger:
		return imaging.OpenBadgerArchive(cfg.Dir, cfg.Retention, false, clk)
	default:
		return imaging.NewFSArchive(cfg.Dir, clk)
	}
}

func ingestOptions(cfg config.AppConfig) ingest.Options {
	return ingest.Options{
		Thresholds:    thresholdsFrom(cfg.Alerts),
		ArchiveFrames: cfg.Images.ArchiveFrames,
	}
}

func thresholdsFrom(a config.AlertsConfig) device.Thresholds {
	return device.Thresholds{
		TempMin:             a.TempMin,
		TempMax:             a.TempMax,
		TempExtremeLow:      a.TempExtremeLow,
		TempExtremeHigh:     a.TempExtremeHigh,
		HumidityMin:         a.HumidityMin,
		HumidityMax:         a.HumidityMax,
		HumidityExtremeLow:  a.HumidityExtremeLow,
		HumidityExtremeHigh: a.HumidityExtremeHigh,
		BatteryLow:          a.BatteryLow,
	}
}

// originChecker accepts WebSocket upgrades from the configured CORS origins.
// Native apps send no Origin header and are always accepted.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.ContainsFunc(origins, func(o string) bool {
			return strings.EqualFold(o, origin)
		})
	}
}
