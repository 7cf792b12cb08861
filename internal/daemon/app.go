// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/babybridge/internal/config"
	"github.com/ManuGH/babybridge/internal/log"
)

const defaultReconnectInterval = 30 * time.Second

// App owns the long-lived runtime lifecycle (watchers, reload wiring, background
// loops) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	rt           *Runtime
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder may be nil when the
// config is not reloadable.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.ConfigHolder, rt *Runtime) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		rt:           rt,
		reloadSignal: syscall.SIGHUP,
	}
}

func (a *App) config() config.AppConfig {
	if a.cfgHolder != nil {
		return a.cfgHolder.Get()
	}
	return a.rt.Config
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.rt != nil {
		a.startLoops(ctx, g)
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// apply pushes the reloadable parts of cfg into the running components.
func (a *App) apply(cfg config.AppConfig) {
	if a.rt != nil {
		a.rt.Ingest.SetOptions(ingestOptions(cfg))
	}
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	a.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Float64("temp_min", cfg.Alerts.TempMin).
		Float64("temp_max", cfg.Alerts.TempMax).
		Dur("image_retention", cfg.Images.Retention).
		Msg("applied reloaded configuration")
}

func (a *App) startLoops(ctx context.Context, g *errgroup.Group) {
	rt := a.rt

	g.Go(func() error { return rt.Heartbeat.Run(ctx) })

	if stale := rt.Config.Devices.StaleAfter; stale > 0 {
		g.Go(func() error {
			every(ctx, max(stale/2, time.Second), func() {
				for _, kind := range rt.Registry.Sweep(stale) {
					a.logger.Warn().
						Str(log.FieldEvent, "device.timeout").
						Str("device", string(kind)).
						Dur("stale_after", stale).
						Msg("device heartbeat timed out")
				}
			})
			return nil
		})
	}

	if interval := rt.Config.Images.CleanupInterval; interval > 0 {
		g.Go(func() error {
			every(ctx, interval, func() { a.cleanupImages(ctx) })
			return nil
		})
	}

	if rt.State.Configured() {
		interval := rt.Config.Redis.ConnectRetryDelay
		if interval <= 0 {
			interval = defaultReconnectInterval
		}
		g.Go(func() error {
			every(ctx, interval, func() {
				if rt.State.Available() {
					return
				}
				if err := rt.State.Reconnect(ctx); err != nil {
					a.logger.Debug().Err(err).Str(log.FieldEvent, "state.reconnect_failed").Msg("redis still unavailable")
					return
				}
				a.logger.Info().Str(log.FieldEvent, "state.reconnected").Msg("redis connection restored")
			})
			return nil
		})
	}
}

func (a *App) cleanupImages(ctx context.Context) {
	retention := a.config().Images.Retention
	if retention <= 0 {
		return
	}
	n, err := a.rt.Images.Cleanup(ctx, retention)
	if err != nil {
		a.logger.Error().Err(err).Str(log.FieldEvent, "images.cleanup_failed").Msg("image retention cleanup failed")
		return
	}
	if n > 0 {
		a.logger.Info().
			Str(log.FieldEvent, "images.cleanup").
			Int("deleted", n).
			Dur("retention", retention).
			Msg("removed expired images")
	}
}

// every calls fn on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
