// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate checks cross-field constraints. All violations are reported at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		add("server.listenAddr %q: %v", cfg.Server.ListenAddr, err)
	}
	if cfg.Server.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.MetricsAddr); err != nil {
			add("server.metricsAddr %q: %v", cfg.Server.MetricsAddr, err)
		}
	}
	if cfg.Server.RateLimit < 0 || cfg.Server.IngestRateLimit < 0 {
		add("server rate limits must not be negative")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		add("server.maxBodyBytes must be positive")
	}

	if cfg.Redis.DataTTL <= 0 || cfg.Redis.ImageTTL <= 0 {
		add("redis TTLs must be positive")
	}

	switch cfg.Images.Backend {
	case ImageBackendFS, ImageBackendBadger, ImageBackendNone:
	default:
		add("images.backend %q: want fs, badger or none", cfg.Images.Backend)
	}
	if cfg.Images.ThumbnailWidth <= 0 || cfg.Images.ThumbnailHeight <= 0 {
		add("images thumbnail bounds must be positive")
	}
	if !validQuality(cfg.Images.ThumbnailQuality) || !validQuality(cfg.Images.ArchiveQuality) {
		add("images JPEG quality must be within 1..100")
	}
	if cfg.Images.Retention <= 0 {
		add("images.retention must be positive")
	}

	if net.ParseIP(cfg.Devices.ESP32IP) == nil && cfg.Devices.ESP32IP != "" {
		add("devices.esp32IP %q is not an IP address", cfg.Devices.ESP32IP)
	}
	if net.ParseIP(cfg.Devices.EyeIP) == nil && cfg.Devices.EyeIP != "" {
		add("devices.eyeIP %q is not an IP address", cfg.Devices.EyeIP)
	}
	if cfg.Devices.CommandTimeout <= 0 {
		add("devices.commandTimeout must be positive")
	}
	if cfg.Devices.CommandRate <= 0 || cfg.Devices.CommandBurst <= 0 {
		add("devices command rate and burst must be positive")
	}

	if cfg.Realtime.HeartbeatInterval <= 0 || cfg.Realtime.IdlePing <= 0 {
		add("realtime intervals must be positive")
	}
	if cfg.Realtime.SendQueue <= 0 {
		add("realtime.sendQueue must be positive")
	}

	a := cfg.Alerts
	if a.TempMin > a.TempMax || a.TempExtremeLow > a.TempMin || a.TempExtremeHigh < a.TempMax {
		add("alerts temperature thresholds must satisfy extremeLow <= min <= max <= extremeHigh")
	}
	if a.HumidityMin > a.HumidityMax || a.HumidityExtremeLow > a.HumidityMin || a.HumidityExtremeHigh < a.HumidityMax {
		add("alerts humidity thresholds must satisfy extremeLow <= min <= max <= extremeHigh")
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Exporter != "grpc" && cfg.Telemetry.Exporter != "http" {
			add("telemetry.exporter %q: want grpc or http", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate must be within 0..1")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validQuality(q int) bool { return q >= 1 && q <= 100 }
