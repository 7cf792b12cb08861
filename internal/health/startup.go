// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"os"

	"github.com/ManuGH/babybridge/internal/config"
	"github.com/ManuGH/babybridge/internal/log"
)

// PerformStartupChecks validates the environment before the server starts.
// Missing data directories are created.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running startup checks")

	dirs := []string{cfg.DataDir}
	if cfg.Images.Backend == config.ImageBackendFS {
		dirs = append(dirs, cfg.Images.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := checkWritableDir(dir); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
	}

	for _, ip := range []string{cfg.Devices.ESP32IP, cfg.Devices.EyeIP} {
		if ip == "" {
			continue
		}
		host := ip
		if h, _, err := net.SplitHostPort(ip); err == nil {
			host = h
		}
		if net.ParseIP(host) == nil {
			logger.Warn().Str(log.FieldDeviceIP, ip).Msg("device address is not an IP, relying on DNS")
		}
	}

	logger.Info().Msg("startup checks passed")
	return nil
}
