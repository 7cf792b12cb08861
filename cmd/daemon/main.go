// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/babybridge/internal/config"
	"github.com/ManuGH/babybridge/internal/daemon"
	bblog "github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/version"
)

// envConfigPath names an explicit YAML config file.
const envConfigPath = "BABY_CONFIG"

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "babybridge",
		Short:         "Bridge between ESP32 baby monitor devices and the mobile app",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML), defaults to $"+envConfigPath+" or <data dir>/config.yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	root.AddCommand(serve, newVersionCmd(), newHealthcheckCmd(), newStatusCmd(), newConfigCmd(&configPath))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// resolveConfigPath picks the explicit path, then $BABY_CONFIG, then an
// existing config.yaml in the data directory.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, config.Defaults().DataDir))
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func runServe(parent context.Context, explicitPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	bblog.Configure(bblog.Config{Level: "info", Version: version.Version})
	logger := bblog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := resolveConfigPath(explicitPath)
	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", configPath).
			Msg("failed to load configuration")
		return err
	}

	bblog.Reconfigure(bblog.Config{Level: cfg.LogLevel, Version: cfg.Version})
	logger = bblog.WithComponent("daemon")

	source := "env+defaults"
	if configPath != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("config_source", source).
		Str("config_path", configPath).
		Str("addr", cfg.Server.ListenAddr).
		Msg("starting babybridge")

	if cfg.Redis.URL != "" {
		logger.Info().Msgf("→ Redis: %s", maskURL(cfg.Redis.URL))
	} else {
		logger.Warn().Msg("→ Redis: not configured, state is kept in memory")
	}
	logger.Info().Msgf("→ ESP32: %s, ESP-EYE: %s", cfg.Devices.ESP32IP, cfg.Devices.EyeIP)
	logger.Info().Msgf("→ History: %s", cfg.Store.SQLitePath)
	logger.Info().Msgf("→ Images: %s (%s, retention %s)", cfg.Images.Dir, cfg.Images.Backend, cfg.Images.Retention)

	rt, err := daemon.Build(ctx, cfg, nil)
	if err != nil {
		logger.Error().Err(err).Str("event", "bootstrap.failed").Msg("failed to build runtime")
		return err
	}

	mgr, err := daemon.NewManager(cfg.Server, rt.ManagerDeps())
	if err != nil {
		_ = rt.Close(context.Background())
		logger.Error().Err(err).Str("event", "manager.creation.failed").Msg("failed to create daemon manager")
		return err
	}
	rt.RegisterHooks(mgr)

	var holder *config.ConfigHolder
	if configPath != "" {
		holder = config.NewConfigHolder(cfg, loader, configPath)
	}

	app := daemon.NewApp(logger, mgr, holder, rt)
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "manager.failed").Msg("daemon app failed")
		return err
	}

	logger.Info().Msg("server exiting")
	return nil
}
