// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/babybridge/internal/log"
)

// Environment variable names.
const (
	EnvPort           = "PORT"
	EnvRedisURL       = "REDIS_URL"
	EnvListen         = "BABY_LISTEN"
	EnvMetricsListen  = "BABY_METRICS_LISTEN"
	EnvDataDir        = "BABY_DATA_DIR"
	EnvLogLevel       = "BABY_LOG_LEVEL"
	EnvCORSOrigins    = "BABY_CORS_ORIGINS"
	EnvTrustedProxies = "BABY_TRUSTED_PROXIES"
	EnvRateLimit      = "BABY_RATE_LIMIT"
	EnvRedisInsecure  = "BABY_REDIS_INSECURE_TLS"
	EnvSQLitePath     = "BABY_SQLITE_PATH"
	EnvImageBackend   = "BABY_IMAGE_BACKEND"
	EnvImageDir       = "BABY_IMAGE_DIR"
	EnvImageRetention = "BABY_IMAGE_RETENTION"
	EnvArchiveFrames  = "BABY_ARCHIVE_FRAMES"
	EnvESP32IP        = "BABY_ESP32_IP"
	EnvEyeIP          = "BABY_ESP_EYE_IP"
	EnvCommandTimeout = "BABY_COMMAND_TIMEOUT"
	EnvHeartbeat      = "BABY_HEARTBEAT_INTERVAL"
	EnvTracing        = "BABY_TRACING_ENABLED"
	EnvOTLPExporter   = "BABY_OTLP_EXPORTER"
	EnvOTLPEndpoint   = "BABY_OTLP_ENDPOINT"
	EnvSamplingRate   = "BABY_TRACING_SAMPLING_RATE"
)

// redisPort is what some hosting dashboards inject as PORT by mistake.
const redisPort = "6379"

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	l.resolvePaths(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file onto cfg with strict parsing.
// Unknown fields are fatal to prevent silent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	logger := log.WithComponent("config")

	cfg.DataDir = l.envString(EnvDataDir, cfg.DataDir)
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)

	cfg.Server.ListenAddr = l.envString(EnvListen, cfg.Server.ListenAddr)
	l.ConsumedEnvKeys[EnvPort] = struct{}{}
	if port := strings.TrimSpace(os.Getenv(EnvPort)); port != "" {
		if port == redisPort {
			logger.Warn().
				Str("event", "config.port_corrected").
				Str("port", port).
				Msg("PORT points at the Redis port, serving HTTP on 8000 instead")
			port = "8000"
		}
		cfg.Server.ListenAddr = ":" + port
	}
	cfg.Server.MetricsAddr = l.envString(EnvMetricsListen, cfg.Server.MetricsAddr)
	cfg.Server.CORSOrigins = l.envList(EnvCORSOrigins, cfg.Server.CORSOrigins)
	cfg.Server.TrustedProxies = l.envString(EnvTrustedProxies, cfg.Server.TrustedProxies)
	cfg.Server.RateLimit = l.envInt(EnvRateLimit, cfg.Server.RateLimit)

	cfg.Redis.URL = l.envString(EnvRedisURL, cfg.Redis.URL)
	cfg.Redis.InsecureTLS = l.envBool(EnvRedisInsecure, cfg.Redis.InsecureTLS)

	cfg.Store.SQLitePath = l.envString(EnvSQLitePath, cfg.Store.SQLitePath)

	cfg.Images.Backend = l.envString(EnvImageBackend, cfg.Images.Backend)
	cfg.Images.Dir = l.envString(EnvImageDir, cfg.Images.Dir)
	cfg.Images.Retention = l.envDuration(EnvImageRetention, cfg.Images.Retention)
	cfg.Images.ArchiveFrames = l.envBool(EnvArchiveFrames, cfg.Images.ArchiveFrames)

	cfg.Devices.ESP32IP = l.envString(EnvESP32IP, cfg.Devices.ESP32IP)
	cfg.Devices.EyeIP = l.envString(EnvEyeIP, cfg.Devices.EyeIP)
	cfg.Devices.CommandTimeout = l.envDuration(EnvCommandTimeout, cfg.Devices.CommandTimeout)

	cfg.Realtime.HeartbeatInterval = l.envDuration(EnvHeartbeat, cfg.Realtime.HeartbeatInterval)

	cfg.Telemetry.Enabled = l.envBool(EnvTracing, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString(EnvOTLPExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString(EnvOTLPEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvSamplingRate, cfg.Telemetry.SamplingRate)
}

// resolvePaths derives storage locations from DataDir when unset.
func (l *Loader) resolvePaths(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(cfg.DataDir, "history.db")
	}
	if cfg.Images.Dir == "" {
		cfg.Images.Dir = filepath.Join(cfg.DataDir, "images")
	}
}
