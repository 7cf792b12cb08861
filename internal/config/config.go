// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and validates the daemon configuration.
//
// Precedence is defaults, then the YAML file, then environment variables.
package config

import "time"

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Version  string `yaml:"-"`
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Images    ImagesConfig    `yaml:"images"`
	Devices   DevicesConfig   `yaml:"devices"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	MetricsAddr     string        `yaml:"metricsAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxConnections  int           `yaml:"maxConnections"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	TrustedProxies  string        `yaml:"trustedProxies"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `yaml:"rateLimit"`
	// IngestRateLimit applies to /esp32 routes, per device IP.
	IngestRateLimit int `yaml:"ingestRateLimit"`
}

// RedisConfig configures the shared state store.
type RedisConfig struct {
	URL               string        `yaml:"url"`
	InsecureTLS       bool          `yaml:"insecureTLS"`
	DataTTL           time.Duration `yaml:"dataTTL"`
	ImageTTL          time.Duration `yaml:"imageTTL"`
	ConnectRetryDelay time.Duration `yaml:"connectRetryDelay"`
	RecentImages      int           `yaml:"recentImages"`
	CommandLog        int           `yaml:"commandLog"`
}

// StoreConfig configures the SQLite history database.
type StoreConfig struct {
	SQLitePath   string        `yaml:"sqlitePath"`
	BusyTimeout  time.Duration `yaml:"busyTimeout"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
}

// Image archive backends.
const (
	ImageBackendFS     = "fs"
	ImageBackendBadger = "badger"
	ImageBackendNone   = "none"
)

// ImagesConfig configures frame processing and archival.
type ImagesConfig struct {
	Backend          string        `yaml:"backend"`
	Dir              string        `yaml:"dir"`
	Retention        time.Duration `yaml:"retention"`
	CleanupInterval  time.Duration `yaml:"cleanupInterval"`
	ThumbnailWidth   int           `yaml:"thumbnailWidth"`
	ThumbnailHeight  int           `yaml:"thumbnailHeight"`
	ThumbnailQuality int           `yaml:"thumbnailQuality"`
	ArchiveQuality   int           `yaml:"archiveQuality"`
	ArchiveFrames    bool          `yaml:"archiveFrames"`
}

// DevicesConfig describes the ESP32 boards and the outbound command path.
type DevicesConfig struct {
	ESP32IP          string        `yaml:"esp32IP"`
	EyeIP            string        `yaml:"eyeIP"`
	CommandTimeout   time.Duration `yaml:"commandTimeout"`
	StaleAfter       time.Duration `yaml:"staleAfter"`
	CommandRate      float64       `yaml:"commandRate"`
	CommandBurst     int           `yaml:"commandBurst"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// RealtimeConfig configures WebSocket fan-out.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	FreshWindow       time.Duration `yaml:"freshWindow"`
	IdlePing          time.Duration `yaml:"idlePing"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	SendQueue         int           `yaml:"sendQueue"`
	StreamStatsEvery  int           `yaml:"streamStatsEvery"`
}

// AlertsConfig holds the environment thresholds used for alert scoring.
type AlertsConfig struct {
	TempMin             float64 `yaml:"tempMin"`
	TempMax             float64 `yaml:"tempMax"`
	TempExtremeLow      float64 `yaml:"tempExtremeLow"`
	TempExtremeHigh     float64 `yaml:"tempExtremeHigh"`
	HumidityMin         float64 `yaml:"humidityMin"`
	HumidityMax         float64 `yaml:"humidityMax"`
	HumidityExtremeLow  float64 `yaml:"humidityExtremeLow"`
	HumidityExtremeHigh float64 `yaml:"humidityExtremeHigh"`
	BatteryLow          float64 `yaml:"batteryLow"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "data",
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:      ":8000",
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxConnections:  512,
			MaxBodyBytes:    8 << 20,
			CORSOrigins:     []string{"*"},
			RateLimit:       600,
			IngestRateLimit: 1200,
		},
		Redis: RedisConfig{
			DataTTL:           300 * time.Second,
			ImageTTL:          300 * time.Second,
			ConnectRetryDelay: 3 * time.Second,
			RecentImages:      20,
			CommandLog:        100,
		},
		Store: StoreConfig{
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 1,
		},
		Images: ImagesConfig{
			Backend:          ImageBackendFS,
			Retention:        7 * 24 * time.Hour,
			CleanupInterval:  time.Hour,
			ThumbnailWidth:   320,
			ThumbnailHeight:  240,
			ThumbnailQuality: 70,
			ArchiveQuality:   90,
		},
		Devices: DevicesConfig{
			ESP32IP:          "172.25.83.227",
			EyeIP:            "172.25.85.66",
			CommandTimeout:   5 * time.Second,
			StaleAfter:       2 * time.Minute,
			CommandRate:      5,
			CommandBurst:     10,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 5 * time.Second,
			FreshWindow:       30 * time.Second,
			IdlePing:          30 * time.Second,
			WriteTimeout:      10 * time.Second,
			SendQueue:         64,
			StreamStatsEvery:  30,
		},
		Alerts: AlertsConfig{
			TempMin:             20,
			TempMax:             24,
			TempExtremeLow:      18,
			TempExtremeHigh:     26,
			HumidityMin:         40,
			HumidityMax:         60,
			HumidityExtremeLow:  30,
			HumidityExtremeHigh: 80,
			BatteryLow:          20,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "production",
			SamplingRate: 1.0,
		},
	}
}
