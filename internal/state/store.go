// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package state keeps the latest device data in Redis and falls back to
// process memory whenever Redis is missing or failing.
package state

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/cache"
	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
)

// Keys shared with other consumers of the Redis instance.
const (
	KeyCurrentData          = "current_esp32_data"
	KeyLatestImage          = "latest_image"
	KeyRecentImages         = "recent_images"
	KeyNotificationSettings = "notification_settings"
	KeyCommandLog           = "command_log"
	KeyStreamStatus         = "stream_status"
)

// Storage modes reported by Stats.
const (
	ModeRedis  = "redis"
	ModeMemory = "memory"
)

const opTimeout = 2 * time.Second

// ErrNoRedis is returned by Reconnect when no Redis URL is configured.
var ErrNoRedis = errors.New("redis not configured")

// Config configures the store.
type Config struct {
	URL               string
	InsecureTLS       bool
	DataTTL           time.Duration
	ImageTTL          time.Duration
	ConnectRetryDelay time.Duration
	RecentImages      int
	CommandLog        int
}

func (c *Config) applyDefaults() {
	if c.DataTTL <= 0 {
		c.DataTTL = 300 * time.Second
	}
	if c.ImageTTL <= 0 {
		c.ImageTTL = 300 * time.Second
	}
	if c.RecentImages <= 0 {
		c.RecentImages = 20
	}
	if c.CommandLog <= 0 {
		c.CommandLog = 100
	}
}

// Store is the Redis manager. All methods are safe for concurrent use.
type Store struct {
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger
	mem    *cache.Memory

	mu        sync.RWMutex
	client    *redis.Client
	available atomic.Bool
}

// New connects to Redis if a URL is configured, retrying once after
// ConnectRetryDelay. Connection failure is not an error: the store starts
// in memory mode and can be promoted later with Reconnect.
func New(ctx context.Context, cfg Config, clk clock.Clock) *Store {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	s := &Store{
		cfg:    cfg,
		clock:  clk,
		logger: log.WithComponent("state"),
		mem:    cache.NewMemory(time.Minute, clk),
	}

	if cfg.URL == "" {
		s.logger.Info().Str(log.FieldEvent, "state.memory_mode").Msg("REDIS_URL not set, using in-memory state")
		s.setAvailable(false)
		return s
	}

	err := s.connect(ctx)
	if err != nil && cfg.ConnectRetryDelay > 0 {
		s.logger.Warn().Err(err).Dur("retry_in", cfg.ConnectRetryDelay).Msg("redis connection failed, retrying once")
		select {
		case <-ctx.Done():
		case <-time.After(cfg.ConnectRetryDelay):
			err = s.connect(ctx)
		}
	}
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "state.memory_mode").Msg("redis unavailable, using in-memory state")
	}
	return s
}

// NewWithClient wraps an existing client, e.g. one pointing at miniredis.
func NewWithClient(client *redis.Client, cfg Config, clk clock.Clock) *Store {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	s := &Store{
		cfg:    cfg,
		clock:  clk,
		logger: log.WithComponent("state"),
		mem:    cache.NewMemory(0, clk),
		client: client,
	}
	s.setAvailable(client != nil)
	return s
}

func (s *Store) connect(ctx context.Context) error {
	opts, err := redis.ParseURL(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 10 * time.Second
	opts.WriteTimeout = 10 * time.Second
	opts.PoolSize = 3
	if opts.TLSConfig != nil && s.cfg.InsecureTLS {
		opts.TLSConfig = &tls.Config{
			ServerName:         opts.TLSConfig.ServerName,
			InsecureSkipVerify: true, // #nosec G402 -- opt-in for managed Redis with self-signed chains
			MinVersion:         tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}

	s.mu.Lock()
	old := s.client
	s.client = client
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	s.setAvailable(true)

	s.logger.Info().
		Str(log.FieldEvent, "state.redis_connected").
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Bool("tls", opts.TLSConfig != nil).
		Msg("connected to Redis")
	return nil
}

// Reconnect re-establishes the Redis connection.
func (s *Store) Reconnect(ctx context.Context) error {
	if s.cfg.URL == "" {
		return ErrNoRedis
	}
	return s.connect(ctx)
}

// Available reports whether Redis is currently used.
func (s *Store) Available() bool { return s.available.Load() }

// Mode returns ModeRedis or ModeMemory.
func (s *Store) Mode() string {
	if s.Available() {
		return ModeRedis
	}
	return ModeMemory
}

// Configured reports whether a Redis URL was provided.
func (s *Store) Configured() bool { return s.cfg.URL != "" || s.redis() != nil }

func (s *Store) setAvailable(v bool) {
	s.available.Store(v)
	if v {
		metrics.SetStorageMode(ModeRedis)
	} else {
		metrics.SetStorageMode(ModeMemory)
	}
}

func (s *Store) redis() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// active returns the client only while Redis is usable.
func (s *Store) active() *redis.Client {
	if !s.Available() {
		return nil
	}
	return s.redis()
}

// demote switches to memory mode after a Redis failure.
func (s *Store) demote(op string, err error) {
	metrics.RecordStateFallback(op)
	if s.available.CompareAndSwap(true, false) {
		metrics.SetStorageMode(ModeMemory)
		s.logger.Error().
			Err(err).
			Str(log.FieldEvent, "state.redis_failed").
			Str("op", op).
			Msg("redis operation failed, switching to in-memory state")
	}
}

// Ping checks Redis. It returns ErrNoRedis in memory mode.
func (s *Store) Ping(ctx context.Context) error {
	c := s.active()
	if c == nil {
		return ErrNoRedis
	}
	return c.Ping(ctx).Err()
}

// Close releases the Redis connection and the memory janitor.
func (s *Store) Close() error {
	s.mem.Stop()
	if c := s.redis(); c != nil {
		return c.Close()
	}
	return nil
}

// PutJSON stores v at key with ttl (0 = no expiry).
func (s *Store) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if c := s.active(); c != nil {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		if err := c.Set(opCtx, key, data, ttl).Err(); err == nil {
			return nil
		} else {
			s.demote("set", err)
		}
	}
	s.mem.Set(key, data, ttl)
	return nil
}

// GetJSON loads key into dst. found is false if the key is missing or expired.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) (found bool, err error) {
	var data []byte
	if c := s.active(); c != nil {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		data, err = c.Get(opCtx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			return false, nil
		case err != nil:
			s.demote("get", err)
			data = nil
		}
	}
	if data == nil {
		var ok bool
		if data, ok = s.mem.Get(key); !ok {
			return false, nil
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// PushJSON prepends v to the list at key, keeping at most max entries.
func (s *Store) PushJSON(ctx context.Context, key string, v any, max int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if c := s.active(); c != nil {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		_, err := c.TxPipelined(opCtx, func(p redis.Pipeliner) error {
			p.LPush(opCtx, key, data)
			p.LTrim(opCtx, key, 0, int64(max-1))
			return nil
		})
		if err == nil {
			return nil
		}
		s.demote("push", err)
	}
	s.mem.PushCapped(key, data, max)
	return nil
}

// RangeJSON decodes up to n list entries at key, newest first, via decode.
func (s *Store) RangeJSON(ctx context.Context, key string, n int, decode func([]byte) error) error {
	var items [][]byte
	fromRedis := false
	if c := s.active(); c != nil {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		vals, err := c.LRange(opCtx, key, 0, int64(n-1)).Result()
		if err == nil {
			fromRedis = true
			items = make([][]byte, len(vals))
			for i, v := range vals {
				items[i] = []byte(v)
			}
		} else {
			s.demote("range", err)
		}
	}
	if !fromRedis {
		items = s.mem.Range(key, n)
	}
	for _, it := range items {
		if err := decode(it); err != nil {
			return fmt.Errorf("decode %s entry: %w", key, err)
		}
	}
	return nil
}

// Stats describes the storage backend.
type Stats struct {
	Available        bool   `json:"available"`
	StorageMode      string `json:"storage_mode"`
	MemoryItems      int    `json:"memory_items"`
	RedisVersion     string `json:"redis_version,omitempty"`
	ConnectedClients string `json:"connected_clients,omitempty"`
	UsedMemoryHuman  string `json:"used_memory_human,omitempty"`
}

// Stats reports the storage mode and, when connected, server details.
func (s *Store) Stats(ctx context.Context) Stats {
	st := Stats{
		Available:   s.Available(),
		StorageMode: s.Mode(),
		MemoryItems: s.mem.Stats().Keys,
	}
	if c := s.active(); c != nil {
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		if info, err := c.Info(opCtx).Result(); err == nil {
			fields := parseInfo(info)
			st.RedisVersion = fields["redis_version"]
			st.ConnectedClients = fields["connected_clients"]
			st.UsedMemoryHuman = fields["used_memory_human"]
		}
	}
	return st
}

// parseInfo turns INFO output into a flat map.
func parseInfo(info string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[k] = v
		}
	}
	return out
}

// TestConnection mirrors the admin connectivity probe.
func (s *Store) TestConnection(ctx context.Context) map[string]any {
	if !s.Available() {
		return map[string]any{"status": "not_available", "mode": ModeMemory}
	}
	if err := s.Ping(ctx); err != nil {
		return map[string]any{"status": "failed", "error": err.Error()}
	}
	return map[string]any{"status": "connected", "ping": true}
}
