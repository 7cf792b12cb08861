// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history persists sensor readings, captures, commands and
// notification registrations in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/persistence/sqlite"
)

// Query bounds.
const (
	DefaultHours = 24
	MaxHours     = 168
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ErrDeviceNotFound is returned when unregistering an unknown device.
var ErrDeviceNotFound = errors.New("notification device not found")

// Store is the SQLite-backed history.
type Store struct {
	db     *sql.DB
	clock  clock.Clock
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, cfg sqlite.Config, clk clock.Clock) (*Store, error) {
	db, err := sqlite.Open(ctx, path, cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, clk)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the schema.
func New(ctx context.Context, db *sql.DB, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	s := &Store{db: db, clock: clk, logger: log.WithComponent("history")}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&current); err != nil {
		return fmt.Errorf("history: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)); err != nil {
		return fmt.Errorf("history: set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit migration: %w", err)
	}

	s.logger.Info().Int("from", current).Int("to", schemaVersion).Msg("history schema migrated")
	return nil
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database and runs a quick integrity check.
func (s *Store) Ping(ctx context.Context) error {
	issues, err := sqlite.VerifyIntegrity(ctx, s.db, sqlite.CheckQuick)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("history: integrity check: %v", issues)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func dayOf(t time.Time) string { return t.In(clock.KST).Format(clock.DateOnly) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RecordReading appends a sensor reading.
func (s *Store) RecordReading(ctx context.Context, r device.Reading) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	var battery sql.NullFloat64
	if r.BatteryLevel != nil {
		battery = sql.NullFloat64{Float64: *r.BatteryLevel, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO sensor_readings
		(ts, day, device_ip, temperature, humidity, movement, sound_level, noise, battery, alert_level, alert_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(), dayOf(ts), r.DeviceIP, r.Temperature, r.Humidity,
		boolInt(r.MovementDetected), r.SoundLevel, boolInt(r.NoiseDetected), battery,
		r.AlertLevel, r.AlertScore)
	if err != nil {
		return fmt.Errorf("history: record reading: %w", err)
	}
	return nil
}

// Capture is one archived or relayed camera frame.
type Capture struct {
	At           time.Time
	Filename     string
	Source       string
	SizeBytes    int
	Width        int
	Height       int
	QualityScore int
	AlertLevel   string
}

// RecordCapture appends an image capture.
func (s *Store) RecordCapture(ctx context.Context, c Capture) error {
	if c.At.IsZero() {
		c.At = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO image_captures
		(ts, day, filename, source, size_bytes, width, height, quality_score, alert_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.At.UnixMilli(), dayOf(c.At), c.Filename, c.Source, c.SizeBytes, c.Width, c.Height,
		c.QualityScore, c.AlertLevel)
	if err != nil {
		return fmt.Errorf("history: record capture: %w", err)
	}
	return nil
}

// Command is one forwarded device command.
type Command struct {
	At      time.Time
	Command string
	Params  map[string]any
	Source  string
	Success bool
	Error   string
}

// RecordCommand appends a command outcome.
func (s *Store) RecordCommand(ctx context.Context, c Command) error {
	if c.At.IsZero() {
		c.At = s.clock.Now()
	}
	params := []byte("{}")
	if len(c.Params) > 0 {
		var err error
		if params, err = json.Marshal(c.Params); err != nil {
			return fmt.Errorf("history: encode params: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO commands (ts, command, params, source, success, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.At.UnixMilli(), c.Command, string(params), c.Source, boolInt(c.Success), c.Error)
	if err != nil {
		return fmt.Errorf("history: record command: %w", err)
	}
	return nil
}
