// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
)

// ClampQuery bounds hours to [1,168] and limit to [1,1000]. Zero values
// select the defaults.
func ClampQuery(hours, limit int) (int, int) {
	if hours == 0 {
		hours = DefaultHours
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return min(max(hours, 1), MaxHours), min(max(limit, 1), MaxLimit)
}

// Entry is one row of the reading history.
type Entry struct {
	Timestamp        time.Time `json:"timestamp"`
	Temperature      float64   `json:"temperature"`
	Humidity         float64   `json:"humidity"`
	MovementDetected bool      `json:"movement_detected"`
	SoundLevel       float64   `json:"sound_level"`
	NoiseDetected    bool      `json:"noise_detected"`
	BatteryLevel     *float64  `json:"battery_level,omitempty"`
	AlertLevel       string    `json:"alert_level"`
	AlertScore       int       `json:"alert_score"`
}

// History returns readings from the last hours, newest first, after clamping.
func (s *Store) History(ctx context.Context, hours, limit int) ([]Entry, error) {
	hours, limit = ClampQuery(hours, limit)
	since := s.clock.Now().Add(-time.Duration(hours) * time.Hour).UnixMilli()

	rows, err := s.db.QueryContext(ctx, `SELECT ts, temperature, humidity, movement, sound_level, noise, battery, alert_level, alert_score
		FROM sensor_readings WHERE ts >= ? ORDER BY ts DESC, id DESC LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query readings: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var (
			e        Entry
			ts       int64
			movement int
			noise    int
			battery  sql.NullFloat64
		)
		if err := rows.Scan(&ts, &e.Temperature, &e.Humidity, &movement, &e.SoundLevel, &noise, &battery, &e.AlertLevel, &e.AlertScore); err != nil {
			return nil, fmt.Errorf("history: scan reading: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).In(clock.KST)
		e.MovementDetected = movement != 0
		e.NoiseDetected = noise != 0
		if battery.Valid {
			b := battery.Float64
			e.BatteryLevel = &b
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DailyStats summarises one KST calendar day.
type DailyStats struct {
	Readings           int     `json:"readings"`
	TotalDetections    int     `json:"total_detections"`
	SleepDuration      string  `json:"sleep_duration"`
	AverageTemperature float64 `json:"average_temperature"`
	AverageHumidity    float64 `json:"average_humidity"`
	AlertsCount        int     `json:"alerts_count"`
	ImagesCaptured     int     `json:"images_captured"`
}

// Averages reported for a day without readings.
const (
	defaultAverageTemperature = 22.5
	defaultAverageHumidity    = 55.0
)

// DailyStats aggregates readings and captures for the KST date of day.
func (s *Store) DailyStats(ctx context.Context, day time.Time) (DailyStats, error) {
	key := dayOf(day)
	st := DailyStats{
		SleepDuration:      "00:00:00",
		AverageTemperature: defaultAverageTemperature,
		AverageHumidity:    defaultAverageHumidity,
	}

	var (
		avgT, avgH         sql.NullFloat64
		detections, alerts sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(temperature), AVG(humidity),
			SUM(movement), SUM(CASE WHEN alert_level <> ? THEN 1 ELSE 0 END)
		FROM sensor_readings WHERE day = ?`, device.AlertLow, key).
		Scan(&st.Readings, &avgT, &avgH, &detections, &alerts)
	if err != nil {
		return DailyStats{}, fmt.Errorf("history: daily readings: %w", err)
	}
	if st.Readings > 0 {
		st.AverageTemperature = round1(avgT.Float64)
		st.AverageHumidity = round1(avgH.Float64)
		st.TotalDetections = int(detections.Int64)
		st.AlertsCount = int(alerts.Int64)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM image_captures WHERE day = ?`, key).
		Scan(&st.ImagesCaptured); err != nil {
		return DailyStats{}, fmt.Errorf("history: daily captures: %w", err)
	}
	return st, nil
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
