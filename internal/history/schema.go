// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

const schemaVersion = 1

// Timestamps are unix milliseconds; day is the KST calendar date (YYYY-MM-DD).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		day TEXT NOT NULL,
		device_ip TEXT NOT NULL DEFAULT '',
		temperature REAL NOT NULL,
		humidity REAL NOT NULL,
		movement INTEGER NOT NULL DEFAULT 0,
		sound_level REAL NOT NULL DEFAULT 0,
		noise INTEGER NOT NULL DEFAULT 0,
		battery REAL,
		alert_level TEXT NOT NULL,
		alert_score INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sensor_readings_ts ON sensor_readings(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_sensor_readings_day ON sensor_readings(day)`,
	`CREATE TABLE IF NOT EXISTS image_captures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		day TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		quality_score INTEGER NOT NULL DEFAULT 0,
		alert_level TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_image_captures_day ON image_captures(day)`,
	`CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		command TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		source TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS notification_devices (
		device_id TEXT PRIMARY KEY,
		push_token TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL,
		app_version TEXT NOT NULL DEFAULT '',
		registered_at INTEGER NOT NULL,
		last_active INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	)`,
}
