// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/babybridge/internal/clock"
)

// Registration is an app installation subscribed to push notifications.
type Registration struct {
	DeviceID     string    `json:"device_id"`
	PushToken    string    `json:"push_token,omitempty"`
	Platform     string    `json:"platform"`
	AppVersion   string    `json:"app_version,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActive   time.Time `json:"last_active"`
	Active       bool      `json:"active"`
}

// RegisterDevice inserts or reactivates a registration. The original
// registration time is kept on re-registration.
func (s *Store) RegisterDevice(ctx context.Context, r Registration) (Registration, error) {
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO notification_devices
		(device_id, push_token, platform, app_version, registered_at, last_active, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(device_id) DO UPDATE SET
			push_token = excluded.push_token,
			platform = excluded.platform,
			app_version = excluded.app_version,
			last_active = excluded.last_active,
			active = 1`,
		r.DeviceID, r.PushToken, r.Platform, r.AppVersion, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Registration{}, fmt.Errorf("history: register device: %w", err)
	}
	return s.device(ctx, r.DeviceID)
}

// UnregisterDevice deactivates a registration.
func (s *Store) UnregisterDevice(ctx context.Context, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notification_devices SET active = 0, last_active = ? WHERE device_id = ?`,
		s.clock.Now().UnixMilli(), deviceID)
	if err != nil {
		return fmt.Errorf("history: unregister device: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ActiveDevices lists active registrations, most recently active first.
func (s *Store) ActiveDevices(ctx context.Context) ([]Registration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_id, push_token, platform, app_version, registered_at, last_active, active
		FROM notification_devices WHERE active = 1 ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("history: list devices: %w", err)
	}
	defer rows.Close()

	out := make([]Registration, 0)
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) device(ctx context.Context, id string) (Registration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT device_id, push_token, platform, app_version, registered_at, last_active, active
		FROM notification_devices WHERE device_id = ?`, id)
	return scanRegistration(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistration(sc scanner) (Registration, error) {
	var (
		r                      Registration
		registered, lastActive int64
		activeFlag             int
	)
	if err := sc.Scan(&r.DeviceID, &r.PushToken, &r.Platform, &r.AppVersion, &registered, &lastActive, &activeFlag); err != nil {
		return Registration{}, fmt.Errorf("history: scan device: %w", err)
	}
	r.RegisteredAt = time.UnixMilli(registered).In(clock.KST)
	r.LastActive = time.UnixMilli(lastActive).In(clock.KST)
	r.Active = activeFlag != 0
	return r, nil
}
