// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify holds the app notification preferences and raises
// emergency alerts.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/babybridge/internal/clock"
)

// SettingsKey is the state key of the notification settings.
const SettingsKey = "notification_settings"

// QuietHours suppress alerts between Start and End (HH:MM, KST). The window
// may cross midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Settings are the notification preferences shared by all apps.
type Settings struct {
	BabyDetected     bool       `json:"baby_detected"`
	BabyNotDetected  bool       `json:"baby_not_detected"`
	EnvironmentAlert bool       `json:"environment_alert"`
	SystemStatus     bool       `json:"system_status"`
	QuietHours       QuietHours `json:"quiet_hours"`
}

// Defaults returns the settings used until an app saves its own.
func Defaults() Settings {
	return Settings{
		BabyDetected:     true,
		BabyNotDetected:  false,
		EnvironmentAlert: true,
		SystemStatus:     false,
		QuietHours:       QuietHours{Enabled: true, Start: "22:00", End: "07:00"},
	}
}

// Validate merges the known keys of input on top of the defaults. Unknown
// keys are ignored and values are coerced like JSON truthiness.
func Validate(input map[string]any) Settings {
	s := Defaults()
	if input == nil {
		return s
	}
	flags := map[string]*bool{
		"baby_detected":     &s.BabyDetected,
		"baby_not_detected": &s.BabyNotDetected,
		"environment_alert": &s.EnvironmentAlert,
		"system_status":     &s.SystemStatus,
	}
	for key, dst := range flags {
		if v, ok := input[key]; ok {
			*dst = truthy(v)
		}
	}

	qh, ok := input["quiet_hours"].(map[string]any)
	if !ok {
		return s
	}
	if v, ok := qh["enabled"]; ok {
		s.QuietHours.Enabled = truthy(v)
	}
	if v, ok := qh["start"]; ok {
		s.QuietHours.Start = fmt.Sprint(v)
	}
	if v, ok := qh["end"]; ok {
		s.QuietHours.End = fmt.Sprint(v)
	}
	return s
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse(clock.HourMinute, s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// InQuietHours reports whether t (converted to KST) falls inside the quiet
// window. Unparseable bounds disable the window.
func InQuietHours(s Settings, t time.Time) bool {
	if !s.QuietHours.Enabled {
		return false
	}
	start, ok1 := parseClock(s.QuietHours.Start)
	end, ok2 := parseClock(s.QuietHours.End)
	if !ok1 || !ok2 || start == end {
		return false
	}
	k := t.In(clock.KST)
	now := k.Hour()*60 + k.Minute()
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// KV is the storage the settings live in.
type KV interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Repository loads and saves settings.
type Repository struct {
	kv KV
}

// NewRepository wraps kv.
func NewRepository(kv KV) *Repository { return &Repository{kv: kv} }

// Load returns the stored settings or the defaults.
func (r *Repository) Load(ctx context.Context) (Settings, error) {
	s := Defaults()
	ok, err := r.kv.GetJSON(ctx, SettingsKey, &s)
	if err != nil {
		return Defaults(), err
	}
	if !ok {
		return Defaults(), nil
	}
	return s, nil
}

// Save validates input, stores and returns the result.
func (r *Repository) Save(ctx context.Context, input map[string]any) (Settings, error) {
	s := Validate(input)
	if err := r.kv.PutJSON(ctx, SettingsKey, s, 0); err != nil {
		return s, err
	}
	return s, nil
}
