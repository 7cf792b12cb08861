// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package realtime

import (
	"time"

	"github.com/ManuGH/babybridge/internal/clock"
)

// Freshness windows used by the app endpoints.
const (
	StatusFreshWindow  = 5 * time.Minute
	ConnectFreshWindow = time.Minute
)

// Freshness describes how old the last reading is.
type Freshness struct {
	LastUpdate *string  `json:"last_update"`
	AgeSeconds *float64 `json:"age_seconds"`
	IsFresh    bool     `json:"is_fresh"`
}

// NewFreshness compares last against now. A zero last yields an empty,
// stale result.
func NewFreshness(last, now time.Time, window time.Duration) Freshness {
	if last.IsZero() {
		return Freshness{}
	}
	ts := clock.ISO(last)
	age := now.Sub(last).Seconds()
	return Freshness{
		LastUpdate: &ts,
		AgeSeconds: &age,
		IsFresh:    age < window.Seconds(),
	}
}
