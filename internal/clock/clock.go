// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package clock provides time sources and Korea Standard Time formatting.
package clock

import (
	"sync"
	"time"
	_ "time/tzdata" // Asia/Seoul must resolve in scratch containers.
)

// Layouts used in payloads shown to parents.
const (
	KoreanLong = "2006년 01월 02일 15:04:05"
	KoreanDate = "2006년 01월 02일"
	Simple     = "2006-01-02 15:04:05"
	HourMinute = "15:04"
	DateOnly   = "2006-01-02"

	TimezoneLabel = "Asia/Seoul (UTC+9)"
)

// KST is the Asia/Seoul location, or a fixed UTC+9 zone if the database is
// unavailable.
var KST = loadKST()

func loadKST() *time.Location {
	if loc, err := time.LoadLocation("Asia/Seoul"); err == nil {
		return loc
	}
	return time.FixedZone("KST", 9*60*60)
}

// Clock abstracts the wall clock for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Fixed is a manually advanced clock.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

// Now returns the frozen time.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// InKST converts t to Korea Standard Time.
func InKST(t time.Time) time.Time { return t.In(KST) }

// ISO formats t as an RFC3339 timestamp in KST, the form used for stored
// device timestamps.
func ISO(t time.Time) string { return t.In(KST).Format(time.RFC3339Nano) }

// ParseTimestamp accepts RFC3339 timestamps with or without a zone suffix.
// Zone-less values are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
}
