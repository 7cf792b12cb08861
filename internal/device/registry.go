// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device normalises ESP32 payloads and tracks device presence.
package device

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
)

// Kind identifies a device on the nursery network.
type Kind string

const (
	KindESP32 Kind = "esp32"
	KindEye   Kind = "esp_eye"
)

// Status is the connection state of a device.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusTimeout      Status = "timeout"
	StatusError        Status = "error"
)

// DeviceState is the externally visible state of one device.
type DeviceState struct {
	IP        string     `json:"ip"`
	Status    Status     `json:"status"`
	LastSeen  *time.Time `json:"last_seen"`
	Connected bool       `json:"connected"`
}

// Overall summarises every device.
type Overall struct {
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	AnyConnected  bool       `json:"any_connected"`
	BothConnected bool       `json:"both_connected"`
}

// Snapshot is the registry state at one instant.
type Snapshot struct {
	ESP32   DeviceState `json:"esp32"`
	ESPEye  DeviceState `json:"esp_eye"`
	Overall Overall     `json:"overall"`
}

type entry struct {
	ip       string
	status   Status
	lastSeen time.Time
}

// Registry tracks the ESP32 sensor board and the ESP Eye camera.
// It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	devices       map[Kind]*entry
	lastHeartbeat time.Time
	clock         clock.Clock
	logger        zerolog.Logger
}

// NewRegistry seeds the registry with the configured device addresses.
func NewRegistry(esp32IP, eyeIP string, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Registry{
		devices: map[Kind]*entry{
			KindESP32: {ip: esp32IP, status: StatusDisconnected},
			KindEye:   {ip: eyeIP, status: StatusDisconnected},
		},
		clock:  clk,
		logger: log.WithComponent("device"),
	}
	metrics.SetDeviceConnected(string(KindESP32), false)
	metrics.SetDeviceConnected(string(KindEye), false)
	return r
}

// MarkSeen records a payload from kind at ip. Devices get their address by
// DHCP, so the last sender address wins.
func (r *Registry) MarkSeen(kind Kind, ip string) {
	now := r.clock.Now()

	r.mu.Lock()
	e, ok := r.devices[kind]
	if !ok {
		e = &entry{}
		r.devices[kind] = e
	}
	prev := e.status
	if ip != "" {
		e.ip = ip
	}
	e.status = StatusConnected
	e.lastSeen = now
	r.lastHeartbeat = now
	r.mu.Unlock()

	if prev != StatusConnected {
		r.logger.Info().
			Str(log.FieldEvent, "device.connected").
			Str(log.FieldDevice, string(kind)).
			Str(log.FieldDeviceIP, ip).
			Str(log.FieldOldState, string(prev)).
			Msg("device reporting")
		metrics.SetDeviceConnected(string(kind), true)
	}
}

// SetStatus records the outcome of talking to a device.
func (r *Registry) SetStatus(kind Kind, status Status) {
	r.mu.Lock()
	e, ok := r.devices[kind]
	if !ok {
		r.mu.Unlock()
		return
	}
	prev := e.status
	e.status = status
	r.mu.Unlock()

	if prev != status {
		r.logger.Warn().
			Str(log.FieldEvent, "device.status_changed").
			Str(log.FieldDevice, string(kind)).
			Str(log.FieldOldState, string(prev)).
			Str(log.FieldNewState, string(status)).
			Msg("device status changed")
		metrics.SetDeviceConnected(string(kind), status == StatusConnected)
	}
}

// IP returns the last known address of kind.
func (r *Registry) IP(kind Kind) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.devices[kind]; ok {
		return e.ip
	}
	return ""
}

// Status returns the status of kind.
func (r *Registry) Status(kind Kind) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.devices[kind]; ok {
		return e.status
	}
	return StatusDisconnected
}

// LastHeartbeat returns when any device last reported, or zero.
func (r *Registry) LastHeartbeat() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHeartbeat
}

// Sweep marks connected devices silent for longer than maxAge as
// disconnected and returns the affected kinds.
func (r *Registry) Sweep(maxAge time.Duration) []Kind {
	now := r.clock.Now()
	var stale []Kind

	r.mu.RLock()
	for kind, e := range r.devices {
		if e.status == StatusConnected && now.Sub(e.lastSeen) > maxAge {
			stale = append(stale, kind)
		}
	}
	r.mu.RUnlock()

	for _, kind := range stale {
		r.SetStatus(kind, StatusDisconnected)
	}
	return stale
}

// Snapshot returns a consistent copy of the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	esp := r.stateLocked(KindESP32)
	eye := r.stateLocked(KindEye)
	s := Snapshot{
		ESP32:  esp,
		ESPEye: eye,
		Overall: Overall{
			AnyConnected:  esp.Connected || eye.Connected,
			BothConnected: esp.Connected && eye.Connected,
		},
	}
	if !r.lastHeartbeat.IsZero() {
		hb := r.lastHeartbeat.In(clock.KST)
		s.Overall.LastHeartbeat = &hb
	}
	return s
}

func (r *Registry) stateLocked(kind Kind) DeviceState {
	e, ok := r.devices[kind]
	if !ok {
		return DeviceState{Status: StatusDisconnected}
	}
	st := DeviceState{IP: e.ip, Status: e.status, Connected: e.status == StatusConnected}
	if !e.lastSeen.IsZero() {
		seen := e.lastSeen.In(clock.KST)
		st.LastSeen = &seen
	}
	return st
}
