// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/state"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Baby Monitor Server is running!",
		"role":    "ESP32-CAM ↔ Mobile App Bridge",
		"version": s.cfg.Version,
		"status": map[string]any{
			"redis":                  redisStatus(s.deps.State),
			"storage_mode":           s.deps.State.Mode(),
			"active_app_connections": s.deps.Hub.Count(),
			"esp32":                  s.deps.Registry.Status(device.KindESP32),
		},
		"endpoints": map[string]string{
			"esp32_data":     "/esp32/data (POST) - 통합 데이터 수신",
			"esp32_sensor":   "/esp32/sensor (POST) - 센서 데이터",
			"esp32_image":    "/esp32/image (POST) - 이미지 데이터",
			"esp32_upload":   "/esp32/upload (POST) - JPEG 파일 업로드",
			"esp32_command":  "/esp32/command (POST) - ESP32 명령",
			"app_websocket":  "/app/stream (WebSocket)",
			"mjpeg_stream":   "/mjpeg/stream (GET)",
			"current_status": "/status",
			"time_info":      "/app/time",
			"health_check":   "/health",
		},
		"timestamp": clock.ISO(s.now()),
	})
}

// handleHealth is the legacy liveness document the apps poll. /healthz and
// /readyz serve the checker based variants.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "healthy",
		"redis":              s.deps.State.Available(),
		"storage_mode":       s.deps.State.Mode(),
		"esp32_connected":    s.deps.Registry.Status(device.KindESP32) == device.StatusConnected,
		"active_connections": s.deps.Hub.Count(),
		"timestamp":          clock.ISO(s.now()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Hub.Stats()
	body := map[string]any{
		"server": map[string]any{
			"status":         "running",
			"version":        s.cfg.Version,
			"startup_time":   clock.ISO(s.started),
			"uptime_seconds": s.uptime().Seconds(),
		},
		"redis": map[string]any{
			"available":    s.deps.State.Available(),
			"status":       redisStatus(s.deps.State),
			"storage_mode": s.deps.State.Mode(),
			"stats":        s.deps.State.Stats(r.Context()),
		},
		"esp32": map[string]any{
			"status": s.deps.Registry.Status(device.KindESP32),
			"ip":     nullable(s.deps.Registry.IP(device.KindESP32)),
		},
		"devices": s.deps.Registry.Snapshot(),
		"websocket": map[string]any{
			"active_connections":  stats.ActiveConnections,
			"connections_by_type": stats.ConnectionsByType,
		},
		"timestamp": clock.ISO(s.now()),
	}
	if s.deps.Relay != nil {
		body["mjpeg"] = s.deps.Relay.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTime(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Heartbeat != nil {
		writeJSON(w, http.StatusOK, s.deps.Heartbeat.TimeInfo())
		return
	}
	writeJSON(w, http.StatusOK, clock.Info(s.now(), s.started, s.deps.Registry.LastHeartbeat()))
}

func redisStatus(st *state.Store) string {
	if st.Available() {
		return "connected"
	}
	return "disconnected"
}

// connectionStats counts connected clients by type.
func (s *Server) connectionStats() map[string]int {
	return map[string]int{
		"total_connections": s.deps.Hub.Count(),
		"mobile_apps":       s.deps.Hub.CountByType(hub.TypeMobileApp),
		"web_clients":       s.deps.Hub.CountByType(hub.TypeWeb),
	}
}
