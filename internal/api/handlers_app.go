// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/esp32"
	"github.com/ManuGH/babybridge/internal/history"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/realtime"
)

// Values reported by /app/data/latest before the first reading arrives.
const (
	placeholderTemperature = 22.5
	placeholderHumidity    = 55.0
)

func (s *Server) registerAppRoutes(r chi.Router) {
	r.Get("/stream", s.handleAppStream)
	r.Get("/time", s.handleTime)
	r.Get("/data/latest", s.handleAppLatestData)
	r.Get("/data/history", s.handleAppHistory)
	r.Get("/images/latest", s.handleAppLatestImage)
	r.Get("/stats/daily", s.handleAppDailyStats)
	r.Post("/command", s.handleAppCommand)
	r.Get("/settings/notifications", s.handleGetNotificationSettings)
	r.Post("/settings/notifications", s.handleUpdateNotificationSettings)
	r.Post("/notifications/register", s.handleRegisterDevice)
	r.Post("/notifications/unregister", s.handleUnregisterDevice)
	r.Get("/ping", s.handleAppPing)
	r.Get("/status", s.handleAppStatus)
}

func (s *Server) handleAppStream(w http.ResponseWriter, r *http.Request) {
	clientType := r.URL.Query().Get("client_type")
	if clientType != hub.TypeWeb {
		clientType = hub.TypeMobileApp
	}
	info := map[string]any{
		"user_agent":  r.UserAgent(),
		"remote_addr": s.clientIP(r),
	}
	ctx := r.Context()
	s.deps.Hub.ServeWS(w, r, clientType, info, func(clientID string) {
		s.deps.Hub.SendTo(clientID, s.currentStatus(ctx))
	})
}

// currentStatus is pushed to every app right after it connects.
func (s *Server) currentStatus(ctx context.Context) hub.Message {
	now := s.now()
	kst := now.In(clock.KST)
	msg := hub.Message{
		"type":             "current_status",
		"data":             nil,
		"server_time_utc":  now.UTC().Format(time.RFC3339Nano),
		"server_time_kst":  clock.ISO(now),
		"local_time":       kst.Format(clock.KoreanLong),
		"formatted_time":   kst.Format("15:04:05"),
		"timezone":         "Asia/Seoul",
		"data_age_seconds": nil,
		"data_is_fresh":    false,
		"server_info":      s.serverInfo(),
		"timestamp":        clock.ISO(now),
	}

	latest, ok, err := s.deps.State.LatestReading(ctx)
	if err != nil {
		msg["error"] = "상태 조회 실패: " + err.Error()
		return msg
	}
	if ok {
		msg["data"] = latest
		f := realtime.NewFreshness(latest.Timestamp, now, realtime.ConnectFreshWindow)
		msg["data_age_seconds"] = f.AgeSeconds
		msg["data_is_fresh"] = f.IsFresh
	}
	return msg
}

func (s *Server) handleAppLatestData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := clock.ISO(s.now())

	var data any = map[string]any{
		"timestamp":     now,
		"baby_detected": false,
		"temperature":   placeholderTemperature,
		"humidity":      placeholderHumidity,
		"source":        "dummy",
	}
	latest, ok, err := s.deps.State.LatestReading(ctx)
	if err != nil {
		writeInternal(w, "데이터 조회 실패: "+err.Error())
		return
	}
	if ok {
		data = latest
	}

	body := map[string]any{
		"status":         "success",
		"timestamp":      now,
		"data":           data,
		"has_image":      false,
		"image_metadata": nil,
		"server_info":    s.serverInfo(),
	}
	if recent, err := s.deps.State.RecentImages(ctx, 1); err == nil && len(recent) > 0 {
		body["has_image"] = true
		body["image_metadata"] = recent[0].Metadata
	}
	writeJSON(w, http.StatusOK, body)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) handleAppHistory(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24)
	if err != nil {
		writeBadRequest(w, "hours must be an integer")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	hours, limit = history.ClampQuery(hours, limit)

	entries, err := s.deps.History.History(r.Context(), hours, limit)
	if err != nil {
		writeInternal(w, "히스토리 조회 실패: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"timestamp":  clock.ISO(s.now()),
		"params":     map[string]int{"hours": hours, "limit": limit},
		"data_count": len(entries),
		"history":    entries,
	})
}

func (s *Server) handleAppLatestImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	includeData, _ := strconv.ParseBool(r.URL.Query().Get("include_data"))

	recent, err := s.deps.State.RecentImages(ctx, 1)
	if err != nil {
		writeInternal(w, "이미지 조회 실패: "+err.Error())
		return
	}
	if len(recent) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "no_image",
			"message":   "최근 이미지가 없습니다",
			"timestamp": clock.ISO(s.now()),
		})
		return
	}

	rec := recent[0]
	format := rec.Metadata.Format
	if format == "" {
		format = "jpeg"
	}
	img := map[string]any{
		"timestamp":   rec.Timestamp,
		"metadata":    rec.Metadata,
		"size":        rec.Metadata.Size,
		"format":      format,
		"alert_level": rec.AlertLevel,
	}
	if includeData {
		// The recent list carries metadata only.
		latest, ok, err := s.deps.State.LatestImage(ctx)
		if err != nil {
			writeInternal(w, "이미지 조회 실패: "+err.Error())
			return
		}
		if ok {
			img["data"] = latest.ImageBase64
		}
	} else if rec.SavedFile != "" {
		img["download_url"] = "/images/archive/" + rec.SavedFile
	} else {
		img["download_url"] = "/images/latest/data"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": clock.ISO(s.now()),
		"image":     img,
	})
}

func (s *Server) handleAppDailyStats(w http.ResponseWriter, r *http.Request) {
	day := s.now().In(clock.KST)
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation(clock.DateOnly, v, clock.KST)
		if err != nil {
			writeBadRequest(w, "날짜 형식이 올바르지 않습니다 (YYYY-MM-DD)")
			return
		}
		day = d
	}

	stats, err := s.deps.History.DailyStats(r.Context(), day)
	if err != nil {
		writeInternal(w, "통계 조회 실패: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": clock.ISO(s.now()),
		"date":      day.Format(clock.DateOnly),
		"stats":     stats,
	})
}

func (s *Server) handleAppCommand(w http.ResponseWriter, r *http.Request) {
	var cmd esp32.Command
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &cmd); err != nil && !errors.Is(err, errEmptyBody) {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.validate.Struct(cmd); err != nil {
		writeBadRequest(w, "명령이 지정되지 않았습니다")
		return
	}

	err := s.sendCommand(r.Context(), cmd, SourceAppAPI)
	body := map[string]any{
		"status":       "success",
		"message":      "명령을 ESP32로 전송했습니다",
		"command":      cmd.Command,
		"timestamp":    clock.ISO(s.now()),
		"esp32_status": s.deps.Registry.Status(device.KindESP32),
	}
	if err != nil {
		body["status"] = "failed"
		body["message"] = "명령을 ESP32로 전송하지 못했습니다"
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Notify.Load(r.Context())
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "notify.load_failed").
			Msg("serving default notification settings")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": clock.ISO(s.now()),
		"settings":  settings,
	})
}

func (s *Server) handleUpdateNotificationSettings(w http.ResponseWriter, r *http.Request) {
	var input map[string]any
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &input); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	settings, err := s.deps.Notify.Save(r.Context(), input)
	if err != nil {
		writeInternal(w, "설정 업데이트 실패: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "알림 설정이 저장되었습니다",
		"timestamp": clock.ISO(s.now()),
		"settings":  settings,
	})
}

type registerRequest struct {
	DeviceID   string `json:"device_id" validate:"required"`
	Platform   string `json:"platform" validate:"required"`
	PushToken  string `json:"push_token"`
	AppVersion string `json:"app_version"`
}

type unregisterRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeBadRequest(w, validationDetail(err))
		return
	}

	reg, err := s.deps.History.RegisterDevice(r.Context(), history.Registration{
		DeviceID:   req.DeviceID,
		Platform:   req.Platform,
		PushToken:  req.PushToken,
		AppVersion: req.AppVersion,
	})
	if err != nil {
		writeInternal(w, "알림 등록 실패: "+err.Error())
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "notify.registered").
		Str(log.FieldDeviceID, reg.DeviceID).
		Str("platform", reg.Platform).
		Msg("app registered for notifications")

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "알림 등록이 완료되었습니다",
		"timestamp": clock.ISO(s.now()),
		"device_id": reg.DeviceID,
	})
}

func (s *Server) handleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	var req unregisterRequest
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeBadRequest(w, "device_id가 필요합니다")
		return
	}

	err := s.deps.History.UnregisterDevice(r.Context(), req.DeviceID)
	if err != nil && !errors.Is(err, history.ErrDeviceNotFound) {
		writeInternal(w, "알림 해제 실패: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"message":        "알림 등록이 해제되었습니다",
		"timestamp":      clock.ISO(s.now()),
		"device_id":      req.DeviceID,
		"was_registered": err == nil,
	})
}

func (s *Server) handleAppPing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      clock.ISO(s.now()),
		"server_version": s.cfg.Version,
		"services":       s.serverInfo(),
	})
}

func (s *Server) handleAppStatus(w http.ResponseWriter, r *http.Request) {
	var last time.Time
	if latest, ok, err := s.deps.State.LatestReading(r.Context()); err == nil && ok {
		last = latest.Timestamp
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"timestamp":        clock.ISO(s.now()),
		"server_info":      s.serverInfo(),
		"data_freshness":   realtime.NewFreshness(last, s.now(), realtime.StatusFreshWindow),
		"connection_stats": s.connectionStats(),
	})
}
