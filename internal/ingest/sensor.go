// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
	"github.com/ManuGH/babybridge/internal/notify"
	"github.com/ManuGH/babybridge/internal/telemetry"
)

// SensorProcessing reports what happened to a reading.
type SensorProcessing struct {
	RedisStored   bool   `json:"redis_stored"`
	HistoryStored bool   `json:"history_stored"`
	AppsNotified  int    `json:"apps_notified"`
	AlertLevel    string `json:"alert_level"`
	Notification  string `json:"notification"`
}

// SensorResult is returned to the ESP32 after a sensor payload.
type SensorResult struct {
	Status     string           `json:"status"`
	Message    string           `json:"message"`
	DeviceType string           `json:"device_type"`
	Timestamp  string           `json:"timestamp"`
	KoreaTime  string           `json:"korea_time"`
	Processing SensorProcessing `json:"processing_results"`

	Reading device.Reading `json:"-"`
}

// Sensor normalises and assesses an ESP32 payload, stores it as the current
// state and in history, pushes it to apps and evaluates emergency alerts.
func (s *Service) Sensor(ctx context.Context, raw device.Raw, ip string) SensorResult {
	ctx, span := s.tracer.Start(ctx, "ingest.sensor")
	defer span.End()
	span.SetAttributes(telemetry.DeviceAttributes(string(device.KindESP32), ip)...)

	now := s.deps.Clock.Now().In(clock.KST)
	r := device.NormalizeSensor(raw, ip, now)
	device.Assess(&r, s.Thresholds())

	s.deps.Registry.MarkSeen(device.KindESP32, ip)

	res := SensorResult{
		Status:     "success",
		Message:    "ESP32 센서 데이터 처리 완료",
		DeviceType: string(device.KindESP32),
		Timestamp:  clock.ISO(now),
		KoreaTime:  now.Format(clock.KoreanLong),
		Reading:    r,
	}
	res.Processing.AlertLevel = r.AlertLevel

	logger := log.WithComponentFromContext(ctx, "ingest")

	if err := s.deps.State.SaveReading(ctx, r); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "ingest.state_failed").Msg("failed to store current reading")
	} else {
		res.Processing.RedisStored = s.deps.State.Available()
	}

	if s.deps.History != nil {
		if err := s.deps.History.RecordReading(ctx, r); err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "ingest.history_failed").Msg("failed to record reading")
		} else {
			res.Processing.HistoryStored = true
		}
	}

	metrics.RecordIngest("sensor", "ok")
	metrics.RecordAlert("sensor", r.AlertLevel)
	metrics.SetEnvironment(r.Temperature, r.Humidity)

	if s.deps.Apps != nil {
		res.Processing.AppsNotified = s.deps.Apps.BroadcastApps(hub.Message{
			"type":       "esp32_sensor_data",
			"source":     "esp32",
			"data":       r,
			"korea_time": res.KoreaTime,
			"timestamp":  res.Timestamp,
		})
	}

	res.Processing.Notification = string(notify.OutcomeNone)
	if s.deps.Notifier != nil {
		res.Processing.Notification = string(s.deps.Notifier.Evaluate(ctx, r))
	}

	logger.Debug().
		Str(log.FieldEvent, "ingest.sensor").
		Str(log.FieldDeviceIP, ip).
		Float64("temperature", r.Temperature).
		Float64("humidity", r.Humidity).
		Str(log.FieldAlertLevel, r.AlertLevel).
		Msg("sensor reading processed")
	span.SetAttributes(telemetry.IngestAttributes("sensor", false, true)...)
	return res
}
