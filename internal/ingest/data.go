// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"

	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/telemetry"
)

// Part types of a unified payload.
const (
	PartImage   = "image"
	PartSensor  = "sensor"
	PartDefault = "default"
)

// Part is the outcome of one part of a unified payload.
type Part struct {
	Type   string `json:"type"`
	Result any    `json:"result"`
}

// DataResult is returned for POST /esp32/data.
type DataResult struct {
	Status         string   `json:"status"`
	Message        string   `json:"message"`
	ReceivedFrom   string   `json:"received_from"`
	ProcessedTypes []string `json:"processed_types"`
	Results        []Part   `json:"results"`
	BroadcastSent  int      `json:"broadcast_sent"`
	Timestamp      string   `json:"timestamp"`
}

// Data handles a payload that may carry a frame, sensor fields, or both.
// A payload with neither goes down the sensor path.
func (s *Service) Data(ctx context.Context, raw device.Raw, ip string) DataResult {
	hasImage := device.HasImage(raw)
	hasSensor := device.HasSensorFields(raw)

	ctx, span := s.tracer.Start(ctx, "ingest.data")
	defer span.End()
	span.SetAttributes(telemetry.IngestAttributes("data", hasImage, hasSensor)...)

	var parts []Part
	if hasImage {
		parts = append(parts, Part{Type: PartImage, Result: s.Image(ctx, raw, ip)})
	}
	if hasSensor {
		parts = append(parts, Part{Type: PartSensor, Result: s.Sensor(ctx, raw, ip)})
	}
	if !hasImage && !hasSensor {
		parts = append(parts, Part{Type: PartDefault, Result: s.Sensor(ctx, raw, ip)})
	}

	res := DataResult{
		Status:         "success",
		Message:        "ESP32 데이터 처리 완료",
		ReceivedFrom:   ip,
		ProcessedTypes: make([]string, 0, len(parts)),
		Results:        parts,
		Timestamp:      s.now(),
	}
	for _, p := range parts {
		res.ProcessedTypes = append(res.ProcessedTypes, p.Type)
	}

	if s.deps.Apps != nil && s.appCount() > 0 {
		res.BroadcastSent = s.deps.Apps.BroadcastApps(hub.Message{
			"type":      "new_data",
			"source":    "esp32",
			"data":      withoutImage(raw),
			"client_ip": ip,
			"timestamp": res.Timestamp,
		})
	}
	return res
}

// withoutImage copies raw with the frame replaced by its length. Apps fetch
// frames over HTTP.
func withoutImage(raw device.Raw) device.Raw {
	out := make(device.Raw, len(raw)+1)
	for k, v := range raw {
		if k == "image" {
			if img, ok := v.(string); ok {
				out["image_size"] = len(img)
			}
			continue
		}
		out[k] = v
	}
	out["has_image"] = device.HasImage(raw)
	return out
}
