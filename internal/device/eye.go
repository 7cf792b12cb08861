// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import "time"

// Vision alert levels.
const (
	VisionNormal = "normal"
	VisionLow    = "low"
	VisionMedium = "medium"
)

// Frame size bounds for the base64 payload; outside them the camera is
// likely misconfigured or covered.
const (
	minFrameChars = 1000
	maxFrameChars = 100000
)

// EyeFrame is a normalised ESP Eye capture.
type EyeFrame struct {
	DeviceType  string    `json:"device_type"`
	Timestamp   time.Time `json:"timestamp"`
	DeviceIP    string    `json:"esp_eye_ip"`
	ImageBase64 string    `json:"-"`
	HasImage    bool      `json:"has_image"`
	ImageSize   int       `json:"image_size"`
	Width       int       `json:"image_width"`
	Height      int       `json:"image_height"`
	Format      string    `json:"image_format"`
	Quality     int       `json:"compression_quality"`
	VisionScore int       `json:"vision_score"`
	// VisionAlerts names each check that contributed to VisionScore.
	VisionAlerts []string `json:"vision_alerts"`
	AlertLevel   string   `json:"alert_level"`
}

// NormalizeEye maps a raw ESP Eye payload onto an EyeFrame and scores it.
func NormalizeEye(raw Raw, ip string, now time.Time) EyeFrame {
	img, _ := raw["image"].(string)
	f := EyeFrame{
		DeviceType:  string(KindEye),
		Timestamp:   now,
		DeviceIP:    ip,
		ImageBase64: img,
		HasImage:    img != "",
		ImageSize:   len(img),
		Width:       intOr(raw["width"], 640),
		Height:      intOr(raw["height"], 480),
		Format:      stringOr(raw["format"], "jpeg"),
		Quality:     intOr(raw["quality"], 80),
	}

	alerts := make([]string, 0, 2)
	score := 0
	switch {
	case f.ImageSize < minFrameChars:
		alerts = append(alerts, "이미지 크기가 작음")
		score++
	case f.ImageSize > maxFrameChars:
		alerts = append(alerts, "이미지 크기가 큼")
		score++
	}
	if !f.HasImage {
		alerts = append(alerts, "이미지 없음")
		score += 2
	}
	f.VisionScore = score
	f.VisionAlerts = alerts
	switch {
	case score >= 2:
		f.AlertLevel = VisionMedium
	case score >= 1:
		f.AlertLevel = VisionLow
	default:
		f.AlertLevel = VisionNormal
	}
	return f
}

func intOr(v any, def int) int {
	if f, ok := toFloat(v); ok && f > 0 {
		return int(f)
	}
	return def
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}
