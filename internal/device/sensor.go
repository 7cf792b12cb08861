// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Raw is a decoded device payload before normalisation.
type Raw map[string]any

// Alert levels for sensor readings.
const (
	AlertLow    = "low"
	AlertMedium = "medium"
	AlertHigh   = "high"
)

// Environment assessments.
const (
	StatusOptimal = "optimal"
	StatusWarning = "warning"
)

// Reading is a normalised ESP32 sensor payload with its assessment.
type Reading struct {
	DeviceType string    `json:"device_type"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceIP   string    `json:"esp32_ip"`

	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PlayLullaby bool    `json:"playLullaby"`

	MovementDetected bool    `json:"movement_detected"`
	MotionLevel      float64 `json:"motion_level"`
	SoundLevel       float64 `json:"sound_level"`
	NoiseDetected    bool    `json:"noise_detected"`

	BatteryLevel *float64 `json:"battery_level"`
	WifiSignal   *float64 `json:"wifi_signal"`
	MemoryFree   *float64 `json:"memory_free"`
	Uptime       *float64 `json:"uptime"`

	TemperatureStatus string   `json:"temperature_status"`
	HumidityStatus    string   `json:"humidity_status"`
	EnvironmentStatus string   `json:"environment_status"`
	AlertFactors      []string `json:"alert_factors"`
	AlertScore        int      `json:"alert_score"`
	AlertLevel        string   `json:"alert_level"`
}

// Thresholds bound the comfortable and extreme ranges of the nursery.
type Thresholds struct {
	TempMin, TempMax                        float64
	TempExtremeLow, TempExtremeHigh         float64
	HumidityMin, HumidityMax                float64
	HumidityExtremeLow, HumidityExtremeHigh float64
	BatteryLow                              float64
}

// DefaultThresholds are the ranges used when nothing is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TempMin: 20, TempMax: 24,
		TempExtremeLow: 18, TempExtremeHigh: 26,
		HumidityMin: 40, HumidityMax: 60,
		HumidityExtremeLow: 30, HumidityExtremeHigh: 80,
		BatteryLow: 20,
	}
}

// NormalizeSensor maps a raw ESP32 payload onto a Reading. Missing numeric
// fields become zero; system fields stay nil when absent.
func NormalizeSensor(raw Raw, ip string, now time.Time) Reading {
	return Reading{
		DeviceType:  string(KindESP32),
		Timestamp:   now,
		DeviceIP:    ip,
		Temperature: number(raw["temperature"]),
		Humidity:    number(raw["humidity"]),
		// The firmware sends playLullaby as the string "true".
		PlayLullaby:      strings.EqualFold(fmt.Sprint(raw["playLullaby"]), "true"),
		MovementDetected: truthy(raw["movement"]),
		MotionLevel:      number(raw["motion_level"]),
		SoundLevel:       number(raw["sound"]),
		NoiseDetected:    truthy(raw["noise_detected"]),
		BatteryLevel:     optionalNumber(raw["battery"]),
		WifiSignal:       optionalNumber(raw["wifi_signal"]),
		MemoryFree:       optionalNumber(raw["memory_free"]),
		Uptime:           optionalNumber(raw["uptime"]),
	}
}

// Assess fills the status and alert fields of r in place.
func Assess(r *Reading, th Thresholds) {
	r.TemperatureStatus = rangeStatus(r.Temperature, th.TempMin, th.TempMax)
	r.HumidityStatus = rangeStatus(r.Humidity, th.HumidityMin, th.HumidityMax)
	r.EnvironmentStatus = StatusWarning
	if r.TemperatureStatus == StatusOptimal && r.HumidityStatus == StatusOptimal {
		r.EnvironmentStatus = StatusOptimal
	}

	factors := make([]string, 0, 4)
	score := 0

	if r.TemperatureStatus == StatusWarning {
		if r.Temperature < th.TempExtremeLow || r.Temperature > th.TempExtremeHigh {
			factors = append(factors, fmt.Sprintf("극한 온도: %s°C", formatFloat(r.Temperature)))
			score += 2
		} else {
			factors = append(factors, fmt.Sprintf("부적절한 온도: %s°C", formatFloat(r.Temperature)))
			score++
		}
	}
	if r.HumidityStatus == StatusWarning {
		if r.Humidity < th.HumidityExtremeLow || r.Humidity > th.HumidityExtremeHigh {
			factors = append(factors, fmt.Sprintf("극한 습도: %s%%", formatFloat(r.Humidity)))
			score += 2
		} else {
			factors = append(factors, fmt.Sprintf("부적절한 습도: %s%%", formatFloat(r.Humidity)))
			score++
		}
	}
	if r.MovementDetected {
		factors = append(factors, "움직임 감지됨")
		score++
	}
	if r.NoiseDetected {
		factors = append(factors, "소음 감지됨")
		score++
	}
	// A zero battery reading means "not reported" on this firmware.
	if r.BatteryLevel != nil && *r.BatteryLevel != 0 && *r.BatteryLevel < th.BatteryLow {
		factors = append(factors, "배터리 부족")
		score++
	}

	r.AlertFactors = factors
	r.AlertScore = score
	switch {
	case score >= 3:
		r.AlertLevel = AlertHigh
	case score >= 1:
		r.AlertLevel = AlertMedium
	default:
		r.AlertLevel = AlertLow
	}
}

func rangeStatus(v, lo, hi float64) string {
	if v >= lo && v <= hi {
		return StatusOptimal
	}
	return StatusWarning
}

// HasSensorFields reports whether raw carries any environment reading.
func HasSensorFields(raw Raw) bool {
	for _, k := range []string{"temperature", "humidity", "movement", "sound"} {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}

// HasImage reports whether raw carries a non-empty image field.
func HasImage(raw Raw) bool {
	s, ok := raw["image"].(string)
	return ok && s != ""
}

func number(v any) float64 {
	f, _ := toFloat(v)
	return f
}

func optionalNumber(v any) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true
		}
		return false
	case nil:
		return false
	}
	f, ok := toFloat(v)
	return ok && f != 0
}

// formatFloat prints integral values with one decimal, so 17 reads "17.0".
func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
