// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import "time"

// KoreanFields are the human readable KST renderings broadcast to apps.
type KoreanFields struct {
	KoreaTime       string `json:"korea_time"`
	KoreaTimeSimple string `json:"korea_time_simple"`
	KoreaHourMinute string `json:"korea_hour_minute"`
	KoreaDate       string `json:"korea_date"`
	TimezoneKST     string `json:"timezone_kst"`
}

// Korean renders t in all KST layouts.
func Korean(t time.Time) KoreanFields {
	k := t.In(KST)
	return KoreanFields{
		KoreaTime:       k.Format(KoreanLong),
		KoreaTimeSimple: k.Format(Simple),
		KoreaHourMinute: k.Format(HourMinute),
		KoreaDate:       k.Format(KoreanDate),
		TimezoneKST:     TimezoneLabel,
	}
}

// TimeInfo is the payload of GET /app/time.
type TimeInfo struct {
	UTCTime       string  `json:"utc_time"`
	KSTTime       string  `json:"kst_time"`
	TimestampUnix int64   `json:"timestamp_unix"`
	ServerUptime  float64 `json:"server_uptime"`
	LastHeartbeat string  `json:"last_heartbeat,omitempty"`
	KoreanFields
}

// Info builds the time info payload. lastHeartbeat may be zero.
func Info(now, start, lastHeartbeat time.Time) TimeInfo {
	info := TimeInfo{
		UTCTime:       now.UTC().Format(time.RFC3339),
		KSTTime:       now.In(KST).Format(time.RFC3339),
		TimestampUnix: now.Unix(),
		ServerUptime:  now.Sub(start).Seconds(),
		KoreanFields:  Korean(now),
	}
	if !lastHeartbeat.IsZero() {
		info.LastHeartbeat = lastHeartbeat.In(KST).Format(time.RFC3339)
	}
	return info
}
