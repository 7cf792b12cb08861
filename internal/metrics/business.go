// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes Prometheus instruments for the bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babybridge_ingest_total",
		Help: "Device payloads received by kind and outcome",
	}, []string{"kind", "outcome"}) // kind=sensor|image|upload|mjpeg, outcome=ok|invalid|error

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babybridge_alerts_total",
		Help: "Alert levels computed for device payloads",
	}, []string{"source", "level"}) // source=sensor|vision

	lastTemperature = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "babybridge_room_temperature_celsius",
		Help: "Last reported room temperature",
	})
	lastHumidity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "babybridge_room_humidity_percent",
		Help: "Last reported room humidity",
	})

	imageProcessing = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "babybridge_image_processing_seconds",
		Help:    "Time spent decoding, analysing and thumbnailing frames",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
	})

	// Devices
	deviceConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "babybridge_device_connected",
		Help: "Whether a device is currently connected (1) or not (0)",
	}, []string{"device"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babybridge_device_commands_total",
		Help: "Commands forwarded to devices by outcome",
	}, []string{"command", "outcome"}) // outcome=sent|failed|timeout|rejected

	// Realtime
	wsClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "babybridge_ws_clients",
		Help: "Connected WebSocket clients by type",
	}, []string{"client_type"})

	wsMessagesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babybridge_ws_messages_sent_total",
		Help: "Messages delivered to WebSocket clients by message type",
	}, []string{"type"})

	wsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babybridge_ws_dropped_total",
		Help: "Clients disconnected because their send queue was full or a write failed",
	})

	streamViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "babybridge_mjpeg_viewers",
		Help: "Active MJPEG stream viewers",
	})
	streamFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "babybridge_mjpeg_frames_total",
		Help: "Frames relayed through the MJPEG stream",
	})

	// Storage
	stateFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babybridge_state_fallback_total",
		Help: "Operations served from memory because Redis failed",
	}, []string{"op"})

	storageMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "babybridge_state_storage_mode",
		Help: "Active state storage mode (active=1)",
	}, []string{"mode"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "babybridge_notifications_total",
		Help: "Emergency notifications by outcome",
	}, []string{"outcome"}) // outcome=sent|suppressed_quiet|disabled|no_audience
)

// RecordIngest counts one device payload.
func RecordIngest(kind, outcome string) {
	ingestTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordAlert counts a computed alert level.
func RecordAlert(source, level string) {
	alertsTotal.WithLabelValues(source, level).Inc()
}

// SetEnvironment records the latest room readings.
func SetEnvironment(temperature, humidity float64) {
	lastTemperature.Set(temperature)
	lastHumidity.Set(humidity)
}

// ObserveImageProcessing records the duration of one frame pipeline run.
func ObserveImageProcessing(d time.Duration) {
	imageProcessing.Observe(d.Seconds())
}

// SetDeviceConnected mirrors the device registry.
func SetDeviceConnected(device string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	deviceConnected.WithLabelValues(device).Set(v)
}

// RecordCommand counts one outbound device command.
func RecordCommand(command, outcome string) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
}

// SetWSClients sets the connected client count for a client type.
func SetWSClients(clientType string, n int) {
	wsClients.WithLabelValues(clientType).Set(float64(n))
}

// RecordWSMessage counts one delivered message.
func RecordWSMessage(msgType string) {
	wsMessagesOut.WithLabelValues(msgType).Inc()
}

// RecordWSDrop counts a forced disconnect.
func RecordWSDrop() {
	wsDropped.Inc()
}

// SetStreamViewers sets the MJPEG viewer gauge.
func SetStreamViewers(n int) {
	streamViewers.Set(float64(n))
}

// RecordStreamFrame counts one relayed frame.
func RecordStreamFrame() {
	streamFrames.Inc()
}

// RecordStateFallback counts a Redis operation served from memory.
func RecordStateFallback(op string) {
	stateFallbacks.WithLabelValues(op).Inc()
}

var storageModes = []string{"redis", "memory"}

// SetStorageMode marks the active state backend.
func SetStorageMode(mode string) {
	for _, m := range storageModes {
		v := 0.0
		if m == mode {
			v = 1
		}
		storageMode.WithLabelValues(m).Set(v)
	}
}

// RecordNotification counts one emergency notification decision.
func RecordNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}
