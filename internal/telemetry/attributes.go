// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across the bridge.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	DeviceKindKey = "device.kind"
	DeviceIPKey   = "device.ip"

	IngestKindKey    = "ingest.kind"
	IngestHasImage   = "ingest.has_image"
	IngestHasSensor  = "ingest.has_sensor"
	IngestAlertLevel = "ingest.alert_level"

	CommandNameKey    = "command.name"
	CommandSourceKey  = "command.source"
	CommandSuccessKey = "command.success"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// DeviceAttributes identifies the device behind a span. Empty values are
// omitted.
func DeviceAttributes(kind, ip string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if kind != "" {
		attrs = append(attrs, attribute.String(DeviceKindKey, kind))
	}
	if ip != "" {
		attrs = append(attrs, attribute.String(DeviceIPKey, ip))
	}
	return attrs
}

// IngestAttributes describes one device payload.
func IngestAttributes(kind string, hasImage, hasSensor bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(IngestKindKey, kind),
		attribute.Bool(IngestHasImage, hasImage),
		attribute.Bool(IngestHasSensor, hasSensor),
	}
}

// CommandAttributes describes a command forwarded to the ESP32.
func CommandAttributes(name, source string, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CommandNameKey, name),
		attribute.String(CommandSourceKey, source),
		attribute.Bool(CommandSuccessKey, success),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
