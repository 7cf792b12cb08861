// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldClientID  = "client_id"
	FieldDeviceID  = "device_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Device fields
	FieldDevice     = "device"
	FieldDeviceIP   = "device_ip"
	FieldCommand    = "command"
	FieldAlertLevel = "alert_level"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// HTTP fields
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldRoute      = "route"
	FieldStatus     = "status"
	FieldRemoteAddr = "remote_addr"
	FieldDurationMS = "duration_ms"
	FieldBytes      = "bytes"
)
