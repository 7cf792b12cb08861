// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/esp32"
	"github.com/ManuGH/babybridge/internal/log"
)

// LullabyCommand is the app command that controls the lullaby speaker.
const LullabyCommand = "lullaby_control"

var supportedTypes = []string{"command", "request_status", "request_image", "ping"}

type inbound struct {
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// LullabyParams maps app parameters (enabled, song, volume) to the firmware
// form (action, song, volume).
func LullabyParams(params map[string]any) map[string]any {
	song, ok := params["song"]
	if !ok || song == nil {
		song = "default"
	}
	volume, ok := params["volume"]
	if !ok || volume == nil {
		volume = 50
	}
	action := "stop"
	if truthy(params["enabled"]) {
		action = "start"
	}
	return map[string]any{"action": action, "song": song, "volume": volume}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return false
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *client, raw []byte) {
	if !json.Valid(raw) {
		h.SendTo(c.id, Message{"type": "error", "message": "Invalid JSON format", "timestamp": h.utcNow()})
		return
	}
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		h.SendTo(c.id, Message{
			"type":      "error",
			"message":   fmt.Sprintf("Message processing error: %v", err),
			"timestamp": h.utcNow(),
		})
		return
	}

	h.logger.Debug().Str(log.FieldClientID, c.id).Str("message_type", in.Type).Msg("app message")

	switch in.Type {
	case "command":
		h.handleCommand(ctx, c, in)
	case "request_status":
		h.SendTo(c.id, Message{
			"type":               "status_response",
			"server_status":      "online",
			"esp32_connected":    h.esp32Status() == string(device.StatusConnected),
			"active_connections": h.Count(),
			"timestamp":          h.utcNow(),
		})
	case "request_image":
		h.SendTo(c.id, Message{
			"type":         "image_request_response",
			"message":      "Use /app/images/latest API endpoint for image data",
			"api_endpoint": "/app/images/latest",
			"timestamp":    h.utcNow(),
		})
	case "ping":
		h.SendTo(c.id, Message{
			"type":          "pong",
			"client_id":     c.id,
			"server_time":   h.utcNow(),
			"server_status": "online",
		})
	default:
		h.SendTo(c.id, Message{
			"type":            "error",
			"message":         fmt.Sprintf("Unknown message type: %s", in.Type),
			"supported_types": supportedTypes,
			"timestamp":       h.utcNow(),
		})
	}
}

func (h *Hub) esp32Status() string {
	if h.opts.Registry == nil {
		return "unknown"
	}
	return string(h.opts.Registry.Status(device.KindESP32))
}

func (h *Hub) handleCommand(ctx context.Context, c *client, in inbound) {
	if h.opts.Commander == nil {
		h.SendTo(c.id, Message{
			"type":             "command_response",
			"original_command": in.Command,
			"status":           "failed",
			"error":            "ESP32 handler not available",
			"timestamp":        h.utcNow(),
		})
		return
	}

	params := in.Params
	if params == nil {
		params = map[string]any{}
	}
	cmd := esp32.Command{Command: in.Command, Params: params}
	if in.Command == LullabyCommand {
		cmd.Params = LullabyParams(params)
	}

	err := h.opts.Commander.Send(ctx, cmd)
	if h.opts.OnCommand != nil {
		h.opts.OnCommand(ctx, c.id, cmd, err)
	}

	resp := Message{
		"type":             "command_response",
		"original_command": in.Command,
		"params":           params,
		"status":           "sent",
		"esp32_status":     h.esp32Status(),
		"timestamp":        h.utcNow(),
	}
	if err != nil {
		resp["status"] = "failed"
		resp["error"] = err.Error()
	}
	h.SendTo(c.id, resp)

	if err == nil && in.Command == LullabyCommand {
		h.BroadcastApps(Message{
			"type":       "lullaby_status_changed",
			"enabled":    params["enabled"],
			"song":       params["song"],
			"changed_by": c.id,
			"timestamp":  h.utcNow(),
		})
	}
}
