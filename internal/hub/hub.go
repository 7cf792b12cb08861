// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hub manages WebSocket connections from mobile apps and browsers and
// fans device data out to them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/esp32"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
)

// Client types.
const (
	TypeMobileApp = "mobile_app"
	TypeWeb       = "web"
	TypeUnknown   = "unknown"
)

const maxInboundMessage = 64 << 10

// Message is a JSON object sent to clients.
type Message map[string]any

// Commander forwards commands to the ESP32.
type Commander interface {
	Send(ctx context.Context, cmd esp32.Command) error
}

// CommandHook observes every forwarded app command.
type CommandHook func(ctx context.Context, clientID string, cmd esp32.Command, err error)

// Options configures the hub.
type Options struct {
	IdlePing     time.Duration
	WriteTimeout time.Duration
	SendQueue    int
	CheckOrigin  func(*http.Request) bool

	Commander Commander
	Registry  *device.Registry
	OnCommand CommandHook
}

func (o *Options) applyDefaults() {
	if o.IdlePing <= 0 {
		o.IdlePing = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Hub is the connection registry. All methods are safe for concurrent use.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader
	clock    clock.Clock
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	counter atomic.Uint64
	wg      sync.WaitGroup
}

// New creates a hub.
func New(opts Options, clk clock.Clock) *Hub {
	opts.applyDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin:     opts.CheckOrigin,
		},
		clock:   clk,
		logger:  log.WithComponent("hub"),
		clients: make(map[string]*client),
	}
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Hub) utcNow() string { return h.clock.Now().UTC().Format(time.RFC3339Nano) }

// ServeWS upgrades the request and serves the connection until the peer
// leaves. onConnect runs after the welcome message is queued.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientType string, info map[string]any, onConnect func(clientID string)) {
	if h.isClosed() {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str(log.FieldEvent, "hub.upgrade_failed").Msg("websocket upgrade failed")
		return
	}
	if clientType == "" {
		clientType = TypeUnknown
	}
	if info == nil {
		info = map[string]any{}
	}

	now := h.clock.Now()
	c := &client{
		id:          fmt.Sprintf("%s_%d_%d", clientType, now.Unix(), h.counter.Add(1)),
		clientType:  clientType,
		info:        info,
		connectedAt: now,
		conn:        conn,
		send:        make(chan outbound, h.opts.SendQueue),
		done:        make(chan struct{}),
	}
	c.lastSeen.Store(now.UnixNano())
	c.idle = time.AfterFunc(h.opts.IdlePing, func() { h.idlePing(c) })

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.idle.Stop()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.opts.WriteTimeout))
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	total := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()
	h.publishCounts()

	go c.writeLoop(h)

	h.logger.Info().
		Str(log.FieldEvent, "hub.connected").
		Str(log.FieldClientID, c.id).
		Str("client_type", clientType).
		Int("total", total).
		Msg("websocket client connected")

	h.SendTo(c.id, Message{
		"type":          "connection_established",
		"message":       "Baby Monitor에 연결되었습니다",
		"client_id":     c.id,
		"timestamp":     h.utcNow(),
		"server_status": "online",
	})
	if onConnect != nil {
		onConnect(c.id)
	}

	h.readLoop(r.Context(), c)
}

// readLoop handles inbound frames. Silence for IdlePing triggers a JSON ping.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer h.remove(c, "closed")

	ctx = log.ContextWithClientID(context.WithoutCancel(ctx), c.id)
	readTimeout := 2*h.opts.IdlePing + h.opts.WriteTimeout

	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug().Err(err).Str(log.FieldClientID, c.id).Msg("websocket read ended")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.idle.Reset(h.opts.IdlePing)
		c.lastSeen.Store(h.clock.Now().UnixNano())

		h.handleMessage(ctx, c, raw)
	}
}

func (h *Hub) idlePing(c *client) {
	select {
	case <-c.done:
		return
	default:
	}
	now := h.clock.Now()
	h.SendTo(c.id, Message{
		"type":            "ping",
		"server_time_kst": clock.ISO(now),
		"client_id":       c.id,
		"timestamp":       clock.ISO(now),
	})
	c.idle.Reset(h.opts.IdlePing)
}

// remove unregisters c. It is idempotent.
func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	left := len(h.clients)
	h.mu.Unlock()

	if c.close() {
		h.publishCounts()
		h.logger.Info().
			Str(log.FieldEvent, "hub.disconnected").
			Str(log.FieldClientID, c.id).
			Str("reason", reason).
			Int("remaining", left).
			Msg("websocket client disconnected")
	}
}

// drop removes a client whose send failed.
func (h *Hub) drop(c *client, reason string, err error) {
	metrics.RecordWSDrop()
	h.logger.Warn().Err(err).Str(log.FieldClientID, c.id).Str("reason", reason).Msg("dropping websocket client")
	h.remove(c, reason)
}

func (h *Hub) publishCounts() {
	counts := map[string]int{TypeMobileApp: 0, TypeWeb: 0, TypeUnknown: 0}
	h.mu.RLock()
	for _, c := range h.clients {
		counts[c.clientType]++
	}
	h.mu.RUnlock()
	for t, n := range counts {
		metrics.SetWSClients(t, n)
	}
}

func (h *Hub) encode(msg Message) (outbound, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return outbound{}, fmt.Errorf("encode websocket message: %w", err)
	}
	t, _ := msg["type"].(string)
	if t == "" {
		t = "unknown"
	}
	return outbound{msgType: t, data: data}, nil
}

func (h *Hub) deliver(c *client, out outbound) bool {
	if c.enqueue(out) {
		return true
	}
	select {
	case <-c.done:
	default:
		h.drop(c, "queue_full", errors.New("send queue full"))
	}
	return false
}

// SendTo queues msg for one client. A full queue disconnects the client.
func (h *Hub) SendTo(clientID string, msg Message) bool {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	out, err := h.encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("cannot encode message")
		return false
	}
	return h.deliver(c, out)
}

func (h *Hub) broadcast(msg Message, filter func(*client) bool) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if filter == nil || filter(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}

	out, err := h.encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("cannot encode broadcast")
		return 0
	}
	sent := 0
	for _, c := range targets {
		if h.deliver(c, out) {
			sent++
		}
	}
	return sent
}

// BroadcastAll sends msg to every client with a broadcast_timestamp.
func (h *Hub) BroadcastAll(msg Message) int {
	out := make(Message, len(msg)+1)
	for k, v := range msg {
		out[k] = v
	}
	out["broadcast_timestamp"] = h.utcNow()
	return h.broadcast(out, nil)
}

// BroadcastApps sends msg to mobile apps only. The type defaults to
// esp32_data unless msg sets one.
func (h *Hub) BroadcastApps(msg Message) int {
	out := make(Message, len(msg)+2)
	out["type"] = "esp32_data"
	for k, v := range msg {
		out[k] = v
	}
	out["app_broadcast_timestamp"] = h.utcNow()
	return h.broadcast(out, func(c *client) bool { return c.clientType == TypeMobileApp })
}

// SendAlert broadcasts a high priority emergency alert to apps.
func (h *Hub) SendAlert(alert Message) int {
	msg := Message{"type": "emergency_alert", "priority": "high"}
	for k, v := range alert {
		msg[k] = v
	}
	msg["timestamp"] = h.utcNow()
	return h.BroadcastApps(msg)
}

// SendImageUpdate tells apps a new frame is available. The image itself is
// fetched over HTTP.
func (h *Hub) SendImageUpdate(timestamp, alertLevel string) int {
	return h.BroadcastApps(Message{
		"type":            "image_update",
		"timestamp":       timestamp,
		"alert_level":     alertLevel,
		"has_image":       true,
		"image_available": true,
		"download_url":    "/app/images/latest",
	})
}

// SendSystemStatus broadcasts status to every client.
func (h *Hub) SendSystemStatus(status Message) int {
	msg := Message{"type": "system_status"}
	for k, v := range status {
		msg[k] = v
	}
	msg["timestamp"] = h.utcNow()
	return h.BroadcastAll(msg)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CountByType returns the number of connected clients of one type.
func (h *Hub) CountByType(clientType string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.clientType == clientType {
			n++
		}
	}
	return n
}

// ConnectionInfo describes one client in Stats.
type ConnectionInfo struct {
	ClientID     string         `json:"client_id"`
	ClientType   string         `json:"client_type"`
	ConnectedAt  time.Time      `json:"connected_at"`
	LastSeen     time.Time      `json:"last_seen"`
	MessageCount int64          `json:"message_count"`
	ClientInfo   map[string]any `json:"client_info"`
}

// Stats summarises the hub.
type Stats struct {
	ActiveConnections int              `json:"active_connections"`
	TotalMessagesSent int64            `json:"total_messages_sent"`
	ConnectionsByType map[string]int   `json:"connections_by_type"`
	ConnectionsInfo   []ConnectionInfo `json:"connections_info"`
}

// Stats returns a snapshot of all connections ordered by connect time.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{
		ActiveConnections: len(h.clients),
		ConnectionsByType: map[string]int{},
		ConnectionsInfo:   make([]ConnectionInfo, 0, len(h.clients)),
	}
	for _, c := range h.clients {
		n := c.messageCount.Load()
		st.TotalMessagesSent += n
		st.ConnectionsByType[c.clientType]++
		st.ConnectionsInfo = append(st.ConnectionsInfo, ConnectionInfo{
			ClientID:     c.id,
			ClientType:   c.clientType,
			ConnectedAt:  c.connectedAt.UTC(),
			LastSeen:     time.Unix(0, c.lastSeen.Load()).UTC(),
			MessageCount: n,
			ClientInfo:   c.info,
		})
	}
	sort.Slice(st.ConnectionsInfo, func(i, j int) bool {
		return st.ConnectionsInfo[i].ConnectedAt.Before(st.ConnectionsInfo[j].ConnectedAt)
	})
	return st
}

// Close disconnects every client and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.remove(c, "shutdown")
	}
	h.wg.Wait()
}
