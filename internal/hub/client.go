// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManuGH/babybridge/internal/metrics"
)

type outbound struct {
	msgType string
	data    []byte
}

// client is one WebSocket connection. Only the writer goroutine writes to conn.
type client struct {
	id          string
	clientType  string
	info        map[string]any
	connectedAt time.Time

	conn *websocket.Conn
	send chan outbound
	done chan struct{}

	closeOnce    sync.Once
	messageCount atomic.Int64
	lastSeen     atomic.Int64 // unix nanos

	idle *time.Timer
}

func (c *client) close() bool {
	closed := false
	c.closeOnce.Do(func() {
		close(c.done)
		if c.idle != nil {
			c.idle.Stop()
		}
		closed = true
	})
	return closed
}

// enqueue hands msg to the writer. It reports false if the client is gone
// or its queue is full.
func (c *client) enqueue(msg outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// writeLoop drains the send queue and keeps the connection alive with
// control pings.
func (c *client) writeLoop(h *Hub) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.IdlePing)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				h.drop(c, "write_failed", err)
				continue
			}
			c.messageCount.Add(1)
			c.lastSeen.Store(h.clock.Now().UnixNano())
			metrics.RecordWSMessage(msg.msgType)
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.drop(c, "ping_failed", err)
			}
		}
	}
}
