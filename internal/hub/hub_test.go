// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/babybridge/internal/esp32"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCommander struct {
	mu   sync.Mutex
	cmds []esp32.Command
	err  error
}

func (f *fakeCommander) Send(_ context.Context, cmd esp32.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func (f *fakeCommander) last() esp32.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmds[len(f.cmds)-1]
}

// startHub serves /ws?type=<client type> backed by a fresh hub.
func startHub(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	h := New(opts, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, r.URL.Query().Get("type"), nil, nil)
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, strings.Replace(srv.URL, "http://", "ws://", 1)
}

func dial(t *testing.T, base, clientType string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws?type="+clientType, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads until a message of the wanted type arrives.
func readType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == want {
			return msg
		}
	}
}

func TestWelcomeAndPing(t *testing.T) {
	h, base := startHub(t, Options{})
	conn := dial(t, base, TypeMobileApp)

	welcome := readType(t, conn, "connection_established")
	id, _ := welcome["client_id"].(string)
	assert.True(t, strings.HasPrefix(id, "mobile_app_"))
	assert.Equal(t, "online", welcome["server_status"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	pong := readType(t, conn, "pong")
	assert.Equal(t, id, pong["client_id"])

	assert.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestProtocolErrors(t *testing.T) {
	_, base := startHub(t, Options{})
	conn := dial(t, base, TypeMobileApp)
	readType(t, conn, "connection_established")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readType(t, conn, "error")
	assert.Equal(t, "Invalid JSON format", msg["message"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	msg = readType(t, conn, "error")
	assert.Equal(t, "Unknown message type: dance", msg["message"])
	assert.Equal(t, []any{"command", "request_status", "request_image", "ping"}, msg["supported_types"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "request_image"}))
	msg = readType(t, conn, "image_request_response")
	assert.Equal(t, "/app/images/latest", msg["api_endpoint"])
}

func TestLullabyCommandBroadcastsToApps(t *testing.T) {
	cmd := &fakeCommander{}
	var hooked sync.WaitGroup
	hooked.Add(1)
	_, base := startHub(t, Options{
		Commander: cmd,
		OnCommand: func(_ context.Context, clientID string, c esp32.Command, err error) {
			defer hooked.Done()
			assert.NoError(t, err)
			assert.Equal(t, LullabyCommand, c.Command)
		},
	})

	sender := dial(t, base, TypeMobileApp)
	other := dial(t, base, TypeMobileApp)
	readType(t, sender, "connection_established")
	readType(t, other, "connection_established")

	require.NoError(t, sender.WriteJSON(map[string]any{
		"type":    "command",
		"command": LullabyCommand,
		"params":  map[string]any{"enabled": true, "volume": 30},
	}))

	resp := readType(t, sender, "command_response")
	assert.Equal(t, "sent", resp["status"])
	assert.Equal(t, LullabyCommand, resp["original_command"])

	changed := readType(t, other, "lullaby_status_changed")
	assert.Equal(t, true, changed["enabled"])
	assert.NotEmpty(t, changed["app_broadcast_timestamp"])

	hooked.Wait()
	assert.Equal(t, map[string]any{"action": "start", "song": "default", "volume": float64(30)}, cmd.last().Params)
}

func TestCommandFailureReported(t *testing.T) {
	_, base := startHub(t, Options{Commander: &fakeCommander{err: errors.New("boom")}})
	conn := dial(t, base, TypeMobileApp)
	readType(t, conn, "connection_established")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "command", "command": "reboot"}))
	resp := readType(t, conn, "command_response")
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, "boom", resp["error"])
}

func TestBroadcastAppsSkipsOtherClients(t *testing.T) {
	h, base := startHub(t, Options{})
	app := dial(t, base, TypeMobileApp)
	web := dial(t, base, TypeWeb)
	readType(t, app, "connection_established")
	readType(t, web, "connection_established")
	require.Eventually(t, func() bool { return h.Count() == 2 }, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.BroadcastApps(Message{"temperature": 22.5}))
	msg := readType(t, app, "esp32_data")
	assert.Equal(t, 22.5, msg["temperature"])

	assert.Equal(t, 2, h.BroadcastAll(Message{"type": "time_update"}))
	msg = readType(t, web, "time_update")
	assert.NotEmpty(t, msg["broadcast_timestamp"])

	st := h.Stats()
	assert.Equal(t, 2, st.ActiveConnections)
	assert.Equal(t, 1, st.ConnectionsByType[TypeWeb])
	assert.Equal(t, 1, st.ConnectionsByType[TypeMobileApp])
}

func TestAlertKeepsPriority(t *testing.T) {
	h, base := startHub(t, Options{})
	app := dial(t, base, TypeMobileApp)
	readType(t, app, "connection_established")
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)

	h.SendAlert(Message{"alert_level": "high", "message": "too hot"})
	msg := readType(t, app, "emergency_alert")
	assert.Equal(t, "high", msg["priority"])
	assert.Equal(t, "too hot", msg["message"])
}

func TestIdleClientReceivesPing(t *testing.T) {
	_, base := startHub(t, Options{IdlePing: 50 * time.Millisecond})
	conn := dial(t, base, TypeMobileApp)
	readType(t, conn, "connection_established")

	msg := readType(t, conn, "ping")
	assert.NotEmpty(t, msg["server_time_kst"])
}

func TestDisconnectUnregisters(t *testing.T) {
	h, base := startHub(t, Options{})
	conn := dial(t, base, TypeWeb)
	readType(t, conn, "connection_established")
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClosedHubRefusesClients(t *testing.T) {
	h, base := startHub(t, Options{})
	h.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(base+"/ws?type="+TypeWeb, nil)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, h.Count())
}

func TestCloseWhileClientsConnect(t *testing.T) {
	h, base := startHub(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, resp, err := websocket.DefaultDialer.Dial(base+"/ws?type="+TypeWeb, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				return
			}
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
	h.Close()
	wg.Wait()

	assert.Equal(t, 0, h.Count())
}

func TestEnqueueFullQueue(t *testing.T) {
	c := &client{send: make(chan outbound, 1), done: make(chan struct{})}
	assert.True(t, c.enqueue(outbound{msgType: "a"}))
	assert.False(t, c.enqueue(outbound{msgType: "b"}))

	assert.True(t, c.close())
	assert.False(t, c.close())
	assert.False(t, c.enqueue(outbound{msgType: "c"}))
}

func TestLullabyParams(t *testing.T) {
	assert.Equal(t, map[string]any{"action": "stop", "song": "default", "volume": 50}, LullabyParams(map[string]any{}))
	assert.Equal(t, map[string]any{"action": "start", "song": "brahms", "volume": 10},
		LullabyParams(map[string]any{"enabled": true, "song": "brahms", "volume": 10}))
}
