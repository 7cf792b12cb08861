// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/config"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/esp32"
	"github.com/ManuGH/babybridge/internal/history"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/imaging"
	"github.com/ManuGH/babybridge/internal/ingest"
	"github.com/ManuGH/babybridge/internal/notify"
	"github.com/ManuGH/babybridge/internal/persistence/sqlite"
	"github.com/ManuGH/babybridge/internal/state"
)

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

type testEnv struct {
	srv       *Server
	state     *state.Store
	history   *history.Store
	commander *fakeCommander
	clock     *clock.Fixed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(*config.AppConfig) {})
}

func newTestEnvWith(t *testing.T, tune func(*config.AppConfig)) *testEnv {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2025, 3, 1, 12, 0, 0, 0, clock.KST))

	cfg := config.Defaults()
	cfg.Version = "test"
	cfg.Server.RateLimit = 0
	cfg.Server.IngestRateLimit = 0
	tune(&cfg)

	st := state.New(ctx, state.Config{}, clk)
	t.Cleanup(func() { _ = st.Close() })
	hist, err := history.Open(ctx, filepath.Join(t.TempDir(), "history.db"), sqlite.DefaultConfig(), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })
	archive, err := imaging.NewFSArchive(t.TempDir(), clk)
	require.NoError(t, err)

	reg := device.NewRegistry("192.168.0.10", "192.168.0.11", clk)
	cmdr := &fakeCommander{}
	commands := NewCommandLog(st, hist, clk)
	h := hub.New(hub.Options{Registry: reg, Commander: cmdr, OnCommand: commands.Hook()}, clk)
	t.Cleanup(h.Close)

	images := imaging.NewProcessor(archive, imaging.DefaultOptions(), clk)
	svc := ingest.New(ingest.Deps{
		Registry: reg,
		State:    st,
		History:  hist,
		Images:   images,
		Apps:     h,
		Clock:    clk,
	}, ingest.Options{Thresholds: device.DefaultThresholds(), ArchiveFrames: true})

	srv, err := New(cfg, Deps{
		Clock:     clk,
		Registry:  reg,
		State:     st,
		History:   hist,
		Images:    images,
		Ingest:    svc,
		Hub:       h,
		Commander: cmdr,
		Commands:  commands,
		Notify:    notify.NewRepository(st),
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, state: st, history: hist, commander: cmdr, clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(config.Defaults(), Deps{})
	assert.Error(t, err)
}

func TestRootAndHealth(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Baby Monitor Server is running!", body["message"])
	assert.Equal(t, "test", body["version"])

	rec, body = e.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["redis"])
	assert.Equal(t, "memory", body["storage_mode"])

	rec, _ = e.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeviceRoutesUseIngestLimit(t *testing.T) {
	e := newTestEnvWith(t, func(cfg *config.AppConfig) {
		cfg.Server.RateLimit = 2
		cfg.Server.IngestRateLimit = 4
	})

	for i := 0; i < 4; i++ {
		rec, _ := e.do(t, http.MethodPost, "/esp32/data", `{"temperature": 23.1, "humidity": 48}`)
		require.Equal(t, http.StatusOK, rec.Code, "device request %d", i+1)
	}
	rec, _ := e.do(t, http.MethodPost, "/esp32/data", `{"temperature": 23.1, "humidity": 48}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	for i := 0; i < 2; i++ {
		rec, _ = e.do(t, http.MethodGet, "/app/ping", "")
		require.Equal(t, http.StatusOK, rec.Code, "app request %d", i+1)
	}
	rec, _ = e.do(t, http.MethodGet, "/app/ping", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSensorIngestFeedsAppData(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodGet, "/app/data/latest", "")
	data := body["data"].(map[string]any)
	assert.Equal(t, "dummy", data["source"])
	assert.Equal(t, 22.5, data["temperature"])

	rec, body := e.do(t, http.MethodPost, "/esp32/sensor", `{"temperature": 23.1, "humidity": 48}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])

	_, body = e.do(t, http.MethodGet, "/app/data/latest", "")
	data = body["data"].(map[string]any)
	assert.Equal(t, 23.1, data["temperature"])

	_, body = e.do(t, http.MethodGet, "/app/data/history?hours=-5&limit=5000", "")
	assert.Equal(t, float64(1), body["data_count"])
	params := body["params"].(map[string]any)
	assert.Equal(t, float64(1), params["hours"])
	assert.Equal(t, float64(1000), params["limit"])

	_, body = e.do(t, http.MethodGet, "/app/status", "")
	freshness := body["data_freshness"].(map[string]any)
	assert.Equal(t, true, freshness["is_fresh"])
}

func TestIngestRejectsBadJSON(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodPost, "/esp32/data", `{"temperature":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["error"])
	assert.NotEmpty(t, body["detail"])

	rec, _ = e.do(t, http.MethodPost, "/esp32/data", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnifiedIngestWithImage(t *testing.T) {
	e := newTestEnv(t)
	b64 := imaging.EncodeBase64(testJPEG(t))

	_, body := e.do(t, http.MethodGet, "/images/latest", "")
	assert.Equal(t, "no_image", body["status"])

	payload, err := json.Marshal(map[string]any{"image": b64, "temperature": 22.0})
	require.NoError(t, err)
	rec, body := e.do(t, http.MethodPost, "/esp32/data", string(payload))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"image", "sensor"}, body["processed_types"])

	_, body = e.do(t, http.MethodGet, "/images/latest", "")
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, b64, body["image_base64"])

	_, body = e.do(t, http.MethodGet, "/images/latest/data", "")
	assert.Equal(t, "jpeg", body["format"])

	_, body = e.do(t, http.MethodGet, "/images/debug", "")
	assert.Equal(t, true, body["has_data"])
	assert.Equal(t, float64(len(b64)), body["image_length"])

	_, body = e.do(t, http.MethodGet, "/app/images/latest", "")
	img := body["image"].(map[string]any)
	url, _ := img["download_url"].(string)
	require.True(t, strings.HasPrefix(url, "/images/archive/baby_image_"), url)

	_, body = e.do(t, http.MethodGet, "/app/images/latest?include_data=true", "")
	img = body["image"].(map[string]any)
	assert.Equal(t, b64, img["data"])

	rec, _ = e.do(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.True(t, imaging.IsJPEG(rec.Body.Bytes()))

	_, body = e.do(t, http.MethodGet, "/images/archive", "")
	assert.Equal(t, float64(1), body["count"])
}

func TestArchiveGetErrors(t *testing.T) {
	e := newTestEnv(t)

	rec, _ := e.do(t, http.MethodGet, "/images/archive/passwd", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := e.do(t, http.MethodGet, "/images/archive/baby_image_20240101_000000.jpg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])

	rec, _ = e.do(t, http.MethodGet, "/images/archive?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func uploadRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "frame.jpg")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/esp32/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	e := newTestEnv(t)

	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, uploadRequest(t, "file", testJPEG(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["filename"])

	rec = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, uploadRequest(t, "file", []byte("not an image")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, uploadRequest(t, "other", testJPEG(t)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommands(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodPost, "/app/command", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "명령이 지정되지 않았습니다", body["detail"])

	rec, body = e.do(t, http.MethodPost, "/app/command", `{"command":"play_lullaby","params":{"song":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	require.Len(t, e.commander.cmds, 1)
	assert.Equal(t, "play_lullaby", e.commander.cmds[0].Command)

	e.commander.err = errors.New("connection refused")
	_, body = e.do(t, http.MethodPost, "/esp32/command", `{"command":"stop_lullaby"}`)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "192.168.0.10", body["esp32_ip"])

	rec, _ = e.do(t, http.MethodPost, "/esp32/command", `{"params":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	logged, err := e.state.RecentCommands(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, "stop_lullaby", logged[0].Command)
	assert.Equal(t, SourceAPI, logged[0].Source)
	assert.False(t, logged[0].Success)
	assert.Equal(t, SourceAppAPI, logged[1].Source)
}

func TestDailyStats(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodGet, "/app/stats/daily?date=2025-13-40", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "날짜 형식이 올바르지 않습니다 (YYYY-MM-DD)", body["detail"])

	rec, body = e.do(t, http.MethodGet, "/app/stats/daily", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-03-01", body["date"])
	stats := body["stats"].(map[string]any)
	assert.Equal(t, 22.5, stats["average_temperature"])
	assert.Equal(t, "00:00:00", stats["sleep_duration"])
}

func TestNotificationSettings(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodGet, "/app/settings/notifications", "")
	settings := body["settings"].(map[string]any)
	assert.Equal(t, true, settings["baby_detected"])

	rec, _ := e.do(t, http.MethodPost, "/app/settings/notifications", `{"baby_detected": false, "quiet_hours": {"start": "23:00"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, body = e.do(t, http.MethodGet, "/app/settings/notifications", "")
	settings = body["settings"].(map[string]any)
	assert.Equal(t, false, settings["baby_detected"])
	assert.Equal(t, "23:00", settings["quiet_hours"].(map[string]any)["start"])
}

func TestNotificationRegistration(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodPost, "/app/notifications/register", `{"device_id":"phone-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "platform 필드가 필요합니다", body["detail"])

	rec, body = e.do(t, http.MethodPost, "/app/notifications/register", `{"device_id":"phone-1","platform":"ios","push_token":"tok"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "phone-1", body["device_id"])

	active, err := e.history.ActiveDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)

	rec, _ = e.do(t, http.MethodPost, "/app/notifications/unregister", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body = e.do(t, http.MethodPost, "/app/notifications/unregister", `{"device_id":"phone-1"}`)
	assert.Equal(t, true, body["was_registered"])
	_, body = e.do(t, http.MethodPost, "/app/notifications/unregister", `{"device_id":"ghost"}`)
	assert.Equal(t, false, body["was_registered"])

	active, err = e.history.ActiveDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPingAndTime(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodGet, "/app/ping", "")
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["server_version"])

	rec, body := e.do(t, http.MethodGet, "/app/time", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-03-01T12:00:00+09:00", body["kst_time"])
}

func TestAdminEndpoints(t *testing.T) {
	e := newTestEnv(t)

	_, body := e.do(t, http.MethodPost, "/admin/redis/reconnect", "")
	assert.Equal(t, "memory", body["storage_mode"])

	rec, _ := e.do(t, http.MethodPost, "/admin/images/cleanup?max_age=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = e.do(t, http.MethodPost, "/admin/images/cleanup?max_age=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["deleted"])
}

func TestAppStreamSendsCurrentStatus(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/app/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connection_established", msg["type"])

	msg = nil
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "current_status", msg["type"])
	assert.Equal(t, "Asia/Seoul", msg["timezone"])
	assert.Nil(t, msg["data"])
}
