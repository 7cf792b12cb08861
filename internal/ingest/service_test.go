// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/history"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/imaging"
	"github.com/ManuGH/babybridge/internal/notify"
	"github.com/ManuGH/babybridge/internal/persistence/sqlite"
	"github.com/ManuGH/babybridge/internal/state"
)

type fakeApps struct {
	mu      sync.Mutex
	clients int
	msgs    []hub.Message
	updates []string
}

func (f *fakeApps) BroadcastApps(msg hub.Message) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.clients
}

func (f *fakeApps) SendImageUpdate(ts, level string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, level)
	return f.clients
}

func (f *fakeApps) Count() int { return f.clients }

func (f *fakeApps) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m["type"].(string))
	}
	return out
}

type fakeRelay struct{ frames int }

func (f *fakeRelay) Publish(context.Context, []byte) { f.frames++ }

type fakeNotifier struct{ seen []string }

func (f *fakeNotifier) Evaluate(_ context.Context, r device.Reading) notify.Outcome {
	f.seen = append(f.seen, r.AlertLevel)
	if r.AlertLevel == device.AlertHigh {
		return notify.OutcomeSent
	}
	return notify.OutcomeNone
}

type fixture struct {
	svc      *Service
	state    *state.Store
	history  *history.Store
	apps     *fakeApps
	relay    *fakeRelay
	notifier *fakeNotifier
	registry *device.Registry
	clock    *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2025, 3, 1, 12, 0, 0, 0, clock.KST))

	st := state.New(ctx, state.Config{}, clk)
	t.Cleanup(func() { _ = st.Close() })
	hist, err := history.Open(ctx, filepath.Join(t.TempDir(), "h.db"), sqlite.DefaultConfig(), clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })
	archive, err := imaging.NewFSArchive(t.TempDir(), clk)
	require.NoError(t, err)

	f := &fixture{
		state:    st,
		history:  hist,
		apps:     &fakeApps{clients: 2},
		relay:    &fakeRelay{},
		notifier: &fakeNotifier{},
		registry: device.NewRegistry("10.0.0.1", "10.0.0.2", clk),
		clock:    clk,
	}
	f.svc = New(Deps{
		Registry: f.registry,
		State:    st,
		History:  hist,
		Images:   imaging.NewProcessor(archive, imaging.DefaultOptions(), clk),
		Relay:    f.relay,
		Apps:     f.apps,
		Notifier: f.notifier,
		Clock:    clk,
	}, Options{Thresholds: device.DefaultThresholds(), ArchiveFrames: true})
	return f
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: 120, B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

func TestSensorPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.Sensor(ctx, device.Raw{"temperature": 27.5, "humidity": 85.0, "movement": true}, "10.0.0.9")

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, device.AlertHigh, res.Processing.AlertLevel)
	assert.True(t, res.Processing.HistoryStored)
	assert.False(t, res.Processing.RedisStored, "memory mode is not redis")
	assert.Equal(t, 2, res.Processing.AppsNotified)
	assert.Equal(t, string(notify.OutcomeSent), res.Processing.Notification)
	assert.Equal(t, "2025년 03월 01일 12:00:00", res.KoreaTime)

	latest, ok, err := f.state.LatestReading(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 27.5, latest.Temperature)
	assert.Equal(t, "10.0.0.9", f.registry.IP(device.KindESP32))
	assert.Equal(t, device.StatusConnected, f.registry.Status(device.KindESP32))

	entries, err := f.history.History(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, []string{"esp32_sensor_data"}, f.apps.types())
}

func TestThresholdsReload(t *testing.T) {
	f := newFixture(t)
	th := device.DefaultThresholds()
	th.TempMax = 30
	th.TempExtremeHigh = 35
	f.svc.SetOptions(Options{Thresholds: th})

	res := f.svc.Sensor(context.Background(), device.Raw{"temperature": 27.0, "humidity": 50.0}, "10.0.0.9")
	assert.Equal(t, device.AlertLow, res.Processing.AlertLevel)
}

func TestImagePipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b64 := imaging.EncodeBase64(testJPEG(t, 64, 48))

	res := f.svc.Image(ctx, device.Raw{"image": "data:image/jpeg;base64," + b64}, "10.0.0.8")

	require.True(t, res.Processing.ImageValid, res.Processing.Error)
	assert.True(t, res.Processing.ImageStored)
	assert.NotEmpty(t, res.Processing.SavedFile)
	assert.NotEmpty(t, res.Processing.ThumbnailBase64)
	assert.Equal(t, 1, f.relay.frames)
	assert.Len(t, f.apps.updates, 1)

	rec, ok, err := f.state.LatestImage(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b64, rec.ImageBase64)
	assert.Equal(t, 64, rec.Metadata.Width)
	assert.Equal(t, "esp_eye", rec.Source)

	stats, err := f.history.DailyStats(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ImagesCaptured)
}

func TestImagePipelineRejectsGarbage(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Image(context.Background(), device.Raw{"image": "bm90IGEganBlZw=="}, "10.0.0.8")

	assert.Equal(t, "success", res.Status)
	assert.False(t, res.Processing.ImageValid)
	assert.NotEmpty(t, res.Processing.Error)
	assert.Zero(t, f.relay.frames)
	_, ok, err := f.state.LatestImage(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Upload(context.Background(), testJPEG(t, 32, 32), "10.0.0.8")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Filename)
	assert.True(t, res.ImageStored)
	assert.Equal(t, 32, res.Analysis.Width)

	_, err = f.svc.Upload(context.Background(), []byte("not a jpeg"), "10.0.0.8")
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDataRoutesParts(t *testing.T) {
	tests := []struct {
		name string
		raw  func(t *testing.T) device.Raw
		want []string
	}{
		{"sensor only", func(*testing.T) device.Raw { return device.Raw{"temperature": 22.0} }, []string{PartSensor}},
		{"image only", func(t *testing.T) device.Raw {
			return device.Raw{"image": imaging.EncodeBase64(testJPEG(t, 16, 16))}
		}, []string{PartImage}},
		{"both", func(t *testing.T) device.Raw {
			return device.Raw{"image": imaging.EncodeBase64(testJPEG(t, 16, 16)), "humidity": 50.0}
		}, []string{PartImage, PartSensor}},
		{"neither", func(*testing.T) device.Raw { return device.Raw{"uptime": 12.0} }, []string{PartDefault}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.svc.Data(context.Background(), tt.raw(t), "10.0.0.7")
			assert.Equal(t, tt.want, res.ProcessedTypes)
			assert.Equal(t, "10.0.0.7", res.ReceivedFrom)
			assert.Equal(t, 2, res.BroadcastSent)
		})
	}
}

func TestNewDataBroadcastOmitsFrame(t *testing.T) {
	f := newFixture(t)
	b64 := imaging.EncodeBase64(testJPEG(t, 16, 16))

	f.svc.Data(context.Background(), device.Raw{"image": b64, "temperature": 21.0}, "10.0.0.7")

	var newData hub.Message
	for _, m := range f.apps.msgs {
		if m["type"] == "new_data" {
			newData = m
		}
	}
	require.NotNil(t, newData)
	data := newData["data"].(device.Raw)
	assert.NotContains(t, data, "image")
	assert.Equal(t, len(b64), data["image_size"])
	assert.Equal(t, true, data["has_image"])
}

func TestDataSkipsBroadcastWithoutApps(t *testing.T) {
	f := newFixture(t)
	f.apps.clients = 0

	res := f.svc.Data(context.Background(), device.Raw{"temperature": 22.0}, "10.0.0.7")
	assert.Zero(t, res.BroadcastSent)
	assert.NotContains(t, f.apps.types(), "new_data")
}
