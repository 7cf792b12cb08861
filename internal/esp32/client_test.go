// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package esp32

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/resilience"
)

func newClient(t *testing.T, h http.HandlerFunc, opts Options) (*Client, *device.Registry) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	reg := device.NewRegistry(strings.TrimPrefix(srv.URL, "http://"), "", nil)
	return New(reg, opts, nil), reg
}

func TestSendPostsWireCommand(t *testing.T) {
	var got map[string]any
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/command", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}, Options{})

	err := c.Send(context.Background(), Command{Command: "lullaby_control", Params: map[string]any{"action": "start"}})
	require.NoError(t, err)

	assert.Equal(t, "lullaby_control", got["command"])
	assert.Equal(t, "server", got["source"])
	assert.Equal(t, map[string]any{"action": "start"}, got["params"])
	assert.NotEmpty(t, got["timestamp"])
}

func TestSendNon200IsFailure(t *testing.T) {
	c, reg := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, Options{})

	err := c.Send(context.Background(), Command{Command: "reboot"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, device.StatusDisconnected, reg.Status(device.KindESP32))
}

func TestSendTimeoutMarksDevice(t *testing.T) {
	release := make(chan struct{})
	c, reg := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Options{Timeout: 50 * time.Millisecond})
	defer close(release)

	err := c.Send(context.Background(), Command{Command: "status"})
	require.Error(t, err)
	assert.Equal(t, device.StatusTimeout, reg.Status(device.KindESP32))
}

func TestSendConnectionErrorMarksDevice(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	reg := device.NewRegistry(addr, "", nil)
	c := New(reg, Options{}, nil)

	err := c.Send(context.Background(), Command{Command: "status"})
	require.Error(t, err)
	assert.Equal(t, device.StatusError, reg.Status(device.KindESP32))
}

func TestSendValidatesInput(t *testing.T) {
	reg := device.NewRegistry("", "", nil)
	c := New(reg, Options{}, nil)

	assert.ErrorIs(t, c.Send(context.Background(), Command{}), ErrEmptyCommand)
	assert.ErrorIs(t, c.Send(context.Background(), Command{Command: "x"}), ErrUnknownDevice)
}

func TestCircuitOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, Options{BreakerThreshold: 2, BreakerReset: time.Hour})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, c.Send(context.Background(), Command{Command: "x"}), ErrRejected)
	}
	assert.Equal(t, resilience.StateOpen, c.Breaker())
	assert.ErrorIs(t, c.Send(context.Background(), Command{Command: "x"}), resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimit(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {}, Options{Rate: 0.001, Burst: 1})

	require.NoError(t, c.Send(context.Background(), Command{Command: "x"}))
	assert.ErrorIs(t, c.Send(context.Background(), Command{Command: "x"}), ErrRateLimited)
}
