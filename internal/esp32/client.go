// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package esp32 forwards app commands to the ESP32 sensor board over HTTP.
package esp32

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
	"github.com/ManuGH/babybridge/internal/platform/httpx"
	"github.com/ManuGH/babybridge/internal/resilience"
)

var (
	ErrUnknownDevice = errors.New("esp32 address unknown")
	ErrEmptyCommand  = errors.New("command is required")
	ErrRateLimited   = errors.New("esp32 command rate exceeded")
	ErrRejected      = errors.New("esp32 rejected command")
)

// Command is what apps ask the board to do.
type Command struct {
	Command string         `json:"command" validate:"required"`
	Params  map[string]any `json:"params,omitempty"`
}

// wireCommand is the body the firmware expects on POST /command.
type wireCommand struct {
	Command   string         `json:"command"`
	Params    map[string]any `json:"params"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
}

// Options configures the client.
type Options struct {
	Timeout          time.Duration
	Rate             float64
	Burst            int
	BreakerThreshold int
	BreakerReset     time.Duration
	Tracing          bool
}

// Client sends commands to the device recorded in the registry.
type Client struct {
	http     *http.Client
	registry *device.Registry
	breaker  *resilience.CircuitBreaker
	limiter  *rate.Limiter
	clock    clock.Clock
	logger   zerolog.Logger
}

// New creates a client. Rate <= 0 disables outbound limiting.
func New(registry *device.Registry, opts Options, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.Real{}
	}
	var httpOpts []httpx.Option
	if opts.Tracing {
		httpOpts = append(httpOpts, httpx.WithTracing())
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		http:     httpx.NewClient(opts.Timeout, httpOpts...),
		registry: registry,
		breaker: resilience.NewCircuitBreaker("esp32", opts.BreakerThreshold, opts.BreakerReset,
			resilience.WithClock(clk),
			resilience.WithStateChange(func(from, to resilience.State) {
				if to == resilience.StateOpen {
					metrics.RecordCircuitBreakerTrip("esp32", "command_failures")
				}
			})),
		limiter: rate.NewLimiter(limit, burst),
		clock:   clk,
		logger:  log.WithComponent("esp32"),
	}
}

// Breaker exposes the breaker state for status endpoints.
func (c *Client) Breaker() resilience.State { return c.breaker.State() }

// Send posts cmd to http://<esp32_ip>/command. Only HTTP 200 counts as
// success. Timeouts mark the device "timeout"; other transport errors mark
// it "error".
func (c *Client) Send(ctx context.Context, cmd Command) error {
	if cmd.Command == "" {
		return ErrEmptyCommand
	}
	ip := c.registry.IP(device.KindESP32)
	if ip == "" {
		metrics.RecordCommand(cmd.Command, "rejected")
		return ErrUnknownDevice
	}
	if !c.limiter.Allow() {
		metrics.RecordCommand(cmd.Command, "rejected")
		return ErrRateLimited
	}

	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(wireCommand{
		Command:   cmd.Command,
		Params:    params,
		Timestamp: clock.ISO(c.clock.Now()),
		Source:    "server",
	})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	logger := log.WithContext(ctx, c.logger).With().
		Str(log.FieldCommand, cmd.Command).
		Str(log.FieldDeviceIP, ip).
		Logger()

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "http://"+ip+"/command", body)
	})

	switch {
	case err == nil:
		metrics.RecordCommand(cmd.Command, "sent")
		logger.Info().Str(log.FieldEvent, "esp32.command_sent").Msg("command delivered")
		return nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.RecordCommand(cmd.Command, "rejected")
		logger.Warn().Str(log.FieldEvent, "esp32.circuit_open").Msg("command skipped, device circuit open")
	case isTimeout(err):
		c.registry.SetStatus(device.KindESP32, device.StatusTimeout)
		metrics.RecordCommand(cmd.Command, "timeout")
		logger.Warn().Err(err).Str(log.FieldEvent, "esp32.command_timeout").Msg("command timed out")
	case errors.Is(err, ErrRejected):
		metrics.RecordCommand(cmd.Command, "failed")
		logger.Warn().Err(err).Str(log.FieldEvent, "esp32.command_rejected").Msg("device rejected command")
	default:
		c.registry.SetStatus(device.KindESP32, device.StatusError)
		metrics.RecordCommand(cmd.Command, "failed")
		logger.Error().Err(err).Str(log.FieldEvent, "esp32.command_failed").Msg("command failed")
	}
	return err
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
