// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/babybridge/internal/clock"
)

var errDevice = errors.New("device unreachable")

func fail(context.Context) error    { return errDevice }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	cb := NewCircuitBreaker("test", 2, time.Minute, WithClock(clk))
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, fail), errDevice)
	assert.Equal(t, StateClosed, cb.State())
	require.ErrorIs(t, cb.Execute(ctx, fail), errDevice)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	var transitions []State
	cb := NewCircuitBreaker("test", 1, 10*time.Second,
		WithClock(clk),
		WithStateChange(func(_, to State) { transitions = append(transitions, to) }),
	)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(11 * time.Second)

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_SingleProbeInFlight(t *testing.T) {
	clk := clock.NewFixed(time.Now())
	cb := NewCircuitBreaker("test", 1, time.Second, WithClock(clk))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(2 * time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
		return errDevice
	})
	assert.ErrorIs(t, err, errDevice)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)
	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}
