// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/esp32"
	"github.com/ManuGH/babybridge/internal/history"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/state"
)

// Command sources recorded in the command log.
const (
	SourceAPI       = "api"
	SourceAppAPI    = "mobile_app_api"
	SourceWebSocket = "websocket"
)

// CommandLog records forwarded commands in the capped state log and in
// history. Recording never fails the command itself.
type CommandLog struct {
	state   *state.Store
	history *history.Store
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewCommandLog creates a CommandLog. history may be nil.
func NewCommandLog(st *state.Store, hist *history.Store, clk clock.Clock) *CommandLog {
	if clk == nil {
		clk = clock.Real{}
	}
	return &CommandLog{state: st, history: hist, clock: clk, logger: log.WithComponent("commands")}
}

// Record stores the outcome of one command.
func (l *CommandLog) Record(ctx context.Context, source string, cmd esp32.Command, sendErr error) {
	now := l.clock.Now()
	entry := state.CommandEntry{
		Command:   cmd.Command,
		Params:    cmd.Params,
		Source:    source,
		Success:   sendErr == nil,
		Timestamp: clock.ISO(now),
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}

	if l.state != nil {
		if err := l.state.AppendCommand(ctx, entry); err != nil {
			l.logger.Warn().Err(err).Str(log.FieldEvent, "commands.state_failed").Msg("failed to append command log")
		}
	}
	if l.history != nil {
		err := l.history.RecordCommand(ctx, history.Command{
			At:      now,
			Command: cmd.Command,
			Params:  cmd.Params,
			Source:  source,
			Success: entry.Success,
			Error:   entry.Error,
		})
		if err != nil {
			l.logger.Warn().Err(err).Str(log.FieldEvent, "commands.history_failed").Msg("failed to record command")
		}
	}
}

// Hook adapts the log to the hub's command observer.
func (l *CommandLog) Hook() hub.CommandHook {
	return func(ctx context.Context, _ string, cmd esp32.Command, err error) {
		l.Record(ctx, SourceWebSocket, cmd, err)
	}
}
