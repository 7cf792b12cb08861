// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/babybridge/internal/clock"
	"github.com/ManuGH/babybridge/internal/device"
	"github.com/ManuGH/babybridge/internal/hub"
	"github.com/ManuGH/babybridge/internal/log"
	"github.com/ManuGH/babybridge/internal/metrics"
)

// Alerter delivers emergency alerts to apps.
type Alerter interface {
	SendAlert(alert hub.Message) int
}

// Outcome of an evaluation.
type Outcome string

const (
	OutcomeNone       Outcome = "none"
	OutcomeSent       Outcome = "sent"
	OutcomeQuiet      Outcome = "suppressed_quiet"
	OutcomeDisabled   Outcome = "disabled"
	OutcomeNoAudience Outcome = "no_audience"
)

// Dispatcher turns high alert readings into emergency_alert messages.
type Dispatcher struct {
	repo    *Repository
	alerter Alerter
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(repo *Repository, alerter Alerter, clk clock.Clock) *Dispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dispatcher{repo: repo, alerter: alerter, clock: clk, logger: log.WithComponent("notify")}
}

// Evaluate sends an alert when r is high, environment alerts are enabled and
// the current time is outside quiet hours.
func (d *Dispatcher) Evaluate(ctx context.Context, r device.Reading) Outcome {
	if r.AlertLevel != device.AlertHigh {
		return OutcomeNone
	}

	settings, err := d.repo.Load(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("using default notification settings")
	}
	if !settings.EnvironmentAlert {
		metrics.RecordNotification(string(OutcomeDisabled))
		return OutcomeDisabled
	}
	now := d.clock.Now()
	if InQuietHours(settings, now) {
		metrics.RecordNotification(string(OutcomeQuiet))
		d.logger.Info().Str(log.FieldAlertLevel, r.AlertLevel).Msg("alert suppressed during quiet hours")
		return OutcomeQuiet
	}

	n := d.alerter.SendAlert(hub.Message{
		"alert_type":    "environment",
		"alert_level":   r.AlertLevel,
		"alert_score":   r.AlertScore,
		"alert_factors": r.AlertFactors,
		"message":       strings.Join(r.AlertFactors, ", "),
		"temperature":   r.Temperature,
		"humidity":      r.Humidity,
		"device_ip":     r.DeviceIP,
		"korea_time":    clock.Korean(now).KoreaTime,
	})
	if n == 0 {
		metrics.RecordNotification(string(OutcomeNoAudience))
		return OutcomeNoAudience
	}

	metrics.RecordNotification(string(OutcomeSent))
	d.logger.Warn().
		Str(log.FieldEvent, "notify.emergency_alert").
		Str(log.FieldAlertLevel, r.AlertLevel).
		Strs("factors", r.AlertFactors).
		Int("recipients", n).
		Msg("emergency alert sent")
	return OutcomeSent
}
