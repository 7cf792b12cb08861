// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/babybridge/internal/config"
)

type staticChecker struct {
	name   string
	result CheckResult
}

func (s staticChecker) Name() string                      { return s.name }
func (s staticChecker) Check(context.Context) CheckResult { return s.result }

func TestHealthAlways200(t *testing.T) {
	m := NewManager("1.2.3")
	m.RegisterChecker(staticChecker{"db", CheckResult{Status: StatusUnhealthy}})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Empty(t, resp.Checks)

	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks, "db")
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		checks   []Checker
		wantCode int
		want     Status
	}{
		{"no checkers", nil, http.StatusOK, StatusHealthy},
		{"degraded stays ready", []Checker{
			staticChecker{"a", CheckResult{Status: StatusHealthy}},
			staticChecker{"b", CheckResult{Status: StatusDegraded}},
		}, http.StatusOK, StatusDegraded},
		{"unhealthy wins", []Checker{
			staticChecker{"a", CheckResult{Status: StatusUnhealthy}},
			staticChecker{"b", CheckResult{Status: StatusDegraded}},
		}, http.StatusServiceUnavailable, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("test")
			for _, c := range tt.checks {
				m.RegisterChecker(c)
			}
			rec := httptest.NewRecorder()
			m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestPingChecker(t *testing.T) {
	fail := func(context.Context) error { return errors.New("down") }
	assert.Equal(t, StatusUnhealthy, NewPingChecker("sqlite", false, fail).Check(context.Background()).Status)
	assert.Equal(t, StatusDegraded, NewPingChecker("sqlite", true, fail).Check(context.Background()).Status)
	ok := func(context.Context) error { return nil }
	assert.Equal(t, StatusHealthy, NewPingChecker("sqlite", false, ok).Check(context.Background()).Status)
}

func TestStateChecker(t *testing.T) {
	ok := func(context.Context) error { return nil }
	assert.Equal(t, StatusDegraded, NewStateChecker(func() string { return "memory" }, ok).Check(context.Background()).Status)
	assert.Equal(t, StatusHealthy, NewStateChecker(func() string { return "redis" }, ok).Check(context.Background()).Status)
}

func TestFreshnessChecker(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	last := time.Time{}
	c := NewFreshnessChecker("esp32", time.Minute, func() time.Time { return last })
	c.now = func() time.Time { return now }

	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	last = now.Add(-30 * time.Second)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	last = now.Add(-5 * time.Minute)
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "last data 5m0s ago", res.Message)
}

func TestDirChecker(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, NewDirChecker("data", dir).Check(context.Background()).Status)
	assert.Equal(t, StatusHealthy, NewDirChecker("data", "").Check(context.Background()).Status)

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	assert.Equal(t, StatusUnhealthy, NewDirChecker("data", file).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewDirChecker("data", filepath.Join(dir, "missing")).Check(context.Background()).Status)
}

func TestPerformStartupChecksCreatesDirs(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Images.Dir = filepath.Join(cfg.DataDir, "images")

	require.NoError(t, PerformStartupChecks(cfg))
	assert.DirExists(t, cfg.Images.Dir)
}
