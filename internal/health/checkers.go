// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PingChecker wraps a ping function. When optional, failures only degrade.
type PingChecker struct {
	name     string
	ping     func(ctx context.Context) error
	optional bool
}

// NewPingChecker creates a checker backed by ping.
func NewPingChecker(name string, optional bool, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping, optional: optional}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if err := c.ping(ctx); err != nil {
		st := StatusUnhealthy
		if c.optional {
			st = StatusDegraded
		}
		return CheckResult{Status: st, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// StateChecker reports the storage mode. Memory mode is degraded, never
// unhealthy, because every operation still works.
type StateChecker struct {
	mode func() string
	ping func(ctx context.Context) error
}

// NewStateChecker creates a checker for the Redis manager.
func NewStateChecker(mode func() string, ping func(ctx context.Context) error) *StateChecker {
	return &StateChecker{mode: mode, ping: ping}
}

func (c *StateChecker) Name() string { return "state" }

func (c *StateChecker) Check(ctx context.Context) CheckResult {
	mode := c.mode()
	if mode != "redis" {
		return CheckResult{Status: StatusDegraded, Message: "in-memory mode"}
	}
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Message: "redis ping failed", Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "redis"}
}

// FreshnessChecker degrades when a device has been silent for longer than
// maxAge. Devices that never reported are reported but not held against
// readiness.
type FreshnessChecker struct {
	name     string
	lastSeen func() time.Time
	maxAge   time.Duration
	now      func() time.Time
}

// NewFreshnessChecker creates a device freshness checker.
func NewFreshnessChecker(name string, maxAge time.Duration, lastSeen func() time.Time) *FreshnessChecker {
	return &FreshnessChecker{name: name, lastSeen: lastSeen, maxAge: maxAge, now: time.Now}
}

func (c *FreshnessChecker) Name() string { return c.name }

func (c *FreshnessChecker) Check(context.Context) CheckResult {
	last := c.lastSeen()
	if last.IsZero() {
		return CheckResult{Status: StatusHealthy, Message: "no data received yet"}
	}
	age := c.now().Sub(last)
	if age > c.maxAge {
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("last data %s ago", age.Round(time.Second))}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("last data %s ago", age.Round(time.Second))}
}

// DirChecker checks that a directory exists and is writable.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for a writable directory. An empty path
// is treated as not configured.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	f, err := os.CreateTemp(path, ".write_test-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(filepath.Clean(name))
	return nil
}
