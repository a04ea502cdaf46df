package systemd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/clusterprep/pkg/runner"
)

// Manager drives host services through systemctl:
//   - State: is-active checks and polling until a unit settles
//   - Enablement: enable --now for services that must run at boot
//   - Reload: in-place config reloads after a validated change
//   - Discovery: picking the installed unit among distro-specific names
type Manager struct {
	run runner.Runner
	log *zap.SugaredLogger

	// pollInterval is how often WaitActive re-checks a unit.
	pollInterval time.Duration
}

// NewManager returns a Manager running systemctl through run.
func NewManager(run runner.Runner, log *zap.SugaredLogger) *Manager {
	return &Manager{
		run:          run,
		log:          log.Named("systemd"),
		pollInterval: 500 * time.Millisecond,
	}
}

// ─── State ──────────────────────────────────────────────────────────────────

// IsActive reports whether unit is currently active.
func (m *Manager) IsActive(ctx context.Context, unit string) bool {
	out, err := m.run.Run(ctx, "systemctl", "is-active", unit)
	if err != nil {
		m.log.Debugw("unit not active", "unit", unit,
			"state", strings.TrimSpace(string(out)), "code", runner.ExitCode(err))
		return false
	}
	return true
}

// WaitActive polls unit until it is active or timeout elapses. The first
// check happens immediately; a non-positive timeout means a single check.
func (m *Manager) WaitActive(ctx context.Context, unit string, timeout time.Duration) error {
	if m.IsActive(ctx, unit) {
		return nil
	}
	if timeout <= 0 {
		return fmt.Errorf("unit %s is not active", unit)
	}

	deadline := time.After(timeout)
	tick := time.NewTicker(m.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timeout waiting for %s to become active", unit)
		case <-tick.C:
			if m.IsActive(ctx, unit) {
				return nil
			}
		}
	}
}

// ─── Enablement ─────────────────────────────────────────────────────────────

// EnableNow enables unit at boot and starts it.
func (m *Manager) EnableNow(ctx context.Context, unit string) error {
	if _, err := m.run.Run(ctx, "systemctl", "enable", "--now", unit); err != nil {
		return fmt.Errorf("enabling %s: %w", unit, err)
	}
	m.log.Infow("unit enabled", "unit", unit)
	return nil
}

// ─── Reload ─────────────────────────────────────────────────────────────────

// Reload asks unit to re-read its configuration.
func (m *Manager) Reload(ctx context.Context, unit string) error {
	if _, err := m.run.Run(ctx, "systemctl", "reload", unit); err != nil {
		return fmt.Errorf("reloading %s: %w", unit, err)
	}
	m.log.Infow("unit reloaded", "unit", unit)
	return nil
}

// ─── Discovery ──────────────────────────────────────────────────────────────

// Installed reports whether a unit file for unit exists.
func (m *Manager) Installed(ctx context.Context, unit string) bool {
	_, err := m.run.Run(ctx, "systemctl", "cat", unit+".service")
	return err == nil
}

// FirstInstalled returns the first of candidates that has a unit file.
func (m *Manager) FirstInstalled(ctx context.Context, candidates ...string) (string, bool) {
	for _, c := range candidates {
		if m.Installed(ctx, c) {
			return c, true
		}
	}
	return "", false
}
