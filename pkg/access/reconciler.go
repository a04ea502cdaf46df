package access

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/clusterprep/pkg/config"
	"github.com/glennswest/clusterprep/pkg/fileutil"
	"github.com/glennswest/clusterprep/pkg/runner"
	"github.com/glennswest/clusterprep/pkg/systemd"
	"github.com/glennswest/clusterprep/pkg/ui"
)

const sshPackage = "openssh-server"

// Paths locates the files the reconciler owns.
type Paths struct {
	SSHDConfig string
	Hosts      string
}

// ReconcilerOpts configures a Reconciler.
type ReconcilerOpts struct {
	Runner     runner.Runner
	Units      *systemd.Manager
	Paths      Paths
	Directives []Directive // defaults to DefaultDirectives
	Status     *ui.Printer
	Log        *zap.SugaredLogger

	// Now stamps backups. Defaults to time.Now.
	Now func() time.Time
	// Hostname reads the live host name. Defaults to os.Hostname.
	Hostname func() (string, error)
}

// Reconciler keeps the node's remote-access identity in shape: the sshd
// service and its hardening directives, the host name, and the roster
// block of the hosts file.
type Reconciler struct {
	run        runner.Runner
	units      *systemd.Manager
	paths      Paths
	directives []Directive
	status     *ui.Printer
	log        *zap.SugaredLogger
	now        func() time.Time
	hostname   func() (string, error)
}

// NewReconciler builds a Reconciler from opts.
func NewReconciler(opts ReconcilerOpts) *Reconciler {
	r := &Reconciler{
		run:        opts.Runner,
		units:      opts.Units,
		paths:      opts.Paths,
		directives: append([]Directive(nil), opts.Directives...),
		status:     opts.Status,
		log:        opts.Log.Named("access"),
		now:        opts.Now,
		hostname:   opts.Hostname,
	}
	if len(r.directives) == 0 {
		r.directives = DefaultDirectives()
	}
	SortDirectives(r.directives)
	if r.now == nil {
		r.now = time.Now
	}
	if r.hostname == nil {
		r.hostname = os.Hostname
	}
	return r
}

// Reconcile runs every stage in order and stops at the first hard failure.
// Service installation problems are warnings only.
func (r *Reconciler) Reconcile(ctx context.Context, role config.Role, hostname string, roster config.Roster) error {
	r.log.Infow("reconciling node identity", "role", role, "hostname", hostname, "roster", roster.Len())

	unit := r.EnsureService(ctx)

	if err := r.ReconcileDirectives(ctx, unit); err != nil {
		return err
	}
	if err := r.EnsureHostname(ctx, hostname); err != nil {
		return err
	}
	return r.ReconcileHosts(hostname, roster)
}

// ─── Service ────────────────────────────────────────────────────────────────

// EnsureService installs and starts the SSH server on a best-effort basis
// and returns the unit name in use ("ssh" on Debian derivatives, "sshd"
// elsewhere).
func (r *Reconciler) EnsureService(ctx context.Context) string {
	out, err := r.run.Run(ctx, "dpkg-query", "-W", "-f=${Status}", sshPackage)
	switch {
	case err != nil && runner.ExitCode(err) < 0:
		r.log.Warnw("package query unavailable, skipping install check", "error", err)
	case err != nil || !strings.Contains(string(out), "install ok installed"):
		r.log.Infow("installing ssh server", "package", sshPackage)
		if out, err := r.run.Run(ctx, "apt-get", "install", "-y", sshPackage); err != nil {
			r.log.Warnw("ssh server install failed", "error", err, "output", string(out))
			r.status.Warn("ssh: installing %s failed: %v", sshPackage, err)
		} else {
			r.status.Change("ssh: installed %s", sshPackage)
		}
	}

	unit, ok := r.units.FirstInstalled(ctx, "ssh", "sshd")
	if !ok {
		unit = "ssh"
		r.log.Warnw("no ssh unit file found, assuming default", "unit", unit)
	}

	if r.units.IsActive(ctx, unit) {
		r.status.Skip("ssh: %s already running", unit)
		return unit
	}
	if err := r.units.EnableNow(ctx, unit); err != nil {
		r.log.Warnw("enabling ssh unit failed", "unit", unit, "error", err)
		r.status.Warn("ssh: could not enable %s: %v", unit, err)
		return unit
	}
	r.status.Change("ssh: %s enabled and started", unit)
	return unit
}

// ─── Directives ─────────────────────────────────────────────────────────────

// ReconcileDirectives patches sshd_config toward the directive set,
// validates the result with sshd -t and reloads unit. An unchanged config
// is not written. An invalid one is rolled back and reported as
// ErrServiceConfig.
func (r *Reconciler) ReconcileDirectives(ctx context.Context, unit string) error {
	path := r.paths.SSHDConfig
	log := r.log.With("path", path)

	// This capture is the backup source; it predates every patch.
	original, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	perm := fileutil.FileMode(path, 0o644)

	patched, changed := PatchDirectives(original, r.directives)
	if len(changed) == 0 {
		r.status.Skip("sshd: %d directives already set", len(r.directives))
		return nil
	}

	backup := ""
	if original != nil {
		if backup, err = fileutil.BackupBytes(path, original, perm, r.now()); err != nil {
			return err
		}
		log.Infow("sshd config backed up", "backup", backup)
	}
	if err := fileutil.WriteAtomic(path, patched, perm); err != nil {
		return err
	}
	for _, d := range changed {
		log.Infow("sshd directive set", "key", d.Key, "value", d.Value)
	}

	if out, err := r.run.Run(ctx, "sshd", "-t", "-f", path); err != nil {
		log.Errorw("patched sshd config rejected", "error", err, "output", string(out))
		r.status.Fail("sshd: validation rejected patched %s", path)
		rbErr := r.rollbackDirectives(ctx, backup, unit)
		return errors.Join(fmt.Errorf("%w: %s", ErrServiceConfig, strings.TrimSpace(string(out))), rbErr)
	}

	if err := r.units.Reload(ctx, unit); err != nil {
		log.Warnw("sshd reload failed", "unit", unit, "error", err)
		r.status.Warn("sshd: config valid but reload of %s failed: %v", unit, err)
	}
	r.status.Change("sshd: set %s", directiveList(changed))
	return nil
}

func (r *Reconciler) rollbackDirectives(ctx context.Context, backup, unit string) error {
	path := r.paths.SSHDConfig
	if backup == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing rejected %s: %w", path, err)
		}
	} else if err := fileutil.Restore(backup, path); err != nil {
		return err
	}
	r.status.Rollback("sshd: restored %s", path)
	if err := r.units.Reload(ctx, unit); err != nil {
		r.log.Warnw("sshd reload after rollback failed", "unit", unit, "error", err)
	}
	return nil
}

func directiveList(ds []Directive) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, ", ")
}

// ─── Hostname ───────────────────────────────────────────────────────────────

// EnsureHostname sets the host name when it differs from the live one.
func (r *Reconciler) EnsureHostname(ctx context.Context, hostname string) error {
	current, err := r.hostname()
	if err != nil {
		return fmt.Errorf("reading hostname: %w", err)
	}
	if current == hostname {
		r.status.Skip("hostname: already %s", hostname)
		return nil
	}
	if out, err := r.run.Run(ctx, "hostnamectl", "set-hostname", hostname); err != nil {
		r.status.Fail("hostname: could not set %s", hostname)
		return fmt.Errorf("setting hostname %s: %w (%s)", hostname, err, strings.TrimSpace(string(out)))
	}
	r.log.Infow("hostname changed", "from", current, "to", hostname)
	r.status.Change("hostname: %s -> %s", current, hostname)
	return nil
}

// ─── Hosts ──────────────────────────────────────────────────────────────────

// ReconcileHosts writes the roster block into the hosts file. Nothing is
// written, and no backup kept, when the result is byte-identical.
func (r *Reconciler) ReconcileHosts(hostname string, roster config.Roster) error {
	path := r.paths.Hosts
	original, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	perm := fileutil.FileMode(path, 0o644)

	updated := RenderHosts(original, hostname, roster.HostsLines())
	if bytes.Equal(updated, original) {
		r.status.Skip("hosts: roster block up to date (%d nodes)", roster.Len())
		return nil
	}

	if original != nil {
		backup, err := fileutil.BackupBytes(path, original, perm, r.now())
		if err != nil {
			return err
		}
		r.log.Infow("hosts file backed up", "backup", backup)
	}
	if err := fileutil.WriteAtomic(path, updated, perm); err != nil {
		return err
	}
	r.log.Infow("hosts roster block written", "path", path, "nodes", roster.Len())
	r.status.Change("hosts: roster block set (%d nodes)", roster.Len())
	return nil
}
