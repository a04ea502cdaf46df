package network

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/clusterprep/pkg/fileutil"
	"github.com/glennswest/clusterprep/pkg/runner"
	"github.com/glennswest/clusterprep/pkg/systemd"
	"github.com/glennswest/clusterprep/pkg/ui"
)

const cloudInitDisableFile = "99-disable-network-config.cfg"

var cloudInitDisable = []byte("network: {config: disabled}\n")

// Paths locates the files the reconciler owns.
type Paths struct {
	Config       string // managed netplan file
	Dir          string // netplan directory, all *.yaml get owner-only permissions
	CloudInitDir string // cloud.cfg.d; skipped when absent
}

// ReconcilerOpts configures a Reconciler.
type ReconcilerOpts struct {
	Inspector Inspector
	Runner    runner.Runner
	Units     *systemd.Manager
	Paths     Paths
	Status    *ui.Printer
	Log       *zap.SugaredLogger

	// Now stamps backups. Defaults to time.Now.
	Now func() time.Time
	// Detect selects the apply strategy. Defaults to DetectStrategy.
	Detect func(ctx context.Context) Strategy
}

// Reconciler converges the node's declarative network config toward an
// Intent, skipping when live state already matches.
type Reconciler struct {
	inspector Inspector
	run       runner.Runner
	paths     Paths
	status    *ui.Printer
	log       *zap.SugaredLogger
	now       func() time.Time
	detect    func(ctx context.Context) Strategy
}

// NewReconciler builds a Reconciler from opts.
func NewReconciler(opts ReconcilerOpts) *Reconciler {
	r := &Reconciler{
		inspector: opts.Inspector,
		run:       opts.Runner,
		paths:     opts.Paths,
		status:    opts.Status,
		log:       opts.Log.Named("network"),
		now:       opts.Now,
		detect:    opts.Detect,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.detect == nil {
		units := opts.Units
		r.detect = func(ctx context.Context) Strategy {
			return DetectStrategy(ctx, opts.Runner, units)
		}
	}
	return r
}

// Reconcile validates intent, then writes, validates and activates a new
// netplan config unless live state already matches it.
func (r *Reconciler) Reconcile(ctx context.Context, intent Intent, cls Classification) (_ Result, err error) {
	if err := intent.Validate(); err != nil {
		r.status.Fail("network intent rejected: %v", err)
		return "", err
	}
	if intent.Mode == ModeOnline && cls.NAT == "" {
		return "", fmt.Errorf("online mode requires a NAT interface")
	}

	log := r.log.With("cluster", cls.Cluster, "address", intent.Address, "mode", intent.Mode)

	inSync, err := r.inSync(ctx, intent, cls, log)
	if err != nil {
		return "", err
	}
	if inSync {
		log.Infow("network already converged")
		r.status.Skip("network: %s already has %s and %s exists", cls.Cluster, intent.Address, r.paths.Config)
		return ResultSkipped, nil
	}

	// Backup before any write.
	backup, err := fileutil.Backup(r.paths.Config, r.now())
	if err != nil {
		return "", err
	}
	if backup != "" {
		log.Infow("netplan config backed up", "backup", backup)
	}

	// Until netplan generate accepts the new file, any failure puts the
	// previous config back.
	validated := false
	defer func() {
		if err == nil || validated {
			return
		}
		if rbErr := r.rollback(backup); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
	}()

	strategy := r.detect(ctx)
	log = log.With("strategy", strategy.Name())

	doc := BuildDocument(intent, cls, strategy.Renderer())
	raw, err := doc.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(r.paths.Config), 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", filepath.Dir(r.paths.Config), err)
	}
	if err := fileutil.WriteAtomic(r.paths.Config, raw, 0o600); err != nil {
		return "", err
	}
	log.Infow("netplan config written", "path", r.paths.Config)

	if err := r.disableCloudInitNetwork(); err != nil {
		log.Warnw("failed to disable cloud-init network config", "error", err)
		r.status.Warn("network: could not disable cloud-init network config: %v", err)
	}

	if err := r.tightenPermissions(); err != nil {
		return "", err
	}

	if out, err := r.run.Run(ctx, "netplan", "generate"); err != nil {
		log.Errorw("netplan generate rejected config", "error", err, "output", string(out))
		r.status.Fail("network: netplan generate rejected %s", r.paths.Config)
		return "", fmt.Errorf("%w: %v", ErrConfigGeneration, err)
	}
	validated = true

	if err := strategy.Apply(ctx); err != nil {
		log.Errorw("network apply failed", "error", err)
		r.status.Fail("network: %v", err)
		return "", err
	}

	log.Infow("network config applied")
	r.status.Change("network: %s set to %s via %s (%s)", cls.Cluster, intent.Address, intent.Gateway, strategy.Name())
	return ResultApplied, nil
}

// inSync reports whether live state already matches intent and the managed
// config file exists and describes the same address.
func (r *Reconciler) inSync(ctx context.Context, intent Intent, cls Classification, log *zap.SugaredLogger) (bool, error) {
	if !fileutil.Exists(r.paths.Config) {
		return false, nil
	}
	doc, err := LoadDocument(r.paths.Config)
	if err != nil {
		log.Warnw("managed netplan config unreadable, rewriting", "error", err)
		return false, nil
	}
	if !contains(doc.Network.Ethernets[cls.Cluster].Addresses, intent.Address.String()) {
		return false, nil
	}

	addrs, err := r.inspector.Addresses(ctx, cls.Cluster)
	if err != nil {
		return false, fmt.Errorf("reading addresses on %s: %w", cls.Cluster, err)
	}
	if !hasPrefix(addrs, intent.Address) {
		return false, nil
	}

	route, ok, err := r.inspector.DefaultRoute(ctx)
	if err != nil {
		return false, fmt.Errorf("reading default route: %w", err)
	}
	if !ok {
		return false, nil
	}

	switch intent.Mode {
	case ModeOnline:
		return route.Interface == cls.NAT, nil
	default:
		return route.Gateway == intent.Gateway, nil
	}
}

// rollback puts the managed config back to its pre-attempt content: the
// latest backup when there was a prior file, no file otherwise.
func (r *Reconciler) rollback(backup string) error {
	if backup == "" {
		if err := os.Remove(r.paths.Config); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing rejected config %s: %w", r.paths.Config, err)
		}
		r.status.Rollback("network: removed rejected %s", r.paths.Config)
		return nil
	}
	if err := fileutil.Restore(backup, r.paths.Config); err != nil {
		return err
	}
	r.log.Infow("netplan config restored", "backup", backup)
	r.status.Rollback("network: restored %s from %s", r.paths.Config, backup)
	return nil
}

func (r *Reconciler) disableCloudInitNetwork() error {
	if r.paths.CloudInitDir == "" {
		return nil
	}
	info, err := os.Stat(r.paths.CloudInitDir)
	if err != nil || !info.IsDir() {
		return nil
	}
	path := filepath.Join(r.paths.CloudInitDir, cloudInitDisableFile)
	wrote, err := fileutil.WriteIfChanged(path, cloudInitDisable, 0o644)
	if err != nil {
		return err
	}
	if wrote {
		r.log.Infow("cloud-init network config disabled", "path", path)
	}
	return nil
}

// tightenPermissions makes every netplan file owner-only; netplan warns
// about, and newer releases refuse, world-readable configs.
func (r *Reconciler) tightenPermissions() error {
	dir := r.paths.Dir
	if dir == "" {
		dir = filepath.Dir(r.paths.Config)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, m := range matches {
		if err := os.Chmod(m, 0o600); err != nil {
			return fmt.Errorf("tightening netplan permissions: %w", err)
		}
		if os.Geteuid() == 0 {
			if err := os.Chown(m, 0, 0); err != nil {
				return fmt.Errorf("tightening netplan permissions: %w", err)
			}
		}
	}
	return nil
}

func hasPrefix(list []netip.Prefix, want netip.Prefix) bool {
	for _, p := range list {
		if p == want {
			return true
		}
	}
	return false
}
