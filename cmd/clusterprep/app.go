package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/glennswest/clusterprep/pkg/access"
	"github.com/glennswest/clusterprep/pkg/config"
	"github.com/glennswest/clusterprep/pkg/network"
	"github.com/glennswest/clusterprep/pkg/network/driver"
	"github.com/glennswest/clusterprep/pkg/runner"
	"github.com/glennswest/clusterprep/pkg/systemd"
	"github.com/glennswest/clusterprep/pkg/trust"
	"github.com/glennswest/clusterprep/pkg/ui"
)

// app wires the reconcilers to one validated configuration.
type app struct {
	cfg      *config.Config
	roster   config.Roster
	hostname string

	log    *zap.SugaredLogger
	status *ui.Printer
	run    runner.Runner
	units  *systemd.Manager
}

// newApp loads and validates the effective configuration. Nothing on the
// host is touched before validation passes.
func newApp(opts *options, fs *pflag.FlagSet, out io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	opts.apply(cfg, fs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	roster, err := cfg.ParsedRoster()
	if err != nil {
		return nil, err
	}
	hostname, err := cfg.NodeHostname()
	if err != nil {
		return nil, err
	}

	log, err := newLogger(opts.debug)
	if err != nil {
		return nil, err
	}
	log = log.With("run", uuid.NewString())

	run := runner.Exec{}
	return &app{
		cfg:      cfg,
		roster:   roster,
		hostname: hostname,
		log:      log,
		status:   ui.NewPrinter(out),
		run:      run,
		units:    systemd.NewManager(run, log),
	}, nil
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger.Sugar(), nil
}

func (a *app) close() { _ = a.log.Sync() }

// bootstrap runs network, identity and, when asked, trust in that order.
func (a *app) bootstrap(ctx context.Context) error {
	a.log.Infow("bootstrap starting", "role", a.cfg.Role, "hostname", a.hostname)

	if err := a.network(ctx); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if err := a.identity(ctx); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if a.cfg.SyncKeys {
		if err := a.trust(ctx); err != nil {
			return fmt.Errorf("trust: %w", err)
		}
	}
	a.log.Infow("bootstrap complete")
	return nil
}

func (a *app) network(ctx context.Context) error {
	if a.cfg.Network.Address == "" {
		a.status.Skip("network: no static address requested")
		return nil
	}
	intent, err := a.cfg.Intent()
	if err != nil {
		return err
	}

	inspector := driver.NewLinux(a.log)
	cls, err := network.NewResolver(inspector, a.log).Resolve(ctx, intent.Mode)
	if err != nil {
		a.status.Fail("network: %v", err)
		return err
	}
	a.status.Info("network: cluster interface %s", cls.Cluster)

	rec := network.NewReconciler(network.ReconcilerOpts{
		Inspector: inspector,
		Runner:    a.run,
		Units:     a.units,
		Paths: network.Paths{
			Config:       a.cfg.Paths.Netplan,
			Dir:          a.cfg.Paths.NetplanDir,
			CloudInitDir: a.cfg.Paths.CloudInitDir,
		},
		Status: a.status,
		Log:    a.log,
	})
	_, err = rec.Reconcile(ctx, intent, cls)
	return err
}

func (a *app) identity(ctx context.Context) error {
	rec := access.NewReconciler(access.ReconcilerOpts{
		Runner: a.run,
		Units:  a.units,
		Paths: access.Paths{
			SSHDConfig: a.cfg.Paths.SSHDConfig,
			Hosts:      a.cfg.Paths.Hosts,
		},
		Status: a.status,
		Log:    a.log,
	})
	return rec.Reconcile(ctx, a.cfg.Role, a.hostname, a.roster)
}

func (a *app) trust(ctx context.Context) error {
	if a.cfg.Role != config.RoleMaster {
		return errors.New("key distribution runs on the master only")
	}
	localUser, err := currentUser()
	if err != nil {
		return err
	}
	remoteUser := a.cfg.SSH.User
	if remoteUser == "" {
		remoteUser = localUser
	}

	var password trust.PasswordSource = trust.StaticPassword(a.cfg.SSH.Password)
	if a.cfg.SSH.Password == "" {
		password = &trust.TerminalPrompt{User: remoteUser, In: os.Stdin, Out: os.Stderr}
	}

	remote := trust.NewSSHRemote(trust.SSHRemoteOpts{
		Runner:     a.run,
		User:       remoteUser,
		Port:       a.cfg.SSH.Port,
		KnownHosts: trust.KnownHostsPath(a.cfg.SSH.KeyDir),
		Password:   password,
		Log:        a.log,
	})
	dist := trust.NewDistributor(trust.DistributorOpts{
		Remote:        remote,
		KeyDir:        a.cfg.SSH.KeyDir,
		Role:          a.cfg.Role,
		LocalHostname: a.hostname,
		Status:        a.status,
		Log:           a.log,
	})

	report, err := dist.Distribute(ctx, a.roster, localUser)
	if len(report.Attempts) > 0 {
		a.status.Print(ui.Table([]string{"NODE", "ADDRESS", "OUTCOME", "DETAIL"}, report.Rows()))
		a.status.Info("trust: %d of %d attempted peers trusted, %d failures",
			report.Succeeded, report.Total, len(report.Failures))
	}
	return err
}

func currentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("looking up current user: %w", err)
	}
	return u.Username, nil
}
