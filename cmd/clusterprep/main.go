// clusterprep: prepares a bare machine to join the cluster.
//
// Stages, each idempotent and safe to re-run:
//  1. network  - static netplan config for the cluster interface
//  2. identity - sshd hardening, host name, hosts file roster block
//  3. trust    - passwordless SSH from the master to every roster peer
//
// bootstrap runs them in order; trust only with --sync-keys on the master.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glennswest/clusterprep/pkg/config"
	"github.com/glennswest/clusterprep/pkg/ui"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// A second signal gets the default action.
		stop()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.ErrorStyle.Render("error:"), err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for rejected configuration, 130 after an interrupt and 1
// for any other failure.
func exitCode(err error) int {
	switch {
	case config.IsValidationError(err):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "clusterprep",
		Short:         "Bootstrap a node's network, SSH identity and cluster trust",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	opts.bind(root.PersistentFlags())

	root.AddCommand(
		stageCmd(opts, "bootstrap", "Run network, identity and (with --sync-keys) trust", (*app).bootstrap),
		stageCmd(opts, "network", "Reconcile the static cluster network config", (*app).network),
		stageCmd(opts, "identity", "Reconcile sshd directives, host name and hosts roster", (*app).identity),
		stageCmd(opts, "trust", "Distribute this node's SSH key to the roster (master only)", (*app).trust),
		rosterCmd(opts),
	)
	return root
}

// stageCmd builds a sub-command that runs one reconciler stage.
func stageCmd(opts *options, use, short string, stage func(*app, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd.Flags(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			return stage(a, cmd.Context())
		},
	}
}

func rosterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "roster",
		Short: "Print the effective cluster roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.apply(cfg, cmd.Flags())
			roster, err := cfg.ParsedRoster()
			if err != nil {
				return err
			}
			self, _ := cfg.NodeHostname()

			rows := make([][]string, 0, roster.Len())
			for _, n := range roster.Nodes() {
				mark := ""
				if strings.EqualFold(n.Hostname, self) {
					mark = "*"
				}
				rows = append(rows, []string{n.Hostname, n.IP.String(), mark})
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"HOSTNAME", "ADDRESS", "SELF"}, rows))
			return nil
		},
	}
}
