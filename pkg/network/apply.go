package network

import (
	"context"
	"fmt"
	"time"

	"github.com/glennswest/clusterprep/pkg/runner"
	"github.com/glennswest/clusterprep/pkg/systemd"
)

const (
	unitNetworkd       = "systemd-networkd"
	unitNetworkManager = "NetworkManager"
)

// Strategy applies a validated netplan config through one backend.
type Strategy interface {
	// Name identifies the strategy in logs and status lines.
	Name() string
	// Renderer is the netplan renderer value written into the document.
	Renderer() string
	// Apply activates the generated config.
	Apply(ctx context.Context) error
}

// DetectStrategy picks the apply path for the active network backend:
// NetworkManager when its unit is active, systemd-networkd otherwise.
func DetectStrategy(ctx context.Context, run runner.Runner, units *systemd.Manager) Strategy {
	if units.IsActive(ctx, unitNetworkManager) {
		return &networkManagerStrategy{run: run}
	}
	return &networkdStrategy{run: run, units: units, settle: 5 * time.Second}
}

// networkdStrategy reloads systemd-networkd in place and then verifies the
// daemon survived the reload.
type networkdStrategy struct {
	run    runner.Runner
	units  *systemd.Manager
	settle time.Duration
}

func (s *networkdStrategy) Name() string     { return "networkd-reload" }
func (s *networkdStrategy) Renderer() string { return RendererNetworkd }

func (s *networkdStrategy) Apply(ctx context.Context) error {
	if _, err := s.run.Run(ctx, "networkctl", "reload"); err != nil {
		return fmt.Errorf("%w: networkctl reload: %v", ErrApply, err)
	}
	if err := s.units.WaitActive(ctx, unitNetworkd, s.settle); err != nil {
		return fmt.Errorf("%w: %s not active after reload: %v", ErrApply, unitNetworkd, err)
	}
	return nil
}

// networkManagerStrategy has no in-place reload; netplan apply regenerates
// and restarts the connections.
type networkManagerStrategy struct {
	run runner.Runner
}

func (s *networkManagerStrategy) Name() string     { return "netplan-apply" }
func (s *networkManagerStrategy) Renderer() string { return RendererNetworkManager }

func (s *networkManagerStrategy) Apply(ctx context.Context) error {
	if _, err := s.run.Run(ctx, "netplan", "apply"); err != nil {
		return fmt.Errorf("%w: netplan apply: %v", ErrApply, err)
	}
	return nil
}
