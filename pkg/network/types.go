package network

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrSubnetMismatch is returned when the gateway is not inside the
	// network of the static address.
	ErrSubnetMismatch = errors.New("gateway outside subnet")

	// ErrNoInterface is returned when no usable cluster interface exists.
	ErrNoInterface = errors.New("no usable network interface")

	// ErrNoDefaultRoute is returned in online mode when the host has no
	// active default route to take the NAT interface from.
	ErrNoDefaultRoute = errors.New("no default route")

	// ErrNATNotCandidate is returned when the default-route interface is
	// not itself a usable physical interface.
	ErrNATNotCandidate = errors.New("default route interface is not a candidate interface")

	// ErrConfigGeneration is returned when the generated netplan config
	// fails the dry-run generate step.
	ErrConfigGeneration = errors.New("network config generation failed")

	// ErrApply is returned when the backend reload/apply step or its
	// post-apply check fails.
	ErrApply = errors.New("network config apply failed")
)

// Mode selects how the node reaches the outside world.
type Mode string

const (
	// ModeOffline puts every route through the cluster gateway.
	ModeOffline Mode = "offline"
	// ModeOnline keeps a separate DHCP-managed NAT interface for internet
	// access alongside the static cluster interface.
	ModeOnline Mode = "online"
)

// Intent is the desired static network identity of this node.
type Intent struct {
	Address     netip.Prefix
	Gateway     netip.Addr
	Mode        Mode
	Nameservers []netip.Addr
}

// ParseIntent builds an Intent from its textual form and validates it.
func ParseIntent(address, gateway string, mode Mode) (Intent, error) {
	prefix, err := netip.ParsePrefix(address)
	if err != nil {
		return Intent{}, fmt.Errorf("parsing address %q: %w", address, err)
	}
	gw, err := netip.ParseAddr(gateway)
	if err != nil {
		return Intent{}, fmt.Errorf("parsing gateway %q: %w", gateway, err)
	}
	intent := Intent{Address: prefix, Gateway: gw, Mode: mode}
	if err := intent.Validate(); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

// Validate checks the intent without touching the system.
func (i Intent) Validate() error {
	if !i.Address.IsValid() {
		return fmt.Errorf("invalid address %s", i.Address)
	}
	if !i.Gateway.IsValid() {
		return fmt.Errorf("invalid gateway %s", i.Gateway)
	}
	if i.Mode != ModeOffline && i.Mode != ModeOnline {
		return fmt.Errorf("invalid mode %q", i.Mode)
	}
	if !i.Address.Masked().Contains(i.Gateway) {
		return fmt.Errorf("%w: gateway %s is not in %s", ErrSubnetMismatch, i.Gateway, i.Address.Masked())
	}
	return nil
}

// Classification names the interfaces the node uses.
type Classification struct {
	// Cluster carries the static cluster address.
	Cluster string
	// NAT is the internet-facing interface; set only in online mode.
	NAT string
}

// Result reports what a reconciliation did.
type Result string

const (
	ResultApplied Result = "applied"
	ResultSkipped Result = "skipped"
)
