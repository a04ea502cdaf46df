package network

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// virtualTypes are netlink link types that never carry cluster traffic.
var virtualTypes = map[string]bool{
	"bridge":    true,
	"veth":      true,
	"tuntap":    true,
	"tun":       true,
	"vxlan":     true,
	"wireguard": true,
	"dummy":     true,
	"macvlan":   true,
	"ipvlan":    true,
	"gre":       true,
	"gretap":    true,
	"ipip":      true,
	"geneve":    true,
	"vrf":       true,
}

// virtualPrefixes catch virtual links whose type the kernel reports as a
// plain device, e.g. container runtimes and overlay agents.
var virtualPrefixes = []string{
	"lo", "docker", "br-", "veth", "virbr", "tun", "tap", "wg",
	"vxlan", "flannel", "cni", "cali", "kube", "podman", "lxc",
}

// Resolver classifies host interfaces into cluster and NAT roles.
type Resolver struct {
	inspector Inspector
	log       *zap.SugaredLogger
}

// NewResolver returns a Resolver reading live state from inspector.
func NewResolver(inspector Inspector, log *zap.SugaredLogger) *Resolver {
	return &Resolver{inspector: inspector, log: log.Named("resolver")}
}

// Candidates returns the names of usable physical interfaces in kernel
// index order.
func (r *Resolver) Candidates(ctx context.Context) ([]string, error) {
	links, err := r.inspector.Links(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	var out []string
	for _, l := range links {
		if isVirtual(l) {
			r.log.Debugw("ignoring virtual interface", "name", l.Name, "type", l.Type)
			continue
		}
		out = append(out, l.Name)
	}
	return out, nil
}

// Resolve picks the cluster interface and, in online mode, the NAT
// interface.
func (r *Resolver) Resolve(ctx context.Context, mode Mode) (Classification, error) {
	candidates, err := r.Candidates(ctx)
	if err != nil {
		return Classification{}, err
	}

	switch mode {
	case ModeOffline:
		if len(candidates) == 0 {
			return Classification{}, ErrNoInterface
		}
		cls := Classification{Cluster: candidates[0]}
		r.log.Infow("interfaces resolved", "mode", mode, "cluster", cls.Cluster)
		return cls, nil

	case ModeOnline:
		route, ok, err := r.inspector.DefaultRoute(ctx)
		if err != nil {
			return Classification{}, fmt.Errorf("reading default route: %w", err)
		}
		if !ok || route.Interface == "" {
			return Classification{}, ErrNoDefaultRoute
		}
		nat := route.Interface

		if !contains(candidates, nat) {
			return Classification{}, fmt.Errorf("%w: %s", ErrNATNotCandidate, nat)
		}
		for _, c := range candidates {
			if c != nat {
				cls := Classification{Cluster: c, NAT: nat}
				r.log.Infow("interfaces resolved", "mode", mode, "cluster", cls.Cluster, "nat", cls.NAT)
				return cls, nil
			}
		}
		return Classification{}, fmt.Errorf("%w: only %s is available and it carries the default route", ErrNoInterface, nat)

	default:
		return Classification{}, fmt.Errorf("invalid mode %q", mode)
	}
}

func isVirtual(l Link) bool {
	if l.Loopback || virtualTypes[l.Type] {
		return true
	}
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(l.Name, p) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
