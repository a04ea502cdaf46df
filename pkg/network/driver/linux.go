//go:build linux

package driver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	nw "github.com/glennswest/clusterprep/pkg/network"
)

// Linux implements nw.Inspector using netlink syscalls.
type Linux struct {
	log *zap.SugaredLogger
}

// NewLinux returns an Inspector backed by Linux netlink.
func NewLinux(log *zap.SugaredLogger) *Linux {
	return &Linux{log: log.Named("linux-driver")}
}

// ─── Links ───────────────────────────────────────────────────────────────────

func (d *Linux) Links(ctx context.Context) ([]nw.Link, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	out := make([]nw.Link, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		out = append(out, nw.Link{
			Name:     attrs.Name,
			Index:    attrs.Index,
			Type:     l.Type(),
			Loopback: attrs.Flags&net.FlagLoopback != 0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// ─── Addresses ───────────────────────────────────────────────────────────────

func (d *Linux) Addresses(ctx context.Context, iface string) ([]netip.Prefix, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("netlink lookup %s: %w", iface, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("netlink addr list %s: %w", iface, err)
	}
	var out []netip.Prefix
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		p, ok := toPrefix(a.IPNet)
		if !ok {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ─── Routes ──────────────────────────────────────────────────────────────────

func (d *Linux) DefaultRoute(ctx context.Context) (nw.Route, bool, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nw.Route{}, false, fmt.Errorf("netlink route list: %w", err)
	}

	var best *netlink.Route
	for i := range routes {
		r := &routes[i]
		if !isDefault(r) {
			continue
		}
		if best == nil || r.Priority < best.Priority {
			best = r
		}
	}
	if best == nil {
		return nw.Route{}, false, nil
	}

	link, err := netlink.LinkByIndex(best.LinkIndex)
	if err != nil {
		return nw.Route{}, false, fmt.Errorf("netlink lookup index %d: %w", best.LinkIndex, err)
	}
	route := nw.Route{Interface: link.Attrs().Name}
	if gw, ok := netip.AddrFromSlice(best.Gw); ok {
		route.Gateway = gw.Unmap()
	}
	d.log.Debugw("default route", "interface", route.Interface, "gateway", route.Gateway)
	return route, true, nil
}

func isDefault(r *netlink.Route) bool {
	if r.Dst == nil {
		return true
	}
	ones, _ := r.Dst.Mask.Size()
	return ones == 0 && r.Dst.IP.IsUnspecified()
}

func toPrefix(n *net.IPNet) (netip.Prefix, bool) {
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	ones, bits := n.Mask.Size()
	if bits == 0 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr, ones), true
}

// Ensure Linux implements Inspector at compile time.
var _ nw.Inspector = (*Linux)(nil)
