package network

import (
	"context"
	"net/netip"
)

// Inspector reads live network state. The Linux implementation lives in
// the driver package and talks netlink; tests use an in-memory fake.
type Inspector interface {
	// Links returns every link on the host in kernel index order.
	Links(ctx context.Context) ([]Link, error)

	// DefaultRoute returns the preferred default route. The bool is false
	// when the host has none.
	DefaultRoute(ctx context.Context) (Route, bool, error)

	// Addresses returns the addresses assigned to iface.
	Addresses(ctx context.Context, iface string) ([]netip.Prefix, error)
}

// Link describes a network link.
type Link struct {
	Name     string
	Index    int
	Type     string // netlink link type: "device", "bridge", "veth", ...
	Loopback bool
}

// Route is a default route.
type Route struct {
	Interface string
	Gateway   netip.Addr
}
