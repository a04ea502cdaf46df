package network

import (
	"context"
	"net/netip"
)

// fakeInspector is an in-memory Inspector.
type fakeInspector struct {
	links  []Link
	addrs  map[string][]netip.Prefix
	route  Route
	hasDef bool
}

func (f *fakeInspector) Links(context.Context) ([]Link, error) { return f.links, nil }

func (f *fakeInspector) DefaultRoute(context.Context) (Route, bool, error) {
	return f.route, f.hasDef, nil
}

func (f *fakeInspector) Addresses(_ context.Context, iface string) ([]netip.Prefix, error) {
	return f.addrs[iface], nil
}

func physical(names ...string) []Link {
	links := []Link{{Name: "lo", Index: 1, Type: "device", Loopback: true}}
	for i, n := range names {
		links = append(links, Link{Name: n, Index: i + 2, Type: "device"})
	}
	return links
}

var _ Inspector = (*fakeInspector)(nil)
