//go:build linux

package driver

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/glennswest/clusterprep/pkg/network"
)

func TestLinuxListsLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Linux driver test in short mode")
	}

	d := NewLinux(zap.NewNop().Sugar())
	links, err := d.Links(context.Background())
	if err != nil {
		t.Skipf("netlink unavailable: %v", err)
	}

	found := false
	for _, l := range links {
		if l.Name == "lo" {
			found = true
			if !l.Loopback {
				t.Error("lo should be flagged as loopback")
			}
		}
	}
	if !found {
		t.Error("expected loopback link in listing")
	}

	// Verify it satisfies the interface
	var _ network.Inspector = d
}

func TestToPrefix(t *testing.T) {
	tests := []struct {
		ipnet *net.IPNet
		want  string
	}{
		{&net.IPNet{IP: net.ParseIP("192.168.100.101"), Mask: net.CIDRMask(24, 32)}, "192.168.100.101/24"},
		{&net.IPNet{IP: net.ParseIP("192.168.100.101").To4(), Mask: net.CIDRMask(24, 32)}, "192.168.100.101/24"},
		{&net.IPNet{IP: net.ParseIP("fd00::5"), Mask: net.CIDRMask(64, 128)}, "fd00::5/64"},
	}
	for _, tt := range tests {
		got, ok := toPrefix(tt.ipnet)
		if !ok {
			t.Errorf("toPrefix(%v) not ok", tt.ipnet)
			continue
		}
		if got != netip.MustParsePrefix(tt.want) {
			t.Errorf("toPrefix(%v) = %s, want %s", tt.ipnet, got, tt.want)
		}
	}
}

func TestIsDefault(t *testing.T) {
	_, zero, _ := net.ParseCIDR("0.0.0.0/0")
	_, lan, _ := net.ParseCIDR("192.168.100.0/24")

	if !isDefault(&netlink.Route{}) {
		t.Error("route without destination should be default")
	}
	if !isDefault(&netlink.Route{Dst: zero}) {
		t.Error("0.0.0.0/0 should be default")
	}
	if isDefault(&netlink.Route{Dst: lan}) {
		t.Error("192.168.100.0/24 is not a default route")
	}
}
