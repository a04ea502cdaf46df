package network

import (
	"errors"
	"net/netip"
	"testing"
)

func TestIntentValidate(t *testing.T) {
	tests := []struct {
		address  string
		gateway  string
		mismatch bool
	}{
		{"192.168.100.101/24", "192.168.100.1", false},
		{"192.168.100.101/24", "192.168.100.254", false},
		{"192.168.100.101/24", "10.0.0.1", true},
		{"192.168.100.101/24", "192.168.101.1", true},
		{"10.1.2.3/8", "10.200.0.1", false},
		{"10.1.2.3/16", "10.2.0.1", true},
		{"172.16.5.9/30", "172.16.5.10", false},
		{"172.16.5.9/30", "172.16.5.12", true},
	}

	for _, tt := range tests {
		_, err := ParseIntent(tt.address, tt.gateway, ModeOffline)
		if tt.mismatch {
			if !errors.Is(err, ErrSubnetMismatch) {
				t.Errorf("%s via %s: expected ErrSubnetMismatch, got %v", tt.address, tt.gateway, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s via %s: unexpected error %v", tt.address, tt.gateway, err)
		}
	}
}

func TestIntentValidateMembershipProperty(t *testing.T) {
	// Accept iff the gateway is inside the network derived from the address.
	address := netip.MustParsePrefix("192.168.100.101/24")
	for last := 0; last < 256; last++ {
		for _, third := range []byte{99, 100, 101} {
			gw := netip.AddrFrom4([4]byte{192, 168, third, byte(last)})
			err := Intent{Address: address, Gateway: gw, Mode: ModeOffline}.Validate()
			want := third == 100
			if (err == nil) != want {
				t.Fatalf("gateway %s: accepted=%v want %v (err=%v)", gw, err == nil, want, err)
			}
		}
	}
}

func TestParseIntentErrors(t *testing.T) {
	if _, err := ParseIntent("192.168.100.101", "192.168.100.1", ModeOffline); err == nil {
		t.Error("expected error for address without prefix length")
	}
	if _, err := ParseIntent("192.168.100.101/24", "gateway", ModeOffline); err == nil {
		t.Error("expected error for unparsable gateway")
	}
	if _, err := ParseIntent("192.168.100.101/24", "192.168.100.1", Mode("hybrid")); err == nil {
		t.Error("expected error for unknown mode")
	}
}
