package trust

import (
	"context"
	"net/netip"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/glennswest/clusterprep/pkg/config"
)

// fakeRemote is an in-memory Remote keyed by hostname.
type fakeRemote struct {
	mu          sync.Mutex
	names       map[netip.Addr]string
	unreachable map[string]bool
	closed      map[string]bool
	scanErr     map[string]error
	trusted     map[string]bool
	present     map[string]bool
	copyErr     map[string]error
	copies      []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		names:       map[netip.Addr]string{},
		unreachable: map[string]bool{},
		closed:      map[string]bool{},
		scanErr:     map[string]error{},
		trusted:     map[string]bool{},
		present:     map[string]bool{},
		copyErr:     map[string]error{},
	}
}

// learn records the roster so lookups by address resolve to hostnames.
func (f *fakeRemote) learn(r config.Roster) {
	for _, n := range r.Nodes() {
		f.names[n.IP] = n.Hostname
	}
}

func (f *fakeRemote) Reachable(_ context.Context, ip netip.Addr) bool {
	return !f.unreachable[f.names[ip]]
}

func (f *fakeRemote) PortOpen(_ context.Context, ip netip.Addr) bool {
	return !f.closed[f.names[ip]]
}

func (f *fakeRemote) EnsureKnownHost(_ context.Context, node config.Node) error {
	return f.scanErr[node.Hostname]
}

func (f *fakeRemote) CheckAuth(_ context.Context, node config.Node, _ ssh.Signer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trusted[node.Hostname] {
		return nil
	}
	return ErrAuthRejected
}

func (f *fakeRemote) CopyKey(_ context.Context, node config.Node, key string) (CopyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, node.Hostname)
	if err := f.copyErr[node.Hostname]; err != nil {
		return 0, err
	}
	if f.present[node.Hostname] {
		return CopyPresent, nil
	}
	f.trusted[node.Hostname] = true
	return CopyAdded, nil
}

var _ Remote = (*fakeRemote)(nil)
