//go:build !linux

package driver

import (
	"context"
	"errors"
	"net/netip"

	"go.uber.org/zap"

	nw "github.com/glennswest/clusterprep/pkg/network"
)

var errUnsupported = errors.New("network inspection requires linux")

// Linux is unavailable on this platform; every method fails.
type Linux struct{}

// NewLinux returns an Inspector that always fails.
func NewLinux(log *zap.SugaredLogger) *Linux { return &Linux{} }

func (d *Linux) Links(context.Context) ([]nw.Link, error) { return nil, errUnsupported }

func (d *Linux) DefaultRoute(context.Context) (nw.Route, bool, error) {
	return nw.Route{}, false, errUnsupported
}

func (d *Linux) Addresses(context.Context, string) ([]netip.Prefix, error) {
	return nil, errUnsupported
}

var _ nw.Inspector = (*Linux)(nil)
