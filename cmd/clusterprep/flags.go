package main

import (
	"github.com/spf13/pflag"

	"github.com/glennswest/clusterprep/pkg/config"
)

// options holds the persistent command-line flags. Flags only override the
// loaded config when the operator actually set them.
type options struct {
	configPath  string
	debug       bool
	role        string
	hostname    string
	address     string
	gateway     string
	online      bool
	syncKeys    bool
	nameservers []string
}

func (o *options) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Config file (default "+config.DefaultPath+" when present)")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&o.role, "role", string(config.RoleWorker), "Node role: master or worker")
	fs.StringVar(&o.hostname, "hostname", "", "Host name for this node")
	fs.StringVar(&o.address, "address", "", "Static cluster address in CIDR form, e.g. 192.168.100.101/24")
	fs.StringVar(&o.gateway, "gateway", "", "Cluster gateway (default "+config.DefaultGateway+" with --address)")
	fs.BoolVar(&o.online, "online", false, "Keep the DHCP default-route interface for internet access")
	fs.BoolVar(&o.syncKeys, "sync-keys", false, "Distribute this node's SSH key to the roster (master only)")
	fs.StringSliceVar(&o.nameservers, "nameserver", nil, "DNS server for the cluster interface (repeatable)")
}

// apply layers explicitly set flags over cfg.
func (o *options) apply(cfg *config.Config, fs *pflag.FlagSet) {
	set := func(name string) bool { return fs.Changed(name) }

	if set("role") {
		cfg.Role = config.Role(o.role)
	}
	if set("hostname") {
		cfg.Hostname = o.hostname
	}
	if set("address") {
		cfg.Network.Address = o.address
	}
	if set("gateway") {
		cfg.Network.Gateway = o.gateway
	}
	if set("online") {
		cfg.Network.Online = o.online
	}
	if set("sync-keys") {
		cfg.SyncKeys = o.syncKeys
	}
	if set("nameserver") {
		cfg.Network.Nameservers = o.nameservers
	}
}
