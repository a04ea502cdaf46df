package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/clusterprep/pkg/network"
)

// EnvPrefix prefixes every environment override, e.g. CLUSTERPREP_ROLE.
const EnvPrefix = "CLUSTERPREP_"

// DefaultPath is read when --config is not given. A missing default file
// is not an error.
const DefaultPath = "/etc/clusterprep/config.yaml"

// DefaultGateway is used when a static address is given without a gateway.
const DefaultGateway = "192.168.100.1"

// Role selects what a node does in the cluster.
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
)

// Config is the effective clusterprep configuration: defaults, then the
// YAML file, then CLUSTERPREP_* environment, then command-line flags.
type Config struct {
	Role     Role          `yaml:"role" env:"ROLE"`
	Hostname string        `yaml:"hostname" env:"HOSTNAME"`
	Network  NetworkConfig `yaml:"network" envPrefix:"NETWORK_"`
	SyncKeys bool          `yaml:"syncKeys" env:"SYNC_KEYS"`
	SSH      SSHConfig     `yaml:"ssh" envPrefix:"SSH_"`
	Paths    Paths         `yaml:"paths" envPrefix:"PATHS_"`

	// Roster entries in "ip hostname" form, e.g. "192.168.100.101 master".
	Roster []string `yaml:"roster" env:"ROSTER" envSeparator:","`
}

// NetworkConfig is the requested static network identity. An empty
// Address leaves networking alone.
type NetworkConfig struct {
	Address     string   `yaml:"address" env:"ADDRESS"` // CIDR, e.g. "192.168.100.101/24"
	Gateway     string   `yaml:"gateway" env:"GATEWAY"`
	Online      bool     `yaml:"online" env:"ONLINE"`
	Nameservers []string `yaml:"nameservers" env:"NAMESERVERS" envSeparator:","`
}

// SSHConfig controls trust distribution to peers.
type SSHConfig struct {
	Port   int    `yaml:"port" env:"PORT"`
	User   string `yaml:"user" env:"USER"` // remote login, defaults to the local user
	KeyDir string `yaml:"keyDir" env:"KEY_DIR"`

	// Password for first-contact key copy. Never read from the file; when
	// empty the operator is prompted.
	Password string `yaml:"-" env:"PASSWORD"`
}

// Paths locates every file clusterprep manages.
type Paths struct {
	Netplan      string `yaml:"netplan" env:"NETPLAN"`
	NetplanDir   string `yaml:"netplanDir" env:"NETPLAN_DIR"`
	CloudInitDir string `yaml:"cloudInitDir" env:"CLOUD_INIT_DIR"`
	SSHDConfig   string `yaml:"sshdConfig" env:"SSHD_CONFIG"`
	Hosts        string `yaml:"hosts" env:"HOSTS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	keyDir := ".ssh"
	if home, err := os.UserHomeDir(); err == nil {
		keyDir = filepath.Join(home, ".ssh")
	}
	return &Config{
		Role:   RoleWorker,
		Roster: append([]string(nil), DefaultRoster...),
		SSH: SSHConfig{
			Port:   22,
			KeyDir: keyDir,
		},
		Paths: Paths{
			Netplan:      "/etc/netplan/99-clusterprep.yaml",
			NetplanDir:   "/etc/netplan",
			CloudInitDir: "/etc/cloud/cloud.cfg.d",
			SSHDConfig:   "/etc/ssh/sshd_config",
			Hosts:        "/etc/hosts",
		},
	}
}

// Load layers the YAML file at path and the environment over Default.
// An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// EffectiveGateway returns the configured gateway or DefaultGateway.
func (n NetworkConfig) EffectiveGateway() string {
	if n.Gateway == "" {
		return DefaultGateway
	}
	return n.Gateway
}

// Mode maps the online flag to a network mode.
func (n NetworkConfig) Mode() network.Mode {
	if n.Online {
		return network.ModeOnline
	}
	return network.ModeOffline
}

// Validate checks every field without touching the system. It returns
// ValidationErrors; gateway/subnet mismatches also match
// network.ErrSubnetMismatch.
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch c.Role {
	case RoleMaster, RoleWorker:
	default:
		errs.Add("role", string(c.Role), "must be master or worker")
	}
	if c.SyncKeys && c.Role != RoleMaster {
		errs.Add("sync-keys", string(c.Role), "key sync requires the master role")
	}

	roster, err := ParseRoster(c.Roster)
	if err != nil {
		var rerrs ValidationErrors
		if errors.As(err, &rerrs) {
			errs = append(errs, rerrs...)
		} else {
			errs.Add("roster", "", err.Error())
		}
	}

	if c.Hostname != "" && !ValidHostname(c.Hostname) {
		errs.Add("hostname", c.Hostname, "not a valid RFC 1123 host name")
	}
	if _, err := c.resolveHostname(roster); err != nil && c.Hostname == "" {
		errs.Add("hostname", "", err.Error())
	}

	if c.Network.Address != "" {
		if _, err := c.Intent(); err != nil {
			if errors.Is(err, network.ErrSubnetMismatch) {
				errs.AddErr("gateway", c.Network.EffectiveGateway(), err)
			} else {
				errs.Add("address", c.Network.Address, err.Error())
			}
		}
	} else if c.Network.Online {
		errs.Add("online", "", "online mode requires a static address")
	}

	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		errs.Add("ssh.port", fmt.Sprint(c.SSH.Port), "must be between 1 and 65535")
	}
	if c.SyncKeys && c.SSH.KeyDir == "" {
		errs.Add("ssh.keyDir", "", "required for key sync")
	}

	return errs.Err()
}

// ParsedRoster returns the validated roster.
func (c *Config) ParsedRoster() (Roster, error) {
	return ParseRoster(c.Roster)
}

// Intent builds the network intent. Call only when Network.Address is set.
func (c *Config) Intent() (network.Intent, error) {
	intent, err := network.ParseIntent(c.Network.Address, c.Network.EffectiveGateway(), c.Network.Mode())
	if err != nil {
		return network.Intent{}, err
	}
	for _, ns := range c.Network.Nameservers {
		addr, err := netip.ParseAddr(ns)
		if err != nil {
			return network.Intent{}, fmt.Errorf("parsing nameserver %q: %w", ns, err)
		}
		intent.Nameservers = append(intent.Nameservers, addr)
	}
	return intent, nil
}

// NodeHostname returns the host name this node should carry: the explicit
// hostname, else the roster entry owning the static address, else the
// roster entry named after the master role.
func (c *Config) NodeHostname() (string, error) {
	roster, err := c.ParsedRoster()
	if err != nil {
		return "", err
	}
	return c.resolveHostname(roster)
}

func (c *Config) resolveHostname(roster Roster) (string, error) {
	if c.Hostname != "" {
		return c.Hostname, nil
	}
	if prefix, err := netip.ParsePrefix(c.Network.Address); err == nil {
		if n, ok := roster.LookupIP(prefix.Addr()); ok {
			return n.Hostname, nil
		}
	}
	if c.Role == RoleMaster {
		if n, ok := roster.Lookup(string(RoleMaster)); ok {
			return n.Hostname, nil
		}
	}
	return "", errors.New("no hostname given and none found in the roster")
}
