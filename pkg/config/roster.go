package config

import (
	"fmt"
	"net/netip"
	"strings"
)

// DefaultRoster is the built-in three node cluster on 192.168.100.0/24.
var DefaultRoster = []string{
	"192.168.100.101 master",
	"192.168.100.102 worker1",
	"192.168.100.103 worker2",
}

// Node is one cluster member.
type Node struct {
	IP       netip.Addr
	Hostname string
}

func (n Node) String() string {
	return n.IP.String() + " " + n.Hostname
}

// Roster is the ordered, immutable list of cluster members. Order defines
// the order of the hosts file block and of trust distribution.
type Roster struct {
	nodes []Node
}

// ParseRoster parses "ip hostname" entries. Blank entries and entries
// starting with '#' are ignored. Hostnames must be unique.
func ParseRoster(entries []string) (Roster, error) {
	var (
		errs  ValidationErrors
		nodes []Node
		seen  = make(map[string]bool)
	)
	for i, entry := range entries {
		line := strings.TrimSpace(entry)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field := fmt.Sprintf("roster[%d]", i)

		parts := strings.Fields(line)
		if len(parts) != 2 {
			errs.Add(field, line, `expected "ip hostname"`)
			continue
		}
		ip, err := netip.ParseAddr(parts[0])
		if err != nil {
			errs.Add(field, line, "invalid IP address")
			continue
		}
		host := parts[1]
		if !ValidHostname(host) {
			errs.Add(field, line, "invalid hostname")
			continue
		}
		key := strings.ToLower(host)
		if seen[key] {
			errs.Add(field, line, "duplicate hostname")
			continue
		}
		seen[key] = true
		nodes = append(nodes, Node{IP: ip.Unmap(), Hostname: host})
	}
	if errs.HasErrors() {
		return Roster{}, errs
	}
	return Roster{nodes: nodes}, nil
}

// Nodes returns a copy of the members in roster order.
func (r Roster) Nodes() []Node {
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Len returns the number of members.
func (r Roster) Len() int { return len(r.nodes) }

// Lookup finds a member by hostname, case-insensitively.
func (r Roster) Lookup(hostname string) (Node, bool) {
	for _, n := range r.nodes {
		if strings.EqualFold(n.Hostname, hostname) {
			return n, true
		}
	}
	return Node{}, false
}

// LookupIP finds a member by address.
func (r Roster) LookupIP(ip netip.Addr) (Node, bool) {
	for _, n := range r.nodes {
		if n.IP == ip {
			return n, true
		}
	}
	return Node{}, false
}

// HostsLines renders one "ip hostname" line per member, with no trailing
// newline.
func (r Roster) HostsLines() string {
	lines := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		lines[i] = n.String()
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
