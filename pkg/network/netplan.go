package network

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Renderer names accepted by netplan.
const (
	RendererNetworkd       = "networkd"
	RendererNetworkManager = "NetworkManager"
)

const netplanHeader = "# Managed by clusterprep. Local changes are overwritten on the next run.\n"

// Document is a netplan configuration file.
type Document struct {
	Network Netplan `yaml:"network"`
}

// Netplan is the top-level netplan "network" mapping.
type Netplan struct {
	Version   int                 `yaml:"version"`
	Renderer  string              `yaml:"renderer,omitempty"`
	Ethernets map[string]Ethernet `yaml:"ethernets"`
}

// Ethernet is one physical interface stanza.
type Ethernet struct {
	DHCP4       bool         `yaml:"dhcp4"`
	Addresses   []string     `yaml:"addresses,omitempty"`
	Routes      []RouteEntry `yaml:"routes,omitempty"`
	Nameservers *Nameservers `yaml:"nameservers,omitempty"`
}

// RouteEntry is a static route.
type RouteEntry struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

// Nameservers lists DNS servers for an interface.
type Nameservers struct {
	Addresses []string `yaml:"addresses"`
}

// BuildDocument describes intent on the classified interfaces. Offline mode
// yields one static interface with a default route via the gateway; online
// mode yields the static cluster interface plus a DHCP NAT interface and no
// custom default route.
func BuildDocument(intent Intent, cls Classification, renderer string) Document {
	cluster := Ethernet{
		DHCP4:     false,
		Addresses: []string{intent.Address.String()},
	}
	if len(intent.Nameservers) > 0 {
		ns := &Nameservers{}
		for _, a := range intent.Nameservers {
			ns.Addresses = append(ns.Addresses, a.String())
		}
		cluster.Nameservers = ns
	}

	ethernets := map[string]Ethernet{}
	switch intent.Mode {
	case ModeOnline:
		ethernets[cls.Cluster] = cluster
		ethernets[cls.NAT] = Ethernet{DHCP4: true}
	default:
		cluster.Routes = []RouteEntry{{To: "default", Via: intent.Gateway.String()}}
		ethernets[cls.Cluster] = cluster
	}

	return Document{Network: Netplan{
		Version:   2,
		Renderer:  renderer,
		Ethernets: ethernets,
	}}
}

// Marshal renders the document with a managed-file header.
func (d Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(netplanHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("marshaling netplan document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshaling netplan document: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadDocument parses a netplan file.
func LoadDocument(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing netplan document %s: %w", path, err)
	}
	if doc.Network.Ethernets == nil {
		doc.Network.Ethernets = make(map[string]Ethernet)
	}
	return doc, nil
}
