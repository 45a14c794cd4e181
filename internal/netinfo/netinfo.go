//go:build linux
// +build linux

// Package netinfo snapshots host network interfaces for status
// reporting.
package netinfo

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Interface is one host link with its IPv4 addresses.
type Interface struct {
	Name      string   `json:"name" yaml:"name"`
	Index     int      `json:"index" yaml:"index"`
	MTU       int      `json:"mtu" yaml:"mtu"`
	MAC       string   `json:"mac,omitempty" yaml:"mac,omitempty"`
	Up        bool     `json:"up" yaml:"up"`
	Loopback  bool     `json:"loopback" yaml:"loopback"`
	IPv4Addrs []string `json:"ipv4_addrs,omitempty" yaml:"ipv4_addrs,omitempty"`
}

// Snapshot lists all host links. Address listing failures on single
// links are skipped rather than failing the snapshot.
func Snapshot() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	out := make([]Interface, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		iface := Interface{
			Name:     attrs.Name,
			Index:    attrs.Index,
			MTU:      attrs.MTU,
			Up:       attrs.Flags&net.FlagUp != 0,
			Loopback: attrs.Flags&net.FlagLoopback != 0,
		}
		if len(attrs.HardwareAddr) > 0 {
			iface.MAC = attrs.HardwareAddr.String()
		}

		addrs, err := netlink.AddrList(l, unix.AF_INET)
		if err == nil {
			for _, addr := range addrs {
				iface.IPv4Addrs = append(iface.IPv4Addrs, addr.IPNet.String())
			}
		}

		out = append(out, iface)
	}
	return out, nil
}
