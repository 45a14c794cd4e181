//go:build linux
// +build linux

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/firewall"
	"github.com/cdaein/netfence/internal/history"
	"github.com/cdaein/netfence/internal/netinfo"
	"github.com/cdaein/netfence/internal/registry"
)

// maxStatusAddrs bounds the membership sample shown in text mode.
const maxStatusAddrs = 10

// statusReport is the full status document. The json and yaml formats
// render it directly; text mode formats it by hand.
type statusReport struct {
	State      string              `json:"state" yaml:"state"`
	Firewall   *firewall.Status    `json:"firewall" yaml:"firewall"`
	Registry   registryStatus      `json:"registry" yaml:"registry"`
	LastSync   *history.Run        `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	Interfaces []netinfo.Interface `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
}

type registryStatus struct {
	Path    string `json:"path" yaml:"path"`
	Exists  bool   `json:"exists" yaml:"exists"`
	Domains int    `json:"domains" yaml:"domains"`
}

// RunStatus reports the kernel footprint, registry, last sync run, and
// host interfaces in the requested format.
func RunStatus(configFile, format string) error {
	switch format {
	case "", "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q (want text, json, or yaml)", format)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyLogConfig(cfg)

	inst, err := newInstaller(cfg)
	if err != nil {
		return err
	}
	fwStatus, err := inst.Status()
	if err != nil {
		return fmt.Errorf("failed to read firewall state: %w", err)
	}

	rep := statusReport{Firewall: fwStatus, State: "INACTIVE"}
	if fwStatus.Installed {
		rep.State = "ACTIVE"
	}

	rep.Registry = registryStatus{Path: cfg.Registry.Path}
	if _, err := os.Stat(cfg.Registry.Path); err == nil {
		rep.Registry.Exists = true
	}
	if domains, err := registry.New(cfg.Registry.Path).Domains(); err == nil {
		rep.Registry.Domains = len(domains)
	}

	// The store is only opened when its file already exists; a
	// read-only status must not create state under /var/lib.
	if _, err := os.Stat(cfg.History.Path); err == nil {
		if store, err := history.NewStore(cfg.History.Path, cfg.History.Keep); err == nil {
			if last, ok, err := store.Last(); err == nil && ok {
				rep.LastSync = &last
			}
			store.Close()
		}
	}

	if ifaces, err := netinfo.Snapshot(); err == nil {
		rep.Interfaces = ifaces
	}

	switch format {
	case "json":
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		Printer.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(rep)
		if err != nil {
			return err
		}
		Printer.Print(string(out))
	default:
		printStatusText(rep)
	}
	return nil
}

func printStatusText(rep statusReport) {
	Printer.Printf("State:    %s\n", rep.State)
	Printer.Printf("Table:    %s\n", rep.Firewall.Table)

	if rep.Firewall.Installed {
		chains := make([]string, 0, len(rep.Firewall.Chains))
		for _, c := range rep.Firewall.Chains {
			chains = append(chains, fmt.Sprintf("%s (%d rules)", c.Name, c.Rules))
		}
		Printer.Printf("Chains:   %s\n", strings.Join(chains, ", "))
		Printer.Printf("Allowed:  %d addresses\n", len(rep.Firewall.AllowedAddrs))
		for i, addr := range rep.Firewall.AllowedAddrs {
			if i == maxStatusAddrs {
				Printer.Printf("  ... and %d more\n", len(rep.Firewall.AllowedAddrs)-maxStatusAddrs)
				break
			}
			Printer.Printf("  %s\n", addr)
		}
		Printer.Printf("Denied:   egress %d packets (%d bytes), ingress %d packets (%d bytes)\n",
			rep.Firewall.DeniedEgress.Packets, rep.Firewall.DeniedEgress.Bytes,
			rep.Firewall.DeniedIngress.Packets, rep.Firewall.DeniedIngress.Bytes)
	}
	Printer.Println()

	if rep.Registry.Exists {
		Printer.Printf("Registry: %s (%d domains)\n", rep.Registry.Path, rep.Registry.Domains)
	} else {
		Printer.Printf("Registry: %s (missing)\n", rep.Registry.Path)
	}

	if rep.LastSync != nil {
		outcome := "failed"
		if rep.LastSync.OK {
			outcome = "ok"
		}
		Printer.Printf("Last sync: %s, %d domains, %d addresses, %s (run %s)\n",
			rep.LastSync.StartedAt.Format("2006-01-02 15:04:05"),
			rep.LastSync.Domains, rep.LastSync.Addresses, outcome, rep.LastSync.ID)
	} else {
		Printer.Println("Last sync: never")
	}

	if len(rep.Interfaces) > 0 {
		Printer.Println("\nInterfaces:")
		for _, iface := range rep.Interfaces {
			state := "DOWN"
			if iface.Up {
				state = "UP"
			}
			addrs := strings.Join(iface.IPv4Addrs, ", ")
			if addrs == "" {
				addrs = "-"
			}
			Printer.Printf("  %-10s %-4s %s\n", iface.Name, state, addrs)
		}
	}
}
