//go:build linux
// +build linux

package cmd

import (
	"context"
	"fmt"

	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/firewall"
	"github.com/cdaein/netfence/internal/history"
	"github.com/cdaein/netfence/internal/lockfile"
	"github.com/cdaein/netfence/internal/registry"
)

// RunAdd appends a domain pattern to the registry and synchronizes.
// Adding a pattern that is already present is a reported no-op; the
// sync still runs so the kernel converges on the registry.
func RunAdd(configFile, domain string) error {
	pattern := registry.Normalize(domain)
	if pattern == "" {
		return fmt.Errorf("%q is not a domain", domain)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyLogConfig(cfg)
	if err := requireRoot(); err != nil {
		return err
	}

	lock, err := lockfile.Acquire("")
	if err != nil {
		return err
	}
	defer lock.Release()

	reg := registry.New(cfg.Registry.Path)
	changed, err := reg.Add(pattern)
	if err != nil {
		return err
	}
	if changed {
		Printer.Printf("Added %s to %s.\n", pattern, reg.Path())
	} else {
		Printer.Printf("%s is already in %s.\n", pattern, reg.Path())
	}

	return applyRegistry(cfg, fmt.Sprintf("add %s: changed=%v", pattern, changed))
}

// RunRemove deletes a domain pattern from the registry and
// synchronizes. Removing an absent pattern is a reported no-op.
func RunRemove(configFile, domain string) error {
	pattern := registry.Normalize(domain)
	if pattern == "" {
		return fmt.Errorf("%q is not a domain", domain)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyLogConfig(cfg)
	if err := requireRoot(); err != nil {
		return err
	}

	lock, err := lockfile.Acquire("")
	if err != nil {
		return err
	}
	defer lock.Release()

	reg := registry.New(cfg.Registry.Path)
	removed, err := reg.Remove(pattern)
	if err != nil {
		return err
	}
	if removed {
		Printer.Printf("Removed %s from %s.\n", pattern, reg.Path())
	} else {
		Printer.Printf("%s was not in %s.\n", pattern, reg.Path())
	}

	return applyRegistry(cfg, fmt.Sprintf("remove %s: changed=%v", pattern, removed))
}

// applyRegistry makes the kernel converge on the registry after a
// mutation: ensure the footprint exists, then re-sync. The caller
// already holds the file lock.
func applyRegistry(cfg *config.Config, action string) error {
	inst, err := newInstaller(cfg)
	if err != nil {
		return err
	}
	if _, err := inst.EnsureInstalled(); err != nil {
		return fmt.Errorf("failed to install firewall: %w", err)
	}

	report, syncErr := runSync(context.Background(), cfg, inst)
	if report != nil {
		recordRun(cfg, report, history.TriggerCLI)
		printReport(report)
		auditRecord(cfg, "%s, run %s, domains=%d failed=%d addresses=%d",
			action, report.RunID, report.Domains, len(report.Failures), report.Addresses)
	} else {
		auditRecord(cfg, "%s, sync failed: %v", action, syncErr)
	}
	if syncErr != nil {
		return fmt.Errorf("failed to synchronize allow set: %w", syncErr)
	}
	return nil
}

// RunList prints the registry verbatim and the current allow-set
// membership. Unlike every other verb, the registry file must exist.
func RunList(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyLogConfig(cfg)

	reg := registry.New(cfg.Registry.Path)
	lines, err := reg.Lines()
	if err != nil {
		return err
	}

	patterns := 0
	Printer.Printf("%s:\n", reg.Path())
	for _, l := range lines {
		Printer.Printf("  %s\n", l.Raw)
		if l.Pattern != "" {
			patterns++
		}
	}
	Printer.Printf("%d domain patterns.\n", patterns)

	inst, err := newInstaller(cfg)
	if err != nil {
		Printer.Printf("\nAllow set unavailable: %v\n", err)
		return nil
	}
	installed, err := inst.Installed()
	if err != nil {
		Printer.Printf("\nAllow set unavailable: %v\n", err)
		return nil
	}
	if !installed {
		Printer.Println("\nFirewall inactive; run setup to install it.")
		return nil
	}

	set := firewall.NewAllowSet(inst.Conn(), inst.Table())
	members, err := set.Members()
	if err != nil {
		Printer.Printf("\nAllow set unreadable: %v\n", err)
		return nil
	}
	Printer.Printf("\nAllow set (%d addresses):\n", len(members))
	for _, m := range members {
		Printer.Printf("  %s\n", m)
	}
	return nil
}
