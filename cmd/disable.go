//go:build linux
// +build linux

package cmd

import (
	"fmt"

	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/firewall"
	"github.com/cdaein/netfence/internal/lockfile"
)

// RunDisable removes the kernel footprint: table, chains, and allow
// set go as one unit. The registry survives so a later setup restores
// the same allowlist.
func RunDisable(configFile string) error {
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

	inst, err := newInstaller(cfg)
	if err != nil {
		return err
	}

	result, err := inst.Disable()
	if err != nil {
		return fmt.Errorf("failed to disable firewall: %w", err)
	}
	if result == firewall.ResultApplied {
		auditRecord(cfg, "disable: table %s removed", inst.Table())
		Printer.Printf("Firewall disabled (table %s removed). Registry kept at %s.\n",
			inst.Table(), cfg.Registry.Path)
	} else {
		Printer.Println("Firewall was not installed; nothing to do.")
	}
	return nil
}
