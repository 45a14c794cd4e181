//go:build linux
// +build linux

package cmd

import (
	"context"
	"fmt"

	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/history"
	"github.com/cdaein/netfence/internal/lockfile"
)

// RunSetup installs the firewall and synchronizes the allow set from
// the registry. Running it on an active firewall rebuilds the
// footprint in place, so it doubles as a repair command.
func RunSetup(configFile string) error {
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
	if _, err := inst.Setup(); err != nil {
		return fmt.Errorf("failed to install firewall: %w", err)
	}

	report, syncErr := runSync(context.Background(), cfg, inst)
	if report != nil {
		recordRun(cfg, report, history.TriggerCLI)
		printReport(report)
		auditRecord(cfg, "setup: table %s, run %s, domains=%d failed=%d addresses=%d",
			inst.Table(), report.RunID, report.Domains, len(report.Failures), report.Addresses)
	} else {
		auditRecord(cfg, "setup: table %s installed, sync failed: %v", inst.Table(), syncErr)
	}
	if syncErr != nil {
		return fmt.Errorf("failed to synchronize allow set: %w", syncErr)
	}

	Printer.Printf("Firewall active (table %s).\n", inst.Table())
	return nil
}
