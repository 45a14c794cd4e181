//go:build linux
// +build linux

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/firewall"
	"github.com/cdaein/netfence/internal/history"
	"github.com/cdaein/netfence/internal/lockfile"
)

// RunRefresh re-resolves the registry into the allow set. With
// showDiff the membership before and after is compared line by line,
// which makes DNS drift visible.
func RunRefresh(configFile string, showDiff bool) error {
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
	if _, err := inst.EnsureInstalled(); err != nil {
		return fmt.Errorf("failed to install firewall: %w", err)
	}

	set := firewall.NewAllowSet(inst.Conn(), inst.Table())
	var before []string
	if showDiff {
		before, err = set.Members()
		if err != nil {
			return fmt.Errorf("failed to read allow set: %w", err)
		}
	}

	report, syncErr := runSync(context.Background(), cfg, inst)
	if report != nil {
		recordRun(cfg, report, history.TriggerCLI)
		printReport(report)
		auditRecord(cfg, "refresh: run %s, domains=%d failed=%d addresses=%d",
			report.RunID, report.Domains, len(report.Failures), report.Addresses)
	} else {
		auditRecord(cfg, "refresh: sync failed: %v", syncErr)
	}
	if syncErr != nil {
		return fmt.Errorf("failed to synchronize allow set: %w", syncErr)
	}

	if showDiff {
		after, err := set.Members()
		if err != nil {
			return fmt.Errorf("failed to read allow set: %w", err)
		}
		printMembershipDiff(before, after)
	}
	return nil
}

// printMembershipDiff prints a unified diff of the sorted allow-set
// membership.
func printMembershipDiff(before, after []string) {
	a := strings.Join(before, "\n")
	if a != "" {
		a += "\n"
	}
	b := strings.Join(after, "\n")
	if b != "" {
		b += "\n"
	}
	if a == b {
		Printer.Println("No membership changes.")
		return
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	Printer.Print(text)
}
