//go:build linux
// +build linux

package cmd

import (
	"context"
	"time"

	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/diag"
	"github.com/cdaein/netfence/internal/firewall"
	"github.com/cdaein/netfence/internal/resolver"
)

// DefaultTestDomain is probed when test is invoked without a domain.
const DefaultTestDomain = "github.com"

// RunTest checks resolution, allow-set membership, and reachability
// for one domain and prints each outcome separately. Failed checks are
// findings, not errors; the command only fails when it cannot run.
func RunTest(configFile, domain string, withPing bool, timeout time.Duration) error {
	if domain == "" {
		domain = DefaultTestDomain
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyLogConfig(cfg)

	res := resolver.New(cfg.Resolver.Servers, cfg.ResolverTimeout())

	var membership diag.Membership
	if inst, err := newInstaller(cfg); err == nil {
		if installed, err := inst.Installed(); err == nil && installed {
			membership = firewall.NewAllowSet(inst.Conn(), inst.Table())
		}
	}
	if membership == nil {
		Printer.Println("Firewall inactive; allow-set membership will not be checked.")
	}

	tester := diag.New(res, membership, timeout)
	printDiagReport(tester.Run(context.Background(), domain, withPing))
	return nil
}

func printDiagReport(rep *diag.Report) {
	Printer.Printf("Testing %s:\n", rep.Domain)
	Printer.Printf("  resolution:   %s\n", formatCheck(rep.Resolution))
	for _, ar := range rep.Addresses {
		switch {
		case !ar.Checked:
			Printer.Printf("  allow set:    %s unchecked\n", ar.Address)
		case ar.InAllowSet:
			Printer.Printf("  allow set:    %s allowed\n", ar.Address)
		default:
			Printer.Printf("  allow set:    %s MISSING\n", ar.Address)
		}
	}
	if rep.Reachability != nil {
		Printer.Printf("  reachability: %s\n", formatCheck(*rep.Reachability))
	}
	if rep.Ping != nil {
		Printer.Printf("  ping:         %s\n", formatCheck(*rep.Ping))
	}
}

func formatCheck(c diag.CheckResult) string {
	if c.OK {
		return "OK (" + c.Detail + ")"
	}
	return "FAILED (" + c.Detail + ")"
}
