//go:build linux
// +build linux

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cdaein/netfence/internal/audit"
	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/firewall"
	"github.com/cdaein/netfence/internal/history"
	"github.com/cdaein/netfence/internal/i18n"
	"github.com/cdaein/netfence/internal/logging"
	"github.com/cdaein/netfence/internal/metrics"
	"github.com/cdaein/netfence/internal/registry"
	"github.com/cdaein/netfence/internal/resolver"
)

// Printer is the global message printer for the CLI.
var Printer = i18n.NewCLIPrinter()

// applyLogConfig reconfigures the default logger from the log block.
func applyLogConfig(cfg *config.Config) {
	logCfg := logging.DefaultConfig()
	switch cfg.Log.Level {
	case "debug":
		logCfg.Level = logging.LevelDebug
	case "warn":
		logCfg.Level = logging.LevelWarn
	case "error":
		logCfg.Level = logging.LevelError
	}
	logCfg.JSON = cfg.Log.JSON
	logging.SetDefault(logging.New(logCfg))
}

// requireRoot rejects mutating commands before any state is touched.
func requireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("this command modifies kernel firewall state and must run as root (euid %d)", os.Geteuid())
	}
	return nil
}

// newInstaller opens the nftables connection for the configured table.
func newInstaller(cfg *config.Config) (*firewall.Installer, error) {
	inst, err := firewall.NewInstaller(firewall.OptionsFromConfig(cfg), logging.WithComponent("firewall"))
	if err != nil {
		return nil, fmt.Errorf("nftables unavailable: %w (a kernel with nf_tables and CAP_NET_ADMIN are required)", err)
	}
	return inst, nil
}

// runSync resolves every registry domain and rebuilds the allow set.
// The report is non-nil whenever the registry itself was readable,
// even if the rebuild failed.
func runSync(ctx context.Context, cfg *config.Config, inst *firewall.Installer) (*firewall.Report, error) {
	reg := registry.New(cfg.Registry.Path)
	domains, err := reg.Domains()
	if err != nil {
		return nil, err
	}
	metrics.Get().SetRegistryDomains(len(domains))

	res := resolver.New(cfg.Resolver.Servers, cfg.ResolverTimeout())
	set := firewall.NewAllowSet(inst.Conn(), inst.Table())
	sync := firewall.NewSynchronizer(set, res, cfg.Sync.Workers, cfg.SyncTTL(), logging.WithComponent("sync"))
	return sync.Run(ctx, domains)
}

// recordRun stores one sync outcome. History failures are logged, not
// fatal; losing a history row must never fail a firewall change.
func recordRun(cfg *config.Config, report *firewall.Report, trigger string) {
	store, err := history.NewStore(cfg.History.Path, cfg.History.Keep)
	if err != nil {
		logging.Warn("History store unavailable", "error", err)
		return
	}
	defer store.Close()
	recordRunTo(store, report, trigger)
}

// recordRunTo stores one sync outcome into an already open store.
func recordRunTo(store *history.Store, report *firewall.Report, trigger string) {
	run := history.Run{
		ID:        report.RunID,
		StartedAt: report.StartedAt,
		Duration:  report.Duration,
		Trigger:   trigger,
		Domains:   report.Domains,
		Failed:    len(report.Failures),
		Addresses: report.Addresses,
		OK:        report.Result == firewall.ResultApplied,
	}
	if err := store.Record(run); err != nil {
		logging.Warn("Failed to record sync run", "run_id", report.RunID, "error", err)
	}
}

// auditRecord appends one audit entry. An unwritable audit log is
// reported but does not fail the command.
func auditRecord(cfg *config.Config, format string, args ...any) {
	log := audit.New(audit.OptionsFromConfig(cfg))
	defer log.Close()
	if err := log.Record(format, args...); err != nil {
		logging.Warn("Failed to write audit entry", "error", err)
	}
}

// printReport prints the outcome of one sync cycle.
func printReport(report *firewall.Report) {
	Printer.Printf("Synchronized %d domains: %d resolved, %d failed, %d addresses allowed (%s)\n",
		report.Domains, report.Resolved, len(report.Failures), report.Addresses,
		report.Duration.Round(time.Millisecond))
	for _, f := range report.Failures {
		Printer.Printf("  warning: %s: %s\n", f.Domain, f.Error)
	}
}
