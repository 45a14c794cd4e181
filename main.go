//go:build linux
// +build linux

package main

import (
	"flag"
	"os"

	"github.com/cdaein/netfence/cmd"
	"github.com/cdaein/netfence/internal/brand"
	"github.com/cdaein/netfence/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	// No verb means setup: install and synchronize.
	verb := "setup"
	var args []string
	if len(os.Args) > 1 {
		verb = os.Args[1]
		args = os.Args[2:]
	}

	switch verb {
	case "setup":
		fs := newFlagSet("setup")
		configFile := configFlag(fs)
		parseFlags(fs, args)
		run("Setup", cmd.RunSetup(*configFile))

	case "add":
		fs := newFlagSet("add")
		configFile := configFlag(fs)
		parseFlags(fs, args)
		if fs.NArg() != 1 {
			printer.Fprintf(os.Stderr, "Usage: %s add [--config <file>] <domain>\n", brand.BinaryName)
			os.Exit(1)
		}
		run("Add", cmd.RunAdd(*configFile, fs.Arg(0)))

	case "remove":
		fs := newFlagSet("remove")
		configFile := configFlag(fs)
		parseFlags(fs, args)
		if fs.NArg() != 1 {
			printer.Fprintf(os.Stderr, "Usage: %s remove [--config <file>] <domain>\n", brand.BinaryName)
			os.Exit(1)
		}
		run("Remove", cmd.RunRemove(*configFile, fs.Arg(0)))

	case "list":
		fs := newFlagSet("list")
		configFile := configFlag(fs)
		parseFlags(fs, args)
		run("List", cmd.RunList(*configFile))

	case "refresh":
		fs := newFlagSet("refresh")
		configFile := configFlag(fs)
		showDiff := fs.Bool("diff", false, "Show a unified diff of allow-set membership")
		parseFlags(fs, args)
		run("Refresh", cmd.RunRefresh(*configFile, *showDiff))

	case "disable":
		fs := newFlagSet("disable")
		configFile := configFlag(fs)
		parseFlags(fs, args)
		run("Disable", cmd.RunDisable(*configFile))

	case "status":
		fs := newFlagSet("status")
		configFile := configFlag(fs)
		format := fs.String("format", "text", "Output format: text, json, or yaml")
		fs.StringVar(format, "f", "text", "Output format (short)")
		parseFlags(fs, args)
		run("Status", cmd.RunStatus(*configFile, *format))

	case "test":
		fs := newFlagSet("test")
		configFile := configFlag(fs)
		withPing := fs.Bool("ping", false, "Also send an ICMP echo to the first resolved address")
		timeout := fs.Duration("timeout", 0, "Reachability probe timeout")
		parseFlags(fs, args)
		domain := ""
		if fs.NArg() > 0 {
			domain = fs.Arg(0)
		}
		run("Test", cmd.RunTest(*configFile, domain, *withPing, *timeout))

	case "watch":
		fs := newFlagSet("watch")
		configFile := configFlag(fs)
		listen := fs.String("listen", "", "HTTP endpoint address (overrides config)")
		interval := fs.Duration("interval", 0, "Refresh interval (overrides config)")
		parseFlags(fs, args)
		run("Watch", cmd.RunWatch(*configFile, *listen, *interval))

	case "logs":
		fs := newFlagSet("logs")
		configFile := configFlag(fs)
		jsonOut := fs.Bool("json", false, "Print events as JSON lines")
		limit := fs.Int("limit", 0, "Stop after this many events (0: stream forever)")
		fs.IntVar(limit, "n", 0, "Stop after this many events (short)")
		parseFlags(fs, args)
		run("Logs", cmd.RunLogs(*configFile, *jsonOut, *limit))

	case "history":
		fs := newFlagSet("history")
		configFile := configFlag(fs)
		limit := fs.Int("limit", 20, "Show at most this many runs (0: all)")
		fs.IntVar(limit, "n", 20, "Show at most this many runs (short)")
		prune := fs.Bool("prune", false, "Trim the store to the configured keep count first")
		parseFlags(fs, args)
		run("History", cmd.RunHistory(*configFile, *limit, *prune))

	case "version":
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Build: %s\n", brand.BuildTime)
		printer.Printf("Commit: %s\n", brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", verb)
		printUsage()
		os.Exit(1)
	}
}

// newFlagSet builds a flag set that reports parse errors instead of
// exiting, so usage problems share exit code 1 with the other usage
// errors.
func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func configFlag(fs *flag.FlagSet) *string {
	configFile := fs.String("config", "", "Configuration file (default "+brand.DefaultConfigFile()+")")
	fs.StringVar(configFile, "c", "", "Configuration file (short)")
	return configFile
}

func parseFlags(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
}

func run(name string, err error) {
	if err != nil {
		printer.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s [command] [options]

Running without a command is the same as "setup".

Commands:
  setup     Install the firewall and synchronize the allow set (default)
  add       Allow a domain and re-synchronize
  remove    Drop a domain and re-synchronize
  list      Show registry entries and the current allow set
  refresh   Re-resolve the registry into the allow set
            Options: --diff
  disable   Remove the kernel footprint; the registry is kept
  status    Show firewall, registry, and sync state
            Options: --format (-f) text|json|yaml
  test      Probe resolution, allow-set membership, and reachability
            Options: --ping, --timeout <d>; default domain %s
  watch     Stay resident: periodic refresh, registry watching, HTTP endpoint
            Options: --listen <addr>, --interval <d>
  logs      Stream denied packets from the kernel log group
            Options: --json, --limit (-n) <count>
  history   Show recent synchronization runs
            Options: --limit (-n) <count>, --prune
  version   Print version information
  help      Show this message

Every command accepts --config (-c) <file> (default %s).

Examples:
  %s                         # install and synchronize
  %s add api.github.com      # allow a domain
  %s test example.com --ping
  %s status --format json
  %s watch --interval 30m
`,
		brand.Name, brand.Description,
		brand.BinaryName,
		cmd.DefaultTestDomain,
		brand.DefaultConfigFile(),
		brand.BinaryName, brand.BinaryName, brand.BinaryName, brand.BinaryName, brand.BinaryName)
}
