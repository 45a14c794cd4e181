//go:build linux
// +build linux

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/history"
)

// RunHistory lists recent sync runs from the history store. With prune
// the table is first trimmed to the configured keep count.
func RunHistory(configFile string, limit int, prune bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyLogConfig(cfg)

	// Opening the store would create the database file; a read of an
	// empty history must not.
	if _, err := os.Stat(cfg.History.Path); os.IsNotExist(err) {
		Printer.Println("No sync runs recorded yet.")
		return nil
	}

	store, err := history.NewStore(cfg.History.Path, cfg.History.Keep)
	if err != nil {
		return err
	}
	defer store.Close()

	if prune {
		removed, err := store.Prune()
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		Printer.Printf("Pruned %d runs (keeping the most recent %d).\n", removed, cfg.History.Keep)
	}

	runs, err := store.Recent(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		Printer.Println("No sync runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	Printer.Fprintln(w, "STARTED\tTRIGGER\tDOMAINS\tFAILED\tADDRESSES\tDURATION\tRESULT")
	for _, run := range runs {
		result := "failed"
		if run.OK {
			result = "ok"
		}
		Printer.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Trigger,
			run.Domains, run.Failed, run.Addresses,
			run.Duration.Round(time.Millisecond), result)
	}
	return w.Flush()
}
