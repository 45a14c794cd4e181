//go:build linux
// +build linux

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/denylog"
	"github.com/cdaein/netfence/internal/logging"
)

// RunLogs binds the nflog group and streams decoded deny events to
// stdout until interrupted, or until limit events have been printed.
func RunLogs(configFile string, jsonOut bool, limit int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyLogConfig(cfg)

	tap := denylog.NewTap(uint16(cfg.Firewall.LogGroup), denylog.DefaultBufferSize, logging.WithComponent("denylog"))
	if err := tap.Start(); err != nil {
		return fmt.Errorf("failed to bind nflog group %d: %w (root privileges are required)", cfg.Firewall.LogGroup, err)
	}
	defer tap.Stop()

	events := tap.Subscribe()
	Printer.Fprintf(os.Stderr, "Streaming deny events from nflog group %d (Ctrl-C to stop)\n", cfg.Firewall.LogGroup)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	enc := json.NewEncoder(os.Stdout)
	printed := 0
	for {
		select {
		case <-sigCh:
			return nil
		case ev := <-events:
			if jsonOut {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			} else {
				Printer.Println(ev.String())
			}
			printed++
			if limit > 0 && printed >= limit {
				return nil
			}
		}
	}
}
