//go:build linux
// +build linux

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cdaein/netfence/internal/audit"
	"github.com/cdaein/netfence/internal/config"
	"github.com/cdaein/netfence/internal/denylog"
	"github.com/cdaein/netfence/internal/firewall"
	"github.com/cdaein/netfence/internal/history"
	"github.com/cdaein/netfence/internal/lockfile"
	"github.com/cdaein/netfence/internal/logging"
	"github.com/cdaein/netfence/internal/metrics"
	"github.com/cdaein/netfence/internal/scheduler"
)

// registryDebounce coalesces bursts of registry file events into one
// refresh. Editors typically emit several events per save.
const registryDebounce = 2 * time.Second

// RunWatch keeps the firewall synchronized until interrupted: an
// initial install-and-sync, scheduled refreshes, refreshes on registry
// edits, and an HTTP endpoint serving metrics, health, and the
// deny-event stream. Shutdown leaves the firewall active.
func RunWatch(configFile, listen string, interval time.Duration) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Watch.Listen = listen
	}
	if interval > 0 {
		cfg.Watch.Interval = interval.String()
	}
	applyLogConfig(cfg)
	if err := requireRoot(); err != nil {
		return err
	}

	inst, err := newInstaller(cfg)
	if err != nil {
		return err
	}

	store, err := history.NewStore(cfg.History.Path, cfg.History.Keep)
	if err != nil {
		logging.Warn("History store unavailable; runs will not be recorded", "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	auditLog := audit.New(audit.OptionsFromConfig(cfg))
	defer auditLog.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Every triggered sync takes the same file lock as the one-shot
	// verbs, so ad-hoc CLI mutations interleave safely with watch.
	doSync := func(ctx context.Context, trigger string) error {
		lock, err := lockfile.Acquire("")
		if err != nil {
			return err
		}
		defer lock.Release()

		if _, err := inst.EnsureInstalled(); err != nil {
			return err
		}
		report, err := runSync(ctx, cfg, inst)
		if report == nil {
			metrics.Get().RecordReload(trigger, firewall.ResultFailed.String())
			return err
		}
		if store != nil {
			recordRunTo(store, report, trigger)
		}
		metrics.Get().RecordReload(trigger, report.Result.String())
		if auditErr := auditLog.Record("refresh (%s): run %s, domains=%d failed=%d addresses=%d",
			trigger, report.RunID, report.Domains, len(report.Failures), report.Addresses); auditErr != nil {
			logging.Warn("Failed to write audit entry", "error", auditErr)
		}
		return err
	}

	logging.Info("Watch mode starting", "interval", cfg.WatchInterval(), "listen", cfg.Watch.Listen)
	if err := doSync(ctx, history.TriggerCLI); err != nil {
		return fmt.Errorf("initial synchronization failed: %w", err)
	}

	// Scheduled refresh plus a daily history prune.
	sched := scheduler.New(logging.Default())
	refreshTask := scheduler.NewRefreshTask(cfg.WatchInterval(), func(ctx context.Context) error {
		return doSync(ctx, history.TriggerSchedule)
	})
	if err := sched.AddTask(refreshTask); err != nil {
		return err
	}
	if store != nil {
		pruneTask := scheduler.NewHistoryPruneTask(func(ctx context.Context) error {
			removed, err := store.Prune()
			if removed > 0 {
				logging.Info("History pruned", "removed", removed)
			}
			return err
		})
		if err := sched.AddTask(pruneTask); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	// Registry edits trigger a debounced refresh. The parent directory
	// is watched because editors replace the file on save.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	registryPath := filepath.Clean(cfg.Registry.Path)
	if err := watcher.Add(filepath.Dir(registryPath)); err != nil {
		logging.Warn("Registry directory not watchable", "dir", filepath.Dir(registryPath), "error", err)
	}
	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != registryPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(registryDebounce, func() {
					logging.Info("Registry edited; refreshing")
					if err := doSync(ctx, history.TriggerFSNotify); err != nil {
						logging.Error("Refresh after registry edit failed", "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("File watcher error", "error", err)
			}
		}
	}()

	// The deny-event tap feeds the websocket hub and the denied-packets
	// counter. Watch keeps working without it.
	tap := denylog.NewTap(uint16(cfg.Firewall.LogGroup), denylog.DefaultBufferSize, logging.WithComponent("denylog"))
	hub := denylog.NewHub(logging.WithComponent("events"))
	if err := tap.Start(); err != nil {
		logging.Warn("Deny-event tap unavailable", "error", err)
	} else {
		defer tap.Stop()
		go hub.Forward(tap.Subscribe())
	}

	started := time.Now()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.Get().Uptime.Set(time.Since(started).Seconds())
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/events", hub.Handler())
	srv := &http.Server{Addr: cfg.Watch.Listen, Handler: mux}
	go func() {
		logging.Info("Watch endpoint listening", "addr", cfg.Watch.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Watch endpoint failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("Shutting down; firewall stays active", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Endpoint shutdown incomplete", "error", err)
	}
	return nil
}
