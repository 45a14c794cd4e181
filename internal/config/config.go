// Package config loads the HCL configuration file. Every field is optional;
// a missing file yields pure defaults so the tool works with zero setup.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/cdaein/netfence/internal/brand"
)

// Config is the decoded configuration with defaults applied.
type Config struct {
	Registry *RegistryConfig `hcl:"registry,block"`
	Sync     *SyncConfig     `hcl:"sync,block"`
	Resolver *ResolverConfig `hcl:"resolver,block"`
	Firewall *FirewallConfig `hcl:"firewall,block"`
	Watch    *WatchConfig    `hcl:"watch,block"`
	Audit    *AuditConfig    `hcl:"audit,block"`
	History  *HistoryConfig  `hcl:"history,block"`
	Log      *LogConfig      `hcl:"log,block"`
}

// RegistryConfig locates the domain registry file.
type RegistryConfig struct {
	Path string `hcl:"path,optional"`
}

// SyncConfig tunes allow-set synchronization.
type SyncConfig struct {
	TTL     string `hcl:"ttl,optional"`     // set element expiry, e.g. "1h"
	Workers int    `hcl:"workers,optional"` // concurrent DNS lookups
}

// ResolverConfig tunes DNS resolution.
type ResolverConfig struct {
	Servers []string `hcl:"servers,optional"` // empty: use /etc/resolv.conf
	Timeout string   `hcl:"timeout,optional"`
}

// FirewallConfig names the kernel footprint.
type FirewallConfig struct {
	Table        string `hcl:"table,optional"`
	AllowedPorts []int  `hcl:"allowed_ports,optional"`
	LogGroup     int    `hcl:"log_group,optional"` // nflog group for deny events
}

// WatchConfig tunes resident watch mode.
type WatchConfig struct {
	Interval string `hcl:"interval,optional"`
	Listen   string `hcl:"listen,optional"` // metrics/health/events endpoint address
}

// AuditConfig locates and rotates the audit log.
type AuditConfig struct {
	Path       string `hcl:"path,optional"`
	MaxSizeMB  int    `hcl:"max_size_mb,optional"`
	MaxAgeDays int    `hcl:"max_age_days,optional"`
}

// HistoryConfig locates the sync-run history database.
type HistoryConfig struct {
	Path string `hcl:"path,optional"`
	Keep int    `hcl:"keep,optional"` // rows retained by prune
}

// LogConfig tunes diagnostic logging.
type LogConfig struct {
	Level string `hcl:"level,optional"`
	JSON  bool   `hcl:"json,optional"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Registry == nil {
		c.Registry = &RegistryConfig{}
	}
	if c.Registry.Path == "" {
		c.Registry.Path = filepath.Join(brand.GetConfigDir(), brand.RegistryFileName)
	}

	if c.Sync == nil {
		c.Sync = &SyncConfig{}
	}
	if c.Sync.TTL == "" {
		c.Sync.TTL = "1h"
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 8
	}

	if c.Resolver == nil {
		c.Resolver = &ResolverConfig{}
	}
	if c.Resolver.Timeout == "" {
		c.Resolver.Timeout = "2s"
	}

	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	if c.Firewall.Table == "" {
		c.Firewall.Table = brand.LowerName
	}
	if len(c.Firewall.AllowedPorts) == 0 {
		c.Firewall.AllowedPorts = []int{80, 443, 22}
	}
	if c.Firewall.LogGroup == 0 {
		c.Firewall.LogGroup = 100
	}

	if c.Watch == nil {
		c.Watch = &WatchConfig{}
	}
	if c.Watch.Interval == "" {
		c.Watch.Interval = "1h"
	}
	if c.Watch.Listen == "" {
		c.Watch.Listen = "127.0.0.1:9678"
	}

	if c.Audit == nil {
		c.Audit = &AuditConfig{}
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(brand.GetLogDir(), brand.AuditFileName)
	}
	if c.Audit.MaxSizeMB == 0 {
		c.Audit.MaxSizeMB = 10
	}
	if c.Audit.MaxAgeDays == 0 {
		c.Audit.MaxAgeDays = 30
	}

	if c.History == nil {
		c.History = &HistoryConfig{}
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(brand.GetStateDir(), brand.HistoryFileName)
	}
	if c.History.Keep == 0 {
		c.History.Keep = 500
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks cross-field constraints and duration syntax.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Sync.TTL); err != nil {
		return fmt.Errorf("sync.ttl: %w", err)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if _, err := time.ParseDuration(c.Resolver.Timeout); err != nil {
		return fmt.Errorf("resolver.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Watch.Interval); err != nil {
		return fmt.Errorf("watch.interval: %w", err)
	}
	for _, p := range c.Firewall.AllowedPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("firewall.allowed_ports: port %d out of range", p)
		}
	}
	if c.Firewall.LogGroup < 0 || c.Firewall.LogGroup > 65535 {
		return fmt.Errorf("firewall.log_group %d out of range", c.Firewall.LogGroup)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}

// SyncTTL returns the parsed allow-set element expiry.
func (c *Config) SyncTTL() time.Duration {
	d, err := time.ParseDuration(c.Sync.TTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// ResolverTimeout returns the parsed per-query DNS timeout.
func (c *Config) ResolverTimeout() time.Duration {
	d, err := time.ParseDuration(c.Resolver.Timeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// WatchInterval returns the parsed refresh interval for watch mode.
func (c *Config) WatchInterval() time.Duration {
	d, err := time.ParseDuration(c.Watch.Interval)
	if err != nil {
		return time.Hour
	}
	return d
}
