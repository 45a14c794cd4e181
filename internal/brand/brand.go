// Package brand provides centralized naming constants for the tool.
// Keeping every user-visible name and default path here makes forks and
// renames a one-file change.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name        = "Netfence"
	LowerName   = "netfence"
	BinaryName  = "netfence"
	Description = "Domain-allowlist egress firewall for sandboxed workloads"

	ConfigEnvPrefix = "NETFENCE"

	DefaultConfigDir = "/etc/netfence"
	DefaultStateDir  = "/var/lib/netfence"
	DefaultLogDir    = "/var/log/netfence"
	DefaultRunDir    = "/run"

	ConfigFileName   = "netfence.hcl"
	RegistryFileName = "domains.list"
	HistoryFileName  = "history.db"
	AuditFileName    = "audit.log"
	LockFileName     = "netfence.lock"
)

// Build metadata, set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// DefaultConfigFile returns the full path of the default configuration file.
func DefaultConfigFile() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: NETFENCE_CONFIG_DIR > NETFENCE_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: NETFENCE_STATE_DIR > NETFENCE_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetLogDir returns the log directory, checking env vars first.
// Priority: NETFENCE_LOG_DIR > NETFENCE_PREFIX/log > DefaultLogDir
func GetLogDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_LOG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "log")
	}
	return DefaultLogDir
}

// GetRunDir returns the runtime directory for lock and PID files.
// Priority: NETFENCE_RUN_DIR > NETFENCE_PREFIX/run > DefaultRunDir
func GetRunDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_RUN_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "run")
	}
	return DefaultRunDir
}

// LockFilePath returns the full path of the mutating-command lock file.
func LockFilePath() string {
	return filepath.Join(GetRunDir(), LockFileName)
}
