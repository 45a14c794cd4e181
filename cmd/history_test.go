//go:build linux

package cmd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cdaein/netfence/internal/history"
)

func TestRunHistory_Empty(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, filepath.Join(tmpDir, "domains.list"))

	if err := RunHistory(configPath, 10, false); err != nil {
		t.Errorf("RunHistory() error = %v, want nil for missing store", err)
	}
}

func TestRunHistory_ListsAndPrunes(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, filepath.Join(tmpDir, "domains.list"))

	store, err := history.NewStore(filepath.Join(tmpDir, "history.db"), 500)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := history.Run{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Duration:  900 * time.Millisecond,
			Trigger:   history.TriggerCLI,
			Domains:   4,
			Addresses: 9,
			OK:        true,
		}
		if err := store.Record(run); err != nil {
			t.Fatalf("Record(%s) error = %v", id, err)
		}
	}
	store.Close()

	if err := RunHistory(configPath, 2, false); err != nil {
		t.Errorf("RunHistory() error = %v", err)
	}
	if err := RunHistory(configPath, 0, true); err != nil {
		t.Errorf("RunHistory(prune) error = %v", err)
	}
}
