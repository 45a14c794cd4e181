package history

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, keep int) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"), keep)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(id string, at time.Time) Run {
	return Run{
		ID:        id,
		StartedAt: at,
		Duration:  1200 * time.Millisecond,
		Trigger:   TriggerCLI,
		Domains:   3,
		Failed:    1,
		Addresses: 7,
		OK:        true,
	}
}

func TestStore_RecordAndRecent(t *testing.T) {
	store := newTestStore(t, 0)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.Record(sampleRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	runs, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order = %s, %s; want run-c, run-b", runs[0].ID, runs[1].ID)
	}

	got := runs[0]
	if got.Duration != 1200*time.Millisecond {
		t.Errorf("duration = %s", got.Duration)
	}
	if got.Trigger != TriggerCLI {
		t.Errorf("trigger = %q", got.Trigger)
	}
	if got.Domains != 3 || got.Failed != 1 || got.Addresses != 7 {
		t.Errorf("counts = %d/%d/%d", got.Domains, got.Failed, got.Addresses)
	}
	if !got.OK {
		t.Error("ok flag lost")
	}
	if !got.StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("started_at = %s", got.StartedAt)
	}
}

func TestStore_RecordsFailedRuns(t *testing.T) {
	store := newTestStore(t, 0)

	run := sampleRun("failed-run", time.Now())
	run.OK = false
	if err := store.Record(run); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	last, found, err := store.Last()
	if err != nil || !found {
		t.Fatalf("Last: found=%v err=%v", found, err)
	}
	if last.OK {
		t.Error("failed run stored as ok")
	}
}

func TestStore_Last_Empty(t *testing.T) {
	store := newTestStore(t, 0)

	_, found, err := store.Last()
	if err != nil {
		t.Fatalf("Last failed: %v", err)
	}
	if found {
		t.Error("Last reported a run in an empty store")
	}
}

func TestStore_Prune(t *testing.T) {
	store := newTestStore(t, 2)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := sampleRun(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := store.Record(run); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	removed, err := store.Prune()
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	count, err := store.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	runs, _ := store.Recent(0)
	if runs[0].ID != "e" || runs[1].ID != "d" {
		t.Errorf("survivors = %s, %s; want e, d", runs[0].ID, runs[1].ID)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := NewStore(path, 0)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Record(sampleRun("persisted", time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	store.Close()

	reopened, err := NewStore(path, 0)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count after reopen = %d, want 1", count)
	}
}
