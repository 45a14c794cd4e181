package scheduler

import "time"

// NewRefreshTask schedules the periodic registry re-sync.
func NewRefreshTask(interval time.Duration, fn TaskFunc) *Task {
	return &Task{
		ID:       "refresh",
		Name:     "Registry Refresh",
		Schedule: Every(interval),
		Enabled:  true,
		Timeout:  5 * time.Minute,
		Func:     fn,
	}
}

// NewHistoryPruneTask schedules the nightly history janitor.
func NewHistoryPruneTask(fn TaskFunc) *Task {
	return &Task{
		ID:       "history-prune",
		Name:     "History Prune",
		Schedule: Daily(3, 0),
		Enabled:  true,
		Timeout:  time.Minute,
		Func:     fn,
	}
}
