// Package audit appends one line per state-changing action to a
// rotated log file.
package audit

import (
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cdaein/netfence/internal/clock"
	"github.com/cdaein/netfence/internal/config"
)

const timeFormat = "2006-01-02 15:04:05"

// Options configure the file location and rotation bounds.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
}

// OptionsFromConfig extracts audit options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Path:       cfg.Audit.Path,
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
	}
}

// Log writes `[timestamp] message` entries, rotated by size and age.
type Log struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// New creates the audit log. The parent directory is created on first
// write.
func New(opts Options) *Log {
	return &Log{
		w: &lumberjack.Logger{
			Filename: opts.Path,
			MaxSize:  opts.MaxSizeMB,
			MaxAge:   opts.MaxAgeDays,
			Compress: true,
		},
	}
}

// Record appends one formatted entry.
func (l *Log) Record(format string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] %s\n",
		clock.Now().Format(timeFormat), fmt.Sprintf(format, args...))
	if _, err := l.w.Write([]byte(line)); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.w.Close()
}
