//go:build linux
// +build linux

// Package lockfile serializes mutating invocations with an exclusive
// advisory file lock.
package lockfile

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cdaein/netfence/internal/brand"
)

// Acquisition parameters (10 seconds total, 500ms intervals).
const (
	retryCount    = 20
	retryInterval = 500 * time.Millisecond
)

// ErrBusy is returned when another invocation holds the lock past the
// retry window.
type ErrBusy struct {
	Path string
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("another %s invocation holds %s", brand.LowerName, e.Path)
}

// Lock is a held advisory lock. The descriptor stays open until
// Release.
type Lock struct {
	path string
	fd   int
}

// Acquire takes the exclusive lock at path, retrying with a bounded
// backoff while another process holds it. An empty path uses the
// default lock file.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = brand.LockFilePath()
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	var lockErr error
	for i := 0; i < retryCount; i++ {
		lockErr = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if lockErr == nil {
			return &Lock{path: path, fd: fd}, nil
		}
		if lockErr != unix.EWOULDBLOCK && lockErr != unix.EAGAIN {
			unix.Close(fd)
			return nil, fmt.Errorf("lock error on %s: %w", path, lockErr)
		}
		time.Sleep(retryInterval)
	}

	unix.Close(fd)
	return nil, &ErrBusy{Path: path}
}

// TryAcquire takes the lock without retrying.
func TryAcquire(path string) (*Lock, error) {
	if path == "" {
		path = brand.LockFilePath()
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return nil, &ErrBusy{Path: path}
		}
		return nil, fmt.Errorf("lock error on %s: %w", path, err)
	}
	return &Lock{path: path, fd: fd}, nil
}

// Release drops the lock and closes the descriptor.
func (l *Lock) Release() error {
	if l == nil || l.fd < 0 {
		return nil
	}
	unix.Flock(l.fd, unix.LOCK_UN)
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}
