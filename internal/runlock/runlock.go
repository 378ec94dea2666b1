// Package runlock keeps scheduled invocations from overlapping on one host.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when another invocation holds the lock.
var ErrHeld = errors.New("another hostwatch invocation is running")

// Lock is an advisory, non-blocking file lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path or fails immediately with ErrHeld. An empty path
// returns a no-op lock.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return &Lock{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrHeld
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe on a nil or no-op lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
