package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// dirPermissions is the permission mode for the lock file's directory.
const dirPermissions = 0750

// Sentinel errors for lock acquisition. Use errors.Is() to distinguish a
// held lock (fatal) from an unusable locking primitive (degrade and warn).
var (
	// ErrAlreadyRunning is returned when another supervisor instance holds
	// the lock. The caller must exit without spawning a child.
	ErrAlreadyRunning = errors.New("instance: another supervisor is already running")

	// ErrUnavailable is returned when the lock file cannot be created or
	// the flock primitive fails. The guard is a safety net, not a hard
	// requirement: callers should warn and proceed without it.
	ErrUnavailable = errors.New("instance: lock unavailable")
)

// Lock is an exclusive, process-lifetime single-instance lock.
//
// The underlying flock is released automatically by the kernel when the
// supervisor process exits, including abnormal exits, so a crashed
// supervisor never leaves a stale lock behind.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the single-instance lock, non-blocking.
//
// Parameters:
//   - path: Lock file path. The file's existence carries no meaning; only
//     the flock state does.
//
// Returns:
//   - *Lock: Held lock; call Release on clean shutdown
//   - error: ErrAlreadyRunning if held elsewhere, ErrUnavailable if the
//     primitive cannot be used at all
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("%w: creating lock directory: %w", ErrUnavailable, err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", ErrAlreadyRunning, path)
	}

	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call on a nil Lock so callers can release
// unconditionally even when running degraded without the guard.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil || l.fl == nil {
		return ""
	}
	return l.fl.Path()
}
