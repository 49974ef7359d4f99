package guard

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jittakal/diskreplay/internal/errors"
)

// DefaultPollInterval is how often a contended file lock is retried.
const DefaultPollInterval = 10 * time.Millisecond

// FileLock is an advisory, exclusive flock(2) lock on a file. It excludes
// other processes (and other FileLocks in the same process) that use the
// same path.
type FileLock struct {
	path string
	file *os.File
	poll time.Duration
}

// NewFileLock opens (creating if needed) the lock file at path.
func NewFileLock(path string, poll time.Duration) (*FileLock, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &errors.IOError{Operation: "open", Path: path, Err: err}
	}
	return &FileLock{path: path, file: f, poll: poll}, nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// TryLock attempts to take the lock without waiting.
func (l *FileLock) TryLock() (bool, error) {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch err {
	case nil:
		return true, nil
	case unix.EWOULDBLOCK, unix.EINTR:
		return false, nil
	default:
		return false, &errors.IOError{Operation: "lock", Path: l.path, Err: err}
	}
}

// Lock blocks until the lock is held or ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	for {
		ok, err := l.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %w", errors.ErrLockNotAcquired, l.path, ctx.Err())
		case <-timer.C:
		}
	}
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return &errors.IOError{Operation: "unlock", Path: l.path, Err: err}
	}
	return nil
}

// Close releases the lock, if held, and closes the file.
func (l *FileLock) Close() error {
	return l.file.Close()
}
