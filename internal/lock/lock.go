package lock

import (
	"os"
	"path/filepath"

	"codeberg.org/mutker/shuttled/internal/errors"
	"github.com/gofrs/flock"
)

// Lock enforces single-instance execution through an advisory file lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path, failing with ErrAlreadyRunning when
// another instance holds it.
func Acquire(path string) (*Lock, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}
	if !ok {
		return nil, errFactory.WithData(errors.ErrAlreadyRunning, path)
	}

	return &Lock{fl: fl}, nil
}

// Release gives the lock back.
func (l *Lock) Release() error {
	errFactory := errors.New()

	if err := l.fl.Unlock(); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.fl.Path()
}
