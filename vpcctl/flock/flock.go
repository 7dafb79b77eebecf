// Package flock serializes mutating invocations across processes with a
// host-wide advisory lock on a well-known path.
package flock

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
)

const retryInterval = 100 * time.Millisecond

// Lock is a held advisory lock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive advisory lock on path, retrying until the
// timeout elapses. A zero timeout blocks indefinitely. On timeout the
// caller gets a lock error and must not proceed with side effects.
func Acquire(path string, timeout time.Duration) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errdefs.Lock("open lock file %s: %v", path, err)
	}

	if timeout == 0 {
		if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
			file.Close()
			return nil, errdefs.Lock("acquire lock %s: %v", path, err)
		}
		return &Lock{path: path, file: file}, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{path: path, file: file}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			file.Close()
			return nil, errdefs.Lock("acquire lock %s: %v", path, err)
		}
		if time.Now().After(deadline) {
			file.Close()
			return nil, errdefs.Lock("timed out after %s waiting for lock %s", timeout, path)
		}
		time.Sleep(retryInterval)
	}
}

// Release drops the lock. The lock file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return errdefs.Lock("release lock %s: %v", l.path, err)
	}
	return closeErr
}
