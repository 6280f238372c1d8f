// Package filelock provides advisory exclusive file locking with
// protection against the lock file being replaced out from under an
// in-flight acquisition (rename/unlink+recreate races).
package filelock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryAcquire when the lock is already held.
var ErrWouldBlock = errors.New("filelock: would block")

// errInodeMismatch is internal: the lock file was replaced between open
// and flock; callers retry against the new inode.
var errInodeMismatch = errors.New("filelock: inode mismatch")

// Lock is a held exclusive lock on a single file. Release it with Close.
type Lock struct {
	file *os.File
}

// Acquire blocks until an exclusive lock on path is obtained. The file is
// created if it does not already exist. Acquisition always operates on
// whatever inode currently sits at path — if the file is replaced mid-
// acquisition, Acquire transparently retries on the new inode.
func Acquire(path string) (*Lock, error) {
	for {
		lock, err := tryOpenAndFlock(path, unix.LOCK_EX)
		if err == nil {
			return lock, nil
		}

		if errors.Is(err, errInodeMismatch) {
			continue
		}

		return nil, err
	}
}

// TryAcquire attempts to obtain an exclusive lock without blocking. It
// returns ErrWouldBlock if another process already holds the lock.
func TryAcquire(path string) (*Lock, error) {
	for {
		lock, err := tryOpenAndFlockNonblocking(path, unix.LOCK_EX)
		if err == nil {
			return lock, nil
		}

		if errors.Is(err, errInodeMismatch) {
			continue
		}

		return nil, err
	}
}

func tryOpenAndFlock(path string, how int) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: opening %s: %w", path, err)
	}

	if err := flockRetryEINTR(int(f.Fd()), how); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("filelock: locking %s: %w", path, err)
	}

	match, err := inodeMatchesPath(f, path)
	if err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()

		return nil, fmt.Errorf("filelock: stat %s: %w", path, err)
	}

	if !match {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()

		return nil, errInodeMismatch
	}

	return &Lock{file: f}, nil
}

func tryOpenAndFlockNonblocking(path string, how int) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: opening %s: %w", path, err)
	}

	err = unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("filelock: locking %s: %w", path, err)
	}

	match, err := inodeMatchesPath(f, path)
	if err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()

		return nil, fmt.Errorf("filelock: stat %s: %w", path, err)
	}

	if !match {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()

		return nil, errInodeMismatch
	}

	return &Lock{file: f}, nil
}

// inodeMatchesPath reports whether the open file f is still the file
// currently named by path, guarding against a concurrent rename/unlink
// that swapped the path to a different inode between open(2) and flock(2).
func inodeMatchesPath(f *os.File, path string) (bool, error) {
	var fdStat, pathStat unix.Stat_t

	if err := unix.Fstat(int(f.Fd()), &fdStat); err != nil {
		return false, err
	}

	if err := unix.Stat(path, &pathStat); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}

		return false, err
	}

	return fdStat.Dev == pathStat.Dev && fdStat.Ino == pathStat.Ino, nil
}

const maxFlockRetries = 10000

func flockRetryEINTR(fd int, how int) error {
	for i := 0; i < maxFlockRetries; i++ {
		err := unix.Flock(fd, how)
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			continue
		}

		return err
	}

	return fmt.Errorf("filelock: exceeded %d EINTR retries", maxFlockRetries)
}

// Close releases the lock and closes the underlying file descriptor. Close
// is idempotent.
func (l *Lock) Close() error {
	if l.file == nil {
		return nil
	}

	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("filelock: unlocking: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("filelock: closing: %w", closeErr)
	}

	return nil
}
