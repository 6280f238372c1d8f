// Package osfile provides the append-only, memory-mapped file primitive
// Meshanina builds its storage engine on: a read-only mmap'd byte view of
// the whole file, an append path that extends the file and remaps, and
// durability via fsync/msync.
package osfile

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by any operation on a File after Close.
var ErrClosed = errors.New("osfile: file is closed")

// File is a growable, memory-mapped append-only file. Mutations below the
// current EOF are never issued by this package; callers are expected to
// uphold append-only discipline above it.
//
// Append remaps the file (munmap then mmap) when it grows, which would
// leave any zero-copy slice returned by an earlier ReadAt dangling. mu
// serializes remapping against reads, and ReadAt copies the requested
// range out before releasing it, so a slice returned to a caller always
// remains valid independent of later Appends on another goroutine.
type File struct {
	mu sync.RWMutex

	f      *os.File
	data   []byte // current mmap'd view, len(data) == file size on disk
	closed bool
}

// Open mmaps an existing file opened read-write. The file must already
// have a non-zero size (callers create and size the file before Open).
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("osfile: opening %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("osfile: stat %s: %w", path, err)
	}

	file := &File{f: f}

	if fi.Size() > 0 {
		if err := file.remap(fi.Size()); err != nil {
			_ = f.Close()

			return nil, err
		}
	}

	return file, nil
}

// Size returns the current mapped length of the file.
func (file *File) Size() int64 {
	file.mu.RLock()
	defer file.mu.RUnlock()

	return int64(len(file.data))
}

// Bytes returns a copy of the current mapped byte view of the entire
// file. Only safe to call before any concurrent writer exists (Open's
// recovery scan); for ordinary reads after Open, use ReadAt.
func (file *File) Bytes() []byte {
	file.mu.RLock()
	defer file.mu.RUnlock()

	out := make([]byte, len(file.data))
	copy(out, file.data)

	return out
}

// ReadAt returns a copy of the mapped bytes at [off, off+length). The
// copy is deliberate: it lets the returned slice outlive a subsequent
// Append's remap on another goroutine.
func (file *File) ReadAt(off, length int64) ([]byte, error) {
	file.mu.RLock()
	defer file.mu.RUnlock()

	if file.closed {
		return nil, ErrClosed
	}

	if off < 0 || length < 0 || off+length > int64(len(file.data)) {
		return nil, fmt.Errorf("osfile: read range [%d,%d) out of bounds (size %d)", off, off+length, len(file.data))
	}

	out := make([]byte, length)
	copy(out, file.data[off:off+length])

	return out, nil
}

// Append extends the file by writing buf at the current EOF, growing and
// remapping as needed, and returns the absolute offset at which buf now
// starts. Append does not fsync; call Sync for durability.
func (file *File) Append(buf []byte) (offset int64, err error) {
	file.mu.Lock()
	defer file.mu.Unlock()

	if file.closed {
		return 0, ErrClosed
	}

	offset = int64(len(file.data))
	newSize := offset + int64(len(buf))

	if err := file.f.Truncate(newSize); err != nil {
		return 0, fmt.Errorf("osfile: truncate to %d: %w", newSize, err)
	}

	if err := file.remap(newSize); err != nil {
		return 0, err
	}

	copy(file.data[offset:newSize], buf)

	return offset, nil
}

// remap unmaps the current view (if any) and maps the full file up to
// size. Growth always remaps from scratch rather than attempting
// mremap(2), matching the corpus's mmap idiom of unmap-then-remap for
// portability across platforms that lack mremap.
func (file *File) remap(size int64) error {
	if file.data != nil {
		if err := unix.Munmap(file.data); err != nil {
			return fmt.Errorf("osfile: munmap: %w", err)
		}

		file.data = nil
	}

	if size == 0 {
		return nil
	}

	data, err := unix.Mmap(int(file.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("osfile: mmap: %w", err)
	}

	file.data = data

	return nil
}

// Sync flushes both the mmap'd dirty pages (msync) and the file's own
// metadata (fsync) to stable storage.
func (file *File) Sync() error {
	file.mu.RLock()
	defer file.mu.RUnlock()

	if file.closed {
		return ErrClosed
	}

	if len(file.data) > 0 {
		if err := unix.Msync(file.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("osfile: msync: %w", err)
		}
	}

	if err := file.f.Sync(); err != nil {
		return fmt.Errorf("osfile: fsync: %w", err)
	}

	return nil
}

// Close unmaps and closes the underlying file descriptor. Close is
// idempotent.
func (file *File) Close() error {
	file.mu.Lock()
	defer file.mu.Unlock()

	if file.closed {
		return nil
	}

	file.closed = true

	var unmapErr error

	if file.data != nil {
		unmapErr = unix.Munmap(file.data)
		file.data = nil
	}

	closeErr := file.f.Close()

	if unmapErr != nil {
		return fmt.Errorf("osfile: munmap on close: %w", unmapErr)
	}

	if closeErr != nil {
		return fmt.Errorf("osfile: close: %w", closeErr)
	}

	return nil
}
