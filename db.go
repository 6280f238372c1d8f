package meshanina

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/meshanina/meshanina/internal/codec"
	"github.com/meshanina/meshanina/internal/filelock"
	"github.com/meshanina/meshanina/internal/hamt"
	"github.com/meshanina/meshanina/internal/osfile"
	"github.com/meshanina/meshanina/internal/recovery"
)

// Key is a 256-bit opaque key. Only its first 16 bytes participate in
// index traversal; all 32 are compared on lookup.
type Key = [hamt.KeySize]byte

// DB is an open Meshanina database. A *DB is safe for concurrent Get
// calls from multiple goroutines; Insert and Flush are internally
// serialized (single-writer), so concurrent callers simply queue.
type DB struct {
	file *osfile.File
	lock *filelock.Lock

	divider [16]byte
	k0, k1  uint64

	root atomic.Pointer[hamt.Root]

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Open opens the database at path, creating it if opts.CreateIfMissing is
// set and no file exists there. Open acquires an exclusive lock (unless
// opts.NoLock) that is held until Close.
func Open(path string, opts Options) (*DB, error) {
	_, statErr := os.Stat(path)

	switch {
	case statErr == nil:
		// existing file
	case errors.Is(statErr, os.ErrNotExist):
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: %s does not exist", ErrIO, path)
		}

		h, err := newHeader()
		if err != nil {
			return nil, err
		}

		if err := writeHeaderAtomically(path, h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}

	default:
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, statErr)
	}

	var lock *filelock.Lock

	if !opts.NoLock {
		l, err := filelock.TryAcquire(path + ".lock")
		if err != nil {
			if errors.Is(err, filelock.ErrWouldBlock) {
				return nil, ErrLocked
			}

			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}

		lock = l
	}

	file, err := osfile.Open(path)
	if err != nil {
		if lock != nil {
			_ = lock.Close()
		}

		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	db, err := openFromFile(file, lock)
	if err != nil {
		_ = file.Close()

		if lock != nil {
			_ = lock.Close()
		}

		return nil, err
	}

	return db, nil
}

func openFromFile(file *osfile.File, lock *filelock.Lock) (*DB, error) {
	if file.Size() < HeaderSize {
		return nil, fmt.Errorf("%w: file shorter than header", ErrBadHeader)
	}

	headerBuf, err := file.ReadAt(0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	h, err := decodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	k0, k1 := codec.DeriveKey(h.magicDivider)

	var root hamt.Root

	if offset, ok := recovery.FindLatestRoot(file.Bytes(), HeaderSize, h.magicDivider, k0, k1); ok {
		root = hamt.DiskRoot(offset)
	} else {
		root = hamt.EmptyRoot()
	}

	db := &DB{
		file:    file,
		lock:    lock,
		divider: h.magicDivider,
		k0:      k0,
		k1:      k1,
	}
	db.root.Store(&root)

	return db, nil
}

// fileSource adapts *osfile.File to hamt.Source.
type fileSource struct{ file *osfile.File }

func (s fileSource) ReadFrom(offset int64) ([]byte, error) {
	n := s.file.Size() - offset
	if n < 0 {
		return nil, fmt.Errorf("meshanina: read offset %d beyond size %d", offset, s.file.Size())
	}

	return s.file.ReadAt(offset, n)
}

func (db *DB) reader() hamt.Reader {
	return hamt.Reader{Source: fileSource{db.file}, Divider: db.divider, K0: db.k0, K1: db.k1}
}

// Get returns the value bound to key, or found == false if no binding
// exists. Get never blocks on I/O beyond ordinary page faults against the
// memory-mapped file.
func (db *DB) Get(key Key) (value []byte, found bool, err error) {
	if db.closed.Load() {
		return nil, false, ErrClosed
	}

	root := db.root.Load()

	value, found, err = hamt.Lookup(db.reader(), *root, key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return value, found, nil
}

// Insert binds key to value. Re-inserting a key already bound to an
// identical value is a silent no-op. Inserting a key already bound to a
// different value returns ErrKeyCollision — a caller-side violation of
// the content-addressing contract, since keys are expected to be a strong
// hash of their value.
//
// Insert never performs I/O: the binding is only visible to other Get
// calls in this process until Flush makes it durable.
func (db *DB) Insert(key Key, value []byte) error {
	if db.closed.Load() {
		return ErrClosed
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	root := db.root.Load()

	newRoot, err := hamt.Insert(db.reader(), *root, key, value)
	if err != nil {
		if errors.Is(err, hamt.ErrKeyCollision) {
			return ErrKeyCollision
		}

		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	db.root.Store(&newRoot)

	return nil
}

// appenderAdapter adapts *osfile.File to hamt.Appender.
type appenderAdapter struct{ file *osfile.File }

func (a appenderAdapter) Append(buf []byte) (int64, error) {
	return a.file.Append(buf)
}

// Flush makes every Insert since the last Flush durable: pending nodes
// and data records are appended in dependency order, the new root is
// appended last, and the file is fsync'd before Flush returns. Flush is a
// byte-for-byte no-op on the file if nothing has been inserted since the
// last Flush (or since Open, for a freshly created database).
func (db *DB) Flush() error {
	if db.closed.Load() {
		return ErrClosed
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	return db.flushLocked()
}

// flushLocked performs the actual flush; callers must hold writeMu.
func (db *DB) flushLocked() error {
	root := db.root.Load()

	newRoot, flushed, err := hamt.Flush(appenderAdapter{db.file}, db.divider, db.k0, db.k1, *root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if !flushed.Wrote {
		return nil
	}

	if err := db.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	db.root.Store(&newRoot)

	return nil
}

// Close flushes any pending inserts, releases the exclusive lock, and
// unmaps the file. Close is idempotent.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}

	db.writeMu.Lock()
	flushErr := db.flushLocked()
	db.writeMu.Unlock()

	closeErr := db.file.Close()

	var lockErr error

	if db.lock != nil {
		lockErr = db.lock.Close()
	}

	if flushErr != nil {
		return flushErr
	}

	if closeErr != nil {
		return fmt.Errorf("%w: %v", ErrIO, closeErr)
	}

	if lockErr != nil {
		return fmt.Errorf("%w: %v", ErrIO, lockErr)
	}

	return nil
}
