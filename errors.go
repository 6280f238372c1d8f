package meshanina

import "errors"

var (
	// ErrIO is returned when an operation fails due to an underlying
	// filesystem error (read, write, fsync, mmap). Wraps the originating
	// error; callers can unwrap for detail but should otherwise treat the
	// database as potentially unusable until reopened.
	ErrIO = errors.New("meshanina: I/O error")

	// ErrCorrupt is returned when a record reachable from the current
	// root fails to decode or fails its checksum. Unlike a recovery-time
	// decode failure (silently skipped while scanning for a valid root),
	// this indicates damage to data the database believes is live, and is
	// unrecoverable without external repair.
	ErrCorrupt = errors.New("meshanina: corrupt data")

	// ErrLocked is returned by Open when another process already holds
	// the database's exclusive lock.
	ErrLocked = errors.New("meshanina: database is locked by another process")

	// ErrBadHeader is returned by Open when the file's first 4 KiB do not
	// match the expected header layout (wrong magic, reserved bytes set).
	ErrBadHeader = errors.New("meshanina: bad file header")

	// ErrKeyCollision is returned by Insert when the given key is already
	// bound to a different value. Meshanina keys are expected to be a
	// strong hash of their value; this indicates a caller-side violation
	// of that contract, not ordinary WORM idempotency (re-inserting the
	// same key with the same value is always a silent no-op).
	ErrKeyCollision = errors.New("meshanina: key bound to a different value")

	// ErrClosed is returned by any DB method after Close.
	ErrClosed = errors.New("meshanina: database is closed")
)
