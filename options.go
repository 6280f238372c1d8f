package meshanina

// Options controls Open's behavior.
type Options struct {
	// CreateIfMissing creates a new, empty database at the given path if
	// no file exists there. Defaults to false: Open fails against a
	// missing path unless this is set.
	CreateIfMissing bool

	// NoLock disables the exclusive OS file lock normally acquired on
	// open. Intended only for tests and read-only tooling that is known
	// not to race a writer; production callers should leave this false.
	NoLock bool
}

// DefaultOptions returns the zero-value Options: Open fails against a
// missing database, and the exclusive lock is enforced.
func DefaultOptions() Options {
	return Options{}
}
