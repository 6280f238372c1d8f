// Package meshanina implements a content-addressed, write-once-read-many
// (WORM) key-value store.
//
// A Meshanina database binds 256-bit keys to arbitrary byte values under
// the assumption that the key is a strong hash of the value: once a key
// is bound, it is bound forever, and re-inserting it with the same value
// is a no-op rather than an error. There is no delete and no update.
//
// On disk, the database is a single append-only file: a 4 KiB header
// followed by a sequence of checksummed, length-prefixed records holding
// either a value or a node of a 64-ary HAMT index. Every write appends;
// nothing already on disk is ever modified. A crash during a write can
// leave a partially-written record at the end of the file, but Open
// recovers by scanning backward for the most recent fully-valid commit,
// so already-committed bindings are never at risk.
//
// A database has one writer and any number of readers. Insert binds a key
// in memory only; Flush makes every Insert since the last Flush durable.
// Readers (Get) do not wait for Insert or Flush as a whole; they wait on a
// writer only while an append grows and remaps the file.
//
//	db, err := meshanina.Open("data.meshanina", meshanina.Options{CreateIfMissing: true})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	key := sha256.Sum256(value)
//	if err := db.Insert(key, value); err != nil {
//		return err
//	}
//	if err := db.Flush(); err != nil {
//		return err
//	}
//
//	got, found, err := db.Get(key)
package meshanina
