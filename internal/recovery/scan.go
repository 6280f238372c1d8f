// Package recovery implements the backward scan used on Open to locate
// the most recently committed, structurally valid root record in a
// database file — the mechanism that makes an interrupted or crashed
// write harmless to previously committed data.
package recovery

import (
	"bytes"

	"github.com/meshanina/meshanina/internal/codec"
)

// FindLatestRoot scans data backward, starting from the end of the file
// and stopping at headerSize, for the most recent occurrence of divider
// that decodes as a structurally valid Root record. It shallow-validates
// the root's immediate children (one level: each must itself decode with
// a matching checksum) before accepting it, so a root record appended
// just before a crash — whose children never made it to disk — is
// rejected in favor of the previous, fully-written root.
//
// Returns ok == false if no valid root record exists (a freshly created,
// empty database).
func FindLatestRoot(data []byte, headerSize int64, divider [16]byte, k0, k1 uint64) (offset uint64, ok bool) {
	searchEnd := len(data)

	for searchEnd > int(headerSize) {
		window := data[headerSize:searchEnd]

		idx := bytes.LastIndex(window, divider[:])
		if idx < 0 {
			return 0, false
		}

		pos := int(headerSize) + idx

		if isValidRoot(data, divider, k0, k1, pos) {
			return uint64(pos), true
		}

		searchEnd = pos
	}

	return 0, false
}

func isValidRoot(data []byte, divider [16]byte, k0, k1 uint64, pos int) bool {
	rec, _, err := codec.Decode(divider, k0, k1, data[pos:])
	if err != nil {
		return false
	}

	if rec.Kind != codec.KindRoot {
		return false
	}

	nc, err := codec.DecodeNodeContent(rec.Content)
	if err != nil {
		return false
	}

	for _, childOffset := range nc.Offsets {
		if childOffset >= uint64(len(data)) {
			return false
		}

		if _, _, err := codec.Decode(divider, k0, k1, data[childOffset:]); err != nil {
			return false
		}
	}

	return true
}
