// Package codec implements the on-disk record framing for Meshanina:
// length-prefixed, checksummed, magic-divider-delimited records, plus the
// LZ4 value compression used inside data records.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind identifies the payload carried by a record.
type Kind uint32

const (
	KindData     Kind = 0
	KindInterior Kind = 1
	KindRoot     Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindInterior:
		return "interior"
	case KindRoot:
		return "root"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

const (
	// MagicDividerSize is the length, in bytes, of the per-database magic
	// divider prefixed to every record.
	MagicDividerSize = 16

	// ChecksumSize is the length, in bytes, of the SipHash-1-3 checksum
	// prefixed to every record's kind/length/content.
	ChecksumSize = 8

	// frameHeaderSize is the length of the fixed kind+length prefix that
	// follows the magic divider and checksum.
	frameHeaderSize = 8

	// RecordPrefixSize is the number of bytes preceding a record's
	// content: divider + checksum + kind + length.
	RecordPrefixSize = MagicDividerSize + ChecksumSize + frameHeaderSize
)

// ErrDecodeFailure indicates a candidate byte range could not be parsed as
// a record. It is never surfaced to callers outside this package and
// internal/recovery: the scanner treats it as "not a record here" and
// keeps scanning backward.
var ErrDecodeFailure = errors.New("codec: not a valid record")

// ErrChecksumMismatch indicates a candidate record decoded structurally but
// its checksum does not match. Like ErrDecodeFailure, this is swallowed by
// the recovery scanner; it becomes user-visible only when it occurs while
// reading a record already reachable from a validated live root.
var ErrChecksumMismatch = errors.New("codec: checksum mismatch")

// Record is a decoded on-disk record.
type Record struct {
	Kind    Kind
	Content []byte
}

// Encode frames content with kind, checksums it under k0/k1, and prepends
// the magic divider. The returned slice is ready to be appended to the
// file as-is.
func Encode(magicDivider [16]byte, k0, k1 uint64, kind Kind, content []byte) []byte {
	buf := make([]byte, RecordPrefixSize+len(content))

	copy(buf[0:MagicDividerSize], magicDivider[:])
	binary.LittleEndian.PutUint32(buf[MagicDividerSize+ChecksumSize:], uint32(kind))
	binary.LittleEndian.PutUint32(buf[MagicDividerSize+ChecksumSize+4:], uint32(len(content)))
	copy(buf[RecordPrefixSize:], content)

	checksum := SipHash13(k0, k1, buf[MagicDividerSize+ChecksumSize:])
	binary.LittleEndian.PutUint64(buf[MagicDividerSize:], checksum)

	return buf
}

// Decode parses a record starting at the beginning of buf (buf must start
// exactly at the magic divider). It returns the decoded record and the
// total number of bytes consumed, or ErrDecodeFailure/ErrChecksumMismatch
// if buf does not hold a well-formed, checksum-valid record.
func Decode(magicDivider [16]byte, k0, k1 uint64, buf []byte) (Record, int, error) {
	if len(buf) < RecordPrefixSize {
		return Record{}, 0, ErrDecodeFailure
	}

	if string(buf[0:MagicDividerSize]) != string(magicDivider[:]) {
		return Record{}, 0, ErrDecodeFailure
	}

	wantChecksum := binary.LittleEndian.Uint64(buf[MagicDividerSize:])
	kind := Kind(binary.LittleEndian.Uint32(buf[MagicDividerSize+ChecksumSize:]))
	length := binary.LittleEndian.Uint32(buf[MagicDividerSize+ChecksumSize+4:])

	switch kind {
	case KindData, KindInterior, KindRoot:
	default:
		return Record{}, 0, ErrDecodeFailure
	}

	total := RecordPrefixSize + int(length)
	if total < 0 || len(buf) < total {
		return Record{}, 0, ErrDecodeFailure
	}

	gotChecksum := SipHash13(k0, k1, buf[MagicDividerSize+ChecksumSize:total])
	if gotChecksum != wantChecksum {
		return Record{}, 0, ErrChecksumMismatch
	}

	content := make([]byte, length)
	copy(content, buf[RecordPrefixSize:total])

	return Record{Kind: kind, Content: content}, total, nil
}
