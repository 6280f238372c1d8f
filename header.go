package meshanina

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/natefinch/atomic"
)

const (
	// HeaderSize is the fixed size, in bytes, of the file header written
	// exactly once at database creation.
	HeaderSize = 4096

	magicString     = "meshanina2"
	offMagic        = 0
	offMagicDivider = 10
	offFormatVer    = 26
	offReserved     = 30
	reservedEnd     = HeaderSize

	formatVersion = 1
)

// header is the parsed form of the first 4 KiB of a database file.
type header struct {
	magicDivider [16]byte
}

// newHeader generates a fresh header with a cryptographically random
// magic divider. The divider is the only per-database secret: it both
// delimits records during recovery scanning and keys the SipHash checksum
// protecting them.
func newHeader() (header, error) {
	var h header

	if _, err := rand.Read(h.magicDivider[:]); err != nil {
		return header{}, fmt.Errorf("meshanina: generating magic divider: %w", err)
	}

	return h, nil
}

func (h header) encode() []byte {
	buf := make([]byte, HeaderSize)

	copy(buf[offMagic:], magicString)
	copy(buf[offMagicDivider:offMagicDivider+16], h.magicDivider[:])
	binary.LittleEndian.PutUint32(buf[offFormatVer:], formatVersion)
	// buf[offReserved:reservedEnd] stays zero.

	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, fmt.Errorf("%w: header truncated", ErrBadHeader)
	}

	if !bytes.Equal(buf[offMagic:offMagic+len(magicString)], []byte(magicString)) {
		return header{}, fmt.Errorf("%w: bad magic", ErrBadHeader)
	}

	for _, b := range buf[offReserved:reservedEnd] {
		if b != 0 {
			return header{}, fmt.Errorf("%w: reserved bytes set", ErrBadHeader)
		}
	}

	var h header

	copy(h.magicDivider[:], buf[offMagicDivider:offMagicDivider+16])

	return h, nil
}

// writeHeaderAtomically creates path and writes h as its first HeaderSize
// bytes via a temp-file-then-rename sequence, so a crash during creation
// never leaves a partially-written header visible at path.
func writeHeaderAtomically(path string, h header) error {
	buf := h.encode()

	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("meshanina: writing header to %s: %w", path, err)
	}

	return nil
}
