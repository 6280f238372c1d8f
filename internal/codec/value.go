package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// KeySize is the width of a Meshanina key in bytes (256 bits).
const KeySize = 32

// IndexBits is the number of leading bits of a key used for HAMT
// traversal (128 bits, the first 16 bytes of the key).
const IndexBits = 128

// valueEncoding discriminates a Data record's payload encoding. This is an
// explicit on-disk tag rather than an inferred one: whether a payload is
// an LZ4 block or a raw copy must never depend on whether decompressing it
// as LZ4 happens to fail, since a raw payload can itself parse as a valid
// (but wrong) short LZ4 block.
type valueEncoding byte

const (
	valueEncodingLZ4 valueEncoding = 0
	valueEncodingRaw valueEncoding = 1
)

// EncodeDataContent builds the content of a Data record: the 32-byte key,
// a 1-byte encoding tag, an 8-byte little-endian uncompressed-size prefix,
// and the payload (an LZ4 block, or value verbatim when incompressible).
func EncodeDataContent(key [KeySize]byte, value []byte) []byte {
	compressed := make([]byte, lz4.CompressBlockBound(len(value)))

	var c lz4.Compressor

	n, err := c.CompressBlock(value, compressed)
	if err != nil {
		panic(fmt.Sprintf("codec: lz4 compress: %v", err))
	}

	enc := valueEncodingLZ4

	// With dst sized to CompressBlockBound, CompressBlock always emits a
	// block, even for incompressible input. When it reports n == 0 or the
	// block is no smaller than the value itself, store the value verbatim
	// instead. The encoding tag below is what lets DecodeDataContent tell
	// the two apart on the way back — not a guess based on whether LZ4
	// decoding happens to fail.
	if n == 0 || n >= len(value) {
		compressed = append(compressed[:0], value...)
		n = len(value)
		enc = valueEncodingRaw
	}

	out := make([]byte, KeySize+1+8+n)
	copy(out[0:KeySize], key[:])
	out[KeySize] = byte(enc)
	binary.LittleEndian.PutUint64(out[KeySize+1:KeySize+9], uint64(len(value)))
	copy(out[KeySize+9:], compressed[:n])

	return out
}

// DecodeDataContent splits Data record content back into its key and
// decompressed value.
func DecodeDataContent(content []byte) (key [KeySize]byte, value []byte, err error) {
	if len(content) < KeySize+1+8 {
		return key, nil, ErrDecodeFailure
	}

	copy(key[:], content[0:KeySize])
	enc := valueEncoding(content[KeySize])
	uncompressedSize := binary.LittleEndian.Uint64(content[KeySize+1 : KeySize+9])
	payload := content[KeySize+9:]

	switch enc {
	case valueEncodingRaw:
		if uint64(len(payload)) != uncompressedSize {
			return key, nil, fmt.Errorf("%w: raw value length %d != recorded size %d", ErrDecodeFailure, len(payload), uncompressedSize)
		}

		value = make([]byte, uncompressedSize)
		copy(value, payload)

		return key, value, nil
	case valueEncodingLZ4:
		value = make([]byte, uncompressedSize)

		n, err := lz4.UncompressBlock(payload, value)
		if err != nil {
			return key, nil, fmt.Errorf("%w: lz4 decompress: %v", ErrDecodeFailure, err)
		}

		if uint64(n) != uncompressedSize {
			return key, nil, fmt.Errorf("%w: lz4 decompressed %d bytes, expected %d", ErrDecodeFailure, n, uncompressedSize)
		}

		return key, value[:n], nil
	default:
		return key, nil, fmt.Errorf("%w: unknown value encoding %d", ErrDecodeFailure, enc)
	}
}
