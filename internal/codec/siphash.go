package codec

import "encoding/binary"

// SipHash-1-3: one compression round per input block, three finalization
// rounds. Not parameterizable to the standard 2-4 schedule, so this is a
// direct, hand-rolled implementation rather than a dependency — no
// published Go package exposes the 1-3 round count.

const (
	sipRoundsCompress  = 1
	sipRoundsFinalize  = 3
	sipInitV0          = 0x736f6d6570736575
	sipInitV1          = 0x646f72616e646f6d
	sipInitV2          = 0x6c7967656e657261
	sipInitV3          = 0x7465646279746573
)

func sipRound(v0, v1, v2, v3 *uint64) {
	*v0 += *v1
	*v1 = rotl64(*v1, 13)
	*v1 ^= *v0
	*v0 = rotl64(*v0, 32)

	*v2 += *v3
	*v3 = rotl64(*v3, 16)
	*v3 ^= *v2

	*v0 += *v3
	*v3 = rotl64(*v3, 21)
	*v3 ^= *v0

	*v2 += *v1
	*v1 = rotl64(*v1, 17)
	*v1 ^= *v2
	*v2 = rotl64(*v2, 32)
}

func rotl64(x uint64, b uint) uint64 {
	return (x << b) | (x >> (64 - b))
}

// SipHash13 computes the keyed SipHash-1-3 MAC of data under a 128-bit key.
func SipHash13(k0, k1 uint64, data []byte) uint64 {
	v0 := sipInitV0 ^ k0
	v1 := sipInitV1 ^ k1
	v2 := sipInitV2 ^ k0
	v3 := sipInitV3 ^ k1

	length := len(data)
	end := length - (length % 8)

	for i := 0; i < end; i += 8 {
		m := binary.LittleEndian.Uint64(data[i : i+8])
		v3 ^= m

		for r := 0; r < sipRoundsCompress; r++ {
			sipRound(&v0, &v1, &v2, &v3)
		}

		v0 ^= m
	}

	var last [8]byte
	copy(last[:], data[end:])
	last[7] = byte(length)
	m := binary.LittleEndian.Uint64(last[:])

	v3 ^= m

	for r := 0; r < sipRoundsCompress; r++ {
		sipRound(&v0, &v1, &v2, &v3)
	}

	v0 ^= m
	v2 ^= 0xff

	for r := 0; r < sipRoundsFinalize; r++ {
		sipRound(&v0, &v1, &v2, &v3)
	}

	return v0 ^ v1 ^ v2 ^ v3
}

// DeriveKey derives the 128-bit SipHash key from a database's 16-byte
// magic divider. The divider is the only per-database secret; the key is a
// deterministic function of it so any reader holding the divider can
// validate checksums without a separate key file.
func DeriveKey(magicDivider [16]byte) (k0, k1 uint64) {
	k0 = binary.LittleEndian.Uint64(magicDivider[0:8])
	k1 = binary.LittleEndian.Uint64(magicDivider[8:16])

	return k0, k1
}
