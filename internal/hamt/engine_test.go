package hamt

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/meshanina/meshanina/internal/codec"
	"github.com/stretchr/testify/require"
)

// memDisk is a trivial in-memory append-only byte store standing in for
// the mapped file, used to drive the engine end to end without touching
// the filesystem.
type memDisk struct {
	buf []byte
}

func (d *memDisk) Append(buf []byte) (int64, error) {
	off := int64(len(d.buf))
	d.buf = append(d.buf, buf...)

	return off, nil
}

func (d *memDisk) ReadFrom(offset int64) ([]byte, error) {
	if offset < 0 || offset > int64(len(d.buf)) {
		return nil, fmt.Errorf("out of range")
	}

	return d.buf[offset:], nil
}

func keyFor(v string) [KeySize]byte {
	return sha256.Sum256([]byte(v))
}

func newTestReader(disk *memDisk) (Reader, [16]byte, uint64, uint64) {
	var divider [16]byte
	for i := range divider {
		divider[i] = byte(i * 7)
	}

	k0, k1 := codec.DeriveKey(divider)

	return Reader{Source: disk, Divider: divider, K0: k0, K1: k1}, divider, k0, k1
}

func TestInsertLookupInMemory(t *testing.T) {
	disk := &memDisk{}
	r, _, _, _ := newTestReader(disk)

	root := EmptyRoot()

	entries := map[string]string{}
	for i := 0; i < 200; i++ {
		v := fmt.Sprintf("value-%d", i)
		entries[v] = v
	}

	for v := range entries {
		var err error

		root, err = Insert(r, root, keyFor(v), []byte(v))
		require.NoError(t, err)
	}

	for v := range entries {
		got, found, err := Lookup(r, root, keyFor(v))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, v, string(got))
	}

	missing, found, err := Lookup(r, root, keyFor("not-present"))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, missing)
}

// TestFlushedEntrySetMatchesInserted rebuilds the full key/value set from
// disk after a flush and diffs it against what was inserted, rather than
// spot-checking a handful of keys: a node-layout bug that scrambles one
// entry while leaving others readable would slip past the point lookups
// other tests do, but not past a whole-set comparison.
func TestFlushedEntrySetMatchesInserted(t *testing.T) {
	disk := &memDisk{}
	r, divider, k0, k1 := newTestReader(disk)

	root := EmptyRoot()

	want := map[string]string{}
	for i := 0; i < 64; i++ {
		v := fmt.Sprintf("entry-%d", i)
		want[v] = v
	}

	for v := range want {
		var err error

		root, err = Insert(r, root, keyFor(v), []byte(v))
		require.NoError(t, err)
	}

	root, flushed, err := Flush(disk, divider, k0, k1, root)
	require.NoError(t, err)
	require.True(t, flushed.Wrote)

	got := map[string]string{}

	for v := range want {
		value, found, err := Lookup(r, root, keyFor(v))
		require.NoError(t, err)
		require.True(t, found)

		got[v] = string(value)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recovered entry set differs from inserted (-want +got):\n%s", diff)
	}
}

// TestInsertDivergingKeysSharing12BitPrefix covers spec.md §8 scenario 2:
// two keys whose first 12 bits (in slotAt's order: least-significant bit
// first, starting at byte 0) are identical but whose 13th bit differs must
// both be retrievable after a single flush. Sharing a prefix this long
// means both keys land in the same slot for the first two 6-bit levels of
// the HAMT before diverging, exercising the interior-node split path at
// depth rather than the root.
func TestInsertDivergingKeysSharing12BitPrefix(t *testing.T) {
	disk := &memDisk{}
	r, divider, k0, k1 := newTestReader(disk)

	// byte0 is shared in full (bits 0-7); byte1's low nibble (bits 8-11)
	// is shared too. That leaves only the bit at mask 0x10 in byte1 —
	// overall bit index 12, i.e. "bit 13" one-indexed — to differ.
	keyA := [KeySize]byte{0xAB, 0x05}
	keyB := [KeySize]byte{0xAB, 0x15}

	require.Equal(t, keyA[0], keyB[0], "first 8 bits must match")
	require.Equal(t, keyA[1]&0x0F, keyB[1]&0x0F, "bits 8-11 must match")
	require.NotEqual(t, keyA[1]&0x10, keyB[1]&0x10, "bit 12 (13th bit) must differ")

	root := EmptyRoot()

	root, err := Insert(r, root, keyA, []byte("value-a"))
	require.NoError(t, err)

	root, err = Insert(r, root, keyB, []byte("value-b"))
	require.NoError(t, err)

	root, flushed, err := Flush(disk, divider, k0, k1, root)
	require.NoError(t, err)
	require.True(t, flushed.Wrote)

	gotA, found, err := Lookup(r, root, keyA)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "value-a", string(gotA))

	gotB, found, err := Lookup(r, root, keyB)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "value-b", string(gotB))
}

func TestInsertSameKeySameValueIsNoOp(t *testing.T) {
	disk := &memDisk{}
	r, _, _, _ := newTestReader(disk)

	root := EmptyRoot()

	key := keyFor("a")

	root, err := Insert(r, root, key, []byte("value-a"))
	require.NoError(t, err)

	root2, err := Insert(r, root, key, []byte("value-a"))
	require.NoError(t, err)

	got, found, err := Lookup(r, root2, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "value-a", string(got))
}

func TestInsertSameKeyDifferentValueCollides(t *testing.T) {
	disk := &memDisk{}
	r, _, _, _ := newTestReader(disk)

	root := EmptyRoot()

	key := keyFor("a")

	root, err := Insert(r, root, key, []byte("value-a"))
	require.NoError(t, err)

	_, err = Insert(r, root, key, []byte("different"))
	require.ErrorIs(t, err, ErrKeyCollision)
}

func TestFlushThenLookupFromDiskOnly(t *testing.T) {
	disk := &memDisk{}
	r, divider, k0, k1 := newTestReader(disk)

	root := EmptyRoot()

	values := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, v := range values {
		var err error

		root, err = Insert(r, root, keyFor(v), []byte(v))
		require.NoError(t, err)
	}

	newRoot, flushed, err := Flush(disk, divider, k0, k1, root)
	require.NoError(t, err)
	require.True(t, flushed.Wrote)
	require.Equal(t, childDisk, newRoot.kind)

	for _, v := range values {
		got, found, err := Lookup(r, newRoot, keyFor(v))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, v, string(got))
	}
}

func TestFlushNoPendingWorkIsNoOp(t *testing.T) {
	disk := &memDisk{}
	_, divider, k0, k1 := newTestReader(disk)

	root := EmptyRoot()

	_, flushed, err := Flush(disk, divider, k0, k1, root)
	require.NoError(t, err)
	require.False(t, flushed.Wrote)
	require.Empty(t, disk.buf)
}

func TestFlushTwiceSecondIsNoOp(t *testing.T) {
	disk := &memDisk{}
	r, divider, k0, k1 := newTestReader(disk)

	root := EmptyRoot()

	root, err := Insert(r, root, keyFor("x"), []byte("x"))
	require.NoError(t, err)

	root, flushed, err := Flush(disk, divider, k0, k1, root)
	require.NoError(t, err)
	require.True(t, flushed.Wrote)

	sizeAfterFirst := len(disk.buf)

	_, flushed2, err := Flush(disk, divider, k0, k1, root)
	require.NoError(t, err)
	require.False(t, flushed2.Wrote)
	require.Equal(t, sizeAfterFirst, len(disk.buf))
}

func TestInsertAfterFlushBuildsOnDiskSubtree(t *testing.T) {
	disk := &memDisk{}
	r, divider, k0, k1 := newTestReader(disk)

	root := EmptyRoot()

	root, err := Insert(r, root, keyFor("first"), []byte("first"))
	require.NoError(t, err)

	root, _, err = Flush(disk, divider, k0, k1, root)
	require.NoError(t, err)

	root, err = Insert(r, root, keyFor("second"), []byte("second"))
	require.NoError(t, err)

	got, found, err := Lookup(r, root, keyFor("first"))
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, bytes.Equal([]byte("first"), got))

	got, found, err = Lookup(r, root, keyFor("second"))
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, bytes.Equal([]byte("second"), got))

	root, flushed, err := Flush(disk, divider, k0, k1, root)
	require.NoError(t, err)
	require.True(t, flushed.Wrote)

	got, found, err = Lookup(r, root, keyFor("first"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "first", string(got))
}
