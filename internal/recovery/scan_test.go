package recovery

import (
	"testing"

	"github.com/meshanina/meshanina/internal/codec"
	"github.com/stretchr/testify/require"
)

func testDivider() [16]byte {
	var d [16]byte
	for i := range d {
		d[i] = byte(i + 100)
	}

	return d
}

func TestFindLatestRootEmptyFile(t *testing.T) {
	divider := testDivider()
	k0, k1 := codec.DeriveKey(divider)

	data := make([]byte, 4096)

	_, ok := FindLatestRoot(data, 4096, divider, k0, k1)
	require.False(t, ok)
}

func TestFindLatestRootSingleCommit(t *testing.T) {
	divider := testDivider()
	k0, k1 := codec.DeriveKey(divider)

	var data []byte
	data = append(data, make([]byte, 4096)...)

	var key [codec.KeySize]byte
	key[0] = 1

	dataContent := codec.EncodeDataContent(key, []byte("v1"))
	dataRec := codec.Encode(divider, k0, k1, codec.KindData, dataContent)
	dataOffset := int64(len(data))
	data = append(data, dataRec...)

	nc := codec.NodeContent{Bitmap: 1, Offsets: []uint64{uint64(dataOffset)}}
	rootRec := codec.Encode(divider, k0, k1, codec.KindRoot, codec.EncodeNodeContent(nc))
	rootOffset := int64(len(data))
	data = append(data, rootRec...)

	got, ok := FindLatestRoot(data, 4096, divider, k0, k1)
	require.True(t, ok)
	require.EqualValues(t, rootOffset, got)
}

func TestFindLatestRootSkipsTruncatedFinalRoot(t *testing.T) {
	divider := testDivider()
	k0, k1 := codec.DeriveKey(divider)

	var data []byte
	data = append(data, make([]byte, 4096)...)

	var key [codec.KeySize]byte
	key[0] = 1

	dataContent := codec.EncodeDataContent(key, []byte("v1"))
	dataRec := codec.Encode(divider, k0, k1, codec.KindData, dataContent)
	dataOffset := int64(len(data))
	data = append(data, dataRec...)

	nc := codec.NodeContent{Bitmap: 1, Offsets: []uint64{uint64(dataOffset)}}
	goodRootRec := codec.Encode(divider, k0, k1, codec.KindRoot, codec.EncodeNodeContent(nc))
	goodRootOffset := int64(len(data))
	data = append(data, goodRootRec...)

	// Simulate a second insert whose data record made it to disk but whose
	// root commit was cut off mid-write (truncated root record appended,
	// then the process crashed).
	var key2 [codec.KeySize]byte
	key2[0] = 2

	dataContent2 := codec.EncodeDataContent(key2, []byte("v2"))
	dataRec2 := codec.Encode(divider, k0, k1, codec.KindData, dataContent2)
	dataOffset2 := int64(len(data))
	data = append(data, dataRec2...)

	nc2 := codec.NodeContent{Bitmap: 3, Offsets: []uint64{uint64(dataOffset), uint64(dataOffset2)}}
	crashedRootRec := codec.Encode(divider, k0, k1, codec.KindRoot, codec.EncodeNodeContent(nc2))
	data = append(data, crashedRootRec[:len(crashedRootRec)-5]...) // cut off mid-record

	got, ok := FindLatestRoot(data, 4096, divider, k0, k1)
	require.True(t, ok)
	require.EqualValues(t, goodRootOffset, got)
}
