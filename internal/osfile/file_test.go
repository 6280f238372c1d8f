package osfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func createEmpty(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "db.meshanina")

	f, err := os.Create(path)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(int64(size)))
	require.NoError(t, f.Close())

	return path
}

func TestOpenEmptySizedFile(t *testing.T) {
	path := createEmpty(t, 4096)

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.EqualValues(t, 4096, f.Size())
}

func TestAppendGrowsAndIsReadable(t *testing.T) {
	path := createEmpty(t, 4096)

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	payload := []byte("hello, append")

	off, err := f.Append(payload)
	require.NoError(t, err)
	require.EqualValues(t, 4096, off)

	require.NoError(t, f.Sync())

	got, err := f.ReadAt(off, int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadAtOutOfBounds(t *testing.T) {
	path := createEmpty(t, 4096)

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.ReadAt(4096, 1)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := createEmpty(t, 4096)

	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestOperationsAfterCloseFail(t *testing.T) {
	path := createEmpty(t, 4096)

	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.Append([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)

	_, err = f.ReadAt(0, 1)
	require.ErrorIs(t, err, ErrClosed)
}
