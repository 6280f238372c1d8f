package filelock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireBlocksSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")

	first, err := TryAcquire(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = TryAcquire(path)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestAcquireReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Close())

	lock2, err := TryAcquire(path)
	require.NoError(t, err)
	require.NoError(t, lock2.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.lock")

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Close())
	require.NoError(t, lock.Close())
}
