package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dir := t.TempDir()
	j, err := Open(Config{Dir: filepath.Join(dir, "wal")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, j.Close()) })
	return j
}

func TestAppendInsertAndErase(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.AppendInsert(1, []byte("k"), []byte("v"), 0, 10))
	require.NoError(t, j.AppendErase(1, []byte("k"), 0, 0, 11))
	require.NoError(t, j.Sync())
}

func TestAppendTracksPrevLSNPerTxn(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.AppendInsert(7, []byte("a"), []byte("1"), 0, 100))
	require.NoError(t, j.AppendInsert(7, []byte("b"), []byte("2"), 0, 101))
	require.Equal(t, uint64(101), j.lastLSNByTxn[7])
}

func TestRotationCreatesNewSegment(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Dir: dir, MaxSegment: 64}, zap.NewNop())
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, j.AppendInsert(1, []byte("key"), []byte("value-payload"), 0, uint64(i)))
	}
	require.Greater(t, j.segmentNum, 0)
}

func TestCloseIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
}
