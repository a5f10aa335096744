package localdb

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/arannya-labs/overlaydb/internal/btreeindex"
	"github.com/arannya-labs/overlaydb/internal/cursor"
	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/overlay"
	"github.com/arannya-labs/overlaydb/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, flags EnvFlags) *LocalDatabase {
	t.Helper()
	dir := t.TempDir()
	db, err := Create(Parameters{
		DatabaseName: "test",
		Path:         filepath.Join(dir, "db.bin"),
		JournalDir:   filepath.Join(dir, "wal"),
		Flags:        flags,
		PageSize:     4096,
		Degree:       8,
	}, Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func beginTxn(db *LocalDatabase) *txn.Transaction {
	return db.txnMgr.Begin(0, 0)
}

// P1: read-your-writes.
func TestReadYourWrites(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	tx := beginTxn(db)

	require.NoError(t, db.Insert(tx, nil, []byte("k"), []byte("v"), 0))
	res, err := db.Find(tx, nil, []byte("k"), btreeindex.FindExactMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), res.Record)
	assert.False(t, res.Approximate)
}

// P2: isolation — the second txn to touch a key sees a conflict.
func TestIsolationConflict(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	t1 := beginTxn(db)
	t2 := beginTxn(db)

	require.NoError(t, db.Insert(t1, nil, []byte("x"), []byte("1"), 0))
	_, err := db.Find(t2, nil, []byte("x"), btreeindex.FindExactMatch)
	assert.ErrorIs(t, err, dberr.ErrTxnConflict)
}

// P3: commit then flush propagates to the B-tree.
func TestCommitPropagation(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	t1 := beginTxn(db)

	require.NoError(t, db.Insert(t1, nil, []byte("k"), []byte("v1"), 0))
	require.NoError(t, db.txnMgr.Commit(t1))
	require.NoError(t, db.FlushCommittedTransactions())

	t2 := beginTxn(db)
	res, err := db.Find(t2, nil, []byte("k"), btreeindex.FindExactMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), res.Record)

	_, _, _, err = db.btreeIndex.Find([]byte("k"), 0, btreeindex.FindExactMatch)
	require.NoError(t, err)
}

// P4: abort invisibility.
func TestAbortInvisibility(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	t1 := beginTxn(db)
	require.NoError(t, db.Insert(t1, nil, []byte("k"), []byte("v"), 0))
	require.NoError(t, db.txnMgr.Abort(t1))

	t2 := beginTxn(db)
	_, err := db.Find(t2, nil, []byte("k"), btreeindex.FindExactMatch)
	assert.ErrorIs(t, err, dberr.ErrKeyNotFound)
}

// P5: cursor coupling exclusivity.
func TestCursorCouplingExclusivity(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	c := db.CreateCursor()
	t.Cleanup(func() { db.CloseCursor(c) })

	assert.Nil(t, c.BtreeKey())
	assert.Nil(t, c.TxnOp())

	tx := beginTxn(db)
	require.NoError(t, db.Insert(tx, c, []byte("k"), []byte("v"), 0))
	assert.NotNil(t, c.TxnOp())
	assert.Nil(t, c.BtreeKey())

	require.NoError(t, db.txnMgr.Commit(tx))
	require.NoError(t, db.FlushCommittedTransactions())
	assert.Nil(t, c.TxnOp())
	assert.Equal(t, []byte("k"), c.BtreeKey())
}

// P6: duplicate index monotonicity (also S3).
func TestDuplicateIndexMonotonicity(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	tx := beginTxn(db)

	require.NoError(t, db.Insert(tx, nil, []byte("k"), []byte("v1"), btreeindex.Duplicate))
	require.NoError(t, db.Insert(tx, nil, []byte("k"), []byte("v2"), btreeindex.Duplicate))

	c := db.CreateCursor()
	t.Cleanup(func() { db.CloseCursor(c) })
	_, err := db.Find(tx, c, []byte("k"), btreeindex.FindExactMatch)
	require.NoError(t, err)
	c.SetDupeIndex(2)

	require.NoError(t, db.Insert(tx, nil, []byte("k"), []byte("v0"), btreeindex.Duplicate|btreeindex.DuplicateInsertFirst))

	assert.Equal(t, 3, c.DupeIndex())
}

// P7 / S2: approximate match across an erased exact key.
func TestApproximateMatchAcrossErasedKey(t *testing.T) {
	db := openTestDB(t, EnableTransactions)

	require.NoError(t, db.Insert(nil, nil, []byte("b"), []byte("B"), 0))
	require.NoError(t, db.Insert(nil, nil, []byte("c"), []byte("C"), 0))
	require.NoError(t, db.Insert(nil, nil, []byte("d"), []byte("D"), 0))

	t1 := beginTxn(db)
	require.NoError(t, db.Erase(t1, nil, []byte("c"), 0))
	require.NoError(t, db.txnMgr.Commit(t1))

	t2 := beginTxn(db)
	gt, err := db.Find(t2, nil, []byte("c"), btreeindex.FindGtMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), gt.Key)
	assert.Equal(t, []byte("D"), gt.Record)
	assert.True(t, gt.Approximate)

	lt, err := db.Find(t2, nil, []byte("c"), btreeindex.FindLtMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), lt.Key)
	assert.Equal(t, []byte("B"), lt.Record)
}

// P8: LSN monotonicity.
func TestLSNMonotonicity(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	tx := beginTxn(db)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Insert(tx, nil, []byte(fmt.Sprintf("k%d", i)), []byte("v"), 0))
	}

	var lsns []uint64
	for i := 0; i < 5; i++ {
		node, ok := db.overlayIndex.Get([]byte(fmt.Sprintf("k%d", i)))
		require.True(t, ok)
		node.Walk(func(op *overlay.Operation) bool {
			lsns = append(lsns, op.LSN)
			return true
		})
	}
	for i := 1; i < len(lsns); i++ {
		assert.Less(t, lsns[i-1], lsns[i])
	}
}

// P9 / close safety: cannot close while a transaction is still open.
func TestCloseSafety(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	beginTxn(db)

	err := db.Close()
	assert.ErrorIs(t, err, dberr.ErrTxnStillOpen)
}

// S1: an in-flight insert conflicts a second reader, then becomes
// visible once committed.
func TestConflictThenCommitRevealsWrite(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	t1 := beginTxn(db)
	t2 := beginTxn(db)

	require.NoError(t, db.Insert(t1, nil, []byte("a"), []byte("1"), 0))
	_, err := db.Find(t2, nil, []byte("a"), btreeindex.FindExactMatch)
	assert.ErrorIs(t, err, dberr.ErrTxnConflict)

	require.NoError(t, db.txnMgr.Commit(t1))
	res, err := db.Find(t2, nil, []byte("a"), btreeindex.FindExactMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), res.Record)
}

// S4: conflict on same key from distinct txns, resolved by abort.
func TestConflictResolvedByAbort(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	t1 := beginTxn(db)
	t2 := beginTxn(db)

	require.NoError(t, db.Insert(t1, nil, []byte("x"), []byte("1"), 0))
	err := db.Insert(t2, nil, []byte("x"), []byte("2"), 0)
	assert.ErrorIs(t, err, dberr.ErrTxnConflict)

	require.NoError(t, db.txnMgr.Abort(t1))
	require.NoError(t, db.Insert(t2, nil, []byte("x"), []byte("2"), 0))
}

// S5: flush couples cursors to the B-tree.
func TestFlushCouplesCursors(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	cy := db.CreateCursor()
	t.Cleanup(func() { db.CloseCursor(cy) })

	t1 := beginTxn(db)
	require.NoError(t, db.Insert(t1, cy, []byte("y"), []byte("1"), 0))
	require.NoError(t, db.txnMgr.Commit(t1))
	require.NoError(t, db.FlushCommittedTransactions())

	assert.Equal(t, []byte("y"), cy.BtreeKey())
	_, rec, _, err := db.btreeIndex.Find([]byte("y"), 0, btreeindex.FindExactMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), rec)
}

// Non-transactional inserts go straight to the B-tree.
func TestNonTransactionalInsertGoesToBtree(t *testing.T) {
	db := openTestDB(t, 0)
	require.NoError(t, db.Insert(nil, nil, []byte("k"), []byte("v"), 0))
	_, rec, _, err := db.btreeIndex.Find([]byte("k"), 0, btreeindex.FindExactMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), rec)
}

// S6: record-number auto-increment.
func TestRecordNumberAutoIncrement(t *testing.T) {
	db := openTestDB(t, RecordNumber64)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, db.Insert(nil, nil, nil, []byte("v"), 0))
		_, rec, _, err := db.btreeIndex.Find(recno(i), 0, btreeindex.FindExactMatch)
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), rec)
	}

	require.NoError(t, db.Insert(nil, nil, recno(2), []byte("v2"), btreeindex.Overwrite))
	_, rec, _, err := db.btreeIndex.Find(recno(2), 0, btreeindex.FindExactMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), rec)

	// The Overwrite above must not have bumped the counter: the next
	// auto-assigned key is still 4, not 5.
	require.NoError(t, db.Insert(nil, nil, nil, []byte("v4"), 0))
	_, rec, _, err = db.btreeIndex.Find(recno(4), 0, btreeindex.FindExactMatch)
	require.NoError(t, err)
	assert.Equal(t, []byte("v4"), rec)
}

func recno(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// Erasing one duplicate out of a multi-valued key must preserve peer
// cursors on the key's other, still-live duplicates: a peer below the
// erased duplicate is untouched, a peer above it is shifted down by
// one and stays B-tree-coupled, and only a peer on the erased
// duplicate itself is invalidated (spec.md §4.6's I5 bookkeeping).
func TestEraseDuplicatePreservesPeerCursors(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	key := []byte("k")

	_, err := db.btreeIndex.Insert(key, []byte("v1"), 0)
	require.NoError(t, err)
	_, err = db.btreeIndex.Insert(key, []byte("v2"), btreeindex.Duplicate|btreeindex.DuplicateInsertLast)
	require.NoError(t, err)
	_, err = db.btreeIndex.Insert(key, []byte("v3"), btreeindex.Duplicate|btreeindex.DuplicateInsertLast)
	require.NoError(t, err)

	c1, c2, c3, c4 := db.CreateCursor(), db.CreateCursor(), db.CreateCursor(), db.CreateCursor()
	for _, c := range []*cursor.Cursor{c1, c2, c3, c4} {
		c := c
		t.Cleanup(func() { db.CloseCursor(c) })
	}
	c1.CoupleToBtree(key)
	c1.SetDupeIndex(1)
	c2.CoupleToBtree(key)
	c2.SetDupeIndex(2) // the cursor performing the erase below
	c3.CoupleToBtree(key)
	c3.SetDupeIndex(3)
	c4.CoupleToBtree(key)
	c4.SetDupeIndex(2) // a distinct peer on the same duplicate as c2

	tx := beginTxn(db)
	require.NoError(t, db.Erase(tx, c2, key, 0))

	assert.Equal(t, cursor.ToBtree, c1.Coupling())
	assert.Equal(t, 1, c1.DupeIndex())

	assert.Equal(t, cursor.ToBtree, c3.Coupling())
	assert.Equal(t, 2, c3.DupeIndex())

	assert.Equal(t, cursor.Nil, c4.Coupling())
}

// Scan merges overlay state with B-tree state, hiding erased keys.
func TestScanMergesOverlayAndBtree(t *testing.T) {
	db := openTestDB(t, EnableTransactions)
	require.NoError(t, db.Insert(nil, nil, []byte("a"), []byte("A"), 0))
	require.NoError(t, db.Insert(nil, nil, []byte("b"), []byte("B"), 0))

	tx := beginTxn(db)
	require.NoError(t, db.Erase(tx, nil, []byte("a"), 0))
	require.NoError(t, db.Insert(tx, nil, []byte("c"), []byte("C"), 0))

	seen := map[string]string{}
	err := db.Scan(tx, func(k, v []byte) bool {
		seen[string(k)] = string(v)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "B", "c": "C"}, seen)
}
