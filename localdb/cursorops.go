package localdb

import (
	"github.com/arannya-labs/overlaydb/internal/btreeindex"
	"github.com/arannya-labs/overlaydb/internal/cursor"
	"github.com/arannya-labs/overlaydb/internal/dberr"
)

// CreateCursor allocates a new cursor from the database's cursor
// registry (spec.md §6 "cursor_create").
func (db *LocalDatabase) CreateCursor() *cursor.Cursor {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	return db.cursors.Create()
}

// CloseCursor releases a cursor back to the registry's free list
// (spec.md §6 "cursor_close").
func (db *LocalDatabase) CloseCursor(c *cursor.Cursor) {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	db.cursors.Release(c)
}

// CursorFind couples c to the result of a find (spec.md §6
// "cursor_find"): a thin wrapper around Find that always supplies a
// cursor and assumes no caller transaction (auto-txn semantics, like
// Find does when called with a nil caller).
func (db *LocalDatabase) CursorFind(c *cursor.Cursor, key []byte, flags btreeindex.FindFlags) (Result, error) {
	return db.Find(nil, c, key, flags)
}

// CursorInsert is spec.md §6's "cursor_insert": Insert with the cursor
// coupled to the inserted op on success (spec.md §4.2's cursor-supplied
// path).
func (db *LocalDatabase) CursorInsert(c *cursor.Cursor, key, record []byte, flags btreeindex.InsertFlags) error {
	return db.Insert(nil, c, key, record, flags)
}

// CursorErase is spec.md §6's "cursor_erase".
func (db *LocalDatabase) CursorErase(c *cursor.Cursor, key []byte, flags btreeindex.EraseFlags) error {
	return db.Erase(nil, c, key, flags)
}

// CursorOverwrite is spec.md §6's "cursor_overwrite": replace the
// record a cursor is currently coupled to, whichever side it is
// coupled to, without changing key or duplicate position.
func (db *LocalDatabase) CursorOverwrite(c *cursor.Cursor, record []byte) error {
	switch c.Coupling() {
	case cursor.ToTxnOp:
		return db.Insert(nil, c, c.TxnOp().Key, record, btreeindex.Overwrite)
	case cursor.ToBtree:
		return db.Insert(nil, c, c.BtreeKey(), record, btreeindex.Overwrite)
	default:
		return dberr.ErrCursorIsNil
	}
}

// CursorMove implements spec.md §6's "cursor_move": step to the
// successor or predecessor of the cursor's current key. It re-finds
// through the ordinary merge path (spec.md §4.4) rather than keeping a
// separate iterator, matching the teacher's habit of expressing
// movement as a bounded find.
func (db *LocalDatabase) CursorMove(c *cursor.Cursor, direction btreeindex.FindFlags) (Result, error) {
	key := c.BtreeKey()
	if key == nil {
		if op := c.TxnOp(); op != nil {
			key = op.Key
		}
	}
	if key == nil {
		return Result{}, dberr.ErrCursorIsNil
	}
	return db.Find(nil, c, key, direction)
}

// CursorRecordCount reports how many duplicates the B-tree holds for a
// B-tree-coupled cursor's key, for cursor_get_record_count (spec.md §6).
// A cursor that is not B-tree-coupled gets ErrCursorIsNil.
func (db *LocalDatabase) CursorRecordCount(c *cursor.Cursor) (int, error) {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	key := c.BtreeKey()
	if key == nil {
		return 0, dberr.ErrCursorIsNil
	}
	return db.btreeIndex.DuplicateCount(key)
}

// CursorDuplicatePosition reports the cursor's 1-based dupecache index
// (spec.md §6 "cursor_get_duplicate_position").
func (db *LocalDatabase) CursorDuplicatePosition(c *cursor.Cursor) int {
	return c.DupeIndex()
}

// CursorRecordSize reports the byte length of the record a cursor is
// currently coupled to (spec.md §6 "cursor_get_record_size").
func (db *LocalDatabase) CursorRecordSize(c *cursor.Cursor) (int, error) {
	if op := c.TxnOp(); op != nil {
		return len(op.Record), nil
	}
	key := c.BtreeKey()
	if key == nil {
		return 0, dberr.ErrCursorIsNil
	}
	db.envLock.Lock()
	defer db.envLock.Unlock()
	_, record, _, err := db.btreeIndex.Find(key, c.DupeIndex(), btreeindex.FindExactMatch)
	if err != nil {
		return 0, err
	}
	return len(record), nil
}

// CloneCursor copies a cursor's B-tree coupling and duplicate index into
// a fresh slot (spec.md §6 "cursor_clone"). A source that is txn-coupled
// or nil yields a clone that is nil-coupled.
func (db *LocalDatabase) CloneCursor(src *cursor.Cursor) *cursor.Cursor {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	dst := db.cursors.Create()
	if key := src.BtreeKey(); key != nil {
		dst.CoupleToBtree(key)
		dst.SetDupeIndex(src.DupeIndex())
	}
	return dst
}
