package localdb

import (
	"bytes"

	"github.com/arannya-labs/overlaydb/internal/btreeindex"
	"github.com/arannya-labs/overlaydb/internal/cursor"
	"github.com/arannya-labs/overlaydb/internal/overlay"
	"github.com/arannya-labs/overlaydb/internal/txn"
)

// eraseTxn implements spec.md §4.3.
func (db *LocalDatabase) eraseTxn(caller *txn.Transaction, cur *cursor.Cursor, key []byte, flags btreeindex.EraseFlags) error {
	node, created := db.overlayIndex.GetOrCreate(key)

	referencesSpecificDupe := cur != nil && cur.DupeIndex() > 0
	if !referencesSpecificDupe {
		if err := db.checkEraseConflict(node, caller); err != nil {
			if created {
				db.overlayIndex.Remove(key)
			}
			return err
		}
	}

	lsn := db.txnMgr.NextLSN()
	op := &overlay.Operation{Txn: caller, Kind: overlay.Erase, OrigFlags: uint32(flags), LSN: lsn, Key: key}
	node.Append(op)

	if referencesSpecificDupe {
		op.ReferencedDupe = cur.DupeIndex()
	}

	// I4: nil the txn side of every sibling cursor in the node, and the
	// B-tree side of every other database cursor pointed at this key.
	var curRef overlay.CursorRef
	if cur != nil {
		curRef = cur
	}
	node.NilAllCursorsInNode(curRef, op.ReferencedDupe)
	db.cursors.NilAllCursorsInBtree(cur, key, bytes.Equal)

	if db.recoveryEnabled() && db.transactionsEnabled() {
		journalFlags := uint32(flags)
		if op.ReferencedDupe == 0 {
			journalFlags |= uint32(btreeindex.EraseAllDuplicates)
		}
		if err := db.journal.AppendErase(uint64(caller.ID), key, op.ReferencedDupe, journalFlags, lsn); err != nil {
			return err
		}
	}
	return nil
}

// Erase is the txn-aware erase wrapper of spec.md §4.8.
func (db *LocalDatabase) Erase(caller *txn.Transaction, cur *cursor.Cursor, key []byte, flags btreeindex.EraseFlags) (err error) {
	db.envLock.Lock()
	defer db.envLock.Unlock()

	frame, effective := db.beginFrame(caller)
	defer func() { frame.err = err; frame.finalize() }()

	if effective != nil {
		return db.eraseTxn(effective, cur, key, flags)
	}

	dupeIndex := 0
	if cur != nil {
		dupeIndex = cur.DupeIndex()
	}
	return db.btreeIndex.Erase(key, dupeIndex, flags)
}
