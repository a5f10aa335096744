package localdb

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arannya-labs/overlaydb/internal/btreeindex"
	"github.com/arannya-labs/overlaydb/internal/cursor"
	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/overlay"
	"github.com/arannya-labs/overlaydb/internal/txn"
)

// assignRecordNumber implements spec.md §4.8's "record-number key
// generation and monotonic counter bump" and scenario S6: on a
// RecordNumber32/64 database, a caller-supplied empty key is replaced
// by the next value of db.recordCounter; an Overwrite of an explicit
// numbered key reuses that key verbatim and leaves the counter alone
// (_examples/original_source/src/4db/db_local.cc:1564-1604). Databases
// without either flag return key unchanged.
func (db *LocalDatabase) assignRecordNumber(key []byte, flags btreeindex.InsertFlags) ([]byte, error) {
	width := 0
	switch {
	case db.params.Flags&RecordNumber64 != 0:
		width = 8
	case db.params.Flags&RecordNumber32 != 0:
		width = 4
	default:
		return key, nil
	}

	if len(key) > 0 {
		// An explicit key — e.g. Overwrite replacing record #2 — is used
		// as-is; only an empty key triggers allocation.
		return key, nil
	}

	db.recordCounter++
	recno := db.recordCounter

	out := make([]byte, width)
	if width == 8 {
		binary.BigEndian.PutUint64(out, recno)
		return out, nil
	}
	if recno > math.MaxUint32 {
		return nil, fmt.Errorf("%w: record number %d exceeds RecordNumber32 range", dberr.ErrInvKeySize, recno)
	}
	binary.BigEndian.PutUint32(out, uint32(recno))
	return out, nil
}

// insertTxn implements spec.md §4.2: route an insert through the
// overlay rather than directly to the B-tree.
func (db *LocalDatabase) insertTxn(caller *txn.Transaction, cur *cursor.Cursor, key, record []byte, flags btreeindex.InsertFlags) error {
	overwrite := flags&btreeindex.Overwrite != 0
	duplicate := flags&btreeindex.Duplicate != 0
	recordNumberKey := db.params.Flags&(RecordNumber32|RecordNumber64) != 0

	node, created := db.overlayIndex.GetOrCreate(key)
	if err := db.checkInsertConflict(node, caller, overwrite, duplicate, recordNumberKey); err != nil {
		if created {
			db.overlayIndex.Remove(key)
		}
		return err
	}

	kind := overlay.Insert
	switch {
	case duplicate:
		kind = overlay.InsertDuplicate
	case overwrite:
		kind = overlay.InsertOverwrite
	}

	lsn := db.txnMgr.NextLSN()
	op := &overlay.Operation{Txn: caller, Kind: kind, OrigFlags: uint32(flags), LSN: lsn, Key: key, Record: record}
	node.Append(op)

	var curRef overlay.CursorRef
	if cur != nil {
		curRef = cur
		op.ReferencedDupe = cur.DupeIndex()
	}

	// I5: a duplicate insert lands at a logical position; every other
	// cursor in the node already past that position slides down by one
	// (spec.md §4.6 pass 3).
	if duplicate {
		start := op.ReferencedDupe
		switch {
		case flags&btreeindex.DuplicateInsertFirst != 0:
			start = 0
		case flags&btreeindex.DuplicateInsertBefore != 0 && start > 0:
			start--
		case flags&btreeindex.DuplicateInsertLast != 0:
			start = -1 // nothing to bump: the new record lands after every existing one
		}
		if start >= 0 {
			node.IncrementDupeIndex(curRef, start)
			if cur != nil {
				cur.SetDupeIndex(start + 1)
			}
		}
	}

	if cur != nil {
		cur.CoupleToOp(op)
	}

	if db.recoveryEnabled() && db.transactionsEnabled() {
		journalFlags := uint32(flags)
		if !duplicate {
			journalFlags |= uint32(btreeindex.Overwrite)
		}
		if err := db.journal.AppendInsert(uint64(caller.ID), key, record, journalFlags, lsn); err != nil {
			return err
		}
	}
	return nil
}

// Insert is the txn-aware insert wrapper of spec.md §4.8:
// record-number key assignment, temporary-transaction creation,
// overlay-vs-btree routing, and finalization. It performs no key or
// record size validation.
func (db *LocalDatabase) Insert(caller *txn.Transaction, cur *cursor.Cursor, key, record []byte, flags btreeindex.InsertFlags) (err error) {
	db.envLock.Lock()
	defer db.envLock.Unlock()

	key, err = db.assignRecordNumber(key, flags)
	if err != nil {
		return err
	}

	frame, effective := db.beginFrame(caller)
	defer func() { frame.err = err; frame.finalize() }()

	if effective != nil {
		return db.insertTxn(effective, cur, key, record, flags)
	}

	_, err = db.btreeIndex.Insert(key, record, flags)
	return err
}
