package localdb

import (
	"context"

	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/overlay"
	"github.com/arannya-labs/overlaydb/internal/txn"
	"github.com/arannya-labs/overlaydb/pkg/metrics"
)

// btreeFind adapts Index.Find to overlay.BtreeFind's narrower
// "found/not-found/error" contract (spec.md §4.1).
func (db *LocalDatabase) btreeFind(key []byte) error {
	_, _, _, err := db.btreeIndex.Find(key, 0, 0)
	return err
}

func (db *LocalDatabase) checkInsertConflict(node *overlay.Node, caller *txn.Transaction, overwrite, duplicate, recordNumberKey bool) error {
	err := overlay.CheckInsertConflict(node, caller, overwrite, duplicate, recordNumberKey, db.btreeFind)
	db.recordConflict(err)
	return err
}

func (db *LocalDatabase) checkEraseConflict(node *overlay.Node, caller *txn.Transaction) error {
	err := overlay.CheckEraseConflict(node, caller, db.btreeFind)
	db.recordConflict(err)
	return err
}

func (db *LocalDatabase) recordConflict(err error) {
	if db.metrics == nil {
		return
	}
	var result metrics.ConflictResult
	switch {
	case err == nil:
		result = metrics.ConflictNone
	case dberr.Is(err, dberr.ErrDuplicateKey):
		result = metrics.ConflictDuplicate
	case dberr.Is(err, dberr.ErrTxnConflict):
		result = metrics.ConflictTxn
	case dberr.Is(err, dberr.ErrKeyNotFound):
		result = metrics.ConflictKeyGone
	default:
		return
	}
	db.metrics.RecordConflict(context.Background(), result)
}
