package localdb

import (
	"context"
	"time"

	"github.com/arannya-labs/overlaydb/internal/btreeindex"
	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/overlay"
	"github.com/arannya-labs/overlaydb/internal/txn"
)

// flushTxnOperation implements spec.md §4.5: apply a committed op to
// the B-tree and mark it Flushed so I2 hides it from future overlay
// traversals.
func (db *LocalDatabase) flushTxnOperation(key []byte, op *overlay.Operation) error {
	start := time.Now()
	defer func() {
		if db.metrics != nil {
			db.metrics.FlushDuration.Record(context.Background(), time.Since(start).Seconds())
		}
	}()

	switch op.Kind {
	case overlay.Insert, overlay.InsertOverwrite, overlay.InsertDuplicate:
		flags := btreeindex.InsertFlags(op.OrigFlags)
		if op.Kind == overlay.InsertDuplicate {
			flags |= btreeindex.Duplicate
		}
		if op.Kind == overlay.InsertOverwrite {
			flags |= btreeindex.Overwrite
		}
		cursors := op.Cursors()
		if _, err := db.btreeIndex.Insert(key, op.Record, flags); err != nil {
			return err
		}
		for _, c := range cursors {
			c.NilTxnSide()
			c.CoupleToBtreeKey(key)
			db.recordCouplingTransition("btree")
		}
	case overlay.Erase:
		err := db.btreeIndex.Erase(key, op.ReferencedDupe, btreeindex.EraseFlags(op.OrigFlags))
		if err != nil && !dberr.Is(err, dberr.ErrKeyNotFound) {
			return err
		}
	}

	op.Flushed = true
	return nil
}

func (db *LocalDatabase) recordCouplingTransition(toState string) {
	if db.metrics == nil {
		return
	}
	db.metrics.RecordCouplingTransition(context.Background(), toState)
}

// FlushCommittedTransactions drains the txn manager's committed queue,
// flushing every still-unflushed op each transaction appended, and
// pruning nodes that become empty as a result (spec.md §3 "Lifecycle",
// §4.5). It is the core's half of TxnManager.flush_committed_txns
// (spec.md §6).
func (db *LocalDatabase) FlushCommittedTransactions() error {
	db.envLock.Lock()
	defer db.envLock.Unlock()

	for _, t := range db.txnMgr.FlushCommittedTxns() {
		if err := db.flushNodesForTxn(t.ID); err != nil {
			return err
		}
		db.txnMgr.Forget(t.ID)
	}
	return nil
}

// flushNodesForTxn walks every TransactionNode looking for unflushed
// ops owned by txnID, flushing each one and pruning nodes that end up
// empty (spec.md §3 "Lifecycle": "performed by the txn manager's flush
// routine, not by the core" — this is that routine).
func (db *LocalDatabase) flushNodesForTxn(txnID txn.ID) error {
	var emptied [][]byte
	var flushErr error

	db.overlayIndex.Ascend(func(node *overlay.Node) bool {
		node.Walk(func(op *overlay.Operation) bool {
			if op.Flushed || op.Txn.ID != txnID {
				return true
			}
			if err := db.flushTxnOperation(node.Key, op); err != nil {
				flushErr = err
				return false
			}
			return true
		})
		if flushErr != nil {
			return false
		}
		if node.Prune() {
			emptied = append(emptied, node.Key)
		}
		return true
	})
	if flushErr != nil {
		return flushErr
	}
	for _, k := range emptied {
		db.overlayIndex.Remove(k)
	}
	return nil
}
