package localdb

import (
	"context"

	"github.com/arannya-labs/overlaydb/internal/txn"
)

// BeginExplicit starts a transaction under the caller's control (spec.md
// §6 "begin"), as opposed to the temporary transactions beginFrame
// creates for callers that pass a nil caller.
func (db *LocalDatabase) BeginExplicit() *txn.Transaction {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	return db.txnMgr.Begin(0, 0)
}

// CommitExplicit commits t (spec.md §6 "commit"). Committing does not by
// itself flush t's ops into the B-tree; call FlushCommittedTransactions
// for that.
func (db *LocalDatabase) CommitExplicit(t *txn.Transaction) error {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	if err := db.txnMgr.Commit(t); err != nil {
		return err
	}
	if db.metrics != nil {
		db.metrics.CommitTotal.Add(context.Background(), 1)
	}
	return nil
}

// AbortExplicit aborts t (spec.md §6 "abort"), dropping every op it
// holds from visibility instantly (spec.md §5 "Cancellation & timeouts").
func (db *LocalDatabase) AbortExplicit(t *txn.Transaction) error {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	if err := db.txnMgr.Abort(t); err != nil {
		return err
	}
	if db.metrics != nil {
		db.metrics.AbortTotal.Add(context.Background(), 1)
	}
	return nil
}
