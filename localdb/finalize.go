package localdb

import (
	"context"

	"github.com/arannya-labs/overlaydb/internal/txn"
)

// changeset is the environment-wide set of pages dirtied by the current
// operation (spec.md §4.9 GLOSSARY "Changeset"). Real page tracking
// lives inside internal/btreeindex's buffer pool; at this layer the
// changeset is reduced to "did this call touch anything that needs a
// journal flush", which is all the finalizer's branch table needs.
type changeset struct {
	dirty bool
}

func (c *changeset) markDirty() { c.dirty = true }
func (c *changeset) clear()     { c.dirty = false }

// callFrame is the per-wrapper-invocation state the finalizer closes
// over: whether a temporary transaction was created for this call, and
// the changeset it's responsible for (spec.md §4.8, §4.9).
type callFrame struct {
	db      *LocalDatabase
	tempTxn *txn.Transaction
	cs      changeset
	err     error
}

// finalize implements spec.md §4.9's five-branch table. It is intended
// to run via defer on every public entry point's exit path (the "scoped
// release construct" of spec.md §5), so it always sees the final err
// value through a named return.
func (f *callFrame) finalize() {
	switch {
	case f.err != nil && f.tempTxn != nil:
		_ = f.db.txnMgr.Abort(f.tempTxn)
		if f.db.metrics != nil {
			f.db.metrics.AbortTotal.Add(context.Background(), 1)
		}
		f.cs.clear()
	case f.err != nil && f.tempTxn == nil:
		if f.db.recoveryEnabled() {
			f.db.flushChangeset()
		}
		f.cs.clear()
	case f.err == nil && f.tempTxn != nil:
		_ = f.db.txnMgr.Commit(f.tempTxn)
		if f.db.metrics != nil {
			f.db.metrics.CommitTotal.Add(context.Background(), 1)
		}
		f.cs.clear()
	case f.err == nil && f.db.recoveryEnabled() && !f.db.transactionsEnabled():
		f.db.flushChangeset()
	default:
		f.cs.clear()
	}
}

// flushChangeset forces the journal's buffered records through to
// durable storage, the "flush" referenced throughout spec.md §4.9. No
// LSN is allocated and no record is appended for the flush itself.
func (db *LocalDatabase) flushChangeset() {
	if db.journal == nil {
		return
	}
	_ = db.journal.Sync()
}

// beginFrame starts a callFrame, creating a temporary transaction when
// the caller supplied none but transactions are enabled (spec.md §4.8).
func (db *LocalDatabase) beginFrame(caller *txn.Transaction) (*callFrame, *txn.Transaction) {
	f := &callFrame{db: db}
	if caller != nil {
		return f, caller
	}
	if !db.transactionsEnabled() {
		return f, nil
	}
	t := db.txnMgr.Begin(0, txn.Temporary)
	f.tempTxn = t
	return f, t
}
