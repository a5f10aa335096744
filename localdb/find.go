package localdb

import (
	"bytes"
	"context"

	"github.com/arannya-labs/overlaydb/internal/btreeindex"
	"github.com/arannya-labs/overlaydb/internal/cursor"
	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/overlay"
	"github.com/arannya-labs/overlaydb/internal/txn"
)

// Result is what find_txn hands back to a wrapper: the matched key
// (which may differ from the requested key on an approximate match),
// the record, and whether the match is approximate (spec.md §4.4).
type Result struct {
	Key         []byte
	Record      []byte
	Approximate bool
}

// maxApproxRecursion bounds the one level of re-entry spec.md §9
// ("Approximate-match recursion") calls for.
const maxApproxRecursion = 1

// findTxn implements spec.md §4.4, the merge between the overlay and
// the B-tree. depth tracks the one permitted level of recursive
// re-entry with FindExactMatch to re-validate a B-tree-chosen winner.
func (db *LocalDatabase) findTxn(caller *txn.Transaction, cur *cursor.Cursor, key []byte, flags btreeindex.FindFlags, depth int) (Result, error) {
	approx := false
	exactIsErased := false
	firstIteration := true
	curKey := key

	// txnRecord/haveTxnCandidate capture the overlay's candidate (its key
	// stays in curKey) once the walk lands on a visible Insert while
	// already flagged Approximate (spec.md §4.4 step 3's "snapshot that
	// candidate as txnkey").
	var txnRecord []byte
	haveTxnCandidate := false

	for {
		node, ok := db.overlayIndex.Get(curKey)
		var terminalOp *overlay.Operation
		var vis overlay.Visibility
		if ok {
			node.Walk(func(op *overlay.Operation) bool {
				v := op.Classify(caller)
				if v == overlay.VisSkip {
					return true
				}
				terminalOp, vis = op, v
				return false
			})
		}

		if vis == overlay.VisForeignActive {
			return Result{}, dberr.ErrTxnConflict
		}

		if terminalOp == nil {
			if firstIteration {
				// step 4: no visible op anywhere on this key.
				return db.findDelegateToBtree(key, flags)
			}
			break
		}

		if vis == overlay.VisErase {
			if firstIteration && !approx {
				exactIsErased = true
			}
			switch {
			case flags&btreeindex.FindLtMatch != 0:
				prev := node.Predecessor()
				if prev == nil {
					return Result{}, dberr.ErrKeyNotFound
				}
				curKey = prev.Key
				approx = true
				firstIteration = false
				continue
			case flags&btreeindex.FindGtMatch != 0:
				next := node.Successor()
				if next == nil {
					return Result{}, dberr.ErrKeyNotFound
				}
				curKey = next.Key
				approx = true
				firstIteration = false
				continue
			default:
				return db.resolveExactErase(cur, curKey, terminalOp)
			}
		}

		// vis == overlay.VisInsert
		if cur != nil {
			cur.CoupleToOp(terminalOp)
		}
		if !approx {
			return Result{Key: curKey, Record: terminalOp.Record}, nil
		}
		txnRecord = terminalOp.Record
		haveTxnCandidate = true
		break
	}

	if !approx {
		return db.findDelegateToBtree(key, flags)
	}
	if !haveTxnCandidate {
		txnRecord = nil
	}
	return db.resolveApproximate(caller, cur, key, curKey, txnRecord, flags, exactIsErased, depth)
}

// resolveExactErase implements spec.md §4.4 branch (a)'s exact-lookup
// sub-case: the key is gone, but a referenced duplicate may survive.
func (db *LocalDatabase) resolveExactErase(cur *cursor.Cursor, key []byte, op *overlay.Operation) (Result, error) {
	switch {
	case op.ReferencedDupe == 0:
		return Result{}, dberr.ErrKeyNotFound
	case op.ReferencedDupe > 1:
		if cur != nil {
			cur.CoupleToOp(op)
		}
		return Result{}, nil
	default: // == 1: the only remaining candidates are in the B-tree.
		count, err := db.btreeIndex.DuplicateCount(key)
		if err != nil {
			return Result{}, err
		}
		if count == 0 {
			return Result{}, dberr.ErrKeyNotFound
		}
		if cur != nil {
			cur.CoupleToOp(op)
		}
		return Result{}, nil
	}
}

// findDelegateToBtree implements spec.md §4.4 step 4: no visible
// overlay op at all, so the whole query goes to the B-tree.
func (db *LocalDatabase) findDelegateToBtree(key []byte, flags btreeindex.FindFlags) (Result, error) {
	matchKey, record, approx, err := db.btreeIndex.Find(key, 0, flags)
	if err != nil {
		return Result{}, err
	}
	return Result{Key: matchKey, Record: record, Approximate: approx}, nil
}

// resolveApproximate implements spec.md §4.4 step 3: the three-way
// comparison among the overlay candidate, the B-tree neighbor, and the
// requested point.
func (db *LocalDatabase) resolveApproximate(caller *txn.Transaction, cur *cursor.Cursor, requested, txnKey, txnRecord []byte, flags btreeindex.FindFlags, exactIsErased bool, depth int) (Result, error) {
	btreeFlags := flags
	if exactIsErased {
		btreeFlags &^= btreeindex.FindExactMatch
	}
	btreeKey, btreeRecord, _, btreeErr := db.btreeIndex.Find(requested, 0, btreeFlags)

	switch {
	case dberr.Is(btreeErr, dberr.ErrKeyNotFound):
		if txnRecord == nil {
			return Result{}, dberr.ErrKeyNotFound
		}
		return Result{Key: txnKey, Record: txnRecord, Approximate: true}, nil
	case btreeErr != nil:
		return Result{}, btreeErr
	}

	if flags&btreeindex.FindExactMatch != 0 && db.btreeIndex.CompareKeys(btreeKey, requested) == 0 {
		return Result{Key: btreeKey, Record: btreeRecord, Approximate: false}, nil
	}

	if txnRecord == nil {
		return Result{Key: btreeKey, Record: btreeRecord, Approximate: true}, nil
	}

	// Both sides offered something: pick the closer one.
	cmp := db.btreeIndex.CompareKeys(btreeKey, txnKey)
	useBtree := (flags&btreeindex.FindGtMatch != 0 && cmp < 0) || (flags&btreeindex.FindLtMatch != 0 && cmp > 0)
	if !useBtree {
		return Result{Key: txnKey, Record: txnRecord, Approximate: true}, nil
	}

	if depth >= maxApproxRecursion {
		return Result{Key: btreeKey, Record: btreeRecord, Approximate: true}, nil
	}
	if db.metrics != nil {
		db.metrics.ApproxMatchRecursion.Record(context.Background(), int64(depth+1))
	}
	revalidated, err := db.findTxn(caller, cur, btreeKey, btreeindex.FindExactMatch, depth+1)
	if err != nil {
		return Result{}, err
	}
	revalidated.Approximate = true
	return revalidated, nil
}

// Find is the txn-aware find wrapper of spec.md §4.8.
func (db *LocalDatabase) Find(caller *txn.Transaction, cur *cursor.Cursor, key []byte, flags btreeindex.FindFlags) (result Result, err error) {
	db.envLock.Lock()
	defer db.envLock.Unlock()

	frame, effective := db.beginFrame(caller)
	defer func() { frame.err = err; frame.finalize() }()

	if effective != nil {
		result, err = db.findTxn(effective, cur, key, flags, 0)
		// The overlay path yields the op's own record slice; hand back a
		// copy so the caller never aliases overlay state.
		result.Record = bytes.Clone(result.Record)
		return result, err
	}
	result, err = db.findDelegateToBtree(key, flags)
	return result, err
}
