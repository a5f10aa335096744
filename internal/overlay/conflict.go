package overlay

import (
	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/txn"
)

// BtreeFind probes the persistent B-tree for key, returning nil if
// found, dberr.ErrKeyNotFound if absent, or any other error verbatim.
// It is the only B-tree access the conflict checks need (spec.md §4.1).
type BtreeFind func(key []byte) error

// CheckInsertConflict implements spec.md §4.1's insert-side pure
// function: walk node newest to oldest under the visibility rules,
// falling through to the B-tree only when uniqueness matters.
//
// overwrite and duplicate mirror the caller's Overwrite/Duplicate
// flags; skipUniqueness is true for record-number keys, where the
// B-tree is never consulted for uniqueness (spec.md §4.1).
func CheckInsertConflict(node *Node, caller *txn.Transaction, overwrite, duplicate, skipUniqueness bool, find BtreeFind) error {
	resolved := false
	var result error
	node.Walk(func(op *Operation) bool {
		switch op.Classify(caller) {
		case VisSkip:
			return true
		case VisForeignActive:
			result = dberr.ErrTxnConflict
			resolved = true
			return false
		case VisErase:
			// "no key present": OK to insert.
			resolved = true
			return false
		case VisInsert:
			if overwrite || duplicate {
				resolved = true
				return false
			}
			result = dberr.ErrDuplicateKey
			resolved = true
			return false
		}
		return true
	})
	if resolved {
		return result
	}

	if overwrite || duplicate || skipUniqueness {
		return nil
	}
	err := find(node.Key)
	if err == nil {
		return dberr.ErrDuplicateKey
	}
	if dberr.Is(err, dberr.ErrKeyNotFound) {
		return nil
	}
	return err
}

// CheckEraseConflict implements spec.md §4.1's erase-side pure
// function.
func CheckEraseConflict(node *Node, caller *txn.Transaction, find BtreeFind) error {
	resolved := false
	var result error
	node.Walk(func(op *Operation) bool {
		switch op.Classify(caller) {
		case VisSkip:
			return true
		case VisForeignActive:
			result = dberr.ErrTxnConflict
			resolved = true
			return false
		case VisErase:
			result = dberr.ErrKeyNotFound
			resolved = true
			return false
		case VisInsert:
			result = nil
			resolved = true
			return false
		}
		return true
	})
	if resolved {
		return result
	}
	// Always consult the B-tree for erase; its answer is the answer.
	return find(node.Key)
}
