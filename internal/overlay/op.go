// Package overlay implements the in-memory transactional index that
// shadows the persistent B-tree: TransactionOperation, TransactionNode,
// and TransactionIndex (spec.md §2 components a-c, §3 data model).
package overlay

import (
	"github.com/arannya-labs/overlaydb/internal/txn"
)

// Kind is the tagged operation kind. spec.md's design notes (§9) call
// out the source's "kIsFlushed | kErase | kInsert…" bitflag mixing
// orthogonal axes and recommend separating kind from a flushed bool;
// Op does exactly that.
type Kind int

const (
	Nop Kind = iota
	Insert
	InsertOverwrite
	InsertDuplicate
	Erase
)

// LastOp disambiguates repeated cursor moves (spec.md §3 "lastop").
type LastOp int

const (
	LastOpNone LastOp = iota
	LastOpNext
	LastOpPrevious
	LastOpLookupOrInsert
)

// CursorRef is the subset of cursor behavior the overlay needs to
// enforce I3/I4/I5 without importing package cursor (which itself
// couples to overlay ops, so the dependency must run the other way).
type CursorRef interface {
	// DupeIndex returns the cursor's current dupecache_index (0 = not
	// on a duplicate).
	DupeIndex() int
	SetDupeIndex(int)
	// NilTxnSide nils the cursor's txn-op coupling (I3, I4).
	NilTxnSide()
	// NilBtreeSide nils the cursor's B-tree coupling (I3, I4).
	NilBtreeSide()
	// CoupleToOp couples the cursor's txn side to op (I3).
	CoupleToOp(op *Operation)
	// CoupleToBtreeKey couples the cursor's B-tree side to key (I3).
	CoupleToBtreeKey(key []byte)
	SetLastOp(LastOp)
}

// Operation is a single logical write by one transaction, linked into
// its TransactionNode in reverse chronological order (spec.md §3).
type Operation struct {
	Txn            *txn.Transaction
	Kind           Kind
	Flushed        bool
	OrigFlags      uint32
	LSN            uint64
	ReferencedDupe int
	Key            []byte     // the node key this op belongs to, so a cursor coupled to the op can recover it
	Record         []byte     // the record carried by Insert*/InsertDuplicate ops; unused by Erase
	Prev           *Operation // reverse-chronological link within the node
	cursors        []CursorRef
}

// AttachCursor records c as coupled to this op (the op side of I3).
func (op *Operation) AttachCursor(c CursorRef) {
	op.cursors = append(op.cursors, c)
}

// DetachCursor removes c from this op's attached-cursor list.
func (op *Operation) DetachCursor(c CursorRef) {
	for i, cur := range op.cursors {
		if cur == c {
			op.cursors = append(op.cursors[:i], op.cursors[i+1:]...)
			return
		}
	}
}

// Cursors returns the (unordered) set of cursors currently attached to
// this op, for nil_all_cursors_in_node/_btree (spec.md §4.6).
func (op *Operation) Cursors() []CursorRef { return op.cursors }

// Visibility classifies one op during a newest-to-oldest walk, per the
// rules of spec.md §4.1.
type Visibility int

const (
	VisSkip         Visibility = iota // aborted, or flushed, or Nop
	VisErase                          // a visible Erase
	VisInsert                         // a visible Insert/InsertOverwrite/InsertDuplicate
	VisForeignActive                  // still-active op of a different transaction: conflict
)

// Classify applies spec.md §4.1's per-op visibility rules relative to
// caller (the transaction on whose behalf the walk is happening; may be
// nil for a non-transactional reader).
func (op *Operation) Classify(caller *txn.Transaction) Visibility {
	state := op.Txn.State
	if state == txn.StateAborted {
		return VisSkip
	}
	sameTxn := caller != nil && op.Txn.ID == caller.ID
	if state == txn.StateCommitted || sameTxn {
		if op.Flushed {
			return VisSkip
		}
		switch op.Kind {
		case Erase:
			return VisErase
		case Insert, InsertOverwrite, InsertDuplicate:
			return VisInsert
		default:
			return VisSkip
		}
	}
	// state == StateActive and it's not the caller's own txn.
	return VisForeignActive
}
