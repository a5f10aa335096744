// Package cursor implements the iteration handle that couples to
// either an overlay operation or a B-tree slot (spec.md §2 component g,
// §3 "Cursor"). Per the redesign note in spec.md §9 ("Global mutable
// cursor list per database"), cursors live in a stable arena (Registry)
// referenced by slot id rather than as a raw linked list of pointers.
package cursor

import "github.com/arannya-labs/overlaydb/internal/overlay"

// Coupling is the three-way state of spec.md invariant I3.
type Coupling int

const (
	Nil Coupling = iota
	ToTxnOp
	ToBtree
)

// DupeEntry is one flattened duplicate resolution in a cursor's
// dupecache: either a B-tree duplicate (by 1-based record position) or
// a still-unflushed overlay op (spec.md GLOSSARY "Dupecache").
type DupeEntry struct {
	FromBtree bool
	BtreePos  int // 1-based position within the B-tree's duplicate list
	Op        *overlay.Operation
}

// Cursor is one iteration handle. Slot is its stable id within the
// owning Registry.
type Cursor struct {
	Slot uint64

	coupling Coupling
	txnOp    *overlay.Operation
	btreeKey []byte

	dupecache      []DupeEntry
	dupecacheIndex int // 1-based; 0 = not on a duplicate (spec.md §3)

	lastOp   overlay.LastOp
	firstUse bool
}

func newCursor(slot uint64) *Cursor {
	return &Cursor{Slot: slot, firstUse: true}
}

func (c *Cursor) Coupling() Coupling { return c.coupling }

// DupeIndex/SetDupeIndex/NilTxnSide/NilBtreeSide/CoupleToOp/SetLastOp
// implement overlay.CursorRef, letting the overlay package enforce
// I3/I4/I5 without importing this package (which itself imports
// overlay for Operation).
func (c *Cursor) DupeIndex() int              { return c.dupecacheIndex }
func (c *Cursor) SetDupeIndex(i int)          { c.dupecacheIndex = i }
func (c *Cursor) SetLastOp(op overlay.LastOp) { c.lastOp = op }

func (c *Cursor) NilTxnSide() {
	if c.coupling == ToTxnOp && c.txnOp != nil {
		c.txnOp.DetachCursor(c)
	}
	c.txnOp = nil
	if c.coupling == ToTxnOp {
		c.coupling = Nil
	}
}

func (c *Cursor) NilBtreeSide() {
	c.btreeKey = nil
	if c.coupling == ToBtree {
		c.coupling = Nil
	}
}

// CoupleToOp couples the cursor's txn side to op, nil-ing the B-tree
// side first per I3 ("a transition must nil one side before coupling
// the other").
func (c *Cursor) CoupleToOp(op *overlay.Operation) {
	c.NilBtreeSide()
	if c.coupling == ToTxnOp && c.txnOp != nil && c.txnOp != op {
		c.txnOp.DetachCursor(c)
	}
	c.txnOp = op
	c.coupling = ToTxnOp
	op.AttachCursor(c)
}

// CoupleToBtree couples the cursor's B-tree side to key, nil-ing the
// txn side first per I3.
func (c *Cursor) CoupleToBtree(key []byte) {
	c.NilTxnSide()
	c.btreeKey = append([]byte(nil), key...)
	c.coupling = ToBtree
}

// CoupleToBtreeKey implements overlay.CursorRef.
func (c *Cursor) CoupleToBtreeKey(key []byte) { c.CoupleToBtree(key) }

// BtreeKey returns the key the cursor's B-tree side currently points
// at, or nil if the cursor is not B-tree-coupled.
func (c *Cursor) BtreeKey() []byte {
	if c.coupling != ToBtree {
		return nil
	}
	return c.btreeKey
}

// TxnOp returns the op the cursor's txn side currently points at, or
// nil if the cursor is not txn-coupled.
func (c *Cursor) TxnOp() *overlay.Operation {
	if c.coupling != ToTxnOp {
		return nil
	}
	return c.txnOp
}

// Close nils both sides, detaching from whatever op this cursor was
// attached to.
func (c *Cursor) Close() {
	c.NilTxnSide()
	c.NilBtreeSide()
	c.dupecache = nil
	c.dupecacheIndex = 0
}

// SetDupecache replaces the cursor's flattened duplicate view. Nothing
// in this module calls it, so the dupecache stays empty unless a caller
// sets it.
func (c *Cursor) SetDupecache(entries []DupeEntry) { c.dupecache = entries }
func (c *Cursor) Dupecache() []DupeEntry           { return c.dupecache }
