package overlay

// NilAllCursorsInNode implements spec.md §4.6's first pass: walk every
// op in the node, and for each attached cursor other than current,
// apply the I5 three-way duplicate-index comparison
// (_examples/original_source/src/4db/db_local.cc:1345-1374's
// nil_all_cursors_in_node) before coupling it to the B-tree.
//
// currentDupe is the duplicate index the triggering cursor (current)
// references; 0 means "not a specific duplicate" (e.g. a whole-key
// erase), which invalidates every peer unconditionally. Otherwise, for
// a peer cursor c: c.DupeIndex() < currentDupe is left untouched;
// c.DupeIndex() > currentDupe is decremented by one and left as-is
// (its duplicate shifted down, but it still points at a live record);
// only c.DupeIndex() == currentDupe is nil'd and re-coupled to the
// B-tree, since that's the duplicate that just vanished.
func (n *Node) NilAllCursorsInNode(current CursorRef, currentDupe int) {
	n.Walk(func(op *Operation) bool {
		for _, c := range append([]CursorRef(nil), op.Cursors()...) {
			if c == current {
				continue
			}
			if currentDupe > 0 {
				idx := c.DupeIndex()
				switch {
				case currentDupe < idx:
					c.SetDupeIndex(idx - 1)
					continue
				case currentDupe > idx:
					continue
				}
				// currentDupe == idx: the peer's own duplicate was the
				// one erased — fall through and invalidate it.
			}
			c.NilTxnSide()
			c.CoupleToBtreeKey(n.Key)
			c.SetLastOp(LastOpLookupOrInsert)
		}
		return true
	})
}

// IncrementDupeIndex implements spec.md §4.6's third pass: every
// cursor attached to the node with dupecache_index > start is bumped
// by one (I5, spec.md P6).
func (n *Node) IncrementDupeIndex(skip CursorRef, start int) {
	n.Walk(func(op *Operation) bool {
		for _, c := range op.Cursors() {
			if c == skip {
				continue
			}
			if idx := c.DupeIndex(); idx > start {
				c.SetDupeIndex(idx + 1)
			}
		}
		return true
	})
}
