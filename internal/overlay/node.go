package overlay

// Node is a TransactionNode: the per-key log of operations across all
// live transactions (spec.md §2 component a, §3). Sibling pointers are
// resolved lazily through the owning Index rather than stored directly,
// so a node never goes stale when neighbors are inserted or removed.
type Node struct {
	Key   []byte
	Head  *Operation
	index *Index
}

// Append adds op as the new head, linking the previous head as its
// Prev (spec.md §3 "previous-in-node link").
func (n *Node) Append(op *Operation) {
	op.Prev = n.Head
	n.Head = op
}

// Walk invokes visit for every op newest to oldest, stopping early if
// visit returns false.
func (n *Node) Walk(visit func(*Operation) bool) {
	for op := n.Head; op != nil; op = op.Prev {
		if !visit(op) {
			return
		}
	}
}

// IsEmpty reports whether the node holds no ops at all (used to decide
// whether a just-created node should be rolled back on conflict,
// spec.md §4.2 step 2 / §9 open question).
func (n *Node) IsEmpty() bool { return n.Head == nil }

// Predecessor returns the node immediately before this one in key
// order, or nil if this is the first node (spec.md §4.4 Lt traversal).
func (n *Node) Predecessor() *Node {
	if n.index == nil {
		return nil
	}
	return n.index.predecessorOf(n.Key)
}

// Successor returns the node immediately after this one in key order,
// or nil if this is the last node (spec.md §4.4 Gt traversal).
func (n *Node) Successor() *Node {
	if n.index == nil {
		return nil
	}
	return n.index.successorOf(n.Key)
}

// Prune removes every op whose owning transaction has both terminated
// and been flushed, per spec.md §3 "Lifecycle". It returns true if the
// node ends up empty and should be removed from its Index.
func (n *Node) Prune() bool {
	var kept *Operation
	var tail *Operation
	for op := n.Head; op != nil; {
		next := op.Prev
		terminated := op.Txn.State != 0 // StateActive == 0; non-zero means committed/aborted
		if terminated && op.Flushed {
			op = next
			continue
		}
		op.Prev = nil
		if kept == nil {
			kept = op
			tail = op
		} else {
			tail.Prev = op
			tail = op
		}
		op = next
	}
	n.Head = kept
	return n.Head == nil
}
