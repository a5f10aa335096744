package overlay

import (
	"sync"

	gbtree "github.com/google/btree"
)

// Comparator orders two keys the same way the database's B-tree does;
// spec.md §6 requires the overlay use the identical comparator "so that
// overlay and B-tree agree on order."
type Comparator func(a, b []byte) int

// Index is the TransactionIndex (spec.md §2 component c, §3): an
// ordered map from key to Node supporting get/predecessor/successor/
// enumeration. It is backed by google/btree's in-memory B-tree rather
// than a plain map, since predecessor/successor navigation is part of
// the contract (find_txn's Lt/Gt sibling walk, spec.md §4.4) and a
// map alone cannot answer that without a full sort on every call.
type Index struct {
	mu    sync.RWMutex
	cmp   Comparator
	tree  *gbtree.BTreeG[*Node]
	byKey map[string]*Node
}

const defaultIndexDegree = 32

// NewIndex builds an empty TransactionIndex using cmp for key order.
func NewIndex(cmp Comparator) *Index {
	less := func(a, b *Node) bool { return cmp(a.Key, b.Key) < 0 }
	return &Index{
		cmp:   cmp,
		tree:  gbtree.NewG(defaultIndexDegree, less),
		byKey: make(map[string]*Node),
	}
}

// Get returns the existing node for key, if any (no creation).
func (ix *Index) Get(key []byte) (*Node, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n, ok := ix.byKey[string(key)]
	return n, ok
}

// GetOrCreate returns the node for key, creating an empty one (with no
// ops yet) if none exists. Callers that create a node here and then
// fail their conflict check must call Remove to roll it back (spec.md
// §4.2 step 2, §9 open question).
func (ix *Index) GetOrCreate(key []byte) (node *Node, created bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if n, ok := ix.byKey[string(key)]; ok {
		return n, false
	}
	n := &Node{Key: append([]byte(nil), key...), index: ix}
	ix.byKey[string(key)] = n
	ix.tree.ReplaceOrInsert(n)
	return n, true
}

// Remove deletes node from the index entirely (used both to roll back
// a just-created node on conflict, and by the txn manager's flush
// routine once a node's lifecycle ends, spec.md §3 "Lifecycle").
func (ix *Index) Remove(key []byte) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if n, ok := ix.byKey[string(key)]; ok {
		ix.tree.Delete(n)
		delete(ix.byKey, string(key))
	}
}

// First returns the lowest-keyed node, if any.
func (ix *Index) First() (*Node, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n, ok := ix.tree.Min()
	return n, ok
}

// Ascend calls visit for every node in ascending key order, stopping
// early if visit returns false. Backs localdb's transactional merge
// scan and overlay snapshot (spec.md §4.7) and its flush pass.
func (ix *Index) Ascend(visit func(*Node) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.Ascend(func(n *Node) bool { return visit(n) })
}

// AscendRange calls visit for every node with lo <= key <= hi, stopping
// early if visit returns false. It answers spec.md §4.7 regime 3's "does
// the overlay have any key in this leaf's range"; localdb's Scan does not
// call it, since it merges against a whole-overlay snapshot instead.
func (ix *Index) AscendRange(lo, hi []byte, visit func(*Node) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	loNode := &Node{Key: lo}
	ix.tree.AscendGreaterOrEqual(loNode, func(n *Node) bool {
		if ix.cmp(n.Key, hi) > 0 {
			return false
		}
		return visit(n)
	})
}

func (ix *Index) predecessorOf(key []byte) *Node {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var found *Node
	cur := &Node{Key: key}
	ix.tree.DescendLessOrEqual(cur, func(n *Node) bool {
		if ix.cmp(n.Key, key) < 0 {
			found = n
			return false
		}
		return true
	})
	return found
}

func (ix *Index) successorOf(key []byte) *Node {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var found *Node
	cur := &Node{Key: key}
	ix.tree.AscendGreaterOrEqual(cur, func(n *Node) bool {
		if ix.cmp(n.Key, key) > 0 {
			found = n
			return false
		}
		return true
	})
	return found
}

// Len reports how many distinct keys currently have a node.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}
