// Package btree is overlaydb's stand-in for the persistent B-tree index
// that spec.md §1 puts out of scope ("insert/find/erase over leaf pages,
// node layout, key compression"). It gives localdb something real to
// call through the internal/btreeindex.Index interface: a disk-backed,
// page-oriented sorted map with split-on-overflow inserts. It does not
// implement leaf merging on delete or key compression; those are exactly
// the out-of-scope internals spec.md §1 names.
package btree

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/pagestore"
)

// Order compares two keys, returning <0, 0, or >0 the way sort/slices
// comparators do. localdb must use this same comparator for overlay
// sibling navigation so overlay and btree agree on order (spec.md §6,
// "Key comparator").
type Order func(a, b []byte) int

// DefaultOrder is lexicographic byte comparison.
func DefaultOrder(a, b []byte) int { return bytes.Compare(a, b) }

// BTree is a degree-bounded B-tree of opaque byte keys and values.
type BTree struct {
	rootPageID  pagestore.PageID
	degree      int
	order       Order
	bpm         *BufferPoolManager
	diskManager *DiskManager
	size        int
}

// CreateFile initializes a brand-new btree file.
func CreateFile(filePath string, degree int, order Order, poolSize, pageSize int) (*BTree, error) {
	if degree < 2 {
		return nil, fmt.Errorf("%w: degree must be >= 2, got %d", dberr.ErrInvParameter, degree)
	}
	if order == nil {
		order = DefaultOrder
	}
	dm, err := NewDiskManager(filePath, pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := dm.OpenOrCreateFile(true, degree); err != nil {
		return nil, err
	}
	bpm := NewBufferPoolManager(poolSize, dm)

	bt := &BTree{degree: degree, order: order, bpm: bpm, diskManager: dm, rootPageID: pagestore.InvalidPageID}

	rootPage, rootPageID, err := bpm.NewPage()
	if err != nil {
		dm.Close()
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to allocate root page: %w", err)
	}
	bt.rootPageID = rootPageID
	root := &node{pageID: rootPageID, isLeaf: true, tree: bt}
	if err := root.serialize(rootPage); err != nil {
		return nil, err
	}
	bpm.UnpinPage(rootPageID, true)
	if err := dm.UpdateRootPageIDInHeader(rootPageID); err != nil {
		return nil, err
	}
	return bt, nil
}

// OpenFile opens an existing btree file.
func OpenFile(filePath string, order Order, poolSize, pageSize int) (*BTree, error) {
	if order == nil {
		order = DefaultOrder
	}
	dm, err := NewDiskManager(filePath, pageSize)
	if err != nil {
		return nil, err
	}
	header, err := dm.OpenOrCreateFile(false, 0)
	if err != nil {
		return nil, err
	}
	bpm := NewBufferPoolManager(poolSize, dm)
	return &BTree{
		rootPageID:  header.RootPageID,
		degree:      int(header.Degree),
		order:       order,
		bpm:         bpm,
		diskManager: dm,
	}, nil
}

func (bt *BTree) CompareKeys(a, b []byte) int { return bt.order(a, b) }

func (bt *BTree) Size() int { return bt.size }

func (bt *BTree) fetch(id pagestore.PageID) (*node, *pagestore.Page, error) {
	page, err := bt.bpm.FetchPage(id)
	if err != nil {
		return nil, nil, err
	}
	n := &node{tree: bt}
	if err := n.deserialize(page); err != nil {
		bt.bpm.UnpinPage(id, false)
		return nil, nil, err
	}
	return n, page, nil
}

// Find performs an exact-match lookup.
func (bt *BTree) Find(key []byte) ([]byte, error) {
	if bt.rootPageID == pagestore.InvalidPageID {
		return nil, dberr.ErrKeyNotFound
	}
	n, page, err := bt.fetch(bt.rootPageID)
	if err != nil {
		return nil, err
	}
	return bt.findRecursive(n, page, key)
}

func (bt *BTree) findRecursive(n *node, page *pagestore.Page, key []byte) ([]byte, error) {
	idx, found := slices.BinarySearchFunc(n.keys, key, bt.order)
	if found {
		v := append([]byte(nil), n.values[idx]...)
		bt.bpm.UnpinPage(page.GetPageID(), false)
		return v, nil
	}
	if n.isLeaf {
		bt.bpm.UnpinPage(page.GetPageID(), false)
		return nil, dberr.ErrKeyNotFound
	}
	childID := n.childPageIDs[idx]
	bt.bpm.UnpinPage(page.GetPageID(), false)
	child, childPage, err := bt.fetch(childID)
	if err != nil {
		return nil, err
	}
	return bt.findRecursive(child, childPage, key)
}

// Predecessor returns the greatest key strictly less than key, if any.
// Used by localdb's find_txn when the overlay has erased an exact key
// and must walk to a B-tree neighbor for an Lt/Gt lookup (spec.md §4.4).
func (bt *BTree) Predecessor(key []byte) (k, v []byte, ok bool, err error) {
	return bt.neighbor(key, true)
}

// Successor returns the least key strictly greater than key, if any.
func (bt *BTree) Successor(key []byte) (k, v []byte, ok bool, err error) {
	return bt.neighbor(key, false)
}

func (bt *BTree) neighbor(key []byte, wantLess bool) ([]byte, []byte, bool, error) {
	var bestK, bestV []byte
	found := false
	err := bt.walk(func(k, v []byte) bool {
		cmp := bt.order(k, key)
		if wantLess {
			if cmp < 0 && (!found || bt.order(k, bestK) > 0) {
				bestK, bestV, found = append([]byte(nil), k...), append([]byte(nil), v...), true
			}
		} else {
			if cmp > 0 && (!found || bt.order(k, bestK) < 0) {
				bestK, bestV, found = append([]byte(nil), k...), append([]byte(nil), v...), true
			}
		}
		return true
	})
	if err != nil {
		return nil, nil, false, err
	}
	return bestK, bestV, found, nil
}

// walk performs a full in-order traversal, invoking visit(key, value)
// for every entry until visit returns false. It is the unoptimized
// backbone for Predecessor/Successor/Scan/Count; spec.md explicitly
// puts efficient leaf-level scan internals out of scope (§1), so this
// trades throughput for a small, obviously-correct implementation.
func (bt *BTree) walk(visit func(k, v []byte) bool) error {
	if bt.rootPageID == pagestore.InvalidPageID {
		return nil
	}
	cont := true
	var rec func(id pagestore.PageID) error
	rec = func(id pagestore.PageID) error {
		if !cont {
			return nil
		}
		n, page, err := bt.fetch(id)
		if err != nil {
			return err
		}
		defer bt.bpm.UnpinPage(page.GetPageID(), false)
		for i, k := range n.keys {
			if !n.isLeaf {
				if err := rec(n.childPageIDs[i]); err != nil {
					return err
				}
				if !cont {
					return nil
				}
			}
			if !visit(k, n.values[i]) {
				cont = false
				return nil
			}
		}
		if !n.isLeaf {
			if err := rec(n.childPageIDs[len(n.keys)]); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(bt.rootPageID)
}

// Count returns the number of distinct keys in the tree.
func (bt *BTree) Count() (uint64, error) {
	var n uint64
	err := bt.walk(func(_, _ []byte) bool { n++; return true })
	return n, err
}

// Scan visits every key/value pair in ascending order.
func (bt *BTree) Scan(visit func(k, v []byte) bool) error { return bt.walk(visit) }

// Insert adds or overwrites key -> value.
func (bt *BTree) Insert(key, value []byte) error {
	if bt.rootPageID == pagestore.InvalidPageID {
		page, id, err := bt.bpm.NewPage()
		if err != nil {
			return err
		}
		bt.rootPageID = id
		if err := bt.diskManager.UpdateRootPageIDInHeader(id); err != nil {
			return err
		}
		root := &node{pageID: id, isLeaf: true, tree: bt}
		if err := root.serialize(page); err != nil {
			return err
		}
		bt.bpm.UnpinPage(id, true)
	}

	root, rootPage, err := bt.fetch(bt.rootPageID)
	if err != nil {
		return err
	}
	if len(root.keys) == 2*bt.degree-1 {
		newRootPage, newRootID, err := bt.bpm.NewPage()
		if err != nil {
			return err
		}
		newRoot := &node{pageID: newRootID, isLeaf: false, tree: bt, childPageIDs: []pagestore.PageID{bt.rootPageID}}
		if err := bt.splitChild(newRoot, newRootPage, 0, root, rootPage); err != nil {
			return err
		}
		bt.rootPageID = newRootID
		if err := bt.diskManager.UpdateRootPageIDInHeader(newRootID); err != nil {
			return err
		}
		root, rootPage, err = bt.fetch(newRootID)
		if err != nil {
			return err
		}
	}
	existed, err := bt.insertNonFull(root, rootPage, key, value)
	if err != nil {
		return err
	}
	if !existed {
		bt.size++
	}
	return nil
}

func (bt *BTree) insertNonFull(n *node, page *pagestore.Page, key, value []byte) (existed bool, err error) {
	idx, found := slices.BinarySearchFunc(n.keys, key, bt.order)
	if found {
		n.values[idx] = value
		err = n.serialize(page)
		bt.bpm.UnpinPage(page.GetPageID(), true)
		return true, err
	}

	if n.isLeaf {
		n.keys = slices.Insert(n.keys, idx, key)
		n.values = slices.Insert(n.values, idx, value)
		err = n.serialize(page)
		bt.bpm.UnpinPage(page.GetPageID(), true)
		return false, err
	}

	childID := n.childPageIDs[idx]
	child, childPage, err := bt.fetch(childID)
	if err != nil {
		bt.bpm.UnpinPage(page.GetPageID(), false)
		return false, err
	}
	if len(child.keys) == 2*bt.degree-1 {
		if err := bt.splitChild(n, page, idx, child, childPage); err != nil {
			return false, err
		}
		n2, page2, err := bt.fetch(n.pageID)
		if err != nil {
			return false, err
		}
		bt.bpm.UnpinPage(page.GetPageID(), false)
		existed, err := bt.insertNonFull(n2, page2, key, value)
		return existed, err
	}
	bt.bpm.UnpinPage(page.GetPageID(), false)
	return bt.insertNonFull(child, childPage, key, value)
}

func (bt *BTree) splitChild(parent *node, parentPage *pagestore.Page, idx int, child *node, childPage *pagestore.Page) error {
	mid := bt.degree - 1
	newPage, newID, err := bt.bpm.NewPage()
	if err != nil {
		return err
	}
	sibling := &node{pageID: newID, isLeaf: child.isLeaf, tree: bt}
	sibling.keys = append(sibling.keys, child.keys[mid+1:]...)
	sibling.values = append(sibling.values, child.values[mid+1:]...)
	if !child.isLeaf {
		sibling.childPageIDs = append(sibling.childPageIDs, child.childPageIDs[mid+1:]...)
	}
	promotedKey, promotedValue := child.keys[mid], child.values[mid]

	child.keys = child.keys[:mid]
	child.values = child.values[:mid]
	if !child.isLeaf {
		child.childPageIDs = child.childPageIDs[:mid+1]
	}

	parent.keys = slices.Insert(parent.keys, idx, promotedKey)
	parent.values = slices.Insert(parent.values, idx, promotedValue)
	parent.childPageIDs = slices.Insert(parent.childPageIDs, idx+1, newID)

	if err := sibling.serialize(newPage); err != nil {
		return err
	}
	bt.bpm.UnpinPage(newID, true)
	if err := child.serialize(childPage); err != nil {
		return err
	}
	bt.bpm.UnpinPage(childPage.GetPageID(), true)
	if err := parent.serialize(parentPage); err != nil {
		return err
	}
	bt.bpm.UnpinPage(parentPage.GetPageID(), true)
	return nil
}

// Delete removes key. It does not rebalance/merge underfull nodes after
// removal (node-layout internals are out of scope, spec.md §1); keys
// remain correctly ordered and findable, just not repacked.
func (bt *BTree) Delete(key []byte) error {
	if bt.rootPageID == pagestore.InvalidPageID {
		return dberr.ErrKeyNotFound
	}
	n, page, err := bt.fetch(bt.rootPageID)
	if err != nil {
		return err
	}
	return bt.deleteRecursive(n, page, key)
}

func (bt *BTree) deleteRecursive(n *node, page *pagestore.Page, key []byte) error {
	idx, found := slices.BinarySearchFunc(n.keys, key, bt.order)
	if found {
		n.keys = slices.Delete(n.keys, idx, idx+1)
		n.values = slices.Delete(n.values, idx, idx+1)
		err := n.serialize(page)
		bt.bpm.UnpinPage(page.GetPageID(), true)
		if err == nil {
			bt.size--
		}
		return err
	}
	if n.isLeaf {
		bt.bpm.UnpinPage(page.GetPageID(), false)
		return dberr.ErrKeyNotFound
	}
	childID := n.childPageIDs[idx]
	bt.bpm.UnpinPage(page.GetPageID(), false)
	child, childPage, err := bt.fetch(childID)
	if err != nil {
		return err
	}
	return bt.deleteRecursive(child, childPage, key)
}

// CheckIntegrity walks the whole tree verifying key ordering and that
// every deserialized page passed its checksum (deserialize already
// enforces the checksum; a corrupt page surfaces as an error here).
func (bt *BTree) CheckIntegrity() error {
	var prev, bad []byte
	hasPrev := false
	err := bt.walk(func(k, _ []byte) bool {
		if hasPrev && bt.order(prev, k) >= 0 {
			bad = k
			return false
		}
		prev, hasPrev = k, true
		return true
	})
	if err != nil {
		return err
	}
	if bad != nil {
		// walk stopped early only on an ordering violation (visit
		// returns false).
		return fmt.Errorf("%w: key order violated at %x", dberr.ErrInvariantViolation, bad)
	}
	return nil
}

// Release flushes all dirty pages and closes the underlying file; it is
// the external B-tree's release() (spec.md §6).
func (bt *BTree) Release() error {
	if err := bt.bpm.FlushAll(); err != nil {
		return err
	}
	return bt.diskManager.Close()
}

func (bt *BTree) Close() error { return bt.Release() }
