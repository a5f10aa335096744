package cursor

import "sync"

// Registry is the database's cursor list: a stable arena of slots with
// a free list, per spec.md §9's recommended redesign away from a raw
// linked list of cursor pointers. Iteration (nil_all_cursors_in_btree,
// spec.md §4.6) becomes a linear sweep over live slots.
type Registry struct {
	mu     sync.Mutex
	slots  []*Cursor
	free   []uint64
	nextID uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Create allocates a new cursor from a free slot, or grows the arena.
func (r *Registry) Create() *Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.free); n > 0 {
		slot := r.free[n-1]
		r.free = r.free[:n-1]
		c := newCursor(slot)
		r.slots[slot] = c
		return c
	}
	slot := r.nextID
	r.nextID++
	c := newCursor(slot)
	r.slots = append(r.slots, c)
	return c
}

// Release closes c and returns its slot to the free list.
func (r *Registry) Release(c *Cursor) {
	c.Close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(c.Slot) < len(r.slots) {
		r.slots[c.Slot] = nil
	}
	r.free = append(r.free, c.Slot)
}

// ForEach visits every live (non-nil) cursor except skip. It is the
// iteration behind nil_all_cursors_in_btree (spec.md §4.6); skipping
// cursors that are not B-tree-coupled is left to NilAllCursorsInBtree.
func (r *Registry) ForEach(skip *Cursor, visit func(*Cursor)) {
	r.mu.Lock()
	snapshot := append([]*Cursor(nil), r.slots...)
	r.mu.Unlock()
	for _, c := range snapshot {
		if c == nil || c == skip {
			continue
		}
		visit(c)
	}
}

// NilAllCursorsInBtree implements spec.md §4.6's second pass: nil the
// B-tree side of every other B-tree-coupled cursor pointed at key,
// applying the same I5 three-way duplicate-index comparison as
// Node.NilAllCursorsInNode (_examples/original_source/src/4db/db_local.cc
// :1392-1429's nil_all_cursors_in_btree) — a peer cursor on a duplicate
// below the one erased is untouched, one above is shifted down by one
// and left coupled, and only the peer on the erased duplicate itself
// gets nil'd.
func (r *Registry) NilAllCursorsInBtree(current *Cursor, key []byte, keyEq func(a, b []byte) bool) {
	currentDupe := 0
	if current != nil {
		currentDupe = current.DupeIndex()
	}
	r.ForEach(current, func(c *Cursor) {
		if c.Coupling() != ToBtree {
			return
		}
		if !keyEq(c.BtreeKey(), key) {
			return
		}
		if currentDupe > 0 {
			idx := c.DupeIndex()
			switch {
			case currentDupe < idx:
				c.SetDupeIndex(idx - 1)
				return
			case currentDupe > idx:
				return
			}
		}
		c.NilBtreeSide()
	})
}
