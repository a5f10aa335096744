package btreeindex

// InsertFlags mirrors the insert-variant flags spec.md §6 lists as
// "Consumed from B-tree": insert(cursor?, key, record, flags).
type InsertFlags uint32

const (
	Overwrite InsertFlags = 1 << iota
	Duplicate
	DuplicateInsertBefore
	DuplicateInsertAfter
	DuplicateInsertFirst
	DuplicateInsertLast
)

// EraseFlags mirrors the erase-variant flags.
type EraseFlags uint32

const (
	EraseAllDuplicates EraseFlags = 1 << iota
)

// FindFlags mirrors the lookup-predicate flags; at most one of the
// directional bits is ever set (spec.md §4.4 inputs).
type FindFlags uint32

const (
	FindExactMatch FindFlags = 1 << iota
	FindLtMatch
	FindGtMatch
)
