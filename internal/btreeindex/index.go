// Package btreeindex is the external B-tree collaborator localdb talks
// to (spec.md §6, "Consumed from B-tree"). It wraps internal/btree with
// duplicate-list encoding and the exact method surface find_txn/
// insert_txn/erase_txn/flush_txn_operation expect, so the merge logic in
// package localdb never has to know a B-tree key can hold more than one
// record.
package btreeindex

import (
	"fmt"

	"github.com/arannya-labs/overlaydb/internal/btree"
	"github.com/arannya-labs/overlaydb/internal/dberr"
)

// Index is the persistent sorted map the overlay falls back to.
type Index struct {
	tree *btree.BTree
}

// Config carries the create-time sizing policy of spec.md §6 ("Sizing
// policy at create time").
type Config struct {
	Path      string
	Degree    int
	PoolPages int
	PageSize  int
	Order     btree.Order
}

const minFixedKeysPerPage = 10

// Create initializes a new on-disk index, applying the fixed-key-size
// check of spec.md §6's sizing policy.
func Create(cfg Config, keySize, recordSize int) (*Index, error) {
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = btree.DefaultPageSize
	}
	if keySize > 0 {
		if pageSize/(keySize+8) < minFixedKeysPerPage {
			return nil, fmt.Errorf("%w: page size %d too small for fixed key size %d", dberr.ErrInvKeySize, pageSize, keySize)
		}
	}
	// The inline-record heuristic (localdb.Parameters.forceRecordsInline)
	// is neither applied nor stored; recordSize is accepted and unused.
	_ = recordSize

	t, err := btree.CreateFile(cfg.Path, cfg.Degree, cfg.Order, cfg.PoolPages, pageSize)
	if err != nil {
		return nil, err
	}
	return &Index{tree: t}, nil
}

// Open reopens an existing index.
func Open(cfg Config) (*Index, error) {
	t, err := btree.OpenFile(cfg.Path, cfg.Order, cfg.PoolPages, cfg.PageSize)
	if err != nil {
		return nil, err
	}
	return &Index{tree: t}, nil
}

func (ix *Index) CompareKeys(a, b []byte) int { return ix.tree.CompareKeys(a, b) }

// Find resolves key per flags, returning the matched key (which may
// differ from the requested key on an Lt/Gt match), the chosen record,
// and whether the match was approximate.
func (ix *Index) Find(key []byte, dupeIndex int, flags FindFlags) (matchKey, record []byte, approximate bool, err error) {
	switch {
	case flags&FindLtMatch != 0:
		k, v, ok, err := ix.tree.Predecessor(key)
		if err != nil {
			return nil, nil, false, err
		}
		if !ok {
			return nil, nil, false, dberr.ErrKeyNotFound
		}
		rec, err := ix.pickDuplicate(v, dupeIndex)
		return k, rec, true, err
	case flags&FindGtMatch != 0:
		k, v, ok, err := ix.tree.Successor(key)
		if err != nil {
			return nil, nil, false, err
		}
		if !ok {
			return nil, nil, false, dberr.ErrKeyNotFound
		}
		rec, err := ix.pickDuplicate(v, dupeIndex)
		return k, rec, true, err
	default:
		v, err := ix.tree.Find(key)
		if err != nil {
			return nil, nil, false, err
		}
		rec, err := ix.pickDuplicate(v, dupeIndex)
		return key, rec, false, err
	}
}

func (ix *Index) pickDuplicate(stored []byte, dupeIndex int) ([]byte, error) {
	records, err := decodeRecords(stored)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, dberr.ErrKeyNotFound
	}
	idx := dupeIndex
	if idx <= 0 {
		idx = 1
	}
	if idx > len(records) {
		return nil, fmt.Errorf("%w: duplicate index %d out of range (have %d)", dberr.ErrInvParameter, idx, len(records))
	}
	return records[idx-1], nil
}

// DuplicateCount returns how many records key currently holds (0 if the
// key does not exist); used by find_txn's erased-duplicate check and by
// localdb's CursorRecordCount.
func (ix *Index) DuplicateCount(key []byte) (int, error) {
	v, err := ix.tree.Find(key)
	if dberr.Is(err, dberr.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	records, err := decodeRecords(v)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Insert stores record under key honoring Overwrite/Duplicate/
// DuplicateInsert* flags (spec.md §4.5, §6). It returns the 1-based
// position the record landed at when Duplicate is set (0 otherwise).
func (ix *Index) Insert(key, record []byte, flags InsertFlags) (position int, err error) {
	existing, findErr := ix.tree.Find(key)
	switch {
	case findErr == nil:
		records, err := decodeRecords(existing)
		if err != nil {
			return 0, err
		}
		if flags&Duplicate != 0 {
			records, position = insertAt(records, record, flags)
			return position, ix.tree.Insert(key, encodeRecords(records))
		}
		if flags&Overwrite == 0 {
			return 0, dberr.ErrDuplicateKey
		}
		records[0] = record
		return 0, ix.tree.Insert(key, encodeRecords(records))
	case dberr.Is(findErr, dberr.ErrKeyNotFound):
		return 0, ix.tree.Insert(key, encodeRecords([][]byte{record}))
	default:
		return 0, findErr
	}
}

// Erase removes key entirely, or a single duplicate of it, per flags.
func (ix *Index) Erase(key []byte, dupeIndex int, flags EraseFlags) error {
	existing, err := ix.tree.Find(key)
	if err != nil {
		return err
	}
	if flags&EraseAllDuplicates != 0 || dupeIndex <= 0 {
		return ix.tree.Delete(key)
	}
	records, err := decodeRecords(existing)
	if err != nil {
		return err
	}
	if dupeIndex > len(records) {
		return fmt.Errorf("%w: duplicate index %d out of range (have %d)", dberr.ErrInvParameter, dupeIndex, len(records))
	}
	records = append(records[:dupeIndex-1], records[dupeIndex:]...)
	if len(records) == 0 {
		return ix.tree.Delete(key)
	}
	return ix.tree.Insert(key, encodeRecords(records))
}

// Count returns the number of keys, or the number of individual records
// (including duplicates) when distinct is false.
func (ix *Index) Count(distinct bool) (uint64, error) {
	if distinct {
		return ix.tree.Count()
	}
	var total uint64
	err := ix.tree.Scan(func(_, v []byte) bool {
		records, derr := decodeRecords(v)
		if derr == nil {
			total += uint64(len(records))
		}
		return true
	})
	return total, err
}

// Scan walks every (key, first-record) pair in ascending key order; the
// mixed-mode merge logic in package localdb decides when to call this
// versus draining the overlay (spec.md §4.7).
func (ix *Index) Scan(visit func(key, record []byte) bool) error {
	return ix.tree.Scan(func(k, v []byte) bool {
		records, err := decodeRecords(v)
		if err != nil || len(records) == 0 {
			return true
		}
		return visit(k, records[0])
	})
}

func (ix *Index) CheckIntegrity() error { return ix.tree.CheckIntegrity() }

func (ix *Index) Release() error { return ix.tree.Release() }
