package localdb

import (
	"github.com/arannya-labs/overlaydb/internal/overlay"
	"github.com/arannya-labs/overlaydb/internal/txn"
)

// overlaySnapshot is one key's visible overlay state as of the start of
// a scan: either a record to surface, or a mark that the key has been
// erased and must be hidden even if the B-tree still has it.
type overlaySnapshot struct {
	key     []byte
	record  []byte
	erased  bool
}

func (db *LocalDatabase) snapshotOverlay(caller *txn.Transaction) map[string]overlaySnapshot {
	out := make(map[string]overlaySnapshot)
	db.overlayIndex.Ascend(func(node *overlay.Node) bool {
		node.Walk(func(op *overlay.Operation) bool {
			switch op.Classify(caller) {
			case overlay.VisInsert:
				out[string(node.Key)] = overlaySnapshot{key: node.Key, record: op.Record}
				return false
			case overlay.VisErase:
				out[string(node.Key)] = overlaySnapshot{key: node.Key, erased: true}
				return false
			default:
				return true
			}
		})
		return true
	})
	return out
}

// Scan implements spec.md §4.7's visitor traversal. When transactions
// are disabled it delegates straight to the B-tree's bulk scan
// (regime 2). When enabled, it merges the B-tree's contents with the
// overlay's visible state (regimes 1/3 collapsed into one merge pass,
// rather than the leaf-by-leaf range-probe spec.md describes — see
// DESIGN.md for why that simplification is in scope here).
func (db *LocalDatabase) Scan(caller *txn.Transaction, visit func(key, record []byte) bool) error {
	db.envLock.Lock()
	defer db.envLock.Unlock()

	if !db.transactionsEnabled() {
		return db.btreeIndex.Scan(visit)
	}

	overlayState := db.snapshotOverlay(caller)
	visited := make(map[string]bool, len(overlayState))
	stopped := false

	err := db.btreeIndex.Scan(func(k, v []byte) bool {
		if snap, ok := overlayState[string(k)]; ok {
			visited[string(k)] = true
			if snap.erased {
				return true
			}
			if !visit(snap.key, snap.record) {
				stopped = true
				return false
			}
			return true
		}
		if !visit(k, v) {
			stopped = true
			return false
		}
		return true
	})
	if err != nil || stopped {
		return err
	}

	db.overlayIndex.Ascend(func(node *overlay.Node) bool {
		if visited[string(node.Key)] {
			return true
		}
		snap, ok := overlayState[string(node.Key)]
		if !ok || snap.erased {
			return true
		}
		return visit(snap.key, snap.record)
	})
	return nil
}

// Count implements spec.md §4.7/§6's count(distinct): the number of
// visible keys (distinct=true) or visible records including duplicates
// flushed into the B-tree (distinct=false). A key whose visible state
// comes from the overlay counts once either way.
func (db *LocalDatabase) Count(caller *txn.Transaction, distinct bool) (uint64, error) {
	db.envLock.Lock()
	defer db.envLock.Unlock()

	if !db.transactionsEnabled() {
		return db.btreeIndex.Count(distinct)
	}

	var n uint64
	overlayState := db.snapshotOverlay(caller)
	visited := make(map[string]bool, len(overlayState))
	var countErr error
	err := db.btreeIndex.Scan(func(k, v []byte) bool {
		if snap, ok := overlayState[string(k)]; ok {
			visited[string(k)] = true
			if !snap.erased {
				n++
			}
			return true
		}
		if distinct {
			n++
			return true
		}
		dupes, cerr := db.btreeIndex.DuplicateCount(k)
		if cerr != nil {
			countErr = cerr
			return false
		}
		n += uint64(dupes)
		return true
	})
	if err == nil {
		err = countErr
	}
	if err != nil {
		return 0, err
	}
	for key, snap := range overlayState {
		if visited[key] || snap.erased {
			continue
		}
		n++
	}
	return n, nil
}
