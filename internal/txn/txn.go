// Package txn implements the TxnManager external collaborator of
// spec.md §6 ("begin/commit/abort; flush_committed_txns"), expanded
// from the teacher's bare Transaction struct into something that can
// actually hand out monotonically increasing LSNs and track commit
// state for the overlay's visibility rules (spec.md §4.1 I6).
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arannya-labs/overlaydb/internal/dberr"
)

// State is the lifecycle of a Transaction, matching the visibility
// rules' three-way split: active / committed / aborted (spec.md §4.1).
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ID identifies a transaction, unique for the lifetime of an Env.
type ID uint64

// Transaction is a single unit of work. Flags is a bitmask; the only
// bit the core cares about is Temporary (spec.md §6 "TxnTemporary").
type Transaction struct {
	ID      ID
	Parent  ID
	State   State
	Flags   Flags
	mu      sync.Mutex
	flushed bool
}

// Flags mirrors the subset of environment/transaction flags spec.md §6
// lists that alter core semantics.
type Flags uint32

const (
	Temporary Flags = 1 << iota
)

func (t *Transaction) IsTemporary() bool { return t.Flags&Temporary != 0 }

func (t *Transaction) snapshotState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

// Manager hands out transactions and LSNs. It owns the single
// environment-wide LSN counter invariant I6 requires: "LSNs are
// strictly increasing across the environment."
type Manager struct {
	mu      sync.Mutex
	nextID  uint64
	lastLSN uint64
	byID    map[ID]*Transaction
	// committed holds txns that have committed but not yet been fully
	// flushed to the B-tree; FlushCommittedTxns drains it.
	committed []*Transaction
}

func NewManager() *Manager {
	return &Manager{byID: make(map[ID]*Transaction)}
}

// Begin starts a new transaction, optionally nested under parent (0 if
// none). flags may include Temporary for wrapper-created transactions
// (spec.md §4.8, §4.9).
func (m *Manager) Begin(parent ID, flags Flags) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &Transaction{ID: ID(m.nextID), Parent: parent, State: StateActive, Flags: flags}
	m.byID[t.ID] = t
	return t
}

// NextLSN allocates the next LSN in strictly increasing order (I6).
// Every TransactionOperation append and every journal record takes its
// LSN from here, so a single counter is the whole of the invariant.
func (m *Manager) NextLSN() uint64 {
	return atomic.AddUint64(&m.lastLSN, 1)
}

// Commit marks txn committed and queues it for flush-to-btree.
func (m *Manager) Commit(t *Transaction) error {
	t.mu.Lock()
	if t.State != StateActive {
		t.mu.Unlock()
		return fmt.Errorf("%w: txn %d is %s, not active", dberr.ErrInvParameter, t.ID, t.State)
	}
	t.State = StateCommitted
	t.mu.Unlock()

	m.mu.Lock()
	m.committed = append(m.committed, t)
	m.mu.Unlock()
	return nil
}

// Abort marks txn aborted. Per spec.md §5 ("Cancellation & timeouts"),
// this drops every op belonging to the transaction from visibility
// instantly; callers never re-walk the op chain to edit it, they just
// honor State == StateAborted in the visibility rules.
func (m *Manager) Abort(t *Transaction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State != StateActive {
		return fmt.Errorf("%w: txn %d is %s, not active", dberr.ErrInvParameter, t.ID, t.State)
	}
	t.State = StateAborted
	return nil
}

// FlushCommittedTxns returns and clears the set of transactions that
// have committed but whose ops have not yet been handed to
// flush_txn_operation. The overlay layer is responsible for calling
// back in to mark each op IsFlushed as it actually materializes them.
func (m *Manager) FlushCommittedTxns() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.committed
	m.committed = nil
	return out
}

// Get looks up a still-tracked transaction by id.
func (m *Manager) Get(id ID) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	return t, ok
}

// Forget drops a transaction from the manager once its node has no more
// live ops referencing it (spec.md §3 "Lifecycle").
func (m *Manager) Forget(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

// OpenCount reports how many transactions are still active; used by
// LocalDatabase.Close to enforce I7 / P9 ("Close safety").
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.byID {
		if t.snapshotState() == StateActive {
			n++
		}
	}
	return n
}
