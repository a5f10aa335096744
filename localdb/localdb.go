package localdb

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/arannya-labs/overlaydb/internal/btree"
	"github.com/arannya-labs/overlaydb/internal/btreeindex"
	"github.com/arannya-labs/overlaydb/internal/cursor"
	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/journal"
	"github.com/arannya-labs/overlaydb/internal/overlay"
	"github.com/arannya-labs/overlaydb/internal/txn"
	"github.com/arannya-labs/overlaydb/pkg/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// LocalDatabase is the arbitration layer between the transactional
// overlay, the B-tree, cursors, the journal, and the transaction
// manager (spec.md §2 component h). Every public entry point serializes
// on envLock, which stands in for the environment-wide lock spec.md §5
// says is "acquired outside the core" — here LocalDatabase owns it
// directly since nothing outside this package is multi-database-aware.
type LocalDatabase struct {
	params Parameters

	envLock sync.Mutex

	overlayIndex *overlay.Index
	btreeIndex   *btreeindex.Index
	journal      *journal.Journal
	txnMgr       *txn.Manager
	cursors      *cursor.Registry

	recordCounter uint64

	log     *zap.Logger
	metrics *metrics.Instruments

	closed bool
}

// Deps lets callers supply a pre-built meter (e.g. from pkg/telemetry)
// and logger; both default to no-ops when omitted so tests don't need
// an OTel collector running.
type Deps struct {
	Logger *zap.Logger
	Meter  metric.Meter
}

func compareKeysFor(p Parameters) btree.Order {
	return btree.DefaultOrder
}

// Create initializes a brand-new database file plus its journal,
// applying the sizing policy of spec.md §6 before anything is touched.
func Create(params Parameters, deps Deps) (*LocalDatabase, error) {
	if err := params.validateSizingPolicy(); err != nil {
		return nil, err
	}
	params.Flags = params.Flags.stripTransient()

	bix, err := btreeindex.Create(btreeindex.Config{
		Path:      params.Path,
		Degree:    params.degree(),
		PoolPages: params.bufferPoolPages(),
		PageSize:  params.pageSize(),
		Order:     compareKeysFor(params),
	}, params.effectiveKeySize(), params.RecordSize)
	if err != nil {
		return nil, err
	}
	return newLocalDatabase(params, bix, deps)
}

// Open reopens an existing database file and journal directory.
func Open(params Parameters, deps Deps) (*LocalDatabase, error) {
	bix, err := btreeindex.Open(btreeindex.Config{
		Path:      params.Path,
		PoolPages: params.bufferPoolPages(),
		PageSize:  params.pageSize(),
		Order:     compareKeysFor(params),
	})
	if err != nil {
		return nil, err
	}
	return newLocalDatabase(params, bix, deps)
}

func newLocalDatabase(params Parameters, bix *btreeindex.Index, deps Deps) (*LocalDatabase, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var instruments *metrics.Instruments
	if deps.Meter != nil {
		var err error
		instruments, err = metrics.New(deps.Meter)
		if err != nil {
			return nil, fmt.Errorf("building metric instruments: %w", err)
		}
	}

	var jr *journal.Journal
	if params.Flags&EnableRecovery != 0 {
		dir := params.JournalDir
		if dir == "" {
			dir = params.Path + ".wal"
		}
		var err error
		jr, err = journal.Open(journal.Config{Dir: dir}, log)
		if err != nil {
			return nil, err
		}
	}

	db := &LocalDatabase{
		params:       params,
		overlayIndex: overlay.NewIndex(overlay.Comparator(compareKeysFor(params))),
		btreeIndex:   bix,
		journal:      jr,
		txnMgr:       txn.NewManager(),
		cursors:      cursor.NewRegistry(),
		log:          log,
		metrics:      instruments,
	}
	if err := db.initRecordCounter(); err != nil {
		return nil, err
	}
	return db, nil
}

// initRecordCounter lazy-loads the last used record number on a
// RecordNumber32/64 database by scanning the persisted B-tree for its
// greatest key (_examples/original_source/src/4db/db_local.cc:683-685
// "lazy load the last used record number"). A fresh Create sees an
// empty B-tree and leaves the counter at its zero value.
func (db *LocalDatabase) initRecordCounter() error {
	width := 0
	switch {
	case db.params.Flags&RecordNumber64 != 0:
		width = 8
	case db.params.Flags&RecordNumber32 != 0:
		width = 4
	default:
		return nil
	}

	var maxRecno uint64
	err := db.btreeIndex.Scan(func(key, _ []byte) bool {
		if len(key) != width {
			return true
		}
		var v uint64
		if width == 8 {
			v = binary.BigEndian.Uint64(key)
		} else {
			v = uint64(binary.BigEndian.Uint32(key))
		}
		if v > maxRecno {
			maxRecno = v
		}
		return true
	})
	if err != nil {
		return err
	}
	db.recordCounter = maxRecno
	return nil
}

func (db *LocalDatabase) transactionsEnabled() bool { return db.params.Flags&EnableTransactions != 0 }
func (db *LocalDatabase) recoveryEnabled() bool     { return db.params.Flags&EnableRecovery != 0 }

// Parameters answers get_parameters (spec.md §6).
func (db *LocalDatabase) Parameters() Parameters { return db.params }

// CheckIntegrity delegates to the B-tree (spec.md §6 "check_integrity").
func (db *LocalDatabase) CheckIntegrity() error {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	return db.btreeIndex.CheckIntegrity()
}

// Close enforces I7/P9: a database cannot be closed while any
// transaction holds an un-committed/un-aborted op.
func (db *LocalDatabase) Close() error {
	db.envLock.Lock()
	defer db.envLock.Unlock()
	if db.closed {
		return nil
	}
	if n := db.txnMgr.OpenCount(); n > 0 {
		return fmt.Errorf("%w: %d transaction(s) still open", dberr.ErrTxnStillOpen, n)
	}
	if db.journal != nil {
		if err := db.journal.Close(); err != nil {
			return err
		}
	}
	if err := db.btreeIndex.Release(); err != nil {
		return err
	}
	db.closed = true
	return nil
}
