// Package localdb is the core of the overlay engine: LocalDatabase, the
// arbitration layer between the transactional index, the B-tree,
// cursors, the journal, and the transaction manager (spec.md §2
// component h). This is the 50%-of-budget component the rest of the
// module exists to support.
package localdb

import (
	"fmt"

	"github.com/arannya-labs/overlaydb/internal/btree"
	"github.com/arannya-labs/overlaydb/internal/dberr"
)

// KeyType is the declared type of a database's keys (spec.md §3 "Key").
type KeyType int

const (
	KeyTypeVariable KeyType = iota
	KeyTypeUint8
	KeyTypeUint16
	KeyTypeUint32
	KeyTypeUint64
)

func (t KeyType) fixedSize() int {
	switch t {
	case KeyTypeUint8:
		return 1
	case KeyTypeUint16:
		return 2
	case KeyTypeUint32:
		return 4
	case KeyTypeUint64:
		return 8
	default:
		return 0
	}
}

// EnvFlags are the environment-level toggles spec.md §6 lists as
// "observed here": EnableTransactions, EnableRecovery, AutoRecovery,
// plus the persistence-stripped set (InMemory, ReadOnly, ...).
type EnvFlags uint32

const (
	EnableTransactions EnvFlags = 1 << iota
	EnableRecovery
	AutoRecovery
	InMemory
	ReadOnly
	CacheUnlimited
	DisableMmap
	EnableFsync
	RecordNumber32
	RecordNumber64
)

// persistentMask is the set of flags spec.md §6 says must be stripped
// before being stored in the persistent btree descriptor: "InMemory,
// ReadOnly, CacheUnlimited, DisableMmap, EnableFsync: stripped before
// being stored persistently."
const persistentMask = InMemory | ReadOnly | CacheUnlimited | DisableMmap | EnableFsync

func (f EnvFlags) stripTransient() EnvFlags { return f &^ persistentMask }

// Parameters is the create/open descriptor and the answer to
// get_parameters (spec.md §6 "Configuration options").
type Parameters struct {
	DatabaseName    string
	KeySize         int // 0 == variable-length
	KeyType         KeyType
	RecordSize      int // 0 == variable-length
	Flags           EnvFlags
	Path            string
	JournalDir      string
	PageSize        int
	Degree          int
	BufferPoolPages int
}

// InlineRecordThreshold bounds the "small record" heuristic of spec.md
// §6's sizing policy ("Sizing policy at create time").
const InlineRecordThreshold = 64

// MaxKeysPerPage computes the root-leaf fan-out get_parameters reports
// for MaxKeysPerPage, using the same arithmetic as the create-time
// sizing check.
func (p Parameters) MaxKeysPerPage() int {
	keySize := p.effectiveKeySize()
	if keySize == 0 {
		return 0
	}
	return p.pageSize() / (keySize + 8)
}

func (p Parameters) effectiveKeySize() int {
	if fixed := p.KeyType.fixedSize(); fixed != 0 {
		return fixed
	}
	return p.KeySize
}

func (p Parameters) pageSize() int {
	if p.PageSize == 0 {
		return btree.DefaultPageSize
	}
	return p.PageSize
}

// forceRecordsInline applies spec.md §6's inline-record heuristic: "If a
// record is <=8 bytes, or <=InlineRecordThreshold and the page can hold
// >=500 key+record pairs, set ForceRecordsInline." Create does not call
// it, and no ForceRecordsInline flag is stored.
func (p Parameters) forceRecordsInline() bool {
	if p.RecordSize == 0 {
		return false
	}
	if p.RecordSize <= 8 {
		return true
	}
	if p.RecordSize > InlineRecordThreshold {
		return false
	}
	keySize := p.effectiveKeySize()
	if keySize == 0 {
		keySize = 16
	}
	return p.pageSize()/(keySize+p.RecordSize) >= 500
}

// validateSizingPolicy applies spec.md §6's create-time checks: fixed
// key types force key_size to 1/2/4/8, and a page must fit at least 10
// fixed keys or creation fails with InvKeySize.
func (p Parameters) validateSizingPolicy() error {
	keySize := p.effectiveKeySize()
	if keySize == 0 {
		return nil // variable-length keys are not subject to the fixed-width check
	}
	if p.pageSize()/(keySize+8) < 10 {
		return fmt.Errorf("%w: page size %d cannot hold 10 fixed keys of size %d",
			dberr.ErrInvKeySize, p.pageSize(), keySize)
	}
	return nil
}

func (p Parameters) degree() int {
	if p.Degree > 0 {
		return p.Degree
	}
	return 64
}

func (p Parameters) bufferPoolPages() int {
	if p.BufferPoolPages > 0 {
		return p.BufferPoolPages
	}
	return 128
}
