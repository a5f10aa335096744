// Package dberr defines the sentinel error taxonomy shared by every layer
// of the overlay engine, from the btree stand-in up through localdb.
package dberr

import "errors"

// Errors named directly by the specification's error taxonomy (see
// SPEC_FULL.md §7). Callers compare with errors.Is, never by string.
var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrTxnConflict    = errors.New("transaction conflict")
	ErrTxnStillOpen   = errors.New("transaction still open")
	ErrCursorIsNil    = errors.New("cursor is nil")
	ErrInvKeySize     = errors.New("invalid key size")
	ErrInvRecordSize  = errors.New("invalid record size")
	ErrInvParameter   = errors.New("invalid parameter")
)

// Opaque I/O and internal-consistency failures. These are fatal: callers
// report them unchanged and make no attempt to self-heal (SPEC_FULL.md §7).
var (
	ErrIO                = errors.New("i/o error")
	ErrChecksumMismatch  = errors.New("page checksum mismatch, data corruption suspected")
	ErrSerialization     = errors.New("serialization error")
	ErrDeserialization    = errors.New("deserialization error")
	ErrPageNotFound      = errors.New("page not found in buffer pool")
	ErrBufferPoolFull    = errors.New("buffer pool is full and no pages can be evicted")
	ErrJournalAppend     = errors.New("journal append failed")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Is is a thin errors.Is wrapper so call sites read "dberr.Is(err, ...)"
// next to the sentinels it's comparing against, without a separate
// "errors" import at every call site.
func Is(err, target error) bool { return errors.Is(err, target) }
