// Package pagestore provides the page-identifier and in-memory page types
// used by the btree stand-in. The page manager, device,
// and mmap layers these types would normally sit under are out of scope
// (spec.md §1) and are not modeled here beyond what internal/btree needs
// to allocate, pin, and flush pages.
package pagestore

import (
	"container/list"
	"sync"
	"time"
)

// PageID identifies a page within a database file.
type PageID uint64

// InvalidPageID marks an unallocated or header page slot.
const InvalidPageID PageID = 0

// LSN is a log sequence number, environment-wide and monotonically
// increasing (spec.md invariant I6).
type LSN uint64

// InvalidLSN is the zero value before any record has been appended.
const InvalidLSN LSN = 0

// Page is an in-memory copy of a disk page plus the bookkeeping the
// buffer pool needs: pin count, dirty bit, and an LRU list handle.
type Page struct {
	id       PageID
	data     []byte
	pinCount uint32
	isDirty  bool
	lsn      LSN

	lruElement *list.Element
	latch      sync.RWMutex
	updatedAt  time.Time
}

// NewPage allocates a zeroed page of the given size.
func NewPage(id PageID, size int) *Page {
	return &Page{id: id, data: make([]byte, size), lsn: InvalidLSN}
}

// Reset clears a page so its frame can be reused for a different PageID.
func (p *Page) Reset() {
	p.id = InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	p.lsn = InvalidLSN
	p.lruElement = nil
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) GetLruElement() *list.Element     { return p.lruElement }
func (p *Page) SetLruElement(e *list.Element)     { p.lruElement = e }
func (p *Page) GetData() []byte                   { return p.data }
func (p *Page) SetData(newData []byte) bool       { copy(p.data, newData); return true }
func (p *Page) GetPageID() PageID                  { return p.id }
func (p *Page) SetPageID(id PageID)                { p.id = id }
func (p *Page) IsDirty() bool                      { return p.isDirty }
func (p *Page) SetDirty(dirty bool)                { p.isDirty = dirty }
func (p *Page) Pin()                               { p.pinCount++ }
func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}
func (p *Page) GetPinCount() uint32          { return p.pinCount }
func (p *Page) SetPinCount(n uint32)         { p.pinCount = n }
func (p *Page) GetLSN() LSN                  { return p.lsn }
func (p *Page) SetLSN(lsn LSN)               { p.lsn = lsn }
func (p *Page) SetUpdatedAt(t time.Time)     { p.updatedAt = t }
func (p *Page) GetUpdatedAt() time.Time      { return p.updatedAt }

// RLock/RUnlock/Lock/Unlock latch the page's in-memory contents; this is
// the physical-concurrency-control layer underneath the environment lock
// localdb holds for the duration of a call (SPEC_FULL.md §5).
func (p *Page) RLock()      { p.latch.RLock() }
func (p *Page) RUnlock()    { p.latch.RUnlock() }
func (p *Page) Lock()       { p.latch.Lock() }
func (p *Page) TryLock() bool { return p.latch.TryLock() }
func (p *Page) Unlock()     { p.latch.Unlock() }
