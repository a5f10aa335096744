package btree

import (
	"fmt"
	"sync"

	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/pagestore"
)

// BufferPoolManager keeps a bounded set of pages pinned in memory,
// fetching from and flushing to the DiskManager as needed. Eviction is a
// simple clock-free "first unpinned frame wins" scan, which is enough to
// exercise the btree without pulling in a full LRU implementation the
// way the page-manager/device layer (out of scope, spec.md §1) would.
type BufferPoolManager struct {
	mu          sync.Mutex
	diskManager *DiskManager
	poolSize    int
	pageSize    int
	frames      []*pagestore.Page
	pageTable   map[pagestore.PageID]int
}

func NewBufferPoolManager(poolSize int, dm *DiskManager) *BufferPoolManager {
	return &BufferPoolManager{
		diskManager: dm,
		poolSize:    poolSize,
		pageSize:    dm.pageSize,
		frames:      make([]*pagestore.Page, poolSize),
		pageTable:   make(map[pagestore.PageID]int),
	}
}

func (bpm *BufferPoolManager) GetPageSize() int { return bpm.pageSize }

func (bpm *BufferPoolManager) FetchPage(id pagestore.PageID) (*pagestore.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameIdx, ok := bpm.pageTable[id]; ok {
		bpm.frames[frameIdx].Pin()
		return bpm.frames[frameIdx], nil
	}

	frameIdx, err := bpm.victim()
	if err != nil {
		return nil, err
	}

	page := pagestore.NewPage(id, bpm.pageSize)
	if err := bpm.diskManager.ReadPage(id, page.GetData()); err != nil {
		return nil, err
	}
	page.Pin()
	bpm.frames[frameIdx] = page
	bpm.pageTable[id] = frameIdx
	return page, nil
}

func (bpm *BufferPoolManager) victim() (int, error) {
	for i, f := range bpm.frames {
		if f == nil {
			return i, nil
		}
	}
	for i, f := range bpm.frames {
		if f.GetPinCount() == 0 {
			if f.IsDirty() {
				if err := bpm.diskManager.WritePage(f.GetPageID(), f.GetData()); err != nil {
					return 0, err
				}
			}
			delete(bpm.pageTable, f.GetPageID())
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w", dberr.ErrBufferPoolFull)
}

func (bpm *BufferPoolManager) UnpinPage(id pagestore.PageID, dirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	idx, ok := bpm.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: page %d", dberr.ErrPageNotFound, id)
	}
	if dirty {
		bpm.frames[idx].SetDirty(true)
	}
	bpm.frames[idx].Unpin()
	return nil
}

func (bpm *BufferPoolManager) NewPage() (*pagestore.Page, pagestore.PageID, error) {
	id, err := bpm.diskManager.AllocatePage()
	if err != nil {
		return nil, 0, err
	}
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, err := bpm.victim()
	if err != nil {
		return nil, 0, err
	}
	page := pagestore.NewPage(id, bpm.pageSize)
	page.Pin()
	bpm.frames[frameIdx] = page
	bpm.pageTable[id] = frameIdx
	return page, id, nil
}

// FlushAll writes every dirty frame back to disk. Called from
// BtreeIndex.Release (spec.md §6 "release()").
func (bpm *BufferPoolManager) FlushAll() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	for _, f := range bpm.frames {
		if f != nil && f.IsDirty() {
			if err := bpm.diskManager.WritePage(f.GetPageID(), f.GetData()); err != nil {
				return err
			}
			f.SetDirty(false)
		}
	}
	return nil
}
