package btree

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/pagestore"
)

// DefaultPageSize is used when a caller does not pick one explicitly.
const DefaultPageSize = 4096

const (
	FileHeaderPageID pagestore.PageID = 0
	checksumSize                     = 4
	dbFileHeaderSize                 = 64
)

// DBMagic identifies an overlaydb btree file on disk.
const DBMagic uint32 = 0x0ae4fdb0

// DBFileHeader is the fixed-size header stored at page 0.
type DBFileHeader struct {
	Magic      uint32
	Version    uint32
	PageSize   uint32
	RootPageID pagestore.PageID
	Degree     uint32
}

// DiskManager performs the raw file I/O for a btree file. It is the only
// piece of this package that touches os.File directly; everything above
// it works in terms of Page/PageID.
type DiskManager struct {
	filePath string
	file     *os.File
	pageSize int
	numPages uint64
	mu       sync.Mutex
}

func NewDiskManager(filePath string, pageSize int) (*DiskManager, error) {
	return &DiskManager{filePath: filePath, pageSize: pageSize}, nil
}

// OpenOrCreateFile opens an existing btree file or, if create is true,
// initializes a new one with the given degree.
func (dm *DiskManager) OpenOrCreateFile(create bool, degree int) (*DBFileHeader, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(dm.filePath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening btree file: %v", dberr.ErrIO, err)
	}
	dm.file = f

	header := &DBFileHeader{}
	if create {
		header.Magic = DBMagic
		header.Version = 1
		header.PageSize = uint32(dm.pageSize)
		header.RootPageID = pagestore.InvalidPageID
		header.Degree = uint32(degree)
		if err := dm.writeHeader(header); err != nil {
			return nil, err
		}
		dm.numPages = 1
		return header, nil
	}

	if err := dm.readHeader(header); err != nil {
		return nil, err
	}
	if header.Magic != DBMagic {
		return nil, fmt.Errorf("%w: bad magic in btree file %s", dberr.ErrInvariantViolation, dm.filePath)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat btree file: %v", dberr.ErrIO, err)
	}
	dm.numPages = uint64(info.Size()) / uint64(dm.pageSize)
	return header, nil
}

func (dm *DiskManager) writeHeader(h *DBFileHeader) error {
	buf := make([]byte, dbFileHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint32(buf[8:], h.PageSize)
	binary.LittleEndian.PutUint64(buf[12:], uint64(h.RootPageID))
	binary.LittleEndian.PutUint32(buf[20:], h.Degree)
	if _, err := dm.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: writing btree header: %v", dberr.ErrIO, err)
	}
	return nil
}

func (dm *DiskManager) readHeader(h *DBFileHeader) error {
	buf := make([]byte, dbFileHeaderSize)
	if _, err := dm.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: reading btree header: %v", dberr.ErrIO, err)
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:])
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	h.PageSize = binary.LittleEndian.Uint32(buf[8:])
	h.RootPageID = pagestore.PageID(binary.LittleEndian.Uint64(buf[12:]))
	h.Degree = binary.LittleEndian.Uint32(buf[20:])
	return nil
}

func (dm *DiskManager) UpdateRootPageIDInHeader(rootPageID pagestore.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(rootPageID))
	if _, err := dm.file.WriteAt(buf, 12); err != nil {
		return fmt.Errorf("%w: updating root page id: %v", dberr.ErrIO, err)
	}
	return nil
}

func (dm *DiskManager) ReadPage(pageID pagestore.PageID, dst []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.ReadAt(dst, offset); err != nil {
		return fmt.Errorf("%w: reading page %d: %v", dberr.ErrIO, pageID, err)
	}
	return nil
}

func (dm *DiskManager) WritePage(pageID pagestore.PageID, data []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("%w: writing page %d: %v", dberr.ErrIO, pageID, err)
	}
	return nil
}

func (dm *DiskManager) AllocatePage() (pagestore.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	id := pagestore.PageID(dm.numPages)
	dm.numPages++
	return id, nil
}

func (dm *DiskManager) Sync() error {
	if dm.file == nil {
		return nil
	}
	return dm.file.Sync()
}

func (dm *DiskManager) Close() error {
	if dm.file == nil {
		return nil
	}
	return dm.file.Close()
}
