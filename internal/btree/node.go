package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/arannya-labs/overlaydb/internal/dberr"
	"github.com/arannya-labs/overlaydb/internal/pagestore"
)

// node is an in-memory B-tree node. Keys and values are stored as raw
// bytes: the comparator (Order) and the caller's own encoding decide
// what they mean. Node layout/compression is out of scope (spec.md §1);
// this is deliberately the simplest thing that can hold a sorted page.
type node struct {
	pageID       pagestore.PageID
	isLeaf       bool
	keys         [][]byte
	values       [][]byte
	childPageIDs []pagestore.PageID
	tree         *BTree
}

func (n *node) serialize(page *pagestore.Page) error {
	pageSize := n.tree.bpm.GetPageSize()
	buf := new(bytes.Buffer)

	var flags byte
	if n.isLeaf {
		flags |= 1
	}
	binary.Write(buf, binary.LittleEndian, flags)
	binary.Write(buf, binary.LittleEndian, uint16(len(n.keys)))

	for _, k := range n.keys {
		binary.Write(buf, binary.LittleEndian, uint16(len(k)))
		buf.Write(k)
	}
	for _, v := range n.values {
		binary.Write(buf, binary.LittleEndian, uint32(len(v)))
		buf.Write(v)
	}
	if !n.isLeaf {
		binary.Write(buf, binary.LittleEndian, uint16(len(n.childPageIDs)))
		for _, id := range n.childPageIDs {
			binary.Write(buf, binary.LittleEndian, uint64(id))
		}
	}

	data := buf.Bytes()
	if len(data)+checksumSize > pageSize {
		return fmt.Errorf("%w: node data (%d bytes) exceeds page size (%d)",
			dberr.ErrSerialization, len(data), pageSize)
	}

	pageData := page.GetData()
	copy(pageData, data)
	for i := len(data); i < pageSize-checksumSize; i++ {
		pageData[i] = 0
	}
	checksum := crc32.ChecksumIEEE(pageData[:pageSize-checksumSize])
	binary.LittleEndian.PutUint32(pageData[pageSize-checksumSize:], checksum)
	page.SetDirty(true)
	return nil
}

func (n *node) deserialize(page *pagestore.Page) error {
	pageSize := n.tree.bpm.GetPageSize()
	pageData := page.GetData()

	stored := binary.LittleEndian.Uint32(pageData[pageSize-checksumSize:])
	calculated := crc32.ChecksumIEEE(pageData[:pageSize-checksumSize])
	if stored != calculated {
		return fmt.Errorf("%w: page %d", dberr.ErrChecksumMismatch, page.GetPageID())
	}

	r := bytes.NewReader(pageData[:pageSize-checksumSize])
	var flags byte
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return fmt.Errorf("%w: reading flags: %v", dberr.ErrDeserialization, err)
	}
	n.isLeaf = flags&1 != 0

	var numKeys uint16
	if err := binary.Read(r, binary.LittleEndian, &numKeys); err != nil {
		return fmt.Errorf("%w: reading numKeys: %v", dberr.ErrDeserialization, err)
	}
	n.keys = make([][]byte, numKeys)
	n.values = make([][]byte, numKeys)

	for i := range n.keys {
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return fmt.Errorf("%w: reading key length: %v", dberr.ErrDeserialization, err)
		}
		k := make([]byte, l)
		if _, err := io.ReadFull(r, k); err != nil {
			return fmt.Errorf("%w: reading key: %v", dberr.ErrDeserialization, err)
		}
		n.keys[i] = k
	}
	for i := range n.values {
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return fmt.Errorf("%w: reading value length: %v", dberr.ErrDeserialization, err)
		}
		v := make([]byte, l)
		if _, err := io.ReadFull(r, v); err != nil {
			return fmt.Errorf("%w: reading value: %v", dberr.ErrDeserialization, err)
		}
		n.values[i] = v
	}

	if !n.isLeaf {
		var numChildren uint16
		if err := binary.Read(r, binary.LittleEndian, &numChildren); err != nil {
			return fmt.Errorf("%w: reading numChildren: %v", dberr.ErrDeserialization, err)
		}
		n.childPageIDs = make([]pagestore.PageID, numChildren)
		for i := range n.childPageIDs {
			var id uint64
			if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
				return fmt.Errorf("%w: reading childPageID: %v", dberr.ErrDeserialization, err)
			}
			n.childPageIDs[i] = pagestore.PageID(id)
		}
	} else {
		n.childPageIDs = nil
	}

	n.pageID = page.GetPageID()
	return nil
}
