package btreeindex

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arannya-labs/overlaydb/internal/dberr"
)

// Every B-tree key stores its records as a length-prefixed list rather
// than a single value, so Index.Insert's duplicate flags have somewhere
// to land (spec.md §6 "insert variants").
// A non-duplicate key stores exactly one record; decodeRecords on it
// yields a one-element slice, so both paths share the same wire format.

func encodeRecords(records [][]byte) []byte {
	buf := make([]byte, 0, 4+len(records)*8)
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(records)))
	buf = append(buf, hdr[:]...)
	for _, r := range records {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(r)))
		buf = append(buf, l[:]...)
		buf = append(buf, r...)
	}
	return buf
}

func decodeRecords(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: duplicate-list header truncated", dberr.ErrDeserialization)
	}
	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	records := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: duplicate-list entry %d truncated: %v", dberr.ErrDeserialization, i, io.ErrUnexpectedEOF)
		}
		l := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < l {
			return nil, fmt.Errorf("%w: duplicate-list entry %d short", dberr.ErrDeserialization, i)
		}
		rec := append([]byte(nil), data[:l]...)
		data = data[l:]
		records = append(records, rec)
	}
	return records, nil
}

// insertAt splices newRecord into records per the DuplicateInsert* flag,
// returning the new slice and the 1-based position the record landed at
// (for increment_dupe_index bookkeeping, spec.md §4.6).
func insertAt(records [][]byte, newRecord []byte, flags InsertFlags) ([][]byte, int) {
	switch {
	case flags&DuplicateInsertFirst != 0:
		out := append([][]byte{newRecord}, records...)
		return out, 1
	case flags&DuplicateInsertBefore != 0 && len(records) > 0:
		out := append([][]byte{}, records[:0]...)
		out = append(out, records...)
		out = append([][]byte{newRecord}, out...)
		return out, 1
	case flags&DuplicateInsertAfter != 0 && len(records) > 0:
		out := make([][]byte, 0, len(records)+1)
		out = append(out, records[0])
		out = append(out, newRecord)
		out = append(out, records[1:]...)
		return out, 2
	default: // DuplicateInsertLast or unset: append
		out := append(append([][]byte{}, records...), newRecord)
		return out, len(out)
	}
}
