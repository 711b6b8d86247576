package storage

import (
	"encoding/binary"

	"github.com/kernaldb/kernel/internal/errs"
)

// TablePage is a slotted-page view over a page buffer: tuple data grows
// upward from a fixed offset; a slot directory grows downward from the end
// of the page. Grounded on the teacher's pager/slotted_page.go layout,
// generalized to the spec's header fields (free-space pointer, tuple
// count, deleted-tuple count) and 32-bit tuple headers with a high-bit
// deleted flag (spec §3 "Table Page").
//
// Layout after the common 32-byte page header:
//
//	[32:36] FreeSpacePtr  (uint32 LE) — offset where the next tuple is written
//	[36:40] TupleCount    (uint32 LE) — live + deleted slots
//	[40:44] DeletedCount  (uint32 LE)
//	[44:48] NextPageID    (uint32 LE) — singly-linked heap chain
//	tuple data starts at offset 48 and grows upward; the slot directory
//	starts at the end of the page and grows downward (slot i occupies the
//	4 bytes ending 4*i bytes before the page end); each slot holds the
//	in-page offset of that tuple (0 means "never used" and is distinct
//	from a tombstone).
const (
	tpFreeSpacePtrOff = PageHeaderSize      // 32
	tpTupleCountOff   = tpFreeSpacePtrOff + 4 // 36
	tpDeletedCountOff = tpTupleCountOff + 4   // 40
	tpNextPageOff     = tpDeletedCountOff + 4 // 44
	tpSlotDirOff      = tpNextPageOff + 4     // 48: first byte of tuple data
	tpSlotSize        = 4

	tupleDeletedBit uint32 = 1 << 31
	tupleSizeMask   uint32 = tupleDeletedBit - 1
)

// InitTablePage formats buf as an empty table heap page.
func InitTablePage(buf []byte, id uint32) {
	MarshalHeader(PageHeader{Type: PageTypeTableHeap}, buf)
	binary.LittleEndian.PutUint32(buf[4:8], id)
	binary.LittleEndian.PutUint32(buf[tpFreeSpacePtrOff:], tpSlotDirOff)
	binary.LittleEndian.PutUint32(buf[tpTupleCountOff:], 0)
	binary.LittleEndian.PutUint32(buf[tpDeletedCountOff:], 0)
	binary.LittleEndian.PutUint32(buf[tpNextPageOff:], uint32(InvalidPageID))
}

// TablePage wraps a page buffer as a slotted tuple page.
type TablePage struct {
	buf []byte
}

func WrapTablePage(buf []byte) *TablePage { return &TablePage{buf: buf} }

func (tp *TablePage) freeSpacePtr() uint32 { return binary.LittleEndian.Uint32(tp.buf[tpFreeSpacePtrOff:]) }
func (tp *TablePage) setFreeSpacePtr(v uint32) {
	binary.LittleEndian.PutUint32(tp.buf[tpFreeSpacePtrOff:], v)
}

func (tp *TablePage) TupleCount() uint32 { return binary.LittleEndian.Uint32(tp.buf[tpTupleCountOff:]) }
func (tp *TablePage) setTupleCount(v uint32) {
	binary.LittleEndian.PutUint32(tp.buf[tpTupleCountOff:], v)
}

func (tp *TablePage) DeletedCount() uint32 {
	return binary.LittleEndian.Uint32(tp.buf[tpDeletedCountOff:])
}
func (tp *TablePage) setDeletedCount(v uint32) {
	binary.LittleEndian.PutUint32(tp.buf[tpDeletedCountOff:], v)
}

func (tp *TablePage) NextPageID() uint32 { return binary.LittleEndian.Uint32(tp.buf[tpNextPageOff:]) }
func (tp *TablePage) SetNextPageID(id uint32) {
	binary.LittleEndian.PutUint32(tp.buf[tpNextPageOff:], id)
}

func (tp *TablePage) slotOffset(slot uint32) int { return len(tp.buf) - (int(slot)+1)*tpSlotSize }

func (tp *TablePage) getSlot(slot uint32) uint32 {
	return binary.LittleEndian.Uint32(tp.buf[tp.slotOffset(slot):])
}
func (tp *TablePage) setSlot(slot uint32, offset uint32) {
	binary.LittleEndian.PutUint32(tp.buf[tp.slotOffset(slot):], offset)
}

func (tp *TablePage) slotDirEnd() int {
	return len(tp.buf) - int(tp.TupleCount())*tpSlotSize
}

// FreeSpace returns bytes available for a new tuple, accounting for the
// slot directory entry a new insert would also need.
func (tp *TablePage) FreeSpace() int {
	return tp.slotDirEnd() - int(tp.freeSpacePtr()) - tpSlotSize
}

// IsDeleted reports whether slot is a tombstone.
func (tp *TablePage) IsDeleted(slot uint32) bool {
	off := tp.getSlot(slot)
	if off == 0 {
		return true
	}
	hdr := binary.LittleEndian.Uint32(tp.buf[off:])
	return hdr&tupleDeletedBit != 0
}

// GetTuple returns the raw tuple bytes at slot, or an error if deleted.
func (tp *TablePage) GetTuple(slot uint32) ([]byte, error) {
	if slot >= tp.TupleCount() {
		return nil, errs.New(errs.Internal, "slot %d out of range (count=%d)", slot, tp.TupleCount())
	}
	if tp.IsDeleted(slot) {
		return nil, errs.New(errs.Internal, "slot %d is deleted", slot)
	}
	off := tp.getSlot(slot)
	size := binary.LittleEndian.Uint32(tp.buf[off:]) & tupleSizeMask
	start := off + 4
	return tp.buf[start : start+size], nil
}

// InsertTuple appends data as a new tuple in a fresh slot; tombstoned
// slots are never reused. Returns the slot index. Free-space check happens first so a
// failed insert never mutates the page (spec §8 boundary behavior).
func (tp *TablePage) InsertTuple(data []byte) (uint32, error) {
	needed := 4 + len(data)
	if tp.FreeSpace() < needed {
		return 0, errs.New(errs.ResourceExhausted, "table page full: need %d, have %d", needed, tp.FreeSpace())
	}
	ptr := tp.freeSpacePtr()
	hdr := uint32(len(data)) & tupleSizeMask
	binary.LittleEndian.PutUint32(tp.buf[ptr:], hdr)
	copy(tp.buf[ptr+4:], data)
	tp.setFreeSpacePtr(ptr + uint32(needed))

	slot := tp.TupleCount()
	tp.setSlot(slot, ptr)
	tp.setTupleCount(slot + 1)
	return slot, nil
}

// UpdateTuple overwrites the tuple at slot in place if newData fits within
// the slot's existing capacity; otherwise it tombstones the slot and
// appends a new one, returning (newSlot, true). When it updates in place
// it returns (slot, false). This implements the spec §9 "Update RID
// stability" decision: in-place when it fits, new slot otherwise.
func (tp *TablePage) UpdateTuple(slot uint32, newData []byte) (uint32, bool, error) {
	if slot >= tp.TupleCount() {
		return 0, false, errs.New(errs.Internal, "slot %d out of range", slot)
	}
	off := tp.getSlot(slot)
	// A slot's capacity runs to the next tuple in the page (tuples are
	// appended in slot order), so shrinking a tuple in place never reduces
	// the room available to a later in-place write such as an abort's restore.
	capEnd := tp.freeSpacePtr()
	if slot+1 < tp.TupleCount() {
		capEnd = tp.getSlot(slot + 1)
	}
	if len(newData) <= int(capEnd)-int(off)-4 {
		hdr := uint32(len(newData)) & tupleSizeMask
		binary.LittleEndian.PutUint32(tp.buf[off:], hdr)
		copy(tp.buf[off+4:], newData)
		for i := int(off) + 4 + len(newData); i < int(capEnd); i++ {
			tp.buf[i] = 0
		}
		return slot, false, nil
	}
	if err := tp.MarkDelete(slot); err != nil {
		return 0, false, err
	}
	newSlot, err := tp.InsertTuple(newData)
	if err != nil {
		return 0, false, err
	}
	return newSlot, true, nil
}

// MarkDelete tombstones slot without reclaiming its space (spec §4.5).
func (tp *TablePage) MarkDelete(slot uint32) error {
	if slot >= tp.TupleCount() {
		return errs.New(errs.Internal, "slot %d out of range", slot)
	}
	off := tp.getSlot(slot)
	hdr := binary.LittleEndian.Uint32(tp.buf[off:])
	if hdr&tupleDeletedBit != 0 {
		return nil
	}
	binary.LittleEndian.PutUint32(tp.buf[off:], hdr|tupleDeletedBit)
	tp.setDeletedCount(tp.DeletedCount() + 1)
	return nil
}

// RollbackDelete clears a tombstone, used to undo a DELETE on abort.
func (tp *TablePage) RollbackDelete(slot uint32) error {
	if slot >= tp.TupleCount() {
		return errs.New(errs.Internal, "slot %d out of range", slot)
	}
	off := tp.getSlot(slot)
	hdr := binary.LittleEndian.Uint32(tp.buf[off:])
	if hdr&tupleDeletedBit == 0 {
		return nil
	}
	binary.LittleEndian.PutUint32(tp.buf[off:], hdr&^tupleDeletedBit)
	tp.setDeletedCount(tp.DeletedCount() - 1)
	return nil
}

// Iterate calls fn for every live (non-tombstoned) slot in order, stopping
// early if fn returns false.
func (tp *TablePage) Iterate(fn func(slot uint32, data []byte) bool) {
	for s := uint32(0); s < tp.TupleCount(); s++ {
		if tp.IsDeleted(s) {
			continue
		}
		data, err := tp.GetTuple(s)
		if err != nil {
			continue
		}
		if !fn(s, data) {
			return
		}
	}
}

func (tp *TablePage) Bytes() []byte { return tp.buf }
