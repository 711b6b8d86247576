// Package heap implements the table heap: a singly-linked list of slotted
// TablePages rooted at a catalog-assigned first page, providing RID-based
// row storage (spec §4.5).
//
// What: insert/get/update/mark_delete/rollback_delete/iterate over tuples,
// each mutating operation writing a WAL record before the page changes
// (the WAL-before-data rule, enforced transitively through the buffer
// pool's eviction path and explicitly here via an immediate log append).
// How: Grounded on the teacher's slotted-page approach (pager/slotted_page.go)
// composed with the buffer pool from internal/storage; every mutation
// first calls TxnContext.RecordWrite with the before-image so the
// transaction manager can build CLRs on abort, matching spec §3's
// "write-set (RIDs+before-images)".
// Why: Table heap operations are the only place tuples touch disk, so
// logging happens once, here, rather than being duplicated by callers.
package heap

import (
	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/kernaldb/kernel/internal/wal"
)

// TxnContext is the minimal view of a transaction the heap needs: its ID,
// its log chain position, and its write-set tracker. internal/txn's
// Transaction satisfies this, kept as an interface here to avoid a
// heap<->txn import cycle.
type TxnContext interface {
	ID() types.TxnID
	LastLSN() types.LSN
	SetLastLSN(lsn types.LSN)
	RecordWrite(rid types.RID, before []byte)
}

// TableHeap is a singly-linked chain of table pages.
type TableHeap struct {
	bp          *storage.BufferPool
	lm          *wal.LogManager
	firstPageID types.PageID
}

// Open wraps an existing heap rooted at firstPageID.
func Open(bp *storage.BufferPool, lm *wal.LogManager, firstPageID types.PageID) *TableHeap {
	return &TableHeap{bp: bp, lm: lm, firstPageID: firstPageID}
}

// Create allocates a fresh, empty heap and returns its root page ID.
func Create(bp *storage.BufferPool, lm *wal.LogManager) (*TableHeap, types.PageID, error) {
	id, guard, err := bp.NewPage(storage.PageTypeTableHeap)
	if err != nil {
		return nil, 0, err
	}
	storage.InitTablePage(guard.Page(), uint32(id))
	lsn := lm.Append(wal.Record{Type: wal.RecNewPage, PageID: id})
	storage.SetPageLSN(guard.Page(), lsn)
	guard.Release(true)
	return &TableHeap{bp: bp, lm: lm, firstPageID: id}, id, nil
}

func (h *TableHeap) FirstPageID() types.PageID { return h.firstPageID }

// Insert appends tuple data and returns its RID.
func (h *TableHeap) Insert(txn TxnContext, data []byte) (types.RID, error) {
	pid := h.firstPageID
	for {
		guard, err := h.bp.FetchPage(pid)
		if err != nil {
			return types.InvalidRID, err
		}
		tp := storage.WrapTablePage(guard.Page())
		if tp.FreeSpace() >= len(data)+4 {
			slot, err := tp.InsertTuple(data)
			if err != nil {
				guard.Release(false)
				return types.InvalidRID, err
			}
			rid := types.RID{PageID: pid, Slot: slot}
			lsn := h.lm.Append(wal.Record{Type: wal.RecInsert, TxnID: txn.ID(), PrevLSN: txn.LastLSN(), RID: rid, After: data})
			txn.SetLastLSN(lsn)
			txn.RecordWrite(rid, nil)
			storage.SetPageLSN(guard.Page(), lsn)
			guard.Release(true)
			return rid, nil
		}
		next := tp.NextPageID()
		if next != uint32(types.InvalidPageID) {
			guard.Release(false)
			pid = types.PageID(next)
			continue
		}
		// Allocate and link a new page.
		newID, newGuard, err := h.bp.NewPage(storage.PageTypeTableHeap)
		if err != nil {
			guard.Release(false)
			return types.InvalidRID, err
		}
		storage.InitTablePage(newGuard.Page(), uint32(newID))
		tp.SetNextPageID(uint32(newID))
		guard.Release(true)
		newGuard.Release(true)
		pid = newID
	}
}

// Get returns the raw tuple bytes at rid.
func (h *TableHeap) Get(rid types.RID) ([]byte, error) {
	guard, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return nil, err
	}
	defer guard.Release(false)
	tp := storage.WrapTablePage(guard.Page())
	return tp.GetTuple(rid.Slot)
}

// Update overwrites the tuple at rid. If the new data fits in the
// existing slot the RID is preserved; otherwise the old slot is
// tombstoned and a new RID is returned (spec §9 "Update RID stability").
func (h *TableHeap) Update(txn TxnContext, rid types.RID, newData []byte) (types.RID, error) {
	guard, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return types.InvalidRID, err
	}
	tp := storage.WrapTablePage(guard.Page())
	before, err := tp.GetTuple(rid.Slot)
	if err != nil {
		guard.Release(false)
		return types.InvalidRID, err
	}
	beforeCopy := append([]byte(nil), before...)
	newSlot, moved, err := tp.UpdateTuple(rid.Slot, newData)
	if err != nil {
		guard.Release(false)
		return types.InvalidRID, err
	}
	if !moved {
		lsn := h.lm.Append(wal.Record{Type: wal.RecUpdate, TxnID: txn.ID(), PrevLSN: txn.LastLSN(), RID: rid, Before: beforeCopy, After: newData})
		txn.SetLastLSN(lsn)
		txn.RecordWrite(rid, beforeCopy)
		storage.SetPageLSN(guard.Page(), lsn)
		guard.Release(true)
		return rid, nil
	}
	// Moved: logged as delete-old + insert-new so recovery's per-slot
	// redo/undo stays simple (no in-place growth to reason about).
	delLSN := h.lm.Append(wal.Record{Type: wal.RecDelete, TxnID: txn.ID(), PrevLSN: txn.LastLSN(), RID: rid, Before: beforeCopy})
	txn.SetLastLSN(delLSN)
	txn.RecordWrite(rid, beforeCopy)
	newRID := types.RID{PageID: rid.PageID, Slot: newSlot}
	insLSN := h.lm.Append(wal.Record{Type: wal.RecInsert, TxnID: txn.ID(), PrevLSN: txn.LastLSN(), RID: newRID, After: newData})
	txn.SetLastLSN(insLSN)
	txn.RecordWrite(newRID, nil)
	storage.SetPageLSN(guard.Page(), insLSN)
	guard.Release(true)
	return newRID, nil
}

// MarkDelete tombstones rid without reclaiming space.
func (h *TableHeap) MarkDelete(txn TxnContext, rid types.RID) error {
	guard, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	tp := storage.WrapTablePage(guard.Page())
	before, err := tp.GetTuple(rid.Slot)
	if err != nil {
		guard.Release(false)
		return err
	}
	beforeCopy := append([]byte(nil), before...)
	if err := tp.MarkDelete(rid.Slot); err != nil {
		guard.Release(false)
		return err
	}
	lsn := h.lm.Append(wal.Record{Type: wal.RecDelete, TxnID: txn.ID(), PrevLSN: txn.LastLSN(), RID: rid, Before: beforeCopy})
	txn.SetLastLSN(lsn)
	txn.RecordWrite(rid, beforeCopy)
	storage.SetPageLSN(guard.Page(), lsn)
	guard.Release(true)
	return nil
}

// RollbackDelete clears a tombstone, used by the transaction manager to
// undo a DELETE on abort.
func (h *TableHeap) RollbackDelete(rid types.RID) error {
	guard, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	defer guard.Release(true)
	tp := storage.WrapTablePage(guard.Page())
	return tp.RollbackDelete(rid.Slot)
}

// RestoreTuple overwrites rid's slot with data in place, used to undo an
// UPDATE on abort. It requires the slot to still have capacity for data,
// which holds because an in-place update never shrinks a slot's capacity,
// so the before-image that once occupied the slot still fits.
func (h *TableHeap) RestoreTuple(rid types.RID, data []byte) error {
	guard, err := h.bp.FetchPage(rid.PageID)
	if err != nil {
		return err
	}
	defer guard.Release(true)
	tp := storage.WrapTablePage(guard.Page())
	_, _, err = tp.UpdateTuple(rid.Slot, data)
	return err
}

// Iterate walks every live tuple across the heap's page chain in RID order.
func (h *TableHeap) Iterate(fn func(rid types.RID, data []byte) bool) error {
	pid := h.firstPageID
	for pid != types.InvalidPageID {
		guard, err := h.bp.FetchPage(pid)
		if err != nil {
			return err
		}
		tp := storage.WrapTablePage(guard.Page())
		cont := true
		tp.Iterate(func(slot uint32, data []byte) bool {
			cont = fn(types.RID{PageID: pid, Slot: slot}, data)
			return cont
		})
		next := tp.NextPageID()
		guard.Release(false)
		if !cont {
			return nil
		}
		if next == uint32(types.InvalidPageID) {
			break
		}
		pid = types.PageID(next)
	}
	return nil
}

// Count returns the number of live tuples in the heap.
func (h *TableHeap) Count() (int, error) {
	n := 0
	err := h.Iterate(func(types.RID, []byte) bool { n++; return true })
	return n, err
}
