package heap

import (
	"path/filepath"
	"testing"

	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/kernaldb/kernel/internal/wal"
)

// fakeTxn is a minimal TxnContext for exercising the heap in isolation from
// internal/txn.
type fakeTxn struct {
	id      types.TxnID
	lastLSN types.LSN
	writes  []types.RID
}

func (f *fakeTxn) ID() types.TxnID        { return f.id }
func (f *fakeTxn) LastLSN() types.LSN     { return f.lastLSN }
func (f *fakeTxn) SetLastLSN(l types.LSN) { f.lastLSN = l }
func (f *fakeTxn) RecordWrite(rid types.RID, before []byte) {
	f.writes = append(f.writes, rid)
}

func newTestHeap(t *testing.T) (*TableHeap, *fakeTxn) {
	t.Helper()
	dir := t.TempDir()
	disk, err := storage.OpenDiskManager(filepath.Join(dir, "data.db"), 0)
	if err != nil {
		t.Fatalf("OpenDiskManager: %v", err)
	}
	t.Cleanup(func() { disk.Close() })
	lm, err := wal.OpenLogManager(filepath.Join(dir, "test.wal"), 1, observability.Nop())
	if err != nil {
		t.Fatalf("OpenLogManager: %v", err)
	}
	t.Cleanup(func() { lm.Close() })
	bp := storage.NewBufferPool(disk, lm, 16, observability.Nop())
	h, _, err := Create(bp, lm)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return h, &fakeTxn{id: 1}
}

func TestTableHeapInsertGetRoundTrip(t *testing.T) {
	h, txn := newTestHeap(t)
	rid, err := h.Insert(txn, []byte("row-a"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "row-a" {
		t.Fatalf("got %q, want row-a", got)
	}
	if len(txn.writes) != 1 {
		t.Fatalf("expected 1 tracked write, got %d", len(txn.writes))
	}
}

func TestTableHeapUpdateInPlaceKeepsRID(t *testing.T) {
	h, txn := newTestHeap(t)
	rid, _ := h.Insert(txn, []byte("0123456789"))
	newRID, err := h.Update(txn, rid, []byte("short"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if newRID != rid {
		t.Fatalf("expected in-place update to keep RID %v, got %v", rid, newRID)
	}
	got, _ := h.Get(rid)
	if string(got) != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestTableHeapUpdateGrowthMovesRID(t *testing.T) {
	h, txn := newTestHeap(t)
	rid, _ := h.Insert(txn, []byte("short"))
	newRID, err := h.Update(txn, rid, []byte("a much longer replacement value"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if newRID == rid {
		t.Fatalf("expected grown update to move RID")
	}
	if _, err := h.Get(rid); err == nil {
		t.Fatalf("old RID should now be a tombstone")
	}
	got, err := h.Get(newRID)
	if err != nil {
		t.Fatalf("Get(newRID): %v", err)
	}
	if string(got) != "a much longer replacement value" {
		t.Fatalf("got %q", got)
	}
}

func TestTableHeapDeleteAndRollback(t *testing.T) {
	h, txn := newTestHeap(t)
	rid, _ := h.Insert(txn, []byte("row-a"))
	if err := h.MarkDelete(txn, rid); err != nil {
		t.Fatalf("MarkDelete: %v", err)
	}
	if _, err := h.Get(rid); err == nil {
		t.Fatalf("expected deleted tuple to be unreadable")
	}
	if err := h.RollbackDelete(rid); err != nil {
		t.Fatalf("RollbackDelete: %v", err)
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("Get after rollback: %v", err)
	}
	if string(got) != "row-a" {
		t.Fatalf("got %q", got)
	}
}

func TestTableHeapIterateSkipsTombstonesAndSpansPages(t *testing.T) {
	h, txn := newTestHeap(t)
	big := make([]byte, 400)
	for i := range big {
		big[i] = byte('x')
	}
	var rids []types.RID
	for i := 0; i < 20; i++ {
		rid, err := h.Insert(txn, big)
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		rids = append(rids, rid)
	}
	if err := h.MarkDelete(txn, rids[0]); err != nil {
		t.Fatalf("MarkDelete: %v", err)
	}
	n, err := h.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != len(rids)-1 {
		t.Fatalf("expected %d live tuples, got %d", len(rids)-1, n)
	}
}

func TestTableHeapIterateEarlyExit(t *testing.T) {
	h, txn := newTestHeap(t)
	for i := 0; i < 5; i++ {
		if _, err := h.Insert(txn, []byte("row")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	seen := 0
	h.Iterate(func(types.RID, []byte) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Fatalf("expected early exit after 2 rows, saw %d", seen)
	}
}
