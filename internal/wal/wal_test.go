package wal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/types"
)

func TestLogManagerAppendAssignsMonotonicLSNs(t *testing.T) {
	lm, err := OpenLogManager(filepath.Join(t.TempDir(), "test.wal"), 64<<10, observability.Nop())
	if err != nil {
		t.Fatalf("OpenLogManager: %v", err)
	}
	defer lm.Close()

	var last types.LSN
	for i := 0; i < 10; i++ {
		lsn := lm.Append(Record{Type: RecInsert, TxnID: 1})
		if lsn <= last {
			t.Fatalf("LSN not monotonic: %d after %d", lsn, last)
		}
		last = lsn
	}
}

func TestLogManagerFlushThroughBlocksUntilDurable(t *testing.T) {
	lm, err := OpenLogManager(filepath.Join(t.TempDir(), "test.wal"), 64<<10, observability.Nop())
	if err != nil {
		t.Fatalf("OpenLogManager: %v", err)
	}
	defer lm.Close()

	lsn := lm.Append(Record{Type: RecCommit, TxnID: 1})
	done := make(chan error, 1)
	go func() { done <- lm.FlushThrough(lsn) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("FlushThrough: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("FlushThrough did not return")
	}
	if lm.PersistentLSN() < lsn {
		t.Fatalf("persistentLSN %d < %d", lm.PersistentLSN(), lsn)
	}
}

func TestRecordMarshalRoundTrip(t *testing.T) {
	r := Record{
		Type:    RecUpdate,
		LSN:     42,
		PrevLSN: 41,
		TxnID:   7,
		RID:     types.RID{PageID: 3, Slot: 2},
		Before:  []byte("old"),
		After:   []byte("new-value"),
	}
	buf := r.Marshal()
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.LSN != r.LSN || got.TxnID != r.TxnID || string(got.Before) != "old" || string(got.After) != "new-value" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRecoveryReplaysCommittedAndUndoesActive(t *testing.T) {
	dir := t.TempDir()
	disk, err := storage.OpenDiskManager(filepath.Join(dir, "data.db"), 0)
	if err != nil {
		t.Fatalf("OpenDiskManager: %v", err)
	}
	defer disk.Close()
	lm, err := OpenLogManager(filepath.Join(dir, "test.wal"), 1, observability.Nop())
	if err != nil {
		t.Fatalf("OpenLogManager: %v", err)
	}
	bp := storage.NewBufferPool(disk, lm, 16, observability.Nop())

	pid := disk.AllocatePage()
	g, err := bp.FetchPage(pid)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	storage.InitTablePage(g.Page(), uint32(pid))
	g.Release(true)
	if err := bp.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	// Transaction 1 commits an insert.
	lm.Append(Record{Type: RecBegin, TxnID: 1})
	g, _ = bp.FetchPage(pid)
	tp := storage.WrapTablePage(g.Page())
	slot, _ := tp.InsertTuple([]byte("committed-row"))
	lsn := lm.Append(Record{Type: RecInsert, TxnID: 1, RID: types.RID{PageID: pid, Slot: slot}, After: []byte("committed-row")})
	storage.SetPageLSN(g.Page(), lsn)
	g.Release(true)
	commitLSN := lm.Append(Record{Type: RecCommit, TxnID: 1})
	if err := lm.FlushThrough(commitLSN); err != nil {
		t.Fatalf("flush commit: %v", err)
	}

	// Transaction 2 inserts but never commits (simulated crash).
	lm.Append(Record{Type: RecBegin, TxnID: 2})
	g, _ = bp.FetchPage(pid)
	tp = storage.WrapTablePage(g.Page())
	slot2, _ := tp.InsertTuple([]byte("uncommitted-row"))
	lsn2 := lm.Append(Record{Type: RecInsert, TxnID: 2, RID: types.RID{PageID: pid, Slot: slot2}, After: []byte("uncommitted-row")})
	storage.SetPageLSN(g.Page(), lsn2)
	g.Release(true)
	if err := lm.FlushThrough(lsn2); err != nil {
		t.Fatalf("flush uncommitted insert: %v", err)
	}

	if err := Recover(lm, disk, bp, observability.Nop()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	g, _ = bp.FetchPage(pid)
	tp = storage.WrapTablePage(g.Page())
	var rows []string
	tp.Iterate(func(_ uint32, data []byte) bool {
		rows = append(rows, string(data))
		return true
	})
	g.Release(false)
	if len(rows) != 1 || rows[0] != "committed-row" {
		t.Fatalf("expected only the committed row to survive recovery, got %v", rows)
	}
}
