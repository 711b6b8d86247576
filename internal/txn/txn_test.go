package txn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kernaldb/kernel/internal/heap"
	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/kernaldb/kernel/internal/wal"
)

func TestLockManagerSharedLocksAreCompatible(t *testing.T) {
	lm := NewLockManager(20*time.Millisecond, observability.Nop())
	defer lm.Close()
	res := ResourceID{Table: "t"}
	ctx := context.Background()
	if err := lm.Acquire(ctx, 1, res, S); err != nil {
		t.Fatalf("Acquire txn1: %v", err)
	}
	if err := lm.Acquire(ctx, 2, res, S); err != nil {
		t.Fatalf("Acquire txn2: %v", err)
	}
}

func TestLockManagerExclusiveBlocksShared(t *testing.T) {
	lm := NewLockManager(20*time.Millisecond, observability.Nop())
	defer lm.Close()
	res := ResourceID{Table: "t"}
	ctx := context.Background()
	if err := lm.Acquire(ctx, 1, res, X); err != nil {
		t.Fatalf("Acquire txn1: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- lm.Acquire(ctx, 2, res, S) }()

	select {
	case <-blocked:
		t.Fatalf("txn2 should not have been granted while txn1 holds X")
	case <-time.After(50 * time.Millisecond):
	}

	lm.Release(1, res)
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("Acquire txn2 after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("txn2 never granted after release")
	}
}

func TestLockManagerDetectsAndBreaksDeadlock(t *testing.T) {
	lm := NewLockManager(10*time.Millisecond, observability.Nop())
	defer lm.Close()
	a := ResourceID{Table: "a"}
	b := ResourceID{Table: "b"}
	ctx := context.Background()

	if err := lm.Acquire(ctx, 1, a, X); err != nil {
		t.Fatalf("txn1 lock a: %v", err)
	}
	if err := lm.Acquire(ctx, 2, b, X); err != nil {
		t.Fatalf("txn2 lock b: %v", err)
	}

	res1 := make(chan error, 1)
	res2 := make(chan error, 1)
	go func() { res1 <- lm.Acquire(ctx, 1, b, X) }() // txn1 waits on txn2
	go func() { res2 <- lm.Acquire(ctx, 2, a, X) }() // txn2 waits on txn1 -> cycle

	var err1, err2 error
	got := 0
	timeout := time.After(2 * time.Second)
	for got < 2 {
		select {
		case err1 = <-res1:
			got++
		case err2 = <-res2:
			got++
		case <-timeout:
			t.Fatalf("deadlock was never broken")
		}
	}
	if (err1 == nil) == (err2 == nil) {
		t.Fatalf("expected exactly one transaction to be aborted, got err1=%v err2=%v", err1, err2)
	}
}

func setupEnv(t *testing.T) (*Manager, *heap.TableHeap) {
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
	bp := storage.NewBufferPool(disk, lm, 32, observability.Nop())
	h, _, err := heap.Create(bp, lm)
	if err != nil {
		t.Fatalf("heap.Create: %v", err)
	}
	locks := NewLockManager(20*time.Millisecond, observability.Nop())
	t.Cleanup(locks.Close)
	mgr := NewManager(locks, lm, observability.Nop())
	return mgr, h
}

func TestTransactionCommitPersistsRow(t *testing.T) {
	mgr, h := setupEnv(t)
	txn := mgr.Begin(ReadCommitted)
	txn.SetCurrentTable("widgets")
	rid, err := h.Insert(txn, []byte("row"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := mgr.Commit(txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err := h.Get(rid)
	if err != nil || string(got) != "row" {
		t.Fatalf("Get after commit: %q %v", got, err)
	}
	if txn.State() != StateCommitted {
		t.Fatalf("state = %s, want COMMITTED", txn.State())
	}
}

func TestTransactionAbortUndoesInsert(t *testing.T) {
	mgr, h := setupEnv(t)
	txn := mgr.Begin(ReadCommitted)
	txn.SetCurrentTable("widgets")
	rid, err := h.Insert(txn, []byte("row"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	heapFor := func(string) *heap.TableHeap { return h }
	if err := mgr.Abort(txn, heapFor); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := h.Get(rid); err == nil {
		t.Fatalf("expected aborted insert to be undone")
	}
	if txn.State() != StateAborted {
		t.Fatalf("state = %s, want ABORTED", txn.State())
	}
}

func TestTransactionAbortRestoresUpdatedValue(t *testing.T) {
	mgr, h := setupEnv(t)
	setup := mgr.Begin(ReadCommitted)
	setup.SetCurrentTable("widgets")
	rid, _ := h.Insert(setup, []byte("original"))
	mgr.Commit(setup)

	txn := mgr.Begin(ReadCommitted)
	txn.SetCurrentTable("widgets")
	if _, err := h.Update(txn, rid, []byte("changed")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	heapFor := func(string) *heap.TableHeap { return h }
	if err := mgr.Abort(txn, heapFor); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	got, err := h.Get(rid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("got %q, want original value restored", got)
	}
}

func TestTransactionMustBeGrowingToLock(t *testing.T) {
	mgr, _ := setupEnv(t)
	txn := mgr.Begin(ReadCommitted)
	if err := mgr.Commit(txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mgr.LockTable(context.Background(), txn, "widgets", IS); err == nil {
		t.Fatalf("expected locking after commit to fail")
	}
}

func TestTransactionManagerLookupAndActiveCount(t *testing.T) {
	mgr, _ := setupEnv(t)
	txn := mgr.Begin(ReadCommitted)
	if mgr.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", mgr.ActiveCount())
	}
	if mgr.Lookup(txn.ID()) != txn {
		t.Fatalf("Lookup did not return the same transaction")
	}
	mgr.Commit(txn)
	if mgr.ActiveCount() != 0 {
		t.Fatalf("ActiveCount after commit = %d, want 0", mgr.ActiveCount())
	}
	if mgr.Lookup(txn.ID()) != nil {
		t.Fatalf("Lookup after commit should return nil")
	}
}

var _ = types.InvalidTxnID
