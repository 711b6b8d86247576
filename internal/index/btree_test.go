package index

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/kernaldb/kernel/internal/wal"
)

func newTestTree(t *testing.T, poolSize int) *BTree {
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
	bp := storage.NewBufferPool(disk, lm, poolSize, observability.Nop())
	bt, _, err := Create(bp, lm)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return bt
}

func TestBTreeInsertGetRoundTrip(t *testing.T) {
	bt := newTestTree(t, 64)
	rid := types.RID{PageID: 5, Slot: 2}
	if err := bt.Insert([]byte("key1"), rid); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, found, err := bt.Get([]byte("key1"))
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got != rid {
		t.Fatalf("got %v, want %v", got, rid)
	}
}

func TestBTreeInsertOverwritesExistingKey(t *testing.T) {
	bt := newTestTree(t, 64)
	bt.Insert([]byte("k"), types.RID{PageID: 1, Slot: 1})
	bt.Insert([]byte("k"), types.RID{PageID: 2, Slot: 2})
	got, found, err := bt.Get([]byte("k"))
	if err != nil || !found {
		t.Fatalf("Get: %v %v", found, err)
	}
	if got != (types.RID{PageID: 2, Slot: 2}) {
		t.Fatalf("got %v, want overwritten RID", got)
	}
}

func TestBTreeGetMissingKey(t *testing.T) {
	bt := newTestTree(t, 64)
	_, found, err := bt.Get([]byte("nope"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestBTreeSplitsAcrossManyInserts(t *testing.T) {
	bt := newTestTree(t, 256)
	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if err := bt.Insert(key, types.RID{PageID: types.PageID(i), Slot: 0}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		rid, found, err := bt.Get(key)
		if err != nil || !found {
			t.Fatalf("Get %d: found=%v err=%v", i, found, err)
		}
		if rid.PageID != types.PageID(i) {
			t.Fatalf("Get %d: rid=%v", i, rid)
		}
	}
	count, err := bt.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n {
		t.Fatalf("Count = %d, want %d", count, n)
	}
}

func TestBTreeScanRangeOrdersAndStops(t *testing.T) {
	bt := newTestTree(t, 256)
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		bt.Insert(key, types.RID{PageID: types.PageID(i)})
	}
	var got []string
	err := bt.ScanRange([]byte("key-010"), []byte("key-015"), func(key []byte, rid types.RID) bool {
		got = append(got, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("ScanRange: %v", err)
	}
	want := []string{"key-010", "key-011", "key-012", "key-013", "key-014", "key-015"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%s want %s", i, got[i], want[i])
		}
	}
}

func TestBTreeDeleteRemovesKey(t *testing.T) {
	bt := newTestTree(t, 64)
	bt.Insert([]byte("a"), types.RID{PageID: 1})
	bt.Insert([]byte("b"), types.RID{PageID: 2})
	ok, err := bt.Delete([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if _, found, _ := bt.Get([]byte("a")); found {
		t.Fatalf("expected key a to be gone")
	}
	if _, found, _ := bt.Get([]byte("b")); !found {
		t.Fatalf("expected key b to survive")
	}
}

func TestBTreeDeleteMissingKeyReturnsFalse(t *testing.T) {
	bt := newTestTree(t, 64)
	ok, err := bt.Delete([]byte("ghost"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok {
		t.Fatalf("expected false for missing key")
	}
}

func TestBTreeDeleteAcrossSplitLeaves(t *testing.T) {
	bt := newTestTree(t, 256)
	const n = 300
	for i := 0; i < n; i++ {
		bt.Insert([]byte(fmt.Sprintf("k-%04d", i)), types.RID{PageID: types.PageID(i)})
	}
	for i := 0; i < n; i += 2 {
		if ok, err := bt.Delete([]byte(fmt.Sprintf("k-%04d", i))); err != nil || !ok {
			t.Fatalf("Delete %d: ok=%v err=%v", i, ok, err)
		}
	}
	for i := 0; i < n; i++ {
		_, found, err := bt.Get([]byte(fmt.Sprintf("k-%04d", i)))
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		wantFound := i%2 != 0
		if found != wantFound {
			t.Fatalf("Get %d: found=%v want=%v", i, found, wantFound)
		}
	}
}
