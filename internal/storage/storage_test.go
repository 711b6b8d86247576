package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/types"
)

type noopFlusher struct{}

func (noopFlusher) FlushThrough(types.LSN) error { return nil }

func tempDisk(t *testing.T) *DiskManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.db")
	dm, err := OpenDiskManager(path, 0)
	if err != nil {
		t.Fatalf("OpenDiskManager: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return dm
}

func TestDiskManagerReadPastEOFReturnsZeros(t *testing.T) {
	dm := tempDisk(t)
	buf := make([]byte, PageSize)
	if err := dm.ReadPage(types.PageID(500), buf); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zero: %d", i, b)
		}
	}
}

func TestDiskManagerWriteReadRoundTrip(t *testing.T) {
	dm := tempDisk(t)
	id := dm.AllocatePage()
	buf := NewPage(PageTypeTableHeap, id)
	buf[100] = 0xAB
	if err := dm.WritePage(id, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	out := make([]byte, PageSize)
	if err := dm.ReadPage(id, out); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if out[100] != 0xAB {
		t.Fatalf("round trip mismatch: got %x", out[100])
	}
}

func TestBufferPoolPinUnpinBalance(t *testing.T) {
	dm := tempDisk(t)
	bp := NewBufferPool(dm, noopFlusher{}, 4, observability.Nop())
	id, g, err := bp.NewPage(PageTypeTableHeap)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if bp.PinnedCount() != 1 {
		t.Fatalf("expected 1 pinned, got %d", bp.PinnedCount())
	}
	g.Release(true)
	if bp.PinnedCount() != 0 {
		t.Fatalf("expected 0 pinned at quiescence, got %d", bp.PinnedCount())
	}
	g2, err := bp.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	g2.Release(false)
}

func TestBufferPoolEvictionRespectsPins(t *testing.T) {
	dm := tempDisk(t)
	bp := NewBufferPool(dm, noopFlusher{}, 2, observability.Nop())
	_, g1, _ := bp.NewPage(PageTypeTableHeap)
	_, g2, _ := bp.NewPage(PageTypeTableHeap)
	defer g1.Release(false)
	defer g2.Release(false)
	if _, _, err := bp.NewPage(PageTypeTableHeap); err == nil {
		t.Fatalf("expected BufferFull when all frames pinned")
	}
}

func TestTablePageInsertGetRoundTrip(t *testing.T) {
	buf := make([]byte, PageSize)
	InitTablePage(buf, 1)
	tp := WrapTablePage(buf)
	slot, err := tp.InsertTuple([]byte("hello"))
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	got, err := tp.GetTuple(slot)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestTablePageInsertTooLargeFailsCleanly(t *testing.T) {
	buf := make([]byte, PageSize)
	InitTablePage(buf, 1)
	tp := WrapTablePage(buf)
	before := append([]byte(nil), buf...)
	huge := make([]byte, PageSize)
	if _, err := tp.InsertTuple(huge); err == nil {
		t.Fatalf("expected failure inserting oversized tuple")
	}
	for i := range before {
		if before[i] != buf[i] {
			t.Fatalf("page mutated on failed insert at byte %d", i)
		}
	}
}

func TestTablePageDeleteAndIterateSkipsTombstones(t *testing.T) {
	buf := make([]byte, PageSize)
	InitTablePage(buf, 1)
	tp := WrapTablePage(buf)
	s1, _ := tp.InsertTuple([]byte("a"))
	_, _ = tp.InsertTuple([]byte("b"))
	if err := tp.MarkDelete(s1); err != nil {
		t.Fatalf("MarkDelete: %v", err)
	}
	var seen []string
	tp.Iterate(func(slot uint32, data []byte) bool {
		seen = append(seen, string(data))
		return true
	})
	if len(seen) != 1 || seen[0] != "b" {
		t.Fatalf("expected only [b], got %v", seen)
	}
	if err := tp.RollbackDelete(s1); err != nil {
		t.Fatalf("RollbackDelete: %v", err)
	}
	seen = nil
	tp.Iterate(func(slot uint32, data []byte) bool {
		seen = append(seen, string(data))
		return true
	})
	if len(seen) != 2 {
		t.Fatalf("expected 2 after rollback, got %d", len(seen))
	}
}

func TestPageCRCRoundTrip(t *testing.T) {
	buf := NewPage(PageTypeTableHeap, 7)
	SetCRC(buf)
	if err := VerifyCRC(buf); err != nil {
		t.Fatalf("VerifyCRC: %v", err)
	}
	buf[100] ^= 0xFF
	if err := VerifyCRC(buf); err == nil {
		t.Fatalf("expected CRC mismatch after corruption")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
