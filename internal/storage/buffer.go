package storage

import (
	"sync"

	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/rs/zerolog"
)

// LogFlusher is the durability gate the buffer pool consults before
// writing a dirty page back to disk: "no data page with page_LSN = L may
// be written to disk before persistent_lsn >= L" (spec §4.2/§5). The log
// manager implements this; storage never imports the wal package directly,
// avoiding a cycle.
type LogFlusher interface {
	FlushThrough(lsn types.LSN) error
}

// BufferPool is a bounded cache of page Frames with LRU-K (K=2)
// replacement, grounded on the teacher's PageBufferPool doubly-linked LRU
// list but generalized from plain LRU to LRU-K per spec §4.2.
type BufferPool struct {
	mu      sync.Mutex
	disk    *DiskManager
	wal     LogFlusher
	log     zerolog.Logger
	frames  map[types.PageID]*Frame
	clock   uint64
	maxSize int
}

// NewBufferPool constructs a pool bounded to maxSize frames.
func NewBufferPool(disk *DiskManager, wal LogFlusher, maxSize int, log zerolog.Logger) *BufferPool {
	return &BufferPool{
		disk:    disk,
		wal:     wal,
		log:     log,
		frames:  make(map[types.PageID]*Frame),
		maxSize: maxSize,
	}
}

func (bp *BufferPool) touch(f *Frame) {
	bp.clock++
	f.refLSNK[0], f.refLSNK[1] = f.refLSNK[1], bp.clock
}

// backwardKDistance returns the LRU-K priority: the Kth-most-recent access
// time (smaller = more evictable). Frames accessed fewer than K times
// return 0, so they are evicted before any frame with K recorded accesses.
func backwardKDistance(f *Frame) uint64 {
	if f.refLSNK[0] == 0 {
		return 0
	}
	return f.refLSNK[0]
}

// FetchPage pins and returns a guard over page id, reading it from disk on
// a cache miss.
func (bp *BufferPool) FetchPage(id types.PageID) (*PageGuard, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if f, ok := bp.frames[id]; ok {
		f.PinCnt++
		bp.touch(f)
		return &PageGuard{pool: bp, frame: f}, nil
	}

	f, err := bp.allocFrameLocked(id)
	if err != nil {
		return nil, err
	}
	if err := bp.disk.ReadPage(id, f.Buf); err != nil {
		return nil, err
	}
	f.PinCnt = 1
	bp.touch(f)
	bp.frames[id] = f
	return &PageGuard{pool: bp, frame: f}, nil
}

// NewPage allocates a fresh page ID, pins a frame for it, and returns both.
func (bp *BufferPool) NewPage(pt PageType) (types.PageID, *PageGuard, error) {
	id := bp.disk.AllocatePage()
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, err := bp.allocFrameLocked(id)
	if err != nil {
		return 0, nil, err
	}
	copy(f.Buf, NewPage(pt, id))
	f.PinCnt = 1
	f.Dirty = true
	bp.touch(f)
	bp.frames[id] = f
	return id, &PageGuard{pool: bp, frame: f}, nil
}

// allocFrameLocked returns a Frame for id, evicting a victim if the pool is
// at capacity. Caller holds bp.mu.
func (bp *BufferPool) allocFrameLocked(id types.PageID) (*Frame, error) {
	if len(bp.frames) < bp.maxSize {
		return &Frame{ID: id, Buf: make([]byte, PageSize)}, nil
	}
	victimID, ok := bp.pickVictimLocked()
	if !ok {
		return nil, errs.New(errs.ResourceExhausted, "buffer pool full: all %d frames pinned", bp.maxSize)
	}
	victim := bp.frames[victimID]
	if victim.Dirty {
		if err := bp.flushFrameLocked(victim); err != nil {
			return nil, err
		}
	}
	delete(bp.frames, victimID)
	victim.ID = id
	victim.Dirty = false
	victim.refLSNK = [2]uint64{}
	return victim, nil
}

// pickVictimLocked selects the unpinned frame with the largest
// backward-K distance being smallest (least recently/frequently used).
func (bp *BufferPool) pickVictimLocked() (types.PageID, bool) {
	var victim types.PageID
	best := ^uint64(0)
	found := false
	for id, f := range bp.frames {
		if f.PinCnt > 0 {
			continue
		}
		d := backwardKDistance(f)
		if !found || d < best {
			best, victim, found = d, id, true
		}
	}
	return victim, found
}

// flushFrameLocked enforces WAL-before-data: the log must be durable
// through the frame's page-LSN before its bytes reach disk.
func (bp *BufferPool) flushFrameLocked(f *Frame) error {
	lsn := PageLSN(f.Buf)
	if bp.wal != nil {
		if err := bp.wal.FlushThrough(lsn); err != nil {
			return errs.Wrap(errs.IO, err, "wal flush before evicting page %d", f.ID)
		}
	}
	SetCRC(f.Buf)
	if err := bp.disk.WritePage(f.ID, f.Buf); err != nil {
		return err
	}
	f.Dirty = false
	return nil
}

// unpin decrements a frame's pin count, optionally marking it dirty.
// Idempotent unpin below zero is ignored (spec §4.2).
func (bp *BufferPool) unpin(id types.PageID, dirty bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, ok := bp.frames[id]
	if !ok {
		return
	}
	if dirty {
		f.Dirty = true
	}
	if f.PinCnt > 0 {
		f.PinCnt--
	}
}

// FlushPage writes a specific page back to disk if dirty, respecting
// WAL-before-data.
func (bp *BufferPool) FlushPage(id types.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	f, ok := bp.frames[id]
	if !ok || !f.Dirty {
		return nil
	}
	return bp.flushFrameLocked(f)
}

// FlushAll writes back every dirty frame, used at checkpoint and shutdown.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, f := range bp.frames {
		if f.Dirty {
			if err := bp.flushFrameLocked(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// PinnedCount returns the number of currently pinned frames, used by the
// "page pin balance at quiescence" testable property.
func (bp *BufferPool) PinnedCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	n := 0
	for _, f := range bp.frames {
		if f.PinCnt > 0 {
			n++
		}
	}
	return n
}
