package index

import (
	"sync"

	"github.com/kernaldb/kernel/internal/types"
)

// latchTable hands out a per-page reader/writer latch, distinct from the
// buffer pool's pin count: a pin keeps a frame resident in memory, a latch
// protects the page's logical content during concurrent tree traversal
// ("latch-crabbing" per spec §4.6, absent from the teacher's single-writer
// pager). Latches are created lazily and never removed, so the table
// holds one entry for every distinct page ID the tree has touched.
type latchTable struct {
	mu      sync.Mutex
	latches map[types.PageID]*sync.RWMutex
}

func newLatchTable() *latchTable {
	return &latchTable{latches: make(map[types.PageID]*sync.RWMutex)}
}

func (lt *latchTable) get(id types.PageID) *sync.RWMutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	l, ok := lt.latches[id]
	if !ok {
		l = &sync.RWMutex{}
		lt.latches[id] = l
	}
	return l
}

func (lt *latchTable) rLock(id types.PageID)   { lt.get(id).RLock() }
func (lt *latchTable) rUnlock(id types.PageID) { lt.get(id).RUnlock() }
func (lt *latchTable) lock(id types.PageID)    { lt.get(id).Lock() }
func (lt *latchTable) unlock(id types.PageID)  { lt.get(id).Unlock() }
