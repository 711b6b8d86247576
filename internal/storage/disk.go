package storage

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/types"
)

// DiskManager reads and writes fixed-size pages to a single backing file
// and allocates monotonically increasing page IDs. It never interprets
// page contents — that is the job of the table-heap, B+tree, and catalog
// layers above it.
type DiskManager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	nextID   atomic.Uint32
	writes   atomic.Uint64
	barrierN uint64
}

// OpenDiskManager opens (creating if necessary) the backing file at path.
// barrierEvery controls how many writes elapse between implicit fsync
// barriers (0 disables the implicit barrier; ForceFlush always fsyncs).
func OpenDiskManager(path string, barrierEvery uint64) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open database file %s", path)
	}
	dm := &DiskManager{file: f, path: path, barrierN: barrierEvery}
	fi, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "stat database file %s", path)
	}
	pages := fi.Size() / PageSize
	dm.nextID.Store(uint32(pages))
	if pages == 0 {
		dm.nextID.Store(1) // page 0 reserved for the header page
	}
	return dm, nil
}

// ReadPage reads PageSize bytes at id into buf. Reads past EOF return a
// zeroed page rather than an error (spec §4.1).
func (dm *DiskManager) ReadPage(id types.PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	off := int64(id) * PageSize
	n, err := dm.file.ReadAt(buf[:PageSize], off)
	if err != nil && n == 0 {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if err != nil && n < PageSize {
		for i := n; i < PageSize; i++ {
			buf[i] = 0
		}
	}
	return nil
}

// WritePage writes buf (exactly PageSize bytes) to page id.
func (dm *DiskManager) WritePage(id types.PageID, buf []byte) error {
	if len(buf) != PageSize {
		return errs.New(errs.Internal, "write_page: buffer is %d bytes, want %d", len(buf), PageSize)
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	off := int64(id) * PageSize
	if _, err := dm.file.WriteAt(buf, off); err != nil {
		return errs.Wrap(errs.IO, err, "write page %d", id)
	}
	if n := dm.writes.Add(1); dm.barrierN > 0 && n%dm.barrierN == 0 {
		_ = dm.file.Sync()
	}
	return nil
}

// AllocatePage returns the next monotonically increasing page ID.
func (dm *DiskManager) AllocatePage() types.PageID {
	return types.PageID(dm.nextID.Add(1) - 1)
}

// DeallocatePage is a no-op in the minimal design (spec §4.1); freed page
// IDs are not tracked or reused.
func (dm *DiskManager) DeallocatePage(types.PageID) {}

// ForceFlush fsyncs the backing file (durability barrier).
func (dm *DiskManager) ForceFlush() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.file.Sync(); err != nil {
		return errs.Wrap(errs.IO, err, "fsync database file %s", dm.path)
	}
	return nil
}

// Close flushes and closes the backing file.
func (dm *DiskManager) Close() error {
	if err := dm.ForceFlush(); err != nil {
		return err
	}
	if err := dm.file.Close(); err != nil {
		return errs.Wrap(errs.IO, err, "close database file %s", dm.path)
	}
	return nil
}

func (dm *DiskManager) String() string {
	return fmt.Sprintf("DiskManager(%s)", dm.path)
}
