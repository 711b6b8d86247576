package wal

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"time"

	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/rs/zerolog"
)

// fileMagic identifies a valid kernel WAL file.
const fileMagic = "KRNLWAL\x00"

// LogManager is the append-only log: Append assigns the next LSN and
// buffers the record in memory; a background goroutine periodically
// flushes the buffer to the file and fsyncs, advancing persistentLSN.
// Grounded on the teacher's WALFile (open/append/sync/truncate, CRC32 per
// record, position tracked to avoid Seek) but the record format is now
// the typed ARIES Record from record.go rather than a full page image,
// and flushing runs on its own goroutine rather than being driven
// synchronously by every caller.
type LogManager struct {
	mu            sync.Mutex
	f             *os.File
	path          string
	nextLSN       types.LSN
	writePos      int64
	persistentLSN types.LSN
	buffered      []bufferedRecord
	bufferBytes   int
	flushThresh   int
	log           zerolog.Logger

	cond     *sync.Cond
	cancel   context.CancelFunc
	done     chan struct{}
	flushReq chan struct{}
}

type bufferedRecord struct {
	rec Record
	lsn types.LSN
}

// OpenLogManager opens or creates the WAL file at path. flushThresholdBytes
// triggers an eager flush once the in-memory buffer exceeds it; the
// background flusher also wakes on a fixed interval regardless.
func OpenLogManager(path string, flushThresholdBytes int, log zerolog.Logger) (*LogManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open wal file %s", path)
	}
	lm := &LogManager{f: f, path: path, flushThresh: flushThresholdBytes, log: log, done: make(chan struct{}), flushReq: make(chan struct{}, 1)}
	lm.cond = sync.NewCond(&lm.mu)

	fi, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "stat wal file %s", path)
	}
	if fi.Size() == 0 {
		hdr := make([]byte, 16)
		copy(hdr, fileMagic)
		if _, err := f.WriteAt(hdr, 0); err != nil {
			return nil, errs.Wrap(errs.IO, err, "write wal header")
		}
		lm.writePos = 16
		lm.nextLSN = 1
	} else {
		lm.writePos = fi.Size()
		lm.nextLSN, err = scanLastLSN(f)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	go lm.flusherLoop(ctx)
	return lm, nil
}

// scanLastLSN reads every record once to determine the next LSN to mint;
// used only at open time since Recover() does the real replay.
func scanLastLSN(f *os.File) (types.LSN, error) {
	recs, err := ReadAll(f)
	if err != nil {
		return 1, nil // tolerate a truncated tail, matching teacher's ReadAllRecords behavior
	}
	var last types.LSN
	for _, r := range recs {
		if r.LSN > last {
			last = r.LSN
		}
	}
	return last + 1, nil
}

// ReadAll reads every well-formed record from the WAL file, stopping
// silently at the first corrupt or partial tail record (crash-truncation
// tolerant, matching the teacher's ReadAllRecords).
func ReadAll(f *os.File) ([]Record, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size < 16 {
		return nil, nil
	}
	buf := make([]byte, size-16)
	if _, err := f.ReadAt(buf, 16); err != nil {
		return nil, err
	}
	var out []Record
	pos := 0
	for pos+8 <= len(buf) {
		recLen := int(binary.LittleEndian.Uint32(buf[pos:]))
		recCRC := binary.LittleEndian.Uint32(buf[pos+4:])
		start := pos + 8
		if recLen <= 0 || start+recLen > len(buf) {
			break
		}
		body := buf[start : start+recLen]
		if crc32.ChecksumIEEE(body) != recCRC {
			break
		}
		rec, err := Unmarshal(body)
		if err != nil {
			break
		}
		out = append(out, rec)
		pos = start + recLen
	}
	return out, nil
}

// Append assigns the next LSN to rec, buffers it for the background
// flusher, and returns the assigned LSN. It does not block on I/O.
func (lm *LogManager) Append(rec Record) types.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lsn := lm.nextLSN
	lm.nextLSN++
	rec.LSN = lsn
	body := rec.Marshal()
	lm.buffered = append(lm.buffered, bufferedRecord{rec: rec, lsn: lsn})
	lm.bufferBytes += len(body)
	if lm.bufferBytes >= lm.flushThresh {
		select {
		case lm.flushReq <- struct{}{}:
		default:
		}
	}
	return lsn
}

// Flush blocks until persistentLSN has reached at least the most recently
// appended LSN.
func (lm *LogManager) Flush() error {
	lm.mu.Lock()
	target := lm.nextLSN - 1
	lm.mu.Unlock()
	return lm.FlushThrough(target)
}

// FlushThrough blocks until persistentLSN >= lsn. It implements the
// storage.LogFlusher interface the buffer pool uses for WAL-before-data.
func (lm *LogManager) FlushThrough(lsn types.LSN) error {
	if lsn == types.InvalidLSN {
		return nil
	}
	lm.mu.Lock()
	for lm.persistentLSN < lsn {
		select {
		case lm.flushReq <- struct{}{}:
		default:
		}
		lm.cond.Wait()
	}
	lm.mu.Unlock()
	return nil
}

// PersistentLSN returns the highest LSN durably on disk.
func (lm *LogManager) PersistentLSN() types.LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.persistentLSN
}

func (lm *LogManager) flusherLoop(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	defer close(lm.done)
	for {
		select {
		case <-ctx.Done():
			lm.flushLocked()
			return
		case <-ticker.C:
			lm.flushLocked()
		case <-lm.flushReq:
			lm.flushLocked()
		}
	}
}

func (lm *LogManager) flushLocked() {
	lm.mu.Lock()
	pending := lm.buffered
	lm.buffered = nil
	lm.bufferBytes = 0
	lm.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	for _, br := range pending {
		body := br.rec.Marshal()
		frame := make([]byte, 8+len(body))
		binary.LittleEndian.PutUint32(frame[0:4], uint32(len(body)))
		binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(body))
		copy(frame[8:], body)
		if _, err := lm.f.WriteAt(frame, lm.writePos); err != nil {
			lm.log.Error().Err(err).Msg("wal write failed")
			return
		}
		lm.writePos += int64(len(frame))
	}
	if err := lm.f.Sync(); err != nil {
		lm.log.Error().Err(err).Msg("wal fsync failed")
		return
	}
	lm.mu.Lock()
	last := pending[len(pending)-1].lsn
	if last > lm.persistentLSN {
		lm.persistentLSN = last
	}
	lm.cond.Broadcast()
	lm.mu.Unlock()
}

// Truncate resets the log file to header-only, used after a checkpoint
// has made all prior records unnecessary for recovery.
func (lm *LogManager) Truncate() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.f.Truncate(16); err != nil {
		return errs.Wrap(errs.IO, err, "truncate wal")
	}
	lm.writePos = 16
	return nil
}

// Close stops the background flusher (flushing any residual buffered
// records first) and closes the file.
func (lm *LogManager) Close() error {
	lm.cancel()
	<-lm.done
	if err := lm.f.Close(); err != nil {
		return errs.Wrap(errs.IO, err, "close wal file %s", lm.path)
	}
	return nil
}

func (lm *LogManager) String() string { return fmt.Sprintf("LogManager(%s)", lm.path) }
