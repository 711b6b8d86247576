// Package engine assembles every subsystem (storage, WAL, locking,
// catalog, SQL, planning, execution, vector search) into the single
// embedded entry point spec §6 names: (*Engine).ExecuteSQL.
//
// What: Engine owns one on-disk database (a data file plus a WAL file),
// the buffer pool and catalog built on top of them, the lock and
// transaction managers, the planner/executor pair, a named vector-index
// registry, a query result cache, and a background checkpoint scheduler.
// Session wraps one client's in-flight transaction, so multiple
// concurrent callers (the wire server, concurrent engine_test goroutines)
// each get independent transaction state without Engine itself needing a
// notion of "the current transaction."
// How: grounded on the teacher's cmd/server/main.go server struct, which
// owns a *storage.DB and *engine.QueryCache explicitly and constructs
// them in newServer() rather than via package-level globals — this
// Engine does the same for its wider subsystem set, resolving spec §9's
// "global engine singletons -> explicit ownership" redesign flag.
// Why: every other package in this module takes its dependencies as
// constructor arguments (no package-level state); Engine is the one place
// that wires them together, so opening a second Engine in the same
// process (e.g. two databases in one test binary) never aliases state.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/kernaldb/kernel/internal/catalog"
	"github.com/kernaldb/kernel/internal/config"
	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/executor"
	"github.com/kernaldb/kernel/internal/heap"
	"github.com/kernaldb/kernel/internal/observability"
	"github.com/kernaldb/kernel/internal/planner"
	"github.com/kernaldb/kernel/internal/storage"
	"github.com/kernaldb/kernel/internal/txn"
	"github.com/kernaldb/kernel/internal/vector"
	"github.com/kernaldb/kernel/internal/wal"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Engine is one open database: every subsystem it owns is an explicit
// field, constructed once in Open and torn down once in Close.
type Engine struct {
	cfg config.Config
	log zerolog.Logger

	disk  *storage.DiskManager
	lm    *wal.LogManager
	bp    *storage.BufferPool
	cat   *catalog.Catalog
	locks *txn.LockManager
	txm   *txn.Manager
	pl    *planner.Planner
	ex    *executor.Executor

	vectors *vector.Registry
	cache   *queryCache
	cron    *cron.Cron

	mu      sync.Mutex
	closed  bool
	defSess *Session
}

// Open boots an Engine over cfg.DataDirectory, creating the database and
// WAL files if absent, running crash recovery if they already exist, and
// starting the background checkpoint scheduler.
func Open(cfg config.Config) (*Engine, error) {
	log := observability.New(cfg.LogLevel, nil)

	disk, err := storage.OpenDiskManager(filepath.Join(cfg.DataDirectory, "kernel.db"), 0)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open data file")
	}
	lm, err := wal.OpenLogManager(filepath.Join(cfg.LogDirectory, "kernel.wal"), cfg.LogBufferSize, observability.Component(log, "wal"))
	if err != nil {
		disk.Close()
		return nil, errs.Wrap(errs.IO, err, "open wal")
	}
	bp := storage.NewBufferPool(disk, lm, cfg.BufferPoolSize, observability.Component(log, "bufferpool"))

	if err := wal.Recover(lm, disk, bp, observability.Component(log, "recovery")); err != nil {
		lm.Close()
		disk.Close()
		return nil, errs.Wrap(errs.Corruption, err, "recovery")
	}

	cat, err := catalog.Open(bp, lm)
	if err != nil {
		lm.Close()
		disk.Close()
		return nil, errs.Wrap(errs.Internal, err, "open catalog")
	}

	locks := txn.NewLockManager(deadlockDetectInterval, observability.Component(log, "lockmanager"))
	txm := txn.NewManager(locks, lm, observability.Component(log, "txn"))
	ex := executor.New(bp, lm, cat, txm, log)
	pl := planner.New(cat)

	e := &Engine{
		cfg:     cfg,
		log:     log,
		disk:    disk,
		lm:      lm,
		bp:      bp,
		cat:     cat,
		locks:   locks,
		txm:     txm,
		pl:      pl,
		ex:      ex,
		vectors: vector.NewRegistry(),
		cache:   newQueryCache(200),
	}
	e.defSess = e.NewSession()

	if cfg.EnableLogging && cfg.CheckpointEvery != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.CheckpointEvery, func() { e.checkpoint() }); err != nil {
			e.log.Warn().Err(err).Str("expr", cfg.CheckpointEvery).Msg("engine: invalid checkpoint schedule, periodic checkpointing disabled")
		} else {
			c.Start()
			e.cron = c
		}
	}

	return e, nil
}

// deadlockDetectInterval is how often the lock manager scans the
// waits-for graph for cycles (spec §4.7). Not currently exposed through
// config.Config; a fixed interval matches the teacher's own hardcoded
// tuning constants (e.g. its buffer pool's fixed eviction batch size).
const deadlockDetectInterval = 50 * time.Millisecond

// checkpoint flushes every dirty page and truncates the WAL, bracketed by
// CHECKPOINT_BEGIN/END records per spec §4.4's ARIES-style recovery.
func (e *Engine) checkpoint() {
	beginLSN := e.lm.Append(wal.Record{Type: wal.RecCheckpointBegin})
	if err := e.bp.FlushAll(); err != nil {
		e.log.Error().Err(err).Msg("checkpoint: flush failed")
		return
	}
	endLSN := e.lm.Append(wal.Record{Type: wal.RecCheckpointEnd, PrevLSN: beginLSN})
	if err := e.lm.FlushThrough(endLSN); err != nil {
		e.log.Error().Err(err).Msg("checkpoint: wal flush failed")
		return
	}
	if err := e.lm.Truncate(); err != nil {
		e.log.Error().Err(err).Msg("checkpoint: wal truncate failed")
		return
	}
	e.log.Info().Msg("checkpoint complete")
}

// Checkpoint runs a checkpoint synchronously, for callers (such as tests)
// that need it on demand rather than on the cron schedule.
func (e *Engine) Checkpoint() { e.checkpoint() }

// Close stops the checkpoint scheduler and the lock manager's deadlock
// detector, flushes every dirty page, and closes the WAL and data files.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.cron != nil {
		e.cron.Stop()
	}
	e.locks.Close()
	if err := e.bp.FlushAll(); err != nil {
		return errs.Wrap(errs.IO, err, "flush on close")
	}
	if err := e.lm.Close(); err != nil {
		return err
	}
	return e.disk.Close()
}

// ExecuteSQL is the convenience single-session embedded API spec §6
// names: (*Engine).ExecuteSQL(ctx, text) (*QueryResult, error). Concurrent
// callers that need independent transaction state (the wire server,
// multi-client concurrency tests) should call NewSession instead and use
// each Session's own ExecuteSQL.
func (e *Engine) ExecuteSQL(ctx context.Context, text string) (*QueryResult, error) {
	return e.defSess.ExecuteSQL(ctx, text)
}

// heapFor resolves a table name to its table heap, the callback signature
// txn.Manager.Abort needs to undo a rolled-back transaction's writes.
func (e *Engine) heapFor(table string) *heap.TableHeap {
	tm, ok := e.cat.GetTable(table)
	if !ok {
		return nil
	}
	return heap.Open(e.bp, e.lm, tm.HeapRoot)
}

func (e *Engine) String() string {
	return fmt.Sprintf("engine.Engine{tables=%d}", len(e.cat.ListTables()))
}
