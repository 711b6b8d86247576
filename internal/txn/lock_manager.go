// Package txn implements hierarchical two-phase locking and the
// transaction manager that drives begin/commit/abort against the heap,
// index, and WAL layers (spec §4.6/§4.7).
//
// What: a lock manager granting IS/IX/S/SIX/X locks over table- and
// row-granularity resources with FIFO-plus-upgrade-priority wait queues
// and periodic waits-for-graph deadlock detection; a transaction manager
// tracking each transaction's isolation level, lifecycle state, and
// write-set for rollback.
// How: grounded stylistically on the teacher's concurrency.go (ticker-
// driven background goroutine, context-based shutdown, atomic counters)
// but the lock manager itself has no direct teacher analog — the
// teacher's mvcc.go uses optimistic snapshot isolation with no blocking
// lock table at all, so this is built fresh in the teacher's
// goroutine/channel idiom rather than adapted from an existing file.
// Why: spec §4.6 requires blocking hierarchical 2PL with deadlock
// detection, which is a different concurrency-control strategy than the
// teacher's MVCC; matching the spec's semantics takes priority over
// reusing code that implements a different strategy.
package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kernaldb/kernel/internal/errs"
	"github.com/kernaldb/kernel/internal/types"
	"github.com/rs/zerolog"
)

// Mode is a lock mode in the hierarchical 2PL lattice.
type Mode uint8

const (
	IS Mode = iota // intent-shared
	IX             // intent-exclusive
	S              // shared
	SIX            // shared + intent-exclusive
	X              // exclusive
)

func (m Mode) String() string {
	switch m {
	case IS:
		return "IS"
	case IX:
		return "IX"
	case S:
		return "S"
	case SIX:
		return "SIX"
	case X:
		return "X"
	default:
		return "?"
	}
}

// compatMatrix[held][want] reports whether want can be granted while held
// is already held by another transaction (standard hierarchical-lock
// compatibility table).
var compatMatrix = [5][5]bool{
	//        IS     IX     S      SIX    X
	IS:  {true, true, true, true, false},
	IX:  {true, true, false, false, false},
	S:   {true, false, true, false, false},
	SIX: {true, false, false, false, false},
	X:   {false, false, false, false, false},
}

func compatible(held, want Mode) bool { return compatMatrix[held][want] }

// supremum returns the strongest of two modes a single transaction holds
// simultaneously on the same resource (used on lock upgrade).
func supremum(a, b Mode) Mode {
	rank := func(m Mode) int {
		switch m {
		case IS:
			return 0
		case IX:
			return 1
		case S:
			return 2
		case SIX:
			return 3
		default:
			return 4
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}

// ResourceID names a lockable resource: a table as a whole (RID zero
// value) or a single row within it.
type ResourceID struct {
	Table string
	RID   types.RID
}

func (r ResourceID) String() string {
	if r.RID == types.InvalidRID || r.RID == (types.RID{}) {
		return r.Table
	}
	return fmt.Sprintf("%s:%s", r.Table, r.RID)
}

type waiter struct {
	txn     types.TxnID
	mode    Mode
	done    chan struct{}
	granted bool
	aborted bool
}

type resourceState struct {
	granted map[types.TxnID]Mode
	queue   []*waiter
}

// LockManager grants and tracks locks, running a background goroutine
// that detects deadlocks by cycle-checking a waits-for graph every
// detectionInterval.
type LockManager struct {
	mu        sync.Mutex
	resources map[ResourceID]*resourceState
	holds     map[types.TxnID]map[ResourceID]Mode
	log       zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLockManager starts the background deadlock detector.
func NewLockManager(detectionInterval time.Duration, log zerolog.Logger) *LockManager {
	lm := &LockManager{
		resources: make(map[ResourceID]*resourceState),
		holds:     make(map[types.TxnID]map[ResourceID]Mode),
		log:       log,
		done:      make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	go lm.detectLoop(ctx, detectionInterval)
	return lm
}

// Close stops the deadlock detector.
func (lm *LockManager) Close() {
	lm.cancel()
	<-lm.done
}

func (lm *LockManager) stateFor(res ResourceID) *resourceState {
	st, ok := lm.resources[res]
	if !ok {
		st = &resourceState{granted: make(map[types.TxnID]Mode)}
		lm.resources[res] = st
	}
	return st
}

// canGrantLocked reports whether mode is compatible with every other
// transaction's currently granted mode on res.
func (st *resourceState) canGrantLocked(txn types.TxnID, mode Mode) bool {
	for holder, held := range st.granted {
		if holder == txn {
			continue
		}
		if !compatible(held, mode) {
			return false
		}
	}
	return true
}

// Acquire blocks until mode is granted on res for txn, the context is
// canceled, or the deadlock detector aborts the wait. Re-entrant: a
// transaction that already holds a compatible-or-stronger mode returns
// immediately; one that holds a weaker mode upgrades.
func (lm *LockManager) Acquire(ctx context.Context, txn types.TxnID, res ResourceID, mode Mode) error {
	lm.mu.Lock()
	st := lm.stateFor(res)
	existing, upgrading := st.granted[txn]
	if upgrading {
		if existing == supremum(existing, mode) {
			lm.mu.Unlock()
			return nil
		}
		mode = supremum(existing, mode)
	}
	if (len(st.queue) == 0 || upgrading) && st.canGrantLocked(txn, mode) {
		st.granted[txn] = mode
		lm.recordHold(txn, res, mode)
		lm.mu.Unlock()
		return nil
	}

	w := &waiter{txn: txn, mode: mode, done: make(chan struct{})}
	if upgrading {
		st.queue = append([]*waiter{w}, st.queue...)
	} else {
		st.queue = append(st.queue, w)
	}
	lm.mu.Unlock()

	select {
	case <-w.done:
		if w.aborted {
			return errs.New(errs.Concurrency, "transaction %d aborted by deadlock detector waiting for %s on %s", txn, mode, res)
		}
		return nil
	case <-ctx.Done():
		lm.cancelWait(res, w)
		return ctx.Err()
	}
}

func (lm *LockManager) recordHold(txn types.TxnID, res ResourceID, mode Mode) {
	m, ok := lm.holds[txn]
	if !ok {
		m = make(map[ResourceID]Mode)
		lm.holds[txn] = m
	}
	m[res] = mode
}

func (lm *LockManager) cancelWait(res ResourceID, target *waiter) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	st, ok := lm.resources[res]
	if !ok {
		return
	}
	for i, w := range st.queue {
		if w == target {
			st.queue = append(st.queue[:i], st.queue[i+1:]...)
			return
		}
	}
}

// pumpQueueLocked grants as many FIFO-leading, mutually compatible
// waiters as currently possible; an upgrade request waiting at the head
// of the queue always goes first (upgrade priority prevents starvation
// against a stream of new shared-lock requests).
func (lm *LockManager) pumpQueueLocked(res ResourceID) {
	st := lm.resources[res]
	for len(st.queue) > 0 {
		w := st.queue[0]
		if !st.canGrantLocked(w.txn, w.mode) {
			break
		}
		st.granted[w.txn] = w.mode
		lm.recordHold(w.txn, res, w.mode)
		st.queue = st.queue[1:]
		w.granted = true
		close(w.done)
	}
}

// Release drops txn's lock on res and wakes any now-grantable waiters.
func (lm *LockManager) Release(txn types.TxnID, res ResourceID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	st, ok := lm.resources[res]
	if !ok {
		return
	}
	delete(st.granted, txn)
	if m := lm.holds[txn]; m != nil {
		delete(m, res)
	}
	lm.pumpQueueLocked(res)
}

// ReleaseAll drops every lock txn holds, used at commit/abort.
func (lm *LockManager) ReleaseAll(txn types.TxnID) {
	lm.mu.Lock()
	held := lm.holds[txn]
	resources := make([]ResourceID, 0, len(held))
	for res := range held {
		resources = append(resources, res)
	}
	delete(lm.holds, txn)
	lm.mu.Unlock()
	for _, res := range resources {
		lm.Release(txn, res)
	}
}

// waitsForGraph returns, for each blocked transaction, the set of
// transactions it is waiting on (those currently holding an incompatible
// grant, or queued ahead of it with an incompatible mode).
func (lm *LockManager) waitsForGraphLocked() map[types.TxnID]map[types.TxnID]bool {
	graph := make(map[types.TxnID]map[types.TxnID]bool)
	for _, st := range lm.resources {
		for i, w := range st.queue {
			if w.granted {
				continue
			}
			edges, ok := graph[w.txn]
			if !ok {
				edges = make(map[types.TxnID]bool)
				graph[w.txn] = edges
			}
			for holder, held := range st.granted {
				if holder != w.txn && !compatible(held, w.mode) {
					edges[holder] = true
				}
			}
			for _, a := range st.queue[:i] {
				if a.txn != w.txn && !compatible(a.mode, w.mode) {
					edges[a.txn] = true
				}
			}
		}
	}
	return graph
}

// detectLoop periodically scans for cycles in the waits-for graph,
// aborting the youngest transaction in each cycle found (spec §4.6
// "deadlock detection ... victim selection").
func (lm *LockManager) detectLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(lm.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.detectOnce()
		}
	}
}

func (lm *LockManager) detectOnce() {
	lm.mu.Lock()
	graph := lm.waitsForGraphLocked()
	cycle := findCycle(graph)
	if len(cycle) == 0 {
		lm.mu.Unlock()
		return
	}
	victim := youngest(cycle)
	var toAbort []*waiter
	for _, st := range lm.resources {
		for _, w := range st.queue {
			if w.txn == victim && !w.granted && !w.aborted {
				toAbort = append(toAbort, w)
			}
		}
	}
	for _, w := range toAbort {
		w.aborted = true
	}
	lm.mu.Unlock()

	for _, w := range toAbort {
		close(w.done)
	}
	if len(toAbort) > 0 {
		lm.log.Warn().Uint64("victim_txn", uint64(victim)).Msg("lock manager: deadlock detected, aborting youngest transaction")
	}
}

// findCycle runs DFS over graph and returns one cycle's member
// transactions, or nil if the graph is acyclic.
func findCycle(graph map[types.TxnID]map[types.TxnID]bool) []types.TxnID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[types.TxnID]int)
	parent := make(map[types.TxnID]types.TxnID)
	var cycleStart, cycleEnd types.TxnID
	found := false

	var visit func(types.TxnID)
	visit = func(u types.TxnID) {
		if found {
			return
		}
		color[u] = gray
		for v := range graph[u] {
			if found {
				return
			}
			if color[v] == white {
				parent[v] = u
				visit(v)
			} else if color[v] == gray {
				cycleStart, cycleEnd = v, u
				found = true
				return
			}
		}
		color[u] = black
	}

	nodes := make([]types.TxnID, 0, len(graph))
	for u := range graph {
		nodes = append(nodes, u)
	}
	for _, u := range nodes {
		if color[u] == white {
			visit(u)
		}
		if found {
			break
		}
	}
	if !found {
		return nil
	}
	cycle := []types.TxnID{cycleStart}
	for n := cycleEnd; n != cycleStart; n = parent[n] {
		cycle = append(cycle, n)
	}
	return cycle
}

// youngest returns the highest (most recently begun) transaction ID in
// txns, the standard "abort the youngest" deadlock victim policy.
func youngest(txns []types.TxnID) types.TxnID {
	max := txns[0]
	for _, t := range txns[1:] {
		if t > max {
			max = t
		}
	}
	return max
}
