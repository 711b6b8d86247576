package engine

import (
	"sync"

	"github.com/kernaldb/kernel/internal/planner"
	"github.com/kernaldb/kernel/internal/sql"
)

// queryCache memoizes SELECT results keyed on statement text plus the WAL
// LSN that was durable when the query ran (so a cache hit never serves a
// result computed before a commit the caller should now see), and tracks
// which tables each cached entry read so a commit touching those tables
// can invalidate just the affected entries.
//
// Grounded on the teacher's engine.QueryCache (referenced from
// cmd/server/main.go's server.cache field), which memoizes compiled
// statements; this cache memoizes executed results instead, since
// SPEC_FULL.md's supplement asks for a result cache, and invalidates on
// write the teacher's cache does not need to (the teacher has no
// transactional WAL to invalidate against).
type queryCache struct {
	mu      sync.Mutex
	maxSize int
	order   []string
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	result *QueryResult
	tables map[string]bool
}

func newQueryCache(maxSize int) *queryCache {
	return &queryCache{maxSize: maxSize, entries: make(map[string]*cacheEntry)}
}

func cacheKey(text string, lsn uint64) string {
	var buf [20]byte
	n := 0
	for lsn > 0 {
		buf[n] = byte('0' + lsn%10)
		lsn /= 10
		n++
	}
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return text + "@" + string(buf[:n])
}

func (c *queryCache) get(key string) (*QueryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.result, true
}

func (c *queryCache) put(key string, tables map[string]bool, result *QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.maxSize && c.maxSize > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = &cacheEntry{result: result, tables: tables}
}

// invalidate drops every cached entry that read from table.
func (c *queryCache) invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.tables[table] {
			delete(c.entries, key)
		}
	}
}

// referencedTables walks a plan tree collecting the table names any scan
// node reads, so the cache knows what to invalidate a cached result against.
func referencedTables(n planner.Node) map[string]bool {
	out := make(map[string]bool)
	var walk func(planner.Node)
	walk = func(n planner.Node) {
		if n == nil {
			return
		}
		switch s := n.(type) {
		case *planner.SeqScanNode:
			out[s.Table] = true
		case *planner.IndexScanNode:
			out[s.Table] = true
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(n)
	return out
}

// isSelect reports whether stmt is cacheable (read-only).
func isSelect(stmt sql.Statement) bool {
	_, ok := stmt.(*sql.SelectStmt)
	return ok
}
