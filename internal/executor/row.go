package executor

import "github.com/kernaldb/kernel/internal/types"

// colRef names one column a Row carries: its source table (or alias) and
// its own name, so a ColumnRef in a predicate or projection can be
// resolved against either a scan's own schema or a join's concatenated
// schema.
type colRef struct {
	table string
	name  string
}

// rowSchema is the ordered column list threaded alongside every Row an
// operator produces — the executor's in-flight analog of types.Schema,
// widened with a table qualifier since joins concatenate two tables'
// columns into one row.
type rowSchema struct {
	cols []colRef
}

// resolve finds the position of a column reference. An empty table
// qualifier matches by name alone, and is rejected as ambiguous if more
// than one column shares that name — mirroring ordinary SQL name
// resolution.
func (s *rowSchema) resolve(table, name string) (int, bool) {
	if table != "" {
		for i, c := range s.cols {
			if equalFold(c.table, table) && equalFold(c.name, name) {
				return i, true
			}
		}
		return -1, false
	}
	found := -1
	for i, c := range s.cols {
		if equalFold(c.name, name) {
			if found != -1 {
				return -1, false // ambiguous
			}
			found = i
		}
	}
	return found, found != -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 32
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 32
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func concatSchema(l, r *rowSchema) *rowSchema {
	cols := make([]colRef, 0, len(l.cols)+len(r.cols))
	cols = append(cols, l.cols...)
	cols = append(cols, r.cols...)
	return &rowSchema{cols: cols}
}

// Row is one tuple flowing through the operator tree, carrying enough
// schema information for expression evaluation and join key resolution.
//
// RID and Table identify the row's position in its source table heap, set
// by seqScanOp/indexScanOp and threaded unchanged through Filter/Sort/Limit
// so UpdateNode/DeleteNode's input (always a scan-or-filter chain, never a
// join or aggregate — see planner.buildUpdate/buildDelete) can mutate the
// exact tuple a row came from. Rows produced by a join or aggregate carry
// types.InvalidRID, since they no longer identify a single source tuple.
type Row struct {
	Schema *rowSchema
	Values []types.Value
	RID    types.RID
	Table  string
}

func concatRows(l, r *Row) *Row {
	vals := make([]types.Value, 0, len(l.Values)+len(r.Values))
	vals = append(vals, l.Values...)
	vals = append(vals, r.Values...)
	return &Row{Schema: concatSchema(l.Schema, r.Schema), Values: vals, RID: types.InvalidRID}
}
